package reconcile

import (
	"context"

	"github.com/raphaelgruber/rackpatch/internal/models"
)

// Backend is the authoritative store of run rows.
type Backend interface {
	// ListRuns returns the primary, near-complete run listing.
	ListRuns(ctx context.Context, limit int) ([]models.RawRow, error)
	// ListRunsView returns the narrower secondary listing.
	ListRunsView(ctx context.Context) ([]models.RawRow, error)
	// LookupRun finds one run by natural key; nil, nil when absent.
	LookupRun(ctx context.Context, q models.LookupQuery) (models.RawRow, error)
	ListProcesses(ctx context.Context) ([]models.Process, error)
	ListProcessStatuses(ctx context.Context, processID int64) ([]models.ProcessStatus, error)
	// UpdateRunStatus writes a status and returns the echoed row.
	UpdateRunStatus(ctx context.Context, runID int64, upd models.StatusUpdate) (models.RawRow, error)
	// UpsertRun creates the run if needed and returns the echoed row.
	UpsertRun(ctx context.Context, req models.UpsertRequest) (models.RawRow, error)
}
