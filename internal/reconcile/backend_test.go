package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/rackpatch/internal/models"
)

const (
	roce   = "ROCE T1: AS-T1/R.T1-T2"
	gpuAEC = "GPU AEC"

	roceID = int64(3)
	gpuID  = int64(7)
)

var errDown error = &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

// fakeBackend is an in-memory Backend. Hooks override the canned data.
type fakeBackend struct {
	mu sync.Mutex

	runs     []models.RawRow
	runsErr  error
	view     []models.RawRow
	viewErr  error
	procsErr error

	lookup func(q models.LookupQuery) (models.RawRow, error)
	update func(ctx context.Context, runID int64, upd models.StatusUpdate) (models.RawRow, error)
	upsert func(ctx context.Context, req models.UpsertRequest) (models.RawRow, error)

	runsCalls int
	lookups   []models.LookupQuery
	updates   []models.StatusUpdate
	upserts   []models.UpsertRequest
}

func (f *fakeBackend) ListRuns(_ context.Context, _ int) ([]models.RawRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runsCalls++
	return f.runs, f.runsErr
}

func (f *fakeBackend) ListRunsView(_ context.Context) ([]models.RawRow, error) {
	return f.view, f.viewErr
}

func (f *fakeBackend) LookupRun(_ context.Context, q models.LookupQuery) (models.RawRow, error) {
	f.mu.Lock()
	f.lookups = append(f.lookups, q)
	fn := f.lookup
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(q)
}

func (f *fakeBackend) ListProcesses(_ context.Context) ([]models.Process, error) {
	if f.procsErr != nil {
		return nil, f.procsErr
	}
	return []models.Process{
		{ID: roceID, Description: roce},
		{ID: gpuID, Description: gpuAEC},
	}, nil
}

// ListProcessStatuses numbers statuses <process id>*10 + code.
func (f *fakeBackend) ListProcessStatuses(_ context.Context, processID int64) ([]models.ProcessStatus, error) {
	var labels []string
	switch processID {
	case roceID:
		labels = []string{"NOT STARTED", "DRESSING IN PROGRESS", "DRESSING DONE", "PATCHING IN PROGRESS", "PATCHING DONE", "QC DONE", "BLOCKED"}
	case gpuID:
		labels = []string{"NOT STARTED", "SIS IN PROGRESS", "SIS IS DONE", "FULL SET IN PROGRESS", "FULL SET IS DONE", "QC DONE", "BLOCKED"}
	}
	out := make([]models.ProcessStatus, len(labels))
	for i, l := range labels {
		out[i] = models.ProcessStatus{ID: processID*10 + int64(i+1), Name: l}
	}
	return out, nil
}

func (f *fakeBackend) UpdateRunStatus(ctx context.Context, runID int64, upd models.StatusUpdate) (models.RawRow, error) {
	f.mu.Lock()
	f.updates = append(f.updates, upd)
	fn := f.update
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx, runID, upd)
}

func (f *fakeBackend) UpsertRun(ctx context.Context, req models.UpsertRequest) (models.RawRow, error) {
	f.mu.Lock()
	f.upserts = append(f.upserts, req)
	fn := f.upsert
	f.mu.Unlock()
	if fn == nil {
		return nil, errDown
	}
	return fn(ctx, req)
}

func (f *fakeBackend) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

// statusLabel returns the label the fake catalog gives a status id.
func statusLabel(statusID int64) string {
	statuses, _ := (&fakeBackend{}).ListProcessStatuses(context.Background(), statusID/10)
	for _, s := range statuses {
		if s.ID == statusID {
			return s.Name
		}
	}
	return ""
}

// echoRow is what the backend returns after a status write.
func echoRow(runID int64, su, rackName, process string, statusID int64) models.RawRow {
	return models.RawRow{
		"rack_process_run_id": runID,
		"su_key":              su,
		"rack_name":           rackName,
		"process_name":        process,
		"status_id":           statusID,
		"status_name":         statusLabel(statusID),
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine(t *testing.T, b *fakeBackend, opts ...Option) *Engine {
	t.Helper()
	return New(b, append([]Option{WithLogger(testLogger())}, opts...)...)
}

func bootstrapped(t *testing.T, b *fakeBackend, opts ...Option) *Engine {
	t.Helper()
	e := newEngine(t, b, opts...)
	_, err := e.Bootstrap(context.Background())
	require.NoError(t, err)
	return e
}

// sampleRows is a small run listing: a rack the topology does not know, a
// master rack, the generic GPU slot reported by status id, and a row without
// a run id.
func sampleRows() []models.RawRow {
	return []models.RawRow{
		{"rack_process_run_id": 901, "su_key": "12", "rack_name": "LAC", "process_name": roce, "status_name": "DRESSING DONE"},
		{"rack_process_run_id": 902, "su_key": "SU 5", "rack_name": "LAW", "process_name": roce, "status_name": "BLOCKED", "note": "cable short"},
		{"rack_process_run_id": 903, "su_key": "7", "rack_name": "GPU", "rack_type": "GPU", "process_name": gpuAEC, "status_id": 75},
		{"su_key": "12", "rack_name": "LCF", "process_name": roce, "status_name": "QC DONE"},
	}
}
