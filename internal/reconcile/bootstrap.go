package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/rackpatch/internal/models"
	"github.com/raphaelgruber/rackpatch/internal/sidestore"
)

// Listing sources.
const (
	SourceRuns = "runs"
	SourceView = "view"
)

// Bootstrap phases reported to progress callbacks.
const (
	PhaseCatalog = "catalog"
	PhaseFetch   = "fetch"
	PhaseApply   = "apply"
)

// catalogConcurrency bounds parallel status-list requests.
const catalogConcurrency = 4

// BootstrapSummary describes one bootstrap or sync.
type BootstrapSummary struct {
	Source           string        `json:"source"`
	Rows             int           `json:"rows"`
	Applied          int           `json:"applied"`
	Skipped          int           `json:"skipped"`
	Keys             int           `json:"keys"`
	Runs             int           `json:"runs"`
	CatalogLoaded    bool          `json:"catalog_loaded"`
	CatalogProcesses int           `json:"catalog_processes"`
	CatalogStatuses  int           `json:"catalog_statuses"`
	Duration         time.Duration `json:"duration"`
}

// BootstrapProgress is reported while a bootstrap runs.
type BootstrapProgress struct {
	Phase string
	Done  int
	Total int
}

type bootstrapOptions struct {
	onProgress func(BootstrapProgress)
}

// BootstrapOption configures a single bootstrap.
type BootstrapOption func(*bootstrapOptions)

// WithProgress reports phase progress to fn. fn is called from the
// bootstrapping goroutine.
func WithProgress(fn func(BootstrapProgress)) BootstrapOption {
	return func(o *bootstrapOptions) { o.onProgress = fn }
}

func (o bootstrapOptions) report(phase string, done, total int) {
	if o.onProgress != nil {
		o.onProgress(BootstrapProgress{Phase: phase, Done: done, Total: total})
	}
}

// Bootstrap loads the status catalog and every backend row into the engine.
// Writes issued meanwhile wait for it to finish. If both listings fail the
// engine enters StateFailed and ErrBootstrapFailed is returned. A bootstrap
// requested while one is running waits for that one and returns its result.
func (e *Engine) Bootstrap(ctx context.Context, opts ...BootstrapOption) (BootstrapSummary, error) {
	var o bootstrapOptions
	for _, opt := range opts {
		opt(&o)
	}

	e.mu.Lock()
	if e.state == StateRunning {
		done := e.done
		e.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return BootstrapSummary{}, ctx.Err()
		}
		return e.Summary()
	}
	if e.state != StatePending {
		e.done = make(chan struct{})
	}
	e.state = StateRunning
	e.mu.Unlock()

	summary, err := e.run(ctx, o, true)

	e.mu.Lock()
	e.summary, e.bootErr = summary, err
	if err != nil {
		e.state = StateFailed
	} else {
		e.state = StateReady
	}
	close(e.done)
	e.mu.Unlock()

	e.publish(models.Event{Type: models.EventBootstrap, Error: errString(err)})
	return summary, err
}

// Sync re-fetches the run listing and re-applies every row. The catalog is
// reloaded only if the last load failed. Cells with edits in flight keep
// their optimistic value.
func (e *Engine) Sync(ctx context.Context) (BootstrapSummary, error) {
	e.mu.Lock()
	state, prev := e.state, e.summary
	e.mu.Unlock()

	switch state {
	case StatePending:
		return BootstrapSummary{}, ErrNotBootstrapped
	case StateRunning:
		return e.Bootstrap(ctx)
	}

	summary, err := e.run(ctx, bootstrapOptions{}, !prev.CatalogLoaded)
	if err != nil {
		e.logger.Warn("sync failed", "error", err)
		return summary, err
	}
	if !summary.CatalogLoaded {
		summary.CatalogLoaded = prev.CatalogLoaded
	}

	e.mu.Lock()
	e.summary, e.bootErr = summary, nil
	e.state = StateReady
	e.mu.Unlock()

	e.publish(models.Event{Type: models.EventBootstrap})
	return summary, nil
}

func (e *Engine) run(ctx context.Context, o bootstrapOptions, loadCatalog bool) (BootstrapSummary, error) {
	start := time.Now()
	defer func() { bootstrapDuration.Observe(time.Since(start).Seconds()) }()

	var summary BootstrapSummary
	if loadCatalog {
		o.report(PhaseCatalog, 0, 1)
		if err := e.loadCatalog(ctx); err != nil {
			e.logger.Warn("status catalog unavailable; writes will fail translation", "error", err)
		} else {
			summary.CatalogLoaded = true
		}
		o.report(PhaseCatalog, 1, 1)
	}
	summary.CatalogProcesses, summary.CatalogStatuses = e.catalog.Len()

	o.report(PhaseFetch, 0, 1)
	rows, source, err := e.fetchRows(ctx)
	if err != nil {
		summary.Duration = time.Since(start)
		return summary, err
	}
	o.report(PhaseFetch, 1, 1)
	summary.Source, summary.Rows = source, len(rows)

	for i, raw := range rows {
		eff, err := e.interpret(raw)
		if err != nil {
			summary.Skipped++
			bootstrapRows.WithLabelValues("skipped").Inc()
			e.logger.Warn("skipping backend row", "error", err, "run_id", raw.Number("rack_process_run_id", "run_id", "id"))
		} else {
			e.applyEffect(ctx, eff, models.ProgressKey{}, true)
			summary.Applied++
			bootstrapRows.WithLabelValues("applied").Inc()
		}
		if (i+1)%100 == 0 || i+1 == len(rows) {
			o.report(PhaseApply, i+1, len(rows))
		}
	}

	summary.Keys, summary.Runs = e.progress.Len(), e.index.Len()
	summary.Duration = time.Since(start)
	progressKeys.Set(float64(summary.Keys))
	indexKeys.Set(float64(summary.Runs))

	e.logger.Info("backend rows applied",
		"source", summary.Source,
		"rows", summary.Rows,
		"applied", summary.Applied,
		"skipped", summary.Skipped,
		"keys", summary.Keys,
		"duration_ms", summary.Duration.Milliseconds(),
	)
	return summary, nil
}

// loadCatalog fetches processes, then their statuses concurrently.
func (e *Engine) loadCatalog(ctx context.Context) error {
	procs, err := e.backend.ListProcesses(ctx)
	if err != nil {
		return networkError(err)
	}
	for _, p := range procs {
		e.catalog.AddProcess(p.ID, p.Description)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(catalogConcurrency)
	for _, p := range procs {
		g.Go(func() error {
			statuses, err := e.backend.ListProcessStatuses(gctx, p.ID)
			if err != nil {
				return fmt.Errorf("statuses of process %d: %w", p.ID, networkError(err))
			}
			for _, s := range statuses {
				e.catalog.AddStatus(p.ID, s.ID, s.Name)
			}
			return nil
		})
	}
	return g.Wait()
}

// fetchRows reads the primary listing, falling back to the secondary one.
func (e *Engine) fetchRows(ctx context.Context) ([]models.RawRow, string, error) {
	rows, err := e.backend.ListRuns(ctx, e.cfg.RunsLimit)
	if err == nil {
		return rows, SourceRuns, nil
	}
	e.logger.Warn("primary run listing failed, trying view", "error", err)

	rows, viewErr := e.backend.ListRunsView(ctx)
	if viewErr == nil {
		return rows, SourceView, nil
	}
	e.logger.Error("run listings unavailable", "error", viewErr)
	return nil, "", fmt.Errorf("%w: %w", ErrBootstrapFailed, networkError(errors.Join(err, viewErr)))
}

// =============================================================================
// ROW APPLICATION
// =============================================================================

// effect is what one backend row implies for the local stores.
type effect struct {
	Row     models.Row
	Process string
	Code    int
	Keys    []models.ProgressKey
}

// interpret normalizes a raw row and resolves every cell it populates.
// It does not mutate any store.
func (e *Engine) interpret(raw models.RawRow) (effect, error) {
	row, err := models.NormalizeRow(raw)
	if err != nil {
		return effect{}, err
	}

	units := e.resolver.SiteUnits(row)
	if len(units) == 0 {
		return effect{}, fmt.Errorf("%w: no site-unit for rack %q", models.ErrMalformedRow, row.RackIdent())
	}

	process := row.ProcessName
	if name, ok := e.registry.Resolve(process); ok {
		process = name
	}

	eff := effect{Row: row, Process: process, Code: e.translator.RowCode(process, row)}
	for _, unit := range units {
		res := e.resolver.Resolve(unit, row)
		for _, cand := range res.Candidates() {
			eff.Keys = append(eff.Keys, models.NewKey(unit, cand, process))
		}
	}
	if len(eff.Keys) == 0 {
		return effect{}, fmt.Errorf("%w: no rack candidates for %q", models.ErrMalformedRow, row.RackIdent())
	}
	return eff, nil
}

// applyEffect seeds the run index for every key and, when withProgress is
// set, records the backend code and side values for every key except skip.
func (e *Engine) applyEffect(ctx context.Context, eff effect, skip models.ProgressKey, withProgress bool) []models.ProgressKey {
	run := eff.Row.Run()
	var touched []models.ProgressKey
	for _, key := range eff.Keys {
		e.index.Put(key, run)
		if !withProgress || key == skip {
			continue
		}
		e.progress.ApplyBackend(key, eff.Code)
		touched = append(touched, key)
		e.putSide(ctx, sidestore.KindNote, key, eff.Row.Note)
		e.putSide(ctx, sidestore.KindResponsible, key, eff.Row.Responsible)
	}
	return touched
}

// putSide records a non-empty side value; failures are logged only.
func (e *Engine) putSide(ctx context.Context, kind sidestore.Kind, key models.ProgressKey, value string) {
	if value == "" {
		return
	}
	e.setSide(ctx, kind, key, value)
}

// setSide writes a side value, removing it when value is empty. Failures are
// logged only.
func (e *Engine) setSide(ctx context.Context, kind sidestore.Kind, key models.ProgressKey, value string) {
	if err := e.side.Put(ctx, kind, key, value); err != nil {
		e.logger.Warn("side value not stored",
			"kind", kind, "su", key.SiteUnit, "rack", key.RackID, "process", key.Process, "error", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
