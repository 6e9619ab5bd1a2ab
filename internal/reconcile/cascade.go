package reconcile

import (
	"context"
	"slices"

	"github.com/raphaelgruber/rackpatch/internal/models"
	"github.com/raphaelgruber/rackpatch/internal/runindex"
)

// Strategy names, as reported in ApplyResult and metrics.
const (
	StrategyDirect       = "direct"
	StrategyGenericRack  = "generic-rack"
	StrategyIndexScan    = "index-scan"
	StrategyRemoteLookup = "remote-lookup"
	StrategyRemoteScan   = "remote-scan"
	StrategyUpsert       = "upsert"
)

// Lookup is the cell a run identity is being resolved for.
type Lookup struct {
	// Key is the canonical cell key.
	Key models.ProgressKey
	// RackID is the rack as the operator selected it.
	RackID string
	// Process is the registered spelling of the process.
	Process string

	engine *Engine
}

// SiteUnitNumber returns the numeric site-unit, if the cell has one.
func (l *Lookup) SiteUnitNumber() (string, bool) {
	if !models.IsNumericUnit(l.Key.SiteUnit) {
		return "", false
	}
	return l.Key.SiteUnit, true
}

// BackendRackName is the rack name the backend stores for this cell.
func (l *Lookup) BackendRackName() string {
	return models.RackNameForBackend(l.RackID)
}

// Strategy is one step of the widening search for a cell's run. A miss is
// reported as ok=false with a nil error; an error aborts the cascade.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, l *Lookup) (models.RunIdentity, bool, error)
}

// DefaultStrategies returns the cascade in the order it is tried.
func DefaultStrategies() []Strategy {
	return []Strategy{
		directLookup{},
		genericRackProbe{},
		indexScan{},
		remoteLookup{},
		remoteScan{},
	}
}

// ResolveRunIdentity runs the cascade for a cell and returns the run with
// the name of the strategy that found it. Hits are seeded into the run
// index under the cell's key. A miss is ErrIdentityUnresolved.
func (e *Engine) ResolveRunIdentity(ctx context.Context, unit, rackID, process string) (models.RunIdentity, string, error) {
	if name, ok := e.registry.Resolve(process); ok {
		process = name
	}
	l := &Lookup{Key: models.NewKey(unit, rackID, process), RackID: rackID, Process: process, engine: e}
	return e.resolve(ctx, l)
}

func (e *Engine) resolve(ctx context.Context, l *Lookup) (models.RunIdentity, string, error) {
	for _, s := range e.strategies {
		run, ok, err := s.Resolve(ctx, l)
		if err != nil {
			return models.RunIdentity{}, s.Name(), err
		}
		if !ok || !run.Valid() {
			continue
		}
		e.index.Put(l.Key, run)
		cascadeHits.WithLabelValues(s.Name()).Inc()
		e.logger.Debug("run identity resolved",
			"strategy", s.Name(), "su", l.Key.SiteUnit, "rack", l.Key.RackID, "process", l.Process, "run_id", run.RunID)
		return run, s.Name(), nil
	}
	if err := ctx.Err(); err != nil {
		return models.RunIdentity{}, "", err
	}
	return models.RunIdentity{}, "", ErrIdentityUnresolved
}

// directLookup reads the run index under the canonical key.
type directLookup struct{}

func (directLookup) Name() string { return StrategyDirect }

func (directLookup) Resolve(_ context.Context, l *Lookup) (models.RunIdentity, bool, error) {
	run, ok := l.engine.index.Get(l.Key)
	return run, ok, nil
}

// genericRackProbe retries the index under the type-based ids of the
// cell's unit, e.g. GPU-SU7 for a concrete GPU slot of unit 7. Bootstrap
// may only have indexed the generic id.
type genericRackProbe struct{}

func (genericRackProbe) Name() string { return StrategyGenericRack }

func (genericRackProbe) Resolve(_ context.Context, l *Lookup) (models.RunIdentity, bool, error) {
	e := l.engine
	n, ok := l.SiteUnitNumber()
	if !ok {
		return models.RunIdentity{}, false, nil
	}

	var probes []string
	if rk, known := e.topo.Rack(n, l.RackID); known {
		probes = append(probes, genericRackID(rk.Type, n))
		racks, _ := e.topo.Racks(n)
		for _, other := range racks {
			if other.ID != rk.ID && models.Norm(other.Type) == models.Norm(rk.Type) {
				probes = append(probes, other.ID)
			}
		}
	} else {
		for _, t := range e.topo.TypesForProcess(l.Process) {
			probes = append(probes, genericRackID(t, n))
		}
	}

	for _, p := range probes {
		key := models.NewKey(n, p, l.Process)
		if key == l.Key {
			continue
		}
		if run, ok := e.index.Get(key); ok {
			return run, true, nil
		}
	}
	return models.RunIdentity{}, false, nil
}

func genericRackID(rackType, unit string) string {
	return models.NormRackID(rackType) + "-SU" + unit
}

// indexScan walks every indexed key of the cell's unit and process,
// preferring one whose backend rack name matches the selection.
type indexScan struct{}

func (indexScan) Name() string { return StrategyIndexScan }

func (indexScan) Resolve(_ context.Context, l *Lookup) (models.RunIdentity, bool, error) {
	entries := l.engine.index.Scan(l.Key.SiteUnit, l.Process)
	if len(entries) == 0 {
		return models.RunIdentity{}, false, nil
	}

	want := models.NormRackID(l.BackendRackName())
	if i := slices.IndexFunc(entries, func(en runindex.Entry) bool {
		return want != "" && models.NormRackID(en.Run.RackName) == want
	}); i >= 0 {
		return entries[i].Run, true, nil
	}
	return entries[0].Run, true, nil
}

// remoteLookup asks the backend for the run by natural key. Transport
// failures count as a miss.
type remoteLookup struct{}

func (remoteLookup) Name() string { return StrategyRemoteLookup }

func (remoteLookup) Resolve(ctx context.Context, l *Lookup) (models.RunIdentity, bool, error) {
	e := l.engine
	n, ok := l.SiteUnitNumber()
	if !ok {
		return models.RunIdentity{}, false, nil
	}

	raw, err := e.backend.LookupRun(ctx, models.LookupQuery{
		SiteUnit:    n,
		RackName:    l.BackendRackName(),
		ProcessName: l.Process,
	})
	if err != nil {
		if isContextError(err) && ctx.Err() != nil {
			return models.RunIdentity{}, false, ctx.Err()
		}
		e.logger.Warn("remote run lookup failed", "su", n, "rack", l.RackID, "process", l.Process, "error", err)
		return models.RunIdentity{}, false, nil
	}
	if raw == nil {
		return models.RunIdentity{}, false, nil
	}
	return e.adoptRow(ctx, l, raw)
}

// remoteScan re-fetches the run listing and matches it structurally.
type remoteScan struct{}

func (remoteScan) Name() string { return StrategyRemoteScan }

func (remoteScan) Resolve(ctx context.Context, l *Lookup) (models.RunIdentity, bool, error) {
	e := l.engine
	rows, err := e.backend.ListRuns(ctx, e.cfg.RunsLimit)
	if err != nil {
		if isContextError(err) && ctx.Err() != nil {
			return models.RunIdentity{}, false, ctx.Err()
		}
		e.logger.Warn("remote run scan failed", "su", l.Key.SiteUnit, "process", l.Process, "error", err)
		return models.RunIdentity{}, false, nil
	}

	wantRack := models.NormRackID(l.BackendRackName())
	for _, raw := range rows {
		row, err := models.NormalizeRow(raw)
		if err != nil || models.Norm(row.ProcessName) != l.Key.Process {
			continue
		}
		rackMatch := models.NormRackID(models.RackNameForBackend(row.RackIdent())) == wantRack ||
			models.NormRackID(row.RackIdent()) == l.Key.RackID
		if !rackMatch || !slices.Contains(e.resolver.SiteUnits(row), l.Key.SiteUnit) {
			continue
		}
		return e.adoptRow(ctx, l, raw)
	}
	return models.RunIdentity{}, false, nil
}

// adoptRow takes a row found remotely as the cell's run and applies it to
// every cell it populates. An open edit of the cell keeps its optimistic
// value; only its known-good baseline moves.
func (e *Engine) adoptRow(ctx context.Context, l *Lookup, raw models.RawRow) (models.RunIdentity, bool, error) {
	row, err := models.NormalizeRow(raw)
	if err != nil {
		e.logger.Warn("remote row not usable", "su", l.Key.SiteUnit, "rack", l.RackID, "error", err)
		return models.RunIdentity{}, false, nil
	}
	if eff, err := e.interpret(raw); err == nil {
		e.applyEffect(ctx, eff, models.ProgressKey{}, true)
	}
	return row.Run(), true, nil
}
