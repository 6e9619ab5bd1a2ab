// Package reconcile keeps the progress matrix consistent with the patching
// backend: it bootstraps the client-side stores from the backend's run
// listing, resolves which run a matrix cell refers to, and applies status
// changes optimistically with rollback.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/rackpatch/internal/identity"
	"github.com/raphaelgruber/rackpatch/internal/models"
	"github.com/raphaelgruber/rackpatch/internal/progress"
	"github.com/raphaelgruber/rackpatch/internal/runindex"
	"github.com/raphaelgruber/rackpatch/internal/sidestore"
	"github.com/raphaelgruber/rackpatch/internal/templates"
	"github.com/raphaelgruber/rackpatch/internal/topology"
	"github.com/raphaelgruber/rackpatch/internal/translate"
)

// State is the bootstrap lifecycle of an engine.
type State int

const (
	StatePending State = iota
	StateRunning
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config tunes the engine.
type Config struct {
	// WriteTimeout bounds the network portion of one status change.
	WriteTimeout time.Duration
	// RunsLimit is passed to the primary run listing.
	RunsLimit int
}

// DefaultConfig returns the settings used when none are given.
func DefaultConfig() Config {
	return Config{WriteTimeout: 15 * time.Second, RunsLimit: 20000}
}

// Engine owns the progress store, run index and status catalog of one
// dashboard session. It is safe for concurrent use.
type Engine struct {
	backend    Backend
	registry   *templates.Registry
	topo       *topology.Topology
	enum       identity.Enumerator
	resolver   *identity.Resolver
	catalog    *translate.Catalog
	translator *translate.Translator
	progress   *progress.Store
	index      *runindex.Index
	side       sidestore.Store
	strategies []Strategy
	cfg        Config
	logger     *slog.Logger

	mu      sync.Mutex
	state   State
	done    chan struct{}
	summary BootstrapSummary
	bootErr error

	subMu   sync.RWMutex
	subs    map[int]chan models.Event
	nextSub int
}

// Option configures an Engine.
type Option func(*Engine)

// WithRegistry replaces the built-in process templates.
func WithRegistry(r *templates.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithTopology replaces the built-in rack topology.
func WithTopology(t *topology.Topology) Option {
	return func(e *Engine) { e.topo = t }
}

// WithEnumerator sets the live rack options used for units the topology
// does not know.
func WithEnumerator(en identity.Enumerator) Option {
	return func(e *Engine) { e.enum = en }
}

// WithSideStore sets where notes and responsible persons are kept.
func WithSideStore(s sidestore.Store) Option {
	return func(e *Engine) { e.side = s }
}

// WithStrategies replaces the resolution cascade.
func WithStrategies(s ...Strategy) Option {
	return func(e *Engine) { e.strategies = s }
}

// WithConfig sets timeouts and limits. Zero fields keep their defaults.
func WithConfig(c Config) Option {
	return func(e *Engine) {
		if c.WriteTimeout > 0 {
			e.cfg.WriteTimeout = c.WriteTimeout
		}
		if c.RunsLimit > 0 {
			e.cfg.RunsLimit = c.RunsLimit
		}
	}
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an engine in the pending state.
func New(backend Backend, opts ...Option) *Engine {
	e := &Engine{
		backend:  backend,
		catalog:  translate.NewCatalog(),
		progress: progress.NewStore(),
		index:    runindex.New(),
		cfg:      DefaultConfig(),
		logger:   slog.Default(),
		done:     make(chan struct{}),
		subs:     make(map[int]chan models.Event),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = templates.Default()
	}
	if e.topo == nil {
		e.topo = topology.Default()
	}
	if e.side == nil {
		e.side = sidestore.NewMemory()
	}
	if e.strategies == nil {
		e.strategies = DefaultStrategies()
	}
	e.resolver = identity.New(e.topo, e.enum, e.logger)
	e.translator = translate.New(e.registry, e.catalog)
	return e
}

// Registry returns the process templates.
func (e *Engine) Registry() *templates.Registry { return e.registry }

// Topology returns the static rack layout.
func (e *Engine) Topology() *topology.Topology { return e.topo }

// Catalog returns the backend status catalog.
func (e *Engine) Catalog() *translate.Catalog { return e.catalog }

// State returns the bootstrap state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Done is closed when the current bootstrap finishes, successfully or not.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// Summary returns the outcome of the last bootstrap or sync.
func (e *Engine) Summary() (BootstrapSummary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.summary, e.bootErr
}

// awaitReady blocks while a bootstrap is running.
func (e *Engine) awaitReady(ctx context.Context) error {
	e.mu.Lock()
	state, done := e.state, e.done
	e.mu.Unlock()

	switch state {
	case StatePending:
		return ErrNotBootstrapped
	case StateRunning:
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		if e.State() != StateReady {
			return ErrBootstrapFailed
		}
		return nil
	case StateFailed:
		return ErrBootstrapFailed
	default:
		return nil
	}
}

// =============================================================================
// READ PATH
// =============================================================================

// Lookup returns the visible code of a cell and whether it is known.
func (e *Engine) Lookup(unit, rackID, process string) (int, bool) {
	return e.progress.Get(models.NewKey(unit, rackID, process))
}

// GetCode returns the visible code of a cell; unknown cells read as
// translate.DefaultCode.
func (e *Engine) GetCode(unit, rackID, process string) int {
	if code, ok := e.Lookup(unit, rackID, process); ok {
		return code
	}
	return translate.DefaultCode
}

// Label returns the template label of a cell's visible code, or "" when the
// process has no template.
func (e *Engine) Label(unit, rackID, process string) string {
	tmpl, ok := e.registry.Template(process)
	if !ok {
		return ""
	}
	label, _ := tmpl.Label(e.GetCode(unit, rackID, process))
	return label
}

// Pending reports whether a cell has an unconfirmed edit.
func (e *Engine) Pending(unit, rackID, process string) bool {
	return e.progress.Pending(models.NewKey(unit, rackID, process))
}

// Note returns the side-store note of a cell.
func (e *Engine) Note(ctx context.Context, unit, rackID, process string) (string, error) {
	return e.side.Get(ctx, sidestore.KindNote, models.NewKey(unit, rackID, process))
}

// Responsible returns the side-store responsible person of a cell.
func (e *Engine) Responsible(ctx context.Context, unit, rackID, process string) (string, error) {
	return e.side.Get(ctx, sidestore.KindResponsible, models.NewKey(unit, rackID, process))
}

// UnitStatus aggregates a process over a site-unit: the blocked code when
// any rack is blocked, otherwise the highest code. Racks of the static
// topology that do not run the process are ignored; units the topology does
// not know aggregate over the keys the progress store holds.
func (e *Engine) UnitStatus(unit, process string) (int, bool) {
	tmpl, ok := e.registry.Template(process)
	if !ok {
		return 0, false
	}

	var codes []int
	if racks, known := e.topo.Racks(unit); known {
		for _, rk := range racks {
			if rk.Eligible(process) {
				codes = append(codes, e.GetCode(unit, rk.ID, process))
			}
		}
	} else {
		for _, k := range e.progress.Keys(unit, process) {
			if code, ok := e.progress.Get(k); ok {
				codes = append(codes, code)
			}
		}
	}
	if len(codes) == 0 {
		return 0, false
	}

	best := 0
	for _, c := range codes {
		if tmpl.IsBlocked(c) {
			return c, true
		}
		if c > best {
			best = c
		}
	}
	return best, true
}

// Stats is a point-in-time view of the engine's stores.
type Stats struct {
	State            State `json:"state"`
	ProgressKeys     int   `json:"progress_keys"`
	IndexKeys        int   `json:"index_keys"`
	CatalogProcesses int   `json:"catalog_processes"`
	CatalogStatuses  int   `json:"catalog_statuses"`
}

// Stats returns store sizes.
func (e *Engine) Stats() Stats {
	procs, statuses := e.catalog.Len()
	return Stats{
		State:            e.State(),
		ProgressKeys:     e.progress.Len(),
		IndexKeys:        e.index.Len(),
		CatalogProcesses: procs,
		CatalogStatuses:  statuses,
	}
}
