// Package app assembles an engine and its collaborators from configuration.
// The CLI and the server binary share it.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/rackpatch/internal/client"
	"github.com/raphaelgruber/rackpatch/internal/config"
	"github.com/raphaelgruber/rackpatch/internal/identity"
	"github.com/raphaelgruber/rackpatch/internal/metrics"
	"github.com/raphaelgruber/rackpatch/internal/reconcile"
	"github.com/raphaelgruber/rackpatch/internal/sidestore"
	"github.com/raphaelgruber/rackpatch/internal/templates"
	"github.com/raphaelgruber/rackpatch/internal/topology"
)

// App holds a configured engine and the resources it owns.
type App struct {
	Engine    *reconcile.Engine
	Client    *client.Client
	Collector *metrics.Collector
	Options   *identity.OptionSet
	SideStore sidestore.Store
}

// Build wires an engine from cfg. The caller must Close the result.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	registry := templates.Default()
	if cfg.TemplatesFile != "" {
		r, err := templates.Load(cfg.TemplatesFile)
		if err != nil {
			return nil, fmt.Errorf("load templates: %w", err)
		}
		registry = r
	}

	topo := topology.Default()
	if cfg.TopologyFile != "" {
		t, err := topology.Load(cfg.TopologyFile)
		if err != nil {
			return nil, fmt.Errorf("load topology: %w", err)
		}
		topo = t
	}

	side, err := openSideStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	collector := metrics.NewCollector()
	apiClient := client.New(cfg.APIBaseURL, cfg.ClientTimeout,
		client.WithMetrics(collector),
		client.WithLogger(logger),
	)
	options := identity.NewOptionSet()

	engine := reconcile.New(apiClient,
		reconcile.WithRegistry(registry),
		reconcile.WithTopology(topo),
		reconcile.WithEnumerator(options),
		reconcile.WithSideStore(side),
		reconcile.WithConfig(reconcile.Config{
			WriteTimeout: cfg.WriteTimeout,
			RunsLimit:    cfg.RunsLimit,
		}),
		reconcile.WithLogger(logger),
	)

	logger.Debug("engine assembled",
		"api", cfg.APIBaseURL,
		"side_store", cfg.SideStore,
		"processes", len(registry.Processes()),
		"units", len(topo.Units()),
	)

	return &App{
		Engine:    engine,
		Client:    apiClient,
		Collector: collector,
		Options:   options,
		SideStore: side,
	}, nil
}

func openSideStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (sidestore.Store, error) {
	switch cfg.SideStore {
	case config.SideStoreBadger:
		s, err := sidestore.OpenBadger(sidestore.BadgerConfig{
			Path:   cfg.BadgerPath,
			Logger: logger.With("component", "badger"),
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.SideStoreSurrealDB:
		s, err := sidestore.OpenSurreal(ctx, cfg.SurrealDB())
		if err != nil {
			return nil, fmt.Errorf("connect side store: %w", err)
		}
		return s, nil
	case config.SideStoreMemory, "":
		return sidestore.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown side store %q", cfg.SideStore)
	}
}

// Close releases the side store.
func (a *App) Close() error {
	if a.SideStore == nil {
		return nil
	}
	return a.SideStore.Close()
}
