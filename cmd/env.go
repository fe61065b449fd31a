package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/waxworks/trackline/internal/engine"
	"github.com/waxworks/trackline/internal/ingest"
	"github.com/waxworks/trackline/internal/model"
	"github.com/waxworks/trackline/internal/pipeline"
	"github.com/waxworks/trackline/internal/provider"
	"github.com/waxworks/trackline/internal/replay"
	"github.com/waxworks/trackline/internal/rules"
	"github.com/waxworks/trackline/internal/store"
)

// appEnv holds everything the run/replay/serve commands need. Callers
// should defer env.Close().
type appEnv struct {
	Store    store.Store
	Rules    *rules.Store
	Registry *provider.Registry
	Runner   *pipeline.Runner
	Replay   *replay.Coordinator
	Importer *ingest.Importer
}

func (e *appEnv) Close() {
	if e.Registry != nil {
		e.Registry.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates config for the given mode, opens the store, runs
// migrations, loads the rule store, and wires the registry and runner.
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}

	ruleStore, err := rules.NewStore(ctx, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	registry := provider.NewRegistry()
	registerProviders(registry)

	fetchTimeout, err := time.ParseDuration(cfg.Pipeline.DefaultFetchTimeout)
	if err != nil {
		return nil, eris.Wrapf(err, "parse pipeline.default_fetch_timeout %q", cfg.Pipeline.DefaultFetchTimeout)
	}

	enricher := engine.New(registry, st, fetchTimeout)
	runner := pipeline.NewRunner(st, ruleStore, enricher, cfg.Pipeline.Workers, cfg.Pipeline.CheckpointInterval)

	return &appEnv{
		Store:    st,
		Rules:    ruleStore,
		Registry: registry,
		Runner:   runner,
		Replay:   replay.NewCoordinator(st, runner),
		Importer: ingest.NewImporter(st, cfg.Import.BatchSize),
	}, nil
}

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return store.NewSQLite(cfg.Store.Path)
	}
}

// registerProviders wires the built-in payload provider plus configured
// rate limits and enablement. External metadata services register through
// the same Provider contract when trackline is embedded as a library.
func registerProviders(registry *provider.Registry) {
	registry.Register(provider.NewPayloadProvider(), cfg.Providers.RateLimits["payload"])

	for _, name := range cfg.Providers.Disabled {
		if err := registry.SetEnabled(name, false); err != nil {
			zap.L().Warn("disable provider", zap.String("provider", name), zap.Error(err))
		}
	}
}

func parseKind(s string) (model.RecordKind, error) {
	switch model.RecordKind(s) {
	case model.RecordKindTrack, model.RecordKindPlaylist, model.RecordKindArtist:
		return model.RecordKind(s), nil
	case "":
		return "", nil
	default:
		return "", eris.Errorf("unknown record kind %q (track, playlist, artist)", s)
	}
}
