package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"tripstore/internal/blob"
	"tripstore/internal/changefeed"
	"tripstore/internal/config"
	"tripstore/internal/core"
	"tripstore/internal/infra/blob/fs"
	"tripstore/internal/infra/persistence/badger"
	"tripstore/internal/infra/persistence/jsonstore"
	"tripstore/internal/infra/persistence/memory"
	"tripstore/internal/infra/persistence/postgres"
	"tripstore/internal/infra/persistence/sqlite"
	"tripstore/internal/reload"
	"tripstore/pkg/domain"
)

// runtime holds the backends one CLI invocation works against.
type runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	blobs       blob.Store
	store       *jsonstore.Store
	history     domain.HistoryLog
	prefs       domain.PreferenceStore
	reducer     *changefeed.Reducer
	broadcaster *reload.Broadcaster
	service     *core.Service
	registry    *prometheus.Registry

	// watchFiles are the local files other processes write through.
	watchFiles []string
	sqlite     map[string]*sqlite.Store
	closers    []func() error
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	level, _ := cfg.SlogLevel()
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func openRuntime(ctx context.Context, cfg config.Config, logw io.Writer) (_ *runtime, err error) {
	rt := &runtime{cfg: cfg, logger: newLogger(logw, cfg.Log), sqlite: map[string]*sqlite.Store{}}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	blobOpts := cfg.BlobOptions()
	blobOpts.Logger = rt.logger.With("component", "blob")
	if rt.blobs, err = blob.Open(ctx, blobOpts); err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	if rt.history, err = rt.openHistory(); err != nil {
		return nil, err
	}
	if rt.prefs, err = rt.openPreferences(ctx); err != nil {
		return nil, err
	}

	rt.store, err = jsonstore.New(rt.blobs, jsonstore.Configuration{Name: cfg.Store.Name, Key: cfg.Store.Key},
		jsonstore.WithLogger(rt.logger.With("component", "jsonstore")),
		jsonstore.WithHistoryLog(rt.history),
	)
	if err != nil {
		return nil, err
	}
	if fsStore, ok := rt.blobs.(*fs.Store); ok {
		path, err := fsStore.Path(rt.store.Key())
		if err != nil {
			return nil, fmt.Errorf("resolve document path: %w", err)
		}
		rt.watchFiles = append(rt.watchFiles, path)
	}

	rt.reducer, err = changefeed.New(rt.store, rt.history, rt.prefs, changefeed.WithLogger(rt.logger.With("component", "changefeed")))
	if err != nil {
		return nil, err
	}
	rt.broadcaster = reload.NewBroadcaster()
	rt.closers = append(rt.closers, func() error { rt.broadcaster.Close(); return nil })

	opts := []core.Option{
		core.WithLogger(rt.logger.With("component", "core")),
		core.WithReducer(rt.reducer),
		core.WithReloadNotifier(rt.broadcaster),
		core.WithTracer(core.NewOTelTracer(nil)),
	}
	switch cfg.Metrics.Exporter {
	case config.MetricsExpvar:
		opts = append(opts, core.WithMetricsRecorder(core.NewExpvarMetricsRecorder("")))
	case config.MetricsPrometheus:
		rt.registry = prometheus.NewRegistry()
		opts = append(opts, core.WithMetricsRecorder(core.NewPrometheusMetricsRecorder(rt.registry)))
	}
	rt.service = core.NewService(rt.store, opts...)
	return rt, nil
}

func (rt *runtime) openHistory() (domain.HistoryLog, error) {
	switch rt.cfg.History.Driver {
	case config.DriverMemory:
		return memory.NewHistoryLog(), nil
	case config.DriverSQLite:
		db, err := rt.openSQLite(rt.cfg.History.Path)
		if err != nil {
			return nil, err
		}
		return db, nil
	case config.DriverBadger:
		j, err := badger.Open(badger.Config{Path: rt.cfg.History.Path, SyncWrites: true, Logger: rt.logger})
		if err != nil {
			return nil, fmt.Errorf("open history journal: %w", err)
		}
		rt.closers = append(rt.closers, j.Close)
		return j, nil
	default:
		return nil, fmt.Errorf("unknown history driver %q", rt.cfg.History.Driver)
	}
}

func (rt *runtime) openPreferences(ctx context.Context) (domain.PreferenceStore, error) {
	p := rt.cfg.Preferences
	switch p.Driver {
	case config.DriverMemory:
		return memory.NewPreferenceStore(), nil
	case config.DriverSQLite:
		db, err := rt.openSQLite(p.Path)
		if err != nil {
			return nil, err
		}
		rt.watchFiles = append(rt.watchFiles, db.Path())
		return db.Preferences(p.Scope), nil
	case config.DriverPostgres:
		store, err := postgres.NewStore(ctx, p.DSN, p.Scope)
		if err != nil {
			return nil, fmt.Errorf("open postgres preferences: %w", err)
		}
		rt.closers = append(rt.closers, store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown preferences driver %q", p.Driver)
	}
}

// openSQLite shares one handle per database file between history and
// preferences.
func (rt *runtime) openSQLite(path string) (*sqlite.Store, error) {
	if db, ok := rt.sqlite[path]; ok {
		return db, nil
	}
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	rt.sqlite[path] = db
	rt.closers = append(rt.closers, db.Close)
	return db, nil
}

// writeMetrics renders the Prometheus registry in the text exposition format.
func (rt *runtime) writeMetrics(w io.Writer) error {
	if rt.registry == nil {
		return fmt.Errorf("--metrics needs metrics.exporter %q, have %q", config.MetricsPrometheus, rt.cfg.Metrics.Exporter)
	}
	families, err := rt.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// Close releases backends in reverse open order.
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	rt.closers = nil
	return errors.Join(errs...)
}
