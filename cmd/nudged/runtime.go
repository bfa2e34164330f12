package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/nudge-engine/internal/bandit"
	"github.com/danielpatrickdp/nudge-engine/internal/config"
	"github.com/danielpatrickdp/nudge-engine/internal/features"
	"github.com/danielpatrickdp/nudge-engine/internal/ledger"
	"github.com/danielpatrickdp/nudge-engine/internal/metrics"
	"github.com/danielpatrickdp/nudge-engine/internal/modelstore"
	"github.com/danielpatrickdp/nudge-engine/internal/orchestrator"
)

// #region runtime
// runtime owns everything a running engine needs and closes it in reverse
// order of construction.
type runtime struct {
	log     *zap.Logger
	db      *sql.DB
	svc     *orchestrator.Service
	metrics *http.Server
	outcome modelstore.Outcome
}

func openRuntime(ctx context.Context, cfg *config.Config, log *zap.Logger) (*runtime, error) {
	rt := &runtime{log: log}
	var store modelstore.Store

	if path := cfg.Storage.DBPath; path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		if cfg.Storage.Backend == config.BackendSQLite {
			s, err := modelstore.NewSQLiteStore(path)
			if err != nil {
				return nil, err
			}
			rt.db = s.DB()
			store = s
		} else {
			db, err := modelstore.OpenDB(path)
			if err != nil {
				return nil, err
			}
			rt.db = db
		}
	}
	if cfg.Storage.Backend == config.BackendFile {
		store = modelstore.NewFileStore(cfg.Storage.ModelPath)
	}

	if err := rt.wire(ctx, cfg, store); err != nil {
		rt.closeDB()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) wire(ctx context.Context, cfg *config.Config, store modelstore.Store) error {
	builder := features.DefaultBuilder()
	engine, outcome, err := modelstore.LoadOrInit(ctx, store,
		cfg.EngineConfig(builder.Dim()), builder.Layout(), rt.log.Named("modelstore"),
		bandit.WithLogger(rt.log.Named("bandit")),
		bandit.WithFallbackHook(metrics.ObserveFallback))
	if err != nil {
		return err
	}
	rt.outcome = outcome

	ledgerOpts := []ledger.Option{
		ledger.WithLogger(rt.log.Named("ledger")),
		ledger.WithErrorHook(metrics.ObservePersistError),
		ledger.WithContextDim(engine.ContextDim()),
	}
	var l *ledger.Ledger
	if rt.db != nil {
		j, err := ledger.NewSQLiteJournal(rt.db)
		if err != nil {
			return err
		}
		if l, err = ledger.Restore(j, ledgerOpts...); err != nil {
			return err
		}
	} else {
		l = ledger.New(ledgerOpts...)
	}

	rt.svc, err = orchestrator.New(orchestrator.Deps{
		Builder:            builder,
		Engine:             engine,
		Ledger:             l,
		Store:              store,
		Audit:              rt.db,
		Logger:             rt.log.Named("orchestrator"),
		PersistAfterUpdate: cfg.Persist.AfterUpdate,
	})
	if err != nil {
		return err
	}

	if addr := cfg.Metrics.Addr; addr != "" {
		if err := rt.serveMetrics(addr); err != nil {
			rt.svc.Close(ctx)
			return err
		}
	}

	rt.log.Info("engine ready",
		zap.String("model", outcome.String()),
		zap.String("backend", cfg.Storage.Backend),
		zap.Int("num_arms", engine.NumArms()),
		zap.Int("context_dim", engine.ContextDim()),
		zap.Float64("alpha", engine.Config().Alpha))
	return nil
}

func (rt *runtime) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	rt.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := rt.metrics.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.log.Error("metrics server stopped", zap.Error(err))
		}
	}()
	rt.log.Info("metrics listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Close stops the metrics listener, writes the final snapshot and closes the
// database.
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.metrics != nil {
		if err := rt.metrics.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
		}
	}
	if rt.svc != nil {
		if err := rt.svc.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := rt.closeDB(); err != nil {
		errs = append(errs, fmt.Errorf("close db: %w", err))
	}
	return errors.Join(errs...)
}

func (rt *runtime) closeDB() error {
	if rt.db == nil {
		return nil
	}
	db := rt.db
	rt.db = nil
	return db.Close()
}
// #endregion runtime
