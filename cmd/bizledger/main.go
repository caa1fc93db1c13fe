package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"bizledger/internal/backend"
	"bizledger/internal/budget"
	"bizledger/internal/cache"
	"bizledger/internal/cli"
	"bizledger/internal/config"
	"bizledger/internal/core"
	"bizledger/internal/directory"
	apphttp "bizledger/internal/http"
	"bizledger/internal/ledger"
	applog "bizledger/internal/log"
	"bizledger/internal/worker"

	"golang.org/x/sync/errgroup"
)

// auditFunc adapts a function to worker.Auditor.
type auditFunc func(ctx context.Context) ([]core.AccumulatorDrift, error)

func (f auditFunc) Audit(ctx context.Context) ([]core.AccumulatorDrift, error) { return f(ctx) }

func main() {
	cfg := cli.LoadConfig()
	logger := cli.SetupLogger(cfg, applog.ComponentApp)
	cli.ValidateConfig(cfg, logger)

	ctx, stop := cli.ShutdownContext(logger)
	defer stop()

	cli.Exit(logger, "Server stopped gracefully", run(ctx, cfg, logger))
}

func run(ctx context.Context, cfg *config.Config, logger *applog.Logger) error {
	factory := backend.NewFactory(logger)
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}

	res, err := factory.CreateStore(ctx, bcfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Warn("Store cleanup failed", applog.FieldError, err)
		}
	}()
	store := res.Store

	dir := directory.New(store, directory.Config{CacheSize: cfg.CacheSize, CacheTTL: cfg.CacheTTL}, logger)
	budgets := budget.NewService(store, logger)

	// Committed mutations always evict directory caches. Budget and mirror
	// side effects go over AMQP when a broker is configured, else they run
	// in-process.
	publishers := ledger.Publishers{dir}
	var engine *ledger.Engine
	var inProcess *worker.Worker

	events, err := factory.CreateEventClient(ctx, bcfg)
	if err != nil {
		return err
	}
	if events != nil {
		defer events.Close()
		publishers = append(publishers, events)
		logger.Info("Publishing ledger events to AMQP", "exchange", cfg.AMQPExchange)
	} else {
		mirror, err := factory.CreateMirror(ctx, bcfg)
		if err != nil {
			return err
		}
		inProcess = worker.New(store, budgets, auditFunc(func(ctx context.Context) ([]core.AccumulatorDrift, error) {
			return engine.Audit(ctx)
		}), mirror, logger)
		publishers = append(publishers, inProcess)
		logger.Info("No AMQP_URL set, running the ledger worker in-process")
	}

	engine = ledger.NewEngine(store, publishers, ledger.Config{
		MaxAttempts: cfg.WriteMaxAttempts,
		BaseBackoff: cfg.WriteRetryBackoff,
		MaxBackoff:  time.Second,
	}, logger)

	caches := cache.NewManager(logger)
	caches.Register(dir.Caches()...)

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Services{
		Ledger:    engine,
		Directory: dir,
		Budget:    budgets,
		Store:     store,
	}, apphttp.Options{DefaultVATRate: cfg.DefaultVATRate}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting bizledger server", "port", cfg.Port, "backend", cfg.DataBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return caches.Run(gctx, time.Minute) })
	if inProcess != nil {
		g.Go(func() error { return inProcess.Run(gctx, cfg.ReconcileInterval) })
	}
	return g.Wait()
}
