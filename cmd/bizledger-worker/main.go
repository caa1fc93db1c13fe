package main

import (
	"context"
	"errors"
	"os"

	"bizledger/internal/backend"
	"bizledger/internal/budget"
	"bizledger/internal/cli"
	"bizledger/internal/config"
	"bizledger/internal/ledger"
	applog "bizledger/internal/log"
	"bizledger/internal/worker"

	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := cli.LoadConfig()
	logger := cli.SetupLogger(cfg, applog.ComponentWorker)
	logger.Info("Starting bizledger-worker")
	cli.ValidateConfig(cfg, logger)
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the standalone worker")
		os.Exit(1)
	}

	ctx, stop := cli.ShutdownContext(logger)
	defer stop()

	cli.Exit(logger, "Worker shutdown complete", run(ctx, cfg, logger))
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

	mirror, err := factory.CreateMirror(ctx, bcfg)
	if err != nil {
		return err
	}
	events, err := factory.CreateEventClient(ctx, bcfg)
	if err != nil {
		return err
	}
	defer events.Close()

	// The worker never writes entries; the engine here only audits.
	auditor := ledger.NewEngine(store, nil, ledger.DefaultConfig(), logger)
	w := worker.New(store, budget.NewService(store, logger), auditor, mirror, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := events.Consume(gctx, w.HandleMessage)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error { return w.Run(gctx, cfg.ReconcileInterval) })
	return g.Wait()
}
