// Package cli holds the startup steps shared by cmd/bizledger and
// cmd/bizledger-worker.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"bizledger/internal/config"
	applog "bizledger/internal/log"
)

// LoadConfig loads .env files for local development and then the
// environment. Missing .env files are ignored.
func LoadConfig() *config.Config {
	config.LoadDotEnv()
	return config.Load()
}

// SetupLogger builds the process logger from cfg and makes it the slog
// default.
func SetupLogger(cfg *config.Config, component string) *applog.Logger {
	logger := applog.New(applog.Config{
		Level:     applog.ParseLevel(cfg.LogLevel),
		Format:    cfg.LogFormat,
		Component: component,
	})
	applog.SetDefault(logger)
	return logger
}

// ValidateConfig exits the process when cfg is invalid.
func ValidateConfig(cfg *config.Config, logger *applog.Logger) {
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}
}

// ShutdownContext returns a context cancelled on SIGINT or SIGTERM.
func ShutdownContext(logger *applog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String(), applog.FieldOperation, applog.OpShutdown)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Exit logs err and exits non-zero, or logs msg when err is nil.
func Exit(logger *applog.Logger, msg string, err error) {
	if err != nil {
		logger.Error("Exited with error", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info(msg)
}
