package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/veilcall/veilcall/relay"
	"github.com/veilcall/veilcall/shared"
)

// Environment variable keys
const (
	envKeyConfig string = "VEILCALL_RELAY_CONFIG"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfgPath := shared.MustGetenv(shared.GetenvString, envKeyConfig, false, "")
	cfg, err := relay.LoadConfig(cfgPath)
	if err != nil {
		shared.NewStdLogger().Error("loading config", err, zap.String("path", cfgPath))
		os.Exit(1)
	}

	var logger shared.LoggerAdapter
	if cfg.Log.File != "" {
		logger = shared.NewFileLogger(
			cfg.Log.File, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups, cfg.Log.MaxAgeDays, cfg.Log.Compress,
		)
	} else {
		logger = shared.NewStdLogger()
	}
	logger = logger.With(
		zap.String("component", "relay"),
		zap.String("version", shared.Version),
	)

	srv := relay.NewServer(logger, cfg)
	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		if err != nil {
			logger.Error("relay server failed", err)
			os.Exit(1)
		}
	case <-sig:
		logger.Info("shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("shutting down relay server", err)
			os.Exit(1)
		}
		logger.Info("graceful shutdown complete")
	}
}
