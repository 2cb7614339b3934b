package config

import (
	"context"

	"github.com/marmos91/dittobd/internal/logger"
	"github.com/marmos91/dittobd/pkg/metrics"
)

// StartMetrics starts the Prometheus endpoint in the background when
// metrics.listen is set and returns the running server, or nil.
//
// onExit runs if the server stops for any reason other than ctx being
// cancelled.
func StartMetrics(ctx context.Context, cfg *Config, onExit func(error)) *metrics.Server {
	if cfg.Metrics.Listen == "" {
		return nil
	}

	metrics.InitRegistry()
	server := metrics.NewServer(metrics.ServerConfig{Listen: cfg.Metrics.Listen})

	go func() {
		err := server.Start(ctx)
		if ctx.Err() != nil {
			return
		}
		logger.Error("Metrics server exited: %v", err)
		if onExit != nil {
			onExit(err)
		}
	}()

	return server
}
