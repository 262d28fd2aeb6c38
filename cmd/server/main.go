// Package main is the entry point for the campus marketplace API server.
//
// main stays minimal: read configuration, build the logger, hand both to
// the server package and block until shutdown. All actual logic lives in
// internal/.
package main

import (
	"log/slog"
	"os"

	"github.com/sakif/campus-market/internal/config"
	"github.com/sakif/campus-market/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// The logger level comes from config, so this one goes out at the default.
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Log levels (from least to most severe): Debug → Info → Warn → Error.
	// LOG_LEVEL=debug during development, info in production.
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	if !cfg.Policy.ExposeSellerEmail {
		logger.Info("seller email is hidden on listing pages (EXPOSE_SELLER_EMAIL=false)")
	}

	srv, err := server.New(server.ConfigFrom(cfg), logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
