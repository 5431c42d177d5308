package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fpsarena/server/internal/config"
	"fpsarena/server/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "arena: invalid configuration: %v\n", err)
		os.Exit(2)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "arena: configure logging: %v\n", err)
		os.Exit(2)
	}
	logging.ReplaceGlobals(logger)
	defer logger.Sync()

	srv, err := newServer(cfg, logger)
	if err != nil {
		logger.Fatal("server setup failed", logging.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := srv.run(ctx); err != nil {
		logger.Error("server stopped with error", logging.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("server stopped")
}
