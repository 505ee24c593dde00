package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/AutoFlowLabs/ios-bridge/internal/apperr"
	"github.com/AutoFlowLabs/ios-bridge/internal/config"
	"github.com/AutoFlowLabs/ios-bridge/internal/server"
)

// Exit codes per spec.md §6: 0 normal shutdown, 2 bad config, 3 state dir
// unusable, 4 host driver missing.
const (
	exitOK                = 0
	exitBadConfig         = 2
	exitStateDirError     = 3
	exitHostDriverMissing = 4
)

func main() {
	log := logrus.NewEntry(logrus.StandardLogger())

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}
	if err := config.Initialize(env); err != nil {
		log.WithError(err).Error("failed to initialize config")
		os.Exit(exitBadConfig)
	}
	cfg := config.Get()

	srv, err := server.New(cfg, log)
	if err != nil {
		log.WithError(err).Error("failed to construct server")
		if apperr.KindOf(err) == apperr.KindHostDriver {
			os.Exit(exitHostDriverMissing)
		}
		os.Exit(exitStateDirError)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start server")
		os.Exit(exitStateDirError)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("shutdown signal received")

	cancel()
	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	os.Exit(exitOK)
}
