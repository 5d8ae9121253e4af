package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/ivlev/holocine/internal/config"
)

// Version is set via -ldflags.
var Version = "dev"

func main() {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "holocine",
	})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("could not load settings", "err", err)
	}
	cfg.BuildVersion = Version

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(newApp(cfg, logger))
	if err := cmd.ExecuteContext(ctx); err != nil {
		logger.Error(err)
		stop()
		os.Exit(1)
	}
}
