package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ibeckermayer/xwatcher/internal/app"
	"github.com/ibeckermayer/xwatcher/internal/config"
	"github.com/ibeckermayer/xwatcher/internal/lock"
	"github.com/ibeckermayer/xwatcher/internal/logging"
)

func main() {
	log := logging.For("main")

	configPath := os.Getenv("XWATCHER_CONFIG")
	cfg, err := app.LoadOrCreateConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	dataDir, err := config.DataDir()
	if err != nil {
		log.Fatalf("Failed to get data dir: %v", err)
	}
	l, err := lock.Acquire(filepath.Join(dataDir, "xwatcher.lock"))
	if errors.Is(err, lock.ErrHeld) {
		log.WithError(err).Info("already running, exiting")
		return
	}
	if err != nil {
		log.Fatalf("Failed to take lock: %v", err)
	}
	defer l.Release()

	st, err := app.OpenStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	live, err := app.NewLive()
	if err != nil {
		log.Fatalf("Failed to set up collaborators: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := app.New(st, cfg, nil, live, configPath)
	log.Info("xwatcher starting...")
	if err := a.Run(ctx); err != nil {
		log.WithError(err).Error("loop stopped")
	}
	log.Info("xwatcher stopped")
}
