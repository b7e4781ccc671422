package app

import (
	"errors"
	"io/fs"
	"os"

	"github.com/ibeckermayer/xwatcher/internal/config"
	"github.com/ibeckermayer/xwatcher/internal/logging"
	"github.com/ibeckermayer/xwatcher/internal/store"
)

// LoadOrCreateConfig reads the config at path, or the default location
// when path is empty. On first run a default config is written.
func LoadOrCreateConfig(path string) (*config.Config, error) {
	log := logging.For("config")
	if path == "" {
		p, err := config.ConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg, err := config.LoadFrom(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
		if err := cfg.SaveTo(path); err != nil {
			log.WithError(err).Warn("could not save default config")
		} else {
			log.WithField("path", path).Info("created default config")
		}
	} else if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logging.Init(logLevel(cfg), cfg.Logging.Format)
	return cfg, nil
}

// logLevel prefers XW_LOG_LEVEL over the config file
func logLevel(cfg *config.Config) string {
	if lvl := os.Getenv("XW_LOG_LEVEL"); lvl != "" {
		return lvl
	}
	return cfg.Logging.Level
}

// OpenStore opens the record store named by cfg
func OpenStore(cfg *config.Config) (*store.Store, error) {
	path, err := cfg.DBPath()
	if err != nil {
		return nil, err
	}
	return store.Open(path)
}
