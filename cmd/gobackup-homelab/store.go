package main

import (
	"context"
	"fmt"

	"github.com/fgeck/gobackup-homelab/internal/models"
	"github.com/fgeck/gobackup-homelab/internal/registry"
	"github.com/fgeck/gobackup-homelab/internal/storage"
	"github.com/rs/zerolog/log"
)

// openRegistry opens the configured task store and loads it into a
// registry that saves back to the same store.
func openRegistry(ctx context.Context, cfg *models.AppConfig) (*registry.Registry, storage.Store, error) {
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.Storage.BusyTimeout,
	}, log.Logger)
	if err != nil {
		return nil, nil, err
	}

	tasks, err := store.LoadTasks(ctx)
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("loading tasks: %w", err)
	}

	reg := registry.New(log.Logger, registry.WithPersister(store))
	reg.Load(tasks)
	return reg, store, nil
}
