// Package storage persists the task list.
//
// Two drivers are available:
//   - "file": a JSON document rewritten atomically on every save
//   - "sqlite": a SQLite database (pure Go driver)
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fgeck/gobackup-homelab/internal/models"
	"github.com/rs/zerolog"
)

// Store loads and saves the full task list.
type Store interface {
	// LoadTasks returns the stored tasks in order. NextRun is left zero;
	// the registry recomputes it. A missing store yields an empty list.
	LoadTasks(ctx context.Context) ([]models.Task, error)
	// SaveTasks overwrites the stored list.
	SaveTasks(ctx context.Context, tasks []models.Task) error
	// Watch calls onChange whenever another process modifies the store.
	// It blocks until ctx is done.
	Watch(ctx context.Context, onChange func()) error
	Close() error
}

// Config selects and configures a driver.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means 5s

	// PollInterval is how often the sqlite driver checks for foreign
	// writes and the debounce window of the file driver.
	PollInterval time.Duration
}

// Open initialises the configured store.
func Open(cfg Config, logger zerolog.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage.path is required")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", models.StorageFile, "json":
		return openFile(cfg, logger)
	case models.StorageSQLite, "sqlite3":
		return openSQLite(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}
