package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fgeck/gobackup-homelab/internal/models"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const defaultDebounce = 250 * time.Millisecond

// fileStore keeps the task list in a single JSON document.
type fileStore struct {
	path     string
	debounce time.Duration
	logger   zerolog.Logger

	mu sync.Mutex
	// lastWritten is the hash of the last document this process wrote, so
	// the watcher can ignore its own saves.
	lastWritten [sha256.Size]byte
}

func openFile(cfg Config, logger zerolog.Logger) (Store, error) {
	path, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", cfg.Path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	debounce := cfg.PollInterval
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	return &fileStore{path: path, debounce: debounce, logger: logger}, nil
}

func (s *fileStore) LoadTasks(ctx context.Context) ([]models.Task, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Debug().Str("path", s.path).Msg("no task file yet")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var records []taskRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.path, err)
	}

	tasks := make([]models.Task, 0, len(records))
	for _, rec := range records {
		task, err := rec.toTask()
		if err != nil {
			s.logger.Warn().Err(err).Str("path", s.path).Msg("skipping unreadable task record")
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (s *fileStore) SaveTasks(ctx context.Context, tasks []models.Task) error {
	records := make([]taskRecord, len(tasks))
	for i, t := range tasks {
		records[i] = toRecord(t)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding tasks: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		s.logger.Debug().Err(err).Msg("task file sync failed")
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("closing %s: %w", tmp, err)
	}

	s.lastWritten = sha256.Sum256(data)
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing %s: %w", s.path, err)
	}
	return nil
}

// Watch watches the directory rather than the file because saves replace
// the file by rename.
func (s *fileStore) Watch(ctx context.Context, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	dir, file := filepath.Dir(s.path), filepath.Base(s.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	s.logger.Debug().Str("path", s.path).Msg("watching task file")

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !strings.EqualFold(filepath.Base(ev.Name), file) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(s.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			if s.isOwnWrite() {
				continue
			}
			s.logger.Info().Str("path", s.path).Msg("task file changed on disk")
			onChange()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn().Err(err).Str("path", s.path).Msg("task file watch error")
		}
	}
}

func (s *fileStore) isOwnWrite() bool {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return sha256.Sum256(data) == s.lastWritten
}

func (s *fileStore) Close() error { return nil }
