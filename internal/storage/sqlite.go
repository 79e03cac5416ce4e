package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fgeck/gobackup-homelab/internal/models"
	"github.com/rs/zerolog"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const (
	defaultBusyTimeout  = 5 * time.Second
	defaultPollInterval = 2 * time.Second
)

type sqliteStore struct {
	db     *sql.DB
	poll   time.Duration
	logger zerolog.Logger
}

func openSQLite(cfg Config, logger zerolog.Logger) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)", cfg.Path, busy.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", cfg.Path, err)
	}
	// One connection: SQLite serialises writers anyway, and data_version
	// is tracked per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}

	st := &sqliteStore{db: db, poll: poll, logger: logger}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating %s: %w", cfg.Path, err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) LoadTasks(ctx context.Context) ([]models.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, source, destination, archival_mode, recurrence_kind, recurrence_params, last_run
		FROM tasks ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []models.Task
	for rows.Next() {
		var (
			rec     taskRecord
			params  string
			lastRun sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Source, &rec.Destination,
			&rec.ArchivalMode, &rec.RecurrenceKind, &params, &lastRun); err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &rec.RecurrenceParams); err != nil {
			s.logger.Warn().Err(err).Str("task", rec.Name).Msg("skipping task with unreadable recurrence")
			continue
		}
		if lastRun.Valid {
			rec.LastRun = &lastRun.String
		}

		task, err := rec.toTask()
		if err != nil {
			s.logger.Warn().Err(err).Msg("skipping unreadable task record")
			continue
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading tasks: %w", err)
	}
	return tasks, nil
}

func (s *sqliteStore) SaveTasks(ctx context.Context, tasks []models.Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return fmt.Errorf("clearing tasks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tasks(id, position, name, source, destination, archival_mode, recurrence_kind, recurrence_params, last_run)
		VALUES(?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, t := range tasks {
		rec := toRecord(t)
		params, err := json.Marshal(rec.RecurrenceParams)
		if err != nil {
			return fmt.Errorf("encoding recurrence for %q: %w", t.Name, err)
		}
		var lastRun any
		if rec.LastRun != nil {
			lastRun = *rec.LastRun
		}
		if _, err := stmt.ExecContext(ctx, rec.ID, i, rec.Name, rec.Source, rec.Destination,
			rec.ArchivalMode, rec.RecurrenceKind, string(params), lastRun); err != nil {
			return fmt.Errorf("inserting %q: %w", t.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing tasks: %w", err)
	}
	return nil
}

// Watch polls PRAGMA data_version, which only changes when another
// connection commits.
func (s *sqliteStore) Watch(ctx context.Context, onChange func()) error {
	last, err := s.dataVersion(ctx)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			v, err := s.dataVersion(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Warn().Err(err).Msg("checking task database for changes")
				continue
			}
			if v != last {
				last = v
				s.logger.Info().Msg("task database changed")
				onChange()
			}
		}
	}
}

func (s *sqliteStore) dataVersion(ctx context.Context) (int64, error) {
	var v int64
	if err := s.db.QueryRowContext(ctx, `PRAGMA data_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("reading data_version: %w", err)
	}
	return v, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
