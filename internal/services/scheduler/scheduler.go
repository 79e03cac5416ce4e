// Package scheduler fires due backup tasks.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fgeck/gobackup-homelab/internal/clock"
	"github.com/fgeck/gobackup-homelab/internal/models"
	"github.com/fgeck/gobackup-homelab/internal/services/executor"
	"github.com/rs/zerolog"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultErrorBackoff = 10 * time.Second
)

// Tasks is the part of the registry the scheduler drives.
type Tasks interface {
	// ClaimDue marks every task due at now as fired and returns copies.
	// Tasks for which skip reports true only have their next run advanced.
	ClaimDue(now time.Time, skip func(models.Task) bool) []models.Task
	Persist(ctx context.Context) error
}

// Dispatcher starts a backup without blocking.
type Dispatcher interface {
	Execute(task models.Task) *executor.Run
	// Skips reports whether a fire of the task would be dropped now.
	Skips(taskID string) bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithPollInterval sets the pause between ticks.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.poll = d
		}
	}
}

// WithErrorBackoff sets the pause after a failed tick.
func WithErrorBackoff(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.backoff = d
		}
	}
}

// Scheduler polls the task registry and hands due tasks to the dispatcher.
type Scheduler struct {
	tasks      Tasks
	dispatcher Dispatcher
	clock      clock.Clock
	poll       time.Duration
	backoff    time.Duration
	logger     zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// New creates a scheduler.
func New(logger zerolog.Logger, tasks Tasks, dispatcher Dispatcher, opts ...Option) *Scheduler {
	s := &Scheduler{
		tasks:      tasks,
		dispatcher: dispatcher,
		clock:      clock.Real{},
		poll:       defaultPollInterval,
		backoff:    defaultErrorBackoff,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the loop until Stop is called or ctx is done. It returns nil
// immediately if the loop is already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	stopCh, done := s.stopCh, s.done
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(done)
	}()

	s.logger.Info().Dur("poll", s.poll).Msg("scheduler started")

	for {
		select {
		case <-stopCh:
			s.logger.Info().Msg("scheduler stopped")
			return nil
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return ctx.Err()
		default:
		}

		wait := s.poll
		if _, err := s.Tick(ctx); err != nil {
			s.logger.Error().Err(err).Dur("backoff", s.backoff).Msg("scheduler tick failed")
			wait = s.backoff
		}

		timer := time.NewTimer(wait)
		select {
		case <-stopCh:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Stop ends the loop after the current tick and waits for it to exit.
// Backups already dispatched keep running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	done := s.done
	s.mu.Unlock()

	<-done
}

// IsRunning reports whether the loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) skipBusy(task models.Task) bool {
	if !s.dispatcher.Skips(task.ID) {
		return false
	}
	s.logger.Warn().Str("task", task.Name).Msg("previous run still active, skipping this fire")
	return true
}

// Tick claims every due task, dispatches the claimed tasks in registry
// order and persists the new run times. Failures, panics included, come
// back as *models.SchedulerTickError.
func (s *Scheduler) Tick(ctx context.Context) (claimed []models.Task, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &models.SchedulerTickError{Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	now := s.clock.Now()
	claimed = s.tasks.ClaimDue(now, s.skipBusy)
	if len(claimed) == 0 {
		return nil, nil
	}

	for _, task := range claimed {
		s.logger.Info().
			Str("task", task.Name).
			Time("next_run", task.NextRun).
			Msg("task due, starting backup")
		s.dispatcher.Execute(task)
	}

	if err := s.tasks.Persist(ctx); err != nil {
		return claimed, &models.SchedulerTickError{Err: err}
	}
	return claimed, nil
}
