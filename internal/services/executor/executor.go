// Package executor runs backups in the background and tracks them.
package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fgeck/gobackup-homelab/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Runner performs one backup. runner.Impl satisfies it.
type Runner interface {
	Run(ctx context.Context, task models.Task) (*models.RunResult, error)
}

// Run is the handle of one background backup.
type Run struct {
	ID      string
	Task    models.Task
	Started time.Time

	cancel context.CancelFunc
	done   chan struct{}
	result *models.RunResult
	err    error
}

// Done is closed when the run has finished.
func (r *Run) Done() <-chan struct{} { return r.done }

// Cancel asks the run to stop. It returns immediately.
func (r *Run) Cancel() { r.cancel() }

// Err returns the run's error once Done is closed.
func (r *Run) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Result returns the run's result once Done is closed, nil before.
func (r *Run) Result() *models.RunResult {
	select {
	case <-r.done:
		return r.result
	default:
		return nil
	}
}

// RunInfo describes an active run.
type RunInfo struct {
	ID       string
	TaskID   string
	TaskName string
	Started  time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithOverlapPolicy sets what happens when a task fires while its previous
// run is still active: models.OverlapAllow starts a second run,
// models.OverlapSkip drops the fire. Callers that record fires should ask
// Skips first so a dropped fire is not recorded as a run.
func WithOverlapPolicy(policy string) Option {
	return func(e *Executor) { e.policy = policy }
}

// WithIdleHook registers fn to be called whenever the last active run
// finishes.
func WithIdleHook(fn func()) Option {
	return func(e *Executor) { e.onIdle = fn }
}

// Executor starts backups without blocking the caller.
type Executor struct {
	runner Runner
	logger zerolog.Logger
	policy string
	onIdle func()

	ctx       context.Context
	cancelAll context.CancelFunc

	inFlight atomic.Int64
	mu       sync.Mutex
	runs     map[string]*Run
	// pending counts runs whose goroutine, idle hook included, has not
	// returned yet. drained is closed when it drops to zero.
	pending int
	drained chan struct{}
}

// New creates an executor.
func New(logger zerolog.Logger, runner Runner, opts ...Option) *Executor {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		runner:    runner,
		logger:    logger,
		policy:    models.OverlapAllow,
		ctx:       ctx,
		cancelAll: cancel,
		runs:      make(map[string]*Run),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute starts a backup of task in the background and returns its
// handle. Under the skip policy it returns nil when task already has an
// active run.
func (e *Executor) Execute(task models.Task) *Run {
	e.mu.Lock()
	if r := e.overlappingLocked(task.ID); r != nil {
		e.mu.Unlock()
		e.logger.Warn().
			Str("task", task.Name).
			Str("active_run", r.ID).
			Msg("previous run still active, skipping this fire")
		return nil
	}

	ctx, cancel := context.WithCancel(e.ctx)
	run := &Run{
		ID:      uuid.NewString(),
		Task:    task,
		Started: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	e.runs[run.ID] = run
	e.inFlight.Add(1)
	if e.pending == 0 {
		e.drained = make(chan struct{})
	}
	e.pending++
	e.mu.Unlock()

	go e.execute(ctx, run)
	return run
}

// Skips reports whether Execute would drop a fire of taskID right now.
func (e *Executor) Skips(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.overlappingLocked(taskID) != nil
}

// overlappingLocked returns the active run a new fire of taskID would
// collide with under the skip policy.
func (e *Executor) overlappingLocked(taskID string) *Run {
	if e.policy != models.OverlapSkip {
		return nil
	}
	for _, r := range e.runs {
		if r.Task.ID == taskID {
			return r
		}
	}
	return nil
}

func (e *Executor) finish() {
	e.mu.Lock()
	e.pending--
	if e.pending == 0 {
		close(e.drained)
		e.drained = nil
	}
	e.mu.Unlock()
}

func (e *Executor) execute(ctx context.Context, run *Run) {
	defer e.finish()

	logger := e.logger.With().Str("task", run.Task.Name).Str("run", run.ID).Logger()

	remaining := int64(-1)
	release := sync.OnceFunc(func() {
		run.cancel()
		e.mu.Lock()
		delete(e.runs, run.ID)
		e.mu.Unlock()
		remaining = e.inFlight.Add(-1)
	})

	defer func() {
		if p := recover(); p != nil {
			run.err = fmt.Errorf("backup panicked: %v", p)
			logger.Error().Err(run.err).Str("stack", string(debug.Stack())).Msg("backup run crashed")
		}
		release()
		close(run.done)
		if remaining == 0 {
			e.idle()
		}
	}()

	run.result, run.err = e.runner.Run(ctx, run.Task)
	if run.err != nil {
		logger.Error().Err(run.err).Msg("backup failed, task stays scheduled")
	}
}

func (e *Executor) idle() {
	if e.onIdle == nil || e.InFlight() != 0 {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error().Interface("panic", p).Msg("idle hook crashed")
		}
	}()
	e.onIdle()
}

// InFlight returns the number of active runs.
func (e *Executor) InFlight() int {
	return int(e.inFlight.Load())
}

// Active lists the active runs, oldest first.
func (e *Executor) Active() []RunInfo {
	e.mu.Lock()
	out := make([]RunInfo, 0, len(e.runs))
	for _, r := range e.runs {
		out = append(out, RunInfo{ID: r.ID, TaskID: r.Task.ID, TaskName: r.Task.Name, Started: r.Started})
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

// Wait blocks until every run, idle hook included, has finished or ctx is
// done. It may be called repeatedly; an expired ctx leaves nothing behind.
func (e *Executor) Wait(ctx context.Context) error {
	e.mu.Lock()
	drained := e.drained
	e.mu.Unlock()
	if drained == nil {
		return nil
	}

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelAll cancels every active run.
func (e *Executor) CancelAll() {
	e.cancelAll()
}
