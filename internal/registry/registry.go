// Package registry holds the ordered set of backup tasks shared between the
// scheduler and the presentation layer.
//
// Every read and write goes through the registry's mutex. Callers only ever
// receive copies of tasks, never pointers into the registry.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fgeck/gobackup-homelab/internal/clock"
	"github.com/fgeck/gobackup-homelab/internal/models"
	"github.com/fgeck/gobackup-homelab/internal/recurrence"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Persister saves the full task list.
type Persister interface {
	SaveTasks(ctx context.Context, tasks []models.Task) error
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the time source used to compute next runs.
func WithClock(c clock.Clock) Option {
	return func(r *Registry) {
		r.clock = c
	}
}

// WithPersister sets where the registry saves itself after every mutation.
func WithPersister(p Persister) Option {
	return func(r *Registry) {
		r.persister = p
	}
}

// Registry is the ordered, mutex-guarded task list.
type Registry struct {
	mu    sync.Mutex
	tasks []*models.Task

	// saveMu serialises persistence so the newest snapshot is always written last.
	saveMu    sync.Mutex
	persister Persister

	calc   *recurrence.Calculator
	clock  clock.Clock
	logger zerolog.Logger
}

// New creates an empty registry.
func New(logger zerolog.Logger, opts ...Option) *Registry {
	r := &Registry{
		calc:   recurrence.NewCalculator(logger),
		clock:  clock.Real{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load replaces the registry contents with tasks read from storage.
// NextRun is recomputed from the current time. Invalid definitions are
// dropped; duplicate names are kept but logged.
func (r *Registry) Load(tasks []models.Task) {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.tasks = r.tasks[:0]
	seen := make(map[string]bool, len(tasks))
	for i := range tasks {
		t := tasks[i]
		if err := t.Definition().Validate(); err != nil {
			r.logger.Warn().Err(err).Str("task", t.Name).Msg("dropping invalid stored task")
			continue
		}
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if seen[t.Name] {
			r.logger.Warn().Str("task", t.Name).Msg("duplicate task name in storage")
		}
		seen[t.Name] = true
		t.NextRun = r.calc.ComputeNext(t.Recurrence, now)
		r.tasks = append(r.tasks, &t)
	}

	r.logger.Debug().Int("tasks", len(r.tasks)).Msg("registry loaded")
}

// Add validates def, appends a new task and persists the registry.
func (r *Registry) Add(ctx context.Context, def models.TaskDefinition) (models.Task, error) {
	if err := def.Validate(); err != nil {
		return models.Task{}, err
	}

	r.mu.Lock()
	if r.nameTakenLocked(def.Name, "") {
		r.mu.Unlock()
		return models.Task{}, fmt.Errorf("%w: %s", models.ErrDuplicateName, def.Name)
	}
	t := &models.Task{ID: uuid.NewString()}
	t.Apply(def)
	t.NextRun = r.calc.ComputeNext(t.Recurrence, r.clock.Now())
	r.tasks = append(r.tasks, t)
	added := *t
	r.mu.Unlock()

	r.logger.Info().
		Str("task", added.Name).
		Str("schedule", added.Recurrence.String()).
		Time("next_run", added.NextRun).
		Msg("task added")

	return added, r.Persist(ctx)
}

// Update replaces the definition of task id and recomputes its next run.
func (r *Registry) Update(ctx context.Context, id string, def models.TaskDefinition) (models.Task, error) {
	if err := def.Validate(); err != nil {
		return models.Task{}, err
	}

	r.mu.Lock()
	t := r.findLocked(id)
	if t == nil {
		r.mu.Unlock()
		return models.Task{}, fmt.Errorf("%w: %s", models.ErrTaskNotFound, id)
	}
	if r.nameTakenLocked(def.Name, id) {
		r.mu.Unlock()
		return models.Task{}, fmt.Errorf("%w: %s", models.ErrDuplicateName, def.Name)
	}
	t.Apply(def)
	t.NextRun = r.calc.ComputeNext(t.Recurrence, r.clock.Now())
	updated := *t
	r.mu.Unlock()

	r.logger.Info().
		Str("task", updated.Name).
		Str("schedule", updated.Recurrence.String()).
		Time("next_run", updated.NextRun).
		Msg("task updated")

	return updated, r.Persist(ctx)
}

// Delete removes task id and persists the registry.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	idx := -1
	for i, t := range r.tasks {
		if t.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", models.ErrTaskNotFound, id)
	}
	name := r.tasks[idx].Name
	r.tasks = append(r.tasks[:idx], r.tasks[idx+1:]...)
	r.mu.Unlock()

	r.logger.Info().Str("task", name).Msg("task deleted")
	return r.Persist(ctx)
}

// Get returns a copy of task id.
func (r *Registry) Get(id string) (models.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t := r.findLocked(id); t != nil {
		return *t, true
	}
	return models.Task{}, false
}

// Lookup finds a task by ID, falling back to an exact name match.
func (r *Registry) Lookup(ref string) (models.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t := r.findLocked(ref); t != nil {
		return *t, true
	}
	for _, t := range r.tasks {
		if t.Name == ref {
			return *t, true
		}
	}
	return models.Task{}, false
}

// Snapshot returns copies of all tasks in registry order.
func (r *Registry) Snapshot() []models.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Len returns the number of tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// NextFire returns the earliest NextRun across all tasks.
func (r *Registry) NextFire() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var nearest time.Time
	for _, t := range r.tasks {
		if nearest.IsZero() || t.NextRun.Before(nearest) {
			nearest = t.NextRun
		}
	}
	return nearest, !nearest.IsZero()
}

// ClaimDue marks every task with NextRun <= now as fired: LastRun becomes
// now and NextRun is recomputed from now, all under one lock acquisition.
// The returned copies are in registry order. A second call with the same
// now claims nothing.
//
// A due task for which skip returns true is not claimed: its NextRun
// advances but LastRun keeps the last fire that actually ran. skip may be
// nil and is called with the registry lock held.
func (r *Registry) ClaimDue(now time.Time, skip func(models.Task) bool) []models.Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []models.Task
	for _, t := range r.tasks {
		if t.NextRun.After(now) {
			continue
		}
		t.NextRun = r.calc.ComputeNext(t.Recurrence, now)
		if skip != nil && skip(*t) {
			continue
		}
		t.LastRun = now
		due = append(due, *t)
	}
	return due
}

// Reconcile applies a task list that changed in storage underneath the
// registry. Unchanged tasks keep their runtime state, edited tasks get a new
// NextRun, unknown IDs are added and missing IDs removed. It reports whether
// anything changed and does not persist.
func (r *Registry) Reconcile(stored []models.Task) bool {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	current := make(map[string]*models.Task, len(r.tasks))
	for _, t := range r.tasks {
		current[t.ID] = t
	}

	changed := false
	next := make([]*models.Task, 0, len(stored))
	for i := range stored {
		s := stored[i]
		if s.ID == "" {
			continue
		}
		if err := s.Definition().Validate(); err != nil {
			r.logger.Warn().Err(err).Str("task", s.Name).Msg("ignoring invalid stored task")
			continue
		}

		existing, ok := current[s.ID]
		switch {
		case !ok:
			s.NextRun = r.calc.ComputeNext(s.Recurrence, now)
			next = append(next, &s)
			changed = true
			r.logger.Info().Str("task", s.Name).Msg("task added from storage")
		case !existing.Definition().Equal(s.Definition()):
			existing.Apply(s.Definition())
			existing.NextRun = r.calc.ComputeNext(existing.Recurrence, now)
			next = append(next, existing)
			changed = true
			r.logger.Info().Str("task", existing.Name).Msg("task updated from storage")
		default:
			next = append(next, existing)
		}
	}

	if !changed {
		changed = !sameOrder(next, r.tasks)
	}
	if changed {
		r.tasks = next
	}
	return changed
}

// Persist saves the current task list. It never holds the registry lock
// while writing.
func (r *Registry) Persist(ctx context.Context) error {
	if r.persister == nil {
		return nil
	}

	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	if err := r.persister.SaveTasks(ctx, r.Snapshot()); err != nil {
		return fmt.Errorf("persisting tasks: %w", err)
	}
	return nil
}

func sameOrder(a, b []*models.Task) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}

func (r *Registry) snapshotLocked() []models.Task {
	out := make([]models.Task, len(r.tasks))
	for i, t := range r.tasks {
		out[i] = *t
	}
	return out
}

func (r *Registry) findLocked(id string) *models.Task {
	for _, t := range r.tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (r *Registry) nameTakenLocked(name, exceptID string) bool {
	for _, t := range r.tasks {
		if t.Name == name && t.ID != exceptID {
			return true
		}
	}
	return false
}
