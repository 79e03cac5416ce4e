package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// FallbackDelay is how far ahead ComputeNext schedules a task whose
// recurrence cannot be evaluated.
const FallbackDelay = 5 * time.Minute

// ComputationError reports a recurrence that could not be evaluated.
type ComputationError struct {
	Recurrence Recurrence
	Err        error
}

func (e *ComputationError) Error() string {
	if e.Recurrence == nil {
		return fmt.Sprintf("computing next run: %v", e.Err)
	}
	return fmt.Sprintf("computing next run for %s: %v", e.Recurrence.Kind(), e.Err)
}

func (e *ComputationError) Unwrap() error { return e.Err }

// Next returns the first fire time strictly after ref. All wall-clock
// arithmetic happens in ref's location.
func Next(r Recurrence, ref time.Time) (time.Time, error) {
	if r == nil {
		return time.Time{}, &ComputationError{Err: errors.New("no recurrence")}
	}
	if err := r.Validate(); err != nil {
		return time.Time{}, &ComputationError{Recurrence: r, Err: err}
	}
	return r.next(ref), nil
}

func (h Hourly) next(ref time.Time) time.Time {
	t := time.Date(ref.Year(), ref.Month(), ref.Day(), ref.Hour(), h.Minute, 0, 0, ref.Location())
	if !t.After(ref) {
		t = t.Add(time.Hour)
	}
	return t
}

func (d Daily) next(ref time.Time) time.Time {
	t := time.Date(ref.Year(), ref.Month(), ref.Day(), d.Hour, d.Minute, 0, 0, ref.Location())
	if !t.After(ref) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

func (w Weekly) next(ref time.Time) time.Time {
	offset := (w.Weekday - mondayIndex(ref.Weekday()) + 7) % 7
	t := time.Date(ref.Year(), ref.Month(), ref.Day()+offset, w.Hour, w.Minute, 0, 0, ref.Location())
	if !t.After(ref) {
		t = t.AddDate(0, 0, 7)
	}
	return t
}

// next always targets the calendar month after ref's month. The loop only
// repeats if the clamped date does not land after ref.
func (m Monthly) next(ref time.Time) time.Time {
	for {
		year, month := ref.Year(), ref.Month()+1
		if month > time.December {
			month = time.January
			year++
		}
		day := min(m.Day, daysIn(year, month))
		t := time.Date(year, month, day, m.Hour, m.Minute, 0, 0, ref.Location())
		if t.After(ref) {
			return t
		}
		ref = ref.AddDate(0, 0, 1)
	}
}

func mondayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Calculator wraps Next for the scheduler's critical path: it never fails.
type Calculator struct {
	logger zerolog.Logger
}

// NewCalculator creates a Calculator that logs evaluation failures.
func NewCalculator(logger zerolog.Logger) *Calculator {
	return &Calculator{logger: logger}
}

// ComputeNext returns Next(r, ref), or ref+FallbackDelay if r is malformed.
func (c *Calculator) ComputeNext(r Recurrence, ref time.Time) (next time.Time) {
	defer func() {
		if p := recover(); p != nil {
			err := &ComputationError{Recurrence: r, Err: fmt.Errorf("panic: %v", p)}
			c.logger.Error().Err(err).Msg("recurrence evaluation panicked, retrying later")
			next = ref.Add(FallbackDelay)
		}
	}()

	t, err := Next(r, ref)
	if err != nil {
		c.logger.Error().
			Err(err).
			Dur("retry_in", FallbackDelay).
			Msg("invalid recurrence, retrying later")
		return ref.Add(FallbackDelay)
	}
	return t
}
