// Package status summarises the scheduler for display.
package status

import (
	"fmt"
	"time"

	"github.com/fgeck/gobackup-homelab/internal/clock"
	"github.com/fgeck/gobackup-homelab/internal/models"
)

// Display texts.
const (
	TextRunning = "Backup in progress"
	TextEmpty   = "No active tasks"
	TextIdle    = "Running in background"

	CountdownDue   = "due now"
	CountdownEmpty = "no active tasks"
)

// TaskSource is the part of the registry the reporter reads.
type TaskSource interface {
	Len() int
	NextFire() (time.Time, bool)
}

// RunCounter reports how many backups are running.
type RunCounter interface {
	InFlight() int
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithClock sets the time source used for the countdown.
func WithClock(c clock.Clock) Option {
	return func(r *Reporter) { r.clock = c }
}

// Reporter derives a Status from the registry and the executor.
type Reporter struct {
	tasks TaskSource
	runs  RunCounter
	clock clock.Clock
}

// New creates a reporter. runs may be nil when no executor is attached.
func New(tasks TaskSource, runs RunCounter, opts ...Option) *Reporter {
	r := &Reporter{tasks: tasks, runs: runs, clock: clock.Real{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report returns the current status.
func (r *Reporter) Report() models.Status {
	inFlight := 0
	if r.runs != nil {
		inFlight = r.runs.InFlight()
	}
	return Build(r.clock.Now(), r.tasks.Len(), inFlight, r.tasks.NextFire)
}

// Build derives a Status from raw counts. nextFire is only consulted when
// there are tasks.
func Build(now time.Time, tasks, inFlight int, nextFire func() (time.Time, bool)) models.Status {
	st := models.Status{InFlight: inFlight, Tasks: tasks}

	switch {
	case inFlight > 0:
		st.State, st.Text, st.Color = models.StateRunning, TextRunning, models.ColorOrange
	case tasks == 0:
		st.State, st.Text, st.Color = models.StateEmpty, TextEmpty, models.ColorRed
	default:
		st.State, st.Text, st.Color = models.StateIdle, TextIdle, models.ColorGreen
	}

	st.Countdown = CountdownEmpty
	if tasks > 0 {
		if next, ok := nextFire(); ok {
			st.NextFire = next
			st.Countdown = Countdown(now, next)
		}
	}
	return st
}

// Countdown renders the time until next as "Xh Ym", days folded into
// hours, or "due now" once next has passed.
func Countdown(now, next time.Time) string {
	d := next.Sub(now)
	if d <= 0 {
		return CountdownDue
	}
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	return fmt.Sprintf("%dh %dm", h, m)
}
