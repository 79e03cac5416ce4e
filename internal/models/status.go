package models

import "time"

// Scheduler states reported to the presentation layer.
const (
	StateRunning = "running"
	StateEmpty   = "empty"
	StateIdle    = "idle"
)

// Colour hints for the presentation layer.
const (
	ColorOrange = "orange"
	ColorRed    = "red"
	ColorGreen  = "green"
)

// Status is a point-in-time summary of the scheduler.
type Status struct {
	State     string
	Text      string
	Color     string
	InFlight  int
	Tasks     int
	NextFire  time.Time // zero when there are no tasks
	Countdown string
}
