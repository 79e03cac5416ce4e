package models

import "time"

// WOLConfig wakes the backup destination host before a run.
type WOLConfig struct {
	MACAddress    string
	BroadcastIP   string
	PollURL       string        // polled until the destination answers; empty skips the wait
	Timeout       time.Duration // max time to wait for the destination
	PollInterval  time.Duration
	StabilizeWait time.Duration // extra wait after the destination answers
}

// WOLResult holds the result of a wake attempt.
type WOLResult struct {
	PacketSent   bool
	TargetReady  bool
	WaitDuration time.Duration
	Error        error
}
