// Package models contains the data structures used throughout gobackup-homelab.
package models

import "time"

// Overlap policies for a task whose previous run is still in flight.
const (
	OverlapAllow = "allow"
	OverlapSkip  = "skip"
)

// Storage drivers.
const (
	StorageFile   = "file"
	StorageSQLite = "sqlite"
)

// AppConfig holds the complete daemon configuration.
type AppConfig struct {
	Scheduler   SchedulerSettings
	Archive     ArchiveSettings
	Storage     StorageSettings
	Log         LogSettings
	WOL         *WOLConfig         // nil if not configured
	SSHShutdown *SSHShutdownConfig // nil if not configured
	Telegram    *TelegramConfig    // nil if not configured
}

// SchedulerSettings controls the dispatch loop.
type SchedulerSettings struct {
	PollInterval    time.Duration
	ErrorBackoff    time.Duration
	OverlapPolicy   string        // "allow" (default) or "skip"
	ShutdownTimeout time.Duration // how long stop waits for in-flight runs; 0 = don't wait
}

// ArchiveSettings holds archive creation settings.
type ArchiveSettings struct {
	CompressionLevel int // 0-9
}

// StorageSettings selects the task store.
type StorageSettings struct {
	Driver      string // "file" (default) or "sqlite"
	Path        string
	BusyTimeout time.Duration // sqlite only
}

// LogSettings configures the log file.
type LogSettings struct {
	File  string // empty disables file logging
	Level string
}
