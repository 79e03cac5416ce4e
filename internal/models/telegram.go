package models

import "time"

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken   string
	ChatID     string
	OnlyErrors bool // skip notifications for clean runs
	RatePerMin int  // messages per minute; 0 means 20
}

// TelegramMessage holds the data for a backup run notification.
type TelegramMessage struct {
	Success     bool
	TaskName    string
	Source      string
	Destination string
	Mode        ArchivalMode
	StartTime   time.Time
	Duration    time.Duration

	// Set when the archive step completed.
	Artifact     string
	FilesWritten int
	BytesWritten int64
	SkippedFiles int

	// Set on failure.
	ErrorMessage string
	FailedStep   string
}

// TelegramResult holds the result of a Telegram notification.
type TelegramResult struct {
	MessageSent bool
	Error       error
}
