package models

import "time"

// ArchiveRequest describes one backup artifact to produce.
type ArchiveRequest struct {
	TaskName         string
	Source           string
	Destination      string
	Mode             ArchivalMode
	CompressionLevel int
	Timestamp        time.Time // names the artifact
}

// ArchiveResult holds the outcome of an archive or mirror operation.
type ArchiveResult struct {
	ArtifactPath string
	FilesWritten int
	BytesWritten int64
	ItemErrors   []ItemError
	Duration     time.Duration
}

// RunResult holds the outcome of one scheduled backup run.
type RunResult struct {
	TaskID     string
	TaskName   string
	StartTime  time.Time
	Duration   time.Duration
	Archive    *ArchiveResult // nil if the run failed before archiving
	FailedStep string
	Error      error
}
