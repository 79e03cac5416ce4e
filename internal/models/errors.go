package models

import (
	"errors"
	"fmt"
)

var (
	// ErrTaskNotFound is returned when no task matches an ID or name.
	ErrTaskNotFound = errors.New("task not found")

	// ErrDuplicateName is returned when a task name is already taken.
	ErrDuplicateName = errors.New("task name already in use")
)

// ValidationError reports invalid user input. Nothing is committed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// SchedulerTickError wraps a failure of one scheduler poll cycle.
type SchedulerTickError struct {
	Err error
}

func (e *SchedulerTickError) Error() string {
	return fmt.Sprintf("scheduler tick: %v", e.Err)
}

func (e *SchedulerTickError) Unwrap() error { return e.Err }

// BackupTaskError reports that a whole backup run failed. The task stays
// scheduled for its next regular fire.
type BackupTaskError struct {
	TaskName string
	Step     string
	Err      error
}

func (e *BackupTaskError) Error() string {
	return fmt.Sprintf("backup %q failed at %s: %v", e.TaskName, e.Step, e.Err)
}

func (e *BackupTaskError) Unwrap() error { return e.Err }

// ItemError is a per-file failure inside an archive or copy. The file is
// skipped and the run continues.
type ItemError struct {
	Path string
	Err  error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e ItemError) Unwrap() error { return e.Err }
