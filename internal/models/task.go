package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/fgeck/gobackup-homelab/internal/recurrence"
)

// ArchivalMode selects what a backup produces.
type ArchivalMode string

// Archival modes.
const (
	ModeCompressed ArchivalMode = "compressed" // single timestamped zip file
	ModeMirror     ArchivalMode = "mirror"     // timestamped copy of the tree
)

// ParseArchivalMode accepts "compressed"/"zip" and "mirror"/"copy".
func ParseArchivalMode(s string) (ArchivalMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "compressed", "zip":
		return ModeCompressed, nil
	case "mirror", "copy":
		return ModeMirror, nil
	default:
		return "", fmt.Errorf("unknown archival mode %q", s)
	}
}

// TaskDefinition is the user-editable part of a task.
type TaskDefinition struct {
	Name        string
	Source      string
	Destination string
	Mode        ArchivalMode
	Recurrence  recurrence.Recurrence
}

// Task is a schedulable backup.
type Task struct {
	ID          string
	Name        string
	Source      string
	Destination string
	Mode        ArchivalMode
	Recurrence  recurrence.Recurrence
	LastRun     time.Time // zero until the first fire
	NextRun     time.Time
}

// Definition returns the task's editable fields.
func (t Task) Definition() TaskDefinition {
	return TaskDefinition{
		Name:        t.Name,
		Source:      t.Source,
		Destination: t.Destination,
		Mode:        t.Mode,
		Recurrence:  t.Recurrence,
	}
}

// Apply overwrites the task's editable fields with d.
func (t *Task) Apply(d TaskDefinition) {
	t.Name = d.Name
	t.Source = d.Source
	t.Destination = d.Destination
	t.Mode = d.Mode
	t.Recurrence = d.Recurrence
}

// Equal reports whether two definitions describe the same backup.
func (d TaskDefinition) Equal(o TaskDefinition) bool {
	return d.Name == o.Name &&
		d.Source == o.Source &&
		d.Destination == o.Destination &&
		d.Mode == o.Mode &&
		recurrence.Equal(d.Recurrence, o.Recurrence)
}

// Validate checks a definition before it is committed.
func (d TaskDefinition) Validate() error {
	name := strings.TrimSpace(d.Name)
	switch {
	case name == "":
		return &ValidationError{Field: "name", Message: "is required"}
	case name != d.Name:
		return &ValidationError{Field: "name", Message: "must not start or end with whitespace"}
	case strings.ContainsAny(name, `/\:*?"<>|`):
		return &ValidationError{Field: "name", Message: "must not contain path separators or reserved characters"}
	}
	if strings.TrimSpace(d.Source) == "" {
		return &ValidationError{Field: "source", Message: "is required"}
	}
	if strings.TrimSpace(d.Destination) == "" {
		return &ValidationError{Field: "destination", Message: "is required"}
	}
	if d.Mode != ModeCompressed && d.Mode != ModeMirror {
		return &ValidationError{Field: "mode", Message: fmt.Sprintf("must be %q or %q", ModeCompressed, ModeMirror)}
	}
	if d.Recurrence == nil {
		return &ValidationError{Field: "schedule", Message: "is required"}
	}
	if err := d.Recurrence.Validate(); err != nil {
		return &ValidationError{Field: "schedule", Message: err.Error()}
	}
	return nil
}
