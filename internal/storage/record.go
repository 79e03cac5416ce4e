package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fgeck/gobackup-homelab/internal/models"
	"github.com/fgeck/gobackup-homelab/internal/recurrence"
	"github.com/google/uuid"
)

// taskRecord is the persisted shape of a task.
//
// Records written by older releases use {compression, frequency,
// time_params} instead of {archival_mode, recurrence_kind,
// recurrence_params}; both are accepted on read.
type taskRecord struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Source           string         `json:"source"`
	Destination      string         `json:"destination"`
	ArchivalMode     string         `json:"archival_mode"`
	RecurrenceKind   string         `json:"recurrence_kind"`
	RecurrenceParams map[string]int `json:"recurrence_params"`
	LastRun          *string        `json:"last_run"`

	Compression *bool           `json:"compression,omitempty"`
	Frequency   string          `json:"frequency,omitempty"`
	TimeParams  json.RawMessage `json:"time_params,omitempty"`
}

// lastRunLayouts are tried in order when parsing last_run.
var lastRunLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func toRecord(t models.Task) taskRecord {
	rec := taskRecord{
		ID:               t.ID,
		Name:             t.Name,
		Source:           t.Source,
		Destination:      t.Destination,
		ArchivalMode:     string(t.Mode),
		RecurrenceKind:   string(t.Recurrence.Kind()),
		RecurrenceParams: t.Recurrence.Params(),
	}
	if !t.LastRun.IsZero() {
		s := t.LastRun.Format(time.RFC3339Nano)
		rec.LastRun = &s
	}
	return rec
}

func (rec taskRecord) toTask() (models.Task, error) {
	task := models.Task{
		ID:          rec.ID,
		Name:        rec.Name,
		Source:      rec.Source,
		Destination: rec.Destination,
	}
	if task.ID == "" {
		task.ID = rec.derivedID()
	}

	var err error
	if rec.RecurrenceKind == "" && rec.Frequency != "" {
		err = rec.decodeLegacy(&task)
	} else {
		err = rec.decode(&task)
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("task %q: %w", rec.Name, err)
	}

	if rec.LastRun != nil && strings.TrimSpace(*rec.LastRun) != "" {
		task.LastRun, err = parseLastRun(*rec.LastRun)
		if err != nil {
			return models.Task{}, fmt.Errorf("task %q: %w", rec.Name, err)
		}
	}
	return task, nil
}

// recordNamespace scopes the IDs derived for records stored without one.
var recordNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/fgeck/gobackup-homelab/task"))

// derivedID names a record that has no id. The same record always yields
// the same ID, so reloading a hand-written file keeps task identity.
func (rec taskRecord) derivedID() string {
	key := strings.Join([]string{rec.Name, rec.Source, rec.Destination}, "\x00")
	return uuid.NewSHA1(recordNamespace, []byte(key)).String()
}

func (rec taskRecord) decode(task *models.Task) error {
	mode, err := models.ParseArchivalMode(rec.ArchivalMode)
	if err != nil {
		return err
	}
	task.Mode = mode

	task.Recurrence, err = recurrence.FromParams(rec.RecurrenceKind, rec.RecurrenceParams)
	return err
}

func (rec taskRecord) decodeLegacy(task *models.Task) error {
	task.Mode = models.ModeMirror
	if rec.Compression != nil && *rec.Compression {
		task.Mode = models.ModeCompressed
	}

	var values []int
	if err := json.Unmarshal(rec.TimeParams, &values); err != nil {
		var single int
		if err := json.Unmarshal(rec.TimeParams, &single); err != nil {
			return fmt.Errorf("unreadable time_params %s", string(rec.TimeParams))
		}
		values = []int{single}
	}

	var keys []string
	switch recurrence.Kind(rec.Frequency) {
	case recurrence.KindHourly:
		keys = []string{recurrence.ParamMinute}
	case recurrence.KindDaily:
		keys = []string{recurrence.ParamHour, recurrence.ParamMinute}
	case recurrence.KindWeekly:
		keys = []string{recurrence.ParamWeekday, recurrence.ParamHour, recurrence.ParamMinute}
	case recurrence.KindMonthly:
		keys = []string{recurrence.ParamDay, recurrence.ParamHour, recurrence.ParamMinute}
	default:
		return fmt.Errorf("unknown frequency %q", rec.Frequency)
	}
	if len(values) != len(keys) {
		return fmt.Errorf("%s needs %d time_params, got %d", rec.Frequency, len(keys), len(values))
	}

	params := make(map[string]int, len(keys))
	for i, k := range keys {
		params[k] = values[i]
	}

	var err error
	task.Recurrence, err = recurrence.FromParams(rec.Frequency, params)
	return err
}

func parseLastRun(s string) (time.Time, error) {
	for _, layout := range lastRunLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unreadable last_run %q", s)
}
