package main

import (
	"strings"
	"testing"

	"github.com/fgeck/gobackup-homelab/internal/models"
	"github.com/fgeck/gobackup-homelab/internal/recurrence"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseTaskFlags(t *testing.T, args ...string) (taskFlags, *pflag.FlagSet) {
	t.Helper()
	var f taskFlags
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	registerTaskFlags(fs, &f)
	require.NoError(t, fs.Parse(args))
	return f, fs
}

func TestBuildDefinition_Add(t *testing.T) {
	f, fs := parseTaskFlags(t,
		"--name", "photos", "--source", "/data/photos", "--dest", "/mnt/nas",
		"--schedule", "weekly", "--weekday", "sun", "--hour", "3", "--minute", "30")

	def, err := buildDefinition(models.TaskDefinition{Mode: models.ModeCompressed}, f, fs)
	require.NoError(t, err)

	assert.Equal(t, "photos", def.Name)
	assert.Equal(t, "/data/photos", def.Source)
	assert.Equal(t, "/mnt/nas", def.Destination)
	assert.Equal(t, models.ModeCompressed, def.Mode)
	assert.Equal(t, recurrence.Weekly{Weekday: 6, Hour: 3, Minute: 30}, def.Recurrence)
}

func TestBuildDefinition_DefaultsMissingScheduleParams(t *testing.T) {
	f, fs := parseTaskFlags(t, "--name", "docs", "--source", "/a", "--dest", "/b", "--schedule", "monthly")

	def, err := buildDefinition(models.TaskDefinition{Mode: models.ModeCompressed}, f, fs)
	require.NoError(t, err)
	assert.Equal(t, recurrence.Monthly{Day: 1, Hour: 0, Minute: 0}, def.Recurrence)
}

func TestBuildDefinition_EditKeepsUnsetFields(t *testing.T) {
	base := models.TaskDefinition{
		Name:        "docs",
		Source:      "/a",
		Destination: "/b",
		Mode:        models.ModeMirror,
		Recurrence:  recurrence.Daily{Hour: 2, Minute: 15},
	}

	f, fs := parseTaskFlags(t, "--hour", "4")
	def, err := buildDefinition(base, f, fs)
	require.NoError(t, err)

	assert.Equal(t, "docs", def.Name)
	assert.Equal(t, models.ModeMirror, def.Mode)
	assert.Equal(t, recurrence.Daily{Hour: 4, Minute: 15}, def.Recurrence)
}

func TestBuildDefinition_EditChangesKind(t *testing.T) {
	base := models.TaskDefinition{
		Name:        "docs",
		Source:      "/a",
		Destination: "/b",
		Mode:        models.ModeCompressed,
		Recurrence:  recurrence.Hourly{Minute: 45},
	}

	f, fs := parseTaskFlags(t, "--schedule", "daily", "--hour", "23")
	def, err := buildDefinition(base, f, fs)
	require.NoError(t, err)
	assert.Equal(t, recurrence.Daily{Hour: 23, Minute: 45}, def.Recurrence)
}

func TestBuildDefinition_NoScheduleFlagsKeepsRecurrence(t *testing.T) {
	base := models.TaskDefinition{
		Name:        "docs",
		Source:      "/a",
		Destination: "/b",
		Mode:        models.ModeCompressed,
		Recurrence:  recurrence.Hourly{Minute: 45},
	}

	f, fs := parseTaskFlags(t, "--mode", "copy")
	def, err := buildDefinition(base, f, fs)
	require.NoError(t, err)
	assert.Equal(t, models.ModeMirror, def.Mode)
	assert.Equal(t, recurrence.Hourly{Minute: 45}, def.Recurrence)
}

func TestBuildDefinition_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		field string
	}{
		{"unknown mode", []string{"--mode", "tar"}, "mode"},
		{"unknown weekday", []string{"--schedule", "weekly", "--weekday", "someday"}, "weekday"},
		{"unknown schedule", []string{"--schedule", "yearly"}, "schedule"},
		{"minute out of range", []string{"--schedule", "hourly", "--minute", "60"}, "schedule"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, fs := parseTaskFlags(t, tt.args...)
			_, err := buildDefinition(models.TaskDefinition{Mode: models.ModeCompressed}, f, fs)

			var verr *models.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"NAME", "SCHEDULE"}, [][]string{
		{"photos", "hourly at :05"},
		{"a", "b"},
	})

	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "photos")
	assert.Contains(t, out, "hourly at :05")
	assert.Len(t, strings.Split(strings.TrimRight(out, "\n"), "\n"), 3)
}
