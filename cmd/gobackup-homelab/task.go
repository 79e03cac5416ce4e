package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fgeck/gobackup-homelab/internal/models"
	"github.com/fgeck/gobackup-homelab/internal/recurrence"
	"github.com/fgeck/gobackup-homelab/internal/registry"
	"github.com/fgeck/gobackup-homelab/internal/storage"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// taskFlags holds the flags shared by "task add" and "task edit".
type taskFlags struct {
	name        string
	source      string
	destination string
	mode        string
	schedule    string
	minute      int
	hour        int
	weekday     string
	day         int
}

var (
	addFlags  taskFlags
	editFlags taskFlags
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage backup tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a backup task",
	Example: `  gobackup-homelab task add --name photos --source /data/photos --dest /mnt/nas \
    --schedule weekly --weekday sun --hour 3 --minute 30`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		def, err := buildDefinition(models.TaskDefinition{Mode: models.ModeCompressed}, addFlags, cmd.Flags())
		if err != nil {
			return err
		}
		return withRegistry(cmd.Context(), func(ctx context.Context, reg *registry.Registry) error {
			task, err := reg.Add(ctx, def)
			if err != nil {
				return err
			}
			fmt.Printf("Added %s (%s), next run %s\n", task.Name, task.ID, formatTime(task.NextRun))
			return nil
		})
	},
}

var taskEditCmd = &cobra.Command{
	Use:   "edit <id|name>",
	Short: "Change a backup task",
	Long:  `Change a backup task. Only the flags given are changed; the next run is recomputed.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(cmd.Context(), func(ctx context.Context, reg *registry.Registry) error {
			existing, ok := reg.Lookup(args[0])
			if !ok {
				return fmt.Errorf("%w: %s", models.ErrTaskNotFound, args[0])
			}
			def, err := buildDefinition(existing.Definition(), editFlags, cmd.Flags())
			if err != nil {
				return err
			}
			task, err := reg.Update(ctx, existing.ID, def)
			if err != nil {
				return err
			}
			fmt.Printf("Updated %s, next run %s\n", task.Name, formatTime(task.NextRun))
			return nil
		})
	},
}

var taskDeleteCmd = &cobra.Command{
	Use:     "delete <id|name>",
	Aliases: []string{"rm"},
	Short:   "Delete a backup task",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(cmd.Context(), func(ctx context.Context, reg *registry.Registry) error {
			task, ok := reg.Lookup(args[0])
			if !ok {
				return fmt.Errorf("%w: %s", models.ErrTaskNotFound, args[0])
			}
			if err := reg.Delete(ctx, task.ID); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", task.Name)
			return nil
		})
	},
}

var taskListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List backup tasks",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(cmd.Context(), func(ctx context.Context, reg *registry.Registry) error {
			tasks := reg.Snapshot()
			if len(tasks) == 0 {
				fmt.Println(mutedStyle.Render("No tasks. Add one with \"task add\"."))
				return nil
			}
			fmt.Print(renderTable(
				[]string{"NAME", "SCHEDULE", "MODE", "SOURCE", "DESTINATION", "LAST RUN", "NEXT RUN", "ID"},
				taskRows(tasks),
			))
			return nil
		})
	},
}

func init() {
	registerTaskFlags(taskAddCmd.Flags(), &addFlags)
	registerTaskFlags(taskEditCmd.Flags(), &editFlags)
	for _, name := range []string{"name", "source", "dest", "schedule"} {
		_ = taskAddCmd.MarkFlagRequired(name)
	}

	taskCmd.AddCommand(taskAddCmd)
	taskCmd.AddCommand(taskEditCmd)
	taskCmd.AddCommand(taskDeleteCmd)
	taskCmd.AddCommand(taskListCmd)
}

func registerTaskFlags(fs *pflag.FlagSet, f *taskFlags) {
	fs.StringVar(&f.name, "name", "", "task name, used in artifact names")
	fs.StringVar(&f.source, "source", "", "folder to back up")
	fs.StringVar(&f.destination, "dest", "", "folder that receives the artifacts")
	fs.StringVar(&f.mode, "mode", string(models.ModeCompressed), "archival mode: compressed or mirror")
	fs.StringVar(&f.schedule, "schedule", "", "hourly, daily, weekly or monthly")
	fs.IntVar(&f.minute, "minute", 0, "minute of the hour (0-59)")
	fs.IntVar(&f.hour, "hour", 0, "hour of the day (0-23)")
	fs.StringVar(&f.weekday, "weekday", "mon", "day of the week for weekly schedules (mon-sun or 0-6, 0 = Monday)")
	fs.IntVar(&f.day, "day", 1, "day of the month for monthly schedules (1-31)")
}

// buildDefinition applies the flags that were set on top of base. Schedule
// parameters not given keep their previous value, or the flag default when
// the schedule kind has none.
func buildDefinition(base models.TaskDefinition, f taskFlags, fs *pflag.FlagSet) (models.TaskDefinition, error) {
	def := base
	if fs.Changed("name") {
		def.Name = f.name
	}
	if fs.Changed("source") {
		def.Source = f.source
	}
	if fs.Changed("dest") {
		def.Destination = f.destination
	}
	if fs.Changed("mode") || def.Mode == "" {
		mode, err := models.ParseArchivalMode(f.mode)
		if err != nil {
			return models.TaskDefinition{}, &models.ValidationError{Field: "mode", Message: err.Error()}
		}
		def.Mode = mode
	}

	scheduleFlags := []string{"schedule", "minute", "hour", "weekday", "day"}
	touched := false
	for _, name := range scheduleFlags {
		touched = touched || fs.Changed(name)
	}
	if !touched {
		return def, nil
	}

	weekday, err := recurrence.ParseWeekday(f.weekday)
	if err != nil {
		return models.TaskDefinition{}, &models.ValidationError{Field: "weekday", Message: err.Error()}
	}
	params := map[string]int{
		recurrence.ParamMinute:  f.minute,
		recurrence.ParamHour:    f.hour,
		recurrence.ParamWeekday: weekday,
		recurrence.ParamDay:     f.day,
	}

	kind := f.schedule
	if base.Recurrence != nil {
		if !fs.Changed("schedule") {
			kind = string(base.Recurrence.Kind())
		}
		for key, v := range base.Recurrence.Params() {
			if !fs.Changed(flagFor(key)) {
				params[key] = v
			}
		}
	}

	r, err := recurrence.FromParams(kind, params)
	if err != nil {
		return models.TaskDefinition{}, &models.ValidationError{Field: "schedule", Message: err.Error()}
	}
	def.Recurrence = r
	return def, nil
}

func flagFor(param string) string {
	switch param {
	case recurrence.ParamMinute:
		return "minute"
	case recurrence.ParamHour:
		return "hour"
	case recurrence.ParamWeekday:
		return "weekday"
	default:
		return "day"
	}
}

// withRegistry opens the task store for the duration of fn. Changes fn
// makes are saved by the registry itself; a running daemon picks them up
// through its store watch.
func withRegistry(ctx context.Context, fn func(ctx context.Context, reg *registry.Registry) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	reg, store, err := openRegistry(ctx, appCfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to open task store")
		return err
	}
	defer func(s storage.Store) { _ = s.Close() }(store)

	if err := fn(ctx, reg); err != nil {
		var verr *models.ValidationError
		switch {
		case errors.As(err, &verr):
			log.Error().Str("field", verr.Field).Msg(verr.Message)
		case errors.Is(err, models.ErrDuplicateName), errors.Is(err, models.ErrTaskNotFound):
			log.Error().Msg(err.Error())
		default:
			log.Error().Err(err).Msg("task command failed")
		}
		return err
	}
	return nil
}

func taskRows(tasks []models.Task) [][]string {
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, []string{
			t.Name,
			t.Recurrence.String(),
			string(t.Mode),
			t.Source,
			t.Destination,
			formatTime(t.LastRun),
			formatTime(t.NextRun),
			t.ID,
		})
	}
	return rows
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}
