package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/gobackup-homelab/internal/models"
	"github.com/fgeck/gobackup-homelab/internal/registry"
	"github.com/fgeck/gobackup-homelab/internal/services/status"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show scheduler status",
	Long: `Show whether a backup is running, how many tasks are scheduled and when
the next one is due. Running backups are only visible while "run" is active.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(cmd.Context(), func(ctx context.Context, reg *registry.Registry) error {
			now := time.Now()
			maxAge := 3*appCfg.Scheduler.PollInterval + 5*time.Second

			hb, live, err := status.ReadHeartbeat(status.HeartbeatPath(appCfg.Storage.Path), now, maxAge)
			if err != nil {
				log.Warn().Err(err).Msg("ignoring unreadable status file")
			}
			inFlight := 0
			if live {
				inFlight = hb.InFlight
			}

			st := status.Build(now, reg.Len(), inFlight, reg.NextFire)
			fmt.Print(renderStatus(st, hb, live))
			return nil
		})
	},
}

func renderStatus(st models.Status, hb status.Heartbeat, live bool) string {
	var b strings.Builder
	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label))
		b.WriteString(value)
		b.WriteString("\n")
	}

	b.WriteString(titleStyle.Render("gobackup-homelab"))
	b.WriteString("\n\n")
	row("Status", statusStyle(st.Color).Render("● "+st.Text))

	if live {
		row("Daemon", "running (pid "+strconv.Itoa(hb.PID)+")")
	} else {
		row("Daemon", mutedStyle.Render("not running"))
	}
	row("Tasks", strconv.Itoa(st.Tasks))

	next := st.Countdown
	if !st.NextFire.IsZero() {
		next += mutedStyle.Render(" (" + formatTime(st.NextFire) + ")")
	}
	row("Next run", next)

	if live {
		for i, r := range hb.Active {
			label := ""
			if i == 0 {
				label = "Running"
			}
			row(label, fmt.Sprintf("%s %s", r.Task, mutedStyle.Render("started "+humanize.Time(r.Started))))
		}
	}
	return b.String()
}
