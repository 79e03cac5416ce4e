package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/fgeck/gobackup-homelab/internal/config"
	"github.com/fgeck/gobackup-homelab/internal/registry"
	"github.com/fgeck/gobackup-homelab/internal/services/executor"
	"github.com/fgeck/gobackup-homelab/internal/services/runner"
	"github.com/fgeck/gobackup-homelab/internal/services/scheduler"
	"github.com/fgeck/gobackup-homelab/internal/services/status"
	"github.com/fgeck/gobackup-homelab/internal/storage"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	statusLogInterval = time.Minute
	idleHookTimeout   = 2 * time.Minute
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the backup scheduler",
	Long: `Run the scheduler in the foreground until SIGINT or SIGTERM:
1. Load tasks from the task store
2. Every poll interval, start a backup for each task that is due
3. Pick up task edits made with "task" while running
4. Reload the compression level when the config file changes
5. Power the destination off over SSH when no backup is running (if configured)

On shutdown, running backups get scheduler.shutdown_timeout to finish.`,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if err := config.Validate(appCfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return err
	}
	cfg := *appCfg
	logger := log.Logger

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	reg, store, err := openRegistry(ctx, &cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to open task store")
		return err
	}
	defer func() { _ = store.Close() }()

	if err := reg.Persist(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to save loaded tasks")
	}

	settings := config.NewSettings(cfgParser, logger)
	settings.Watch(nil)

	runnerSvc := runner.New(logger, cfg, settings)
	exec := executor.New(logger, runnerSvc,
		executor.WithOverlapPolicy(cfg.Scheduler.OverlapPolicy),
		executor.WithIdleHook(func() { shutdownIdle(runnerSvc) }),
	)
	sched := scheduler.New(logger, reg, exec,
		scheduler.WithPollInterval(cfg.Scheduler.PollInterval),
		scheduler.WithErrorBackoff(cfg.Scheduler.ErrorBackoff),
	)

	go watchStore(ctx, store, reg)

	heartbeat := status.HeartbeatPath(cfg.Storage.Path)
	statusCtx, stopStatus := context.WithCancel(ctx)
	statusDone := make(chan struct{})
	go func() {
		defer close(statusDone)
		publishStatus(statusCtx, status.New(reg, exec), exec, heartbeat, cfg.Scheduler.PollInterval)
	}()
	defer func() {
		stopStatus()
		<-statusDone
		if err := status.RemoveHeartbeat(heartbeat); err != nil {
			log.Warn().Err(err).Msg("failed to remove status file")
		}
	}()

	log.Info().
		Str("config", cfgParser.Path()).
		Str("store", cfg.Storage.Path).
		Str("driver", cfg.Storage.Driver).
		Int("tasks", reg.Len()).
		Int("compression_level", settings.CompressionLevel()).
		Msg("scheduler starting")

	go runWatchdog(ctx)
	notifySystemd(daemon.SdNotifyReady)

	if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("scheduler exited")
	}

	notifySystemd(daemon.SdNotifyStopping)
	drain(exec, cfg.Scheduler.ShutdownTimeout)

	// Persist whatever the last tick claimed.
	saveCtx, saveCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer saveCancel()
	if err := reg.Persist(saveCtx); err != nil {
		log.Error().Err(err).Msg("failed to save tasks on shutdown")
		return err
	}

	log.Info().Msg("scheduler stopped")
	return nil
}

// drain waits up to timeout for running backups, then cancels the rest.
func drain(exec *executor.Executor, timeout time.Duration) {
	n := exec.InFlight()
	if n == 0 {
		return
	}

	if timeout > 0 {
		log.Info().Int("running", n).Dur("timeout", timeout).Msg("waiting for running backups")
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := exec.Wait(ctx)
		cancel()
		if err == nil {
			return
		}
	}

	log.Warn().Int("running", exec.InFlight()).Msg("cancelling running backups")
	exec.CancelAll()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := exec.Wait(ctx); err != nil {
		log.Error().Int("running", exec.InFlight()).Msg("backups did not stop in time")
	}
}

func shutdownIdle(svc runner.Service) {
	ctx, cancel := context.WithTimeout(context.Background(), idleHookTimeout)
	defer cancel()

	if err := svc.ShutdownIdle(ctx); err != nil {
		log.Error().Err(err).Msg("idle shutdown failed")
	}
}

// watchStore reconciles the registry with task edits made by other
// processes.
func watchStore(ctx context.Context, store storage.Store, reg *registry.Registry) {
	err := store.Watch(ctx, func() {
		tasks, err := store.LoadTasks(ctx)
		if err != nil {
			log.Error().Err(err).Msg("failed to reload tasks")
			return
		}
		if reg.Reconcile(tasks) {
			log.Info().Int("tasks", reg.Len()).Msg("tasks reloaded from store")
		}
	})
	if err != nil {
		log.Error().Err(err).Msg("task store watch stopped")
	}
}

// publishStatus keeps the heartbeat file fresh for "status" and logs the
// scheduler status once a minute.
func publishStatus(ctx context.Context, reporter *status.Reporter, exec *executor.Executor, path string, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	lastLog := time.Time{}
	for {
		now := time.Now()
		if err := status.WriteHeartbeat(path, status.NewHeartbeat(now, exec.Active())); err != nil {
			log.Warn().Err(err).Msg("failed to write status file")
		}

		if now.Sub(lastLog) >= statusLogInterval {
			st := reporter.Report()
			log.Info().
				Str("state", st.State).
				Int("running", st.InFlight).
				Int("tasks", st.Tasks).
				Str("next", st.Countdown).
				Msg(st.Text)
			lastLog = now
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
