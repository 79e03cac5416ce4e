// Package runner orchestrates one backup run for one task.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/fgeck/gobackup-homelab/internal/models"
	"github.com/fgeck/gobackup-homelab/internal/services/archive"
	"github.com/fgeck/gobackup-homelab/internal/services/ssh"
	"github.com/fgeck/gobackup-homelab/internal/services/telegram"
	"github.com/fgeck/gobackup-homelab/internal/services/wol"
	"github.com/rs/zerolog"
)

// Step names reported in BackupTaskError and notifications.
const (
	StepWOL     = "wol"
	StepArchive = "archive"
)

// Service defines the interface for the backup runner.
type Service interface {
	Run(ctx context.Context, task models.Task) (*models.RunResult, error)
	ShutdownIdle(ctx context.Context) error
}

// LevelSource supplies the current compression level. Runs read it at
// start so settings changes apply to the next run.
type LevelSource interface {
	CompressionLevel() int
}

// FixedLevel is a LevelSource that never changes.
type FixedLevel int

// CompressionLevel implements LevelSource.
func (l FixedLevel) CompressionLevel() int { return int(l) }

// Impl implements the runner Service interface.
type Impl struct {
	archiveSvc  archive.Service
	wolSvc      wol.Service
	sshSvc      ssh.Service
	telegramSvc telegram.Service
	cfg         models.AppConfig
	levels      LevelSource
	logger      zerolog.Logger
}

// New creates a new runner service.
func New(logger zerolog.Logger, cfg models.AppConfig, levels LevelSource) *Impl {
	return &Impl{
		archiveSvc:  archive.New(logger),
		wolSvc:      wol.New(logger),
		sshSvc:      ssh.New(logger),
		telegramSvc: telegram.New(logger),
		cfg:         cfg,
		levels:      levels,
		logger:      logger,
	}
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	cfg models.AppConfig,
	levels LevelSource,
	archiveSvc archive.Service,
	wolSvc wol.Service,
	sshSvc ssh.Service,
	telegramSvc telegram.Service,
) *Impl {
	return &Impl{
		archiveSvc:  archiveSvc,
		wolSvc:      wolSvc,
		sshSvc:      sshSvc,
		telegramSvc: telegramSvc,
		cfg:         cfg,
		levels:      levels,
		logger:      logger,
	}
}

// Run backs up one task. The result is always returned; on failure the
// error is a *models.BackupTaskError naming the failed step.
func (s *Impl) Run(ctx context.Context, task models.Task) (*models.RunResult, error) {
	result := &models.RunResult{
		TaskID:    task.ID,
		TaskName:  task.Name,
		StartTime: time.Now(),
	}
	logger := s.logger.With().Str("task", task.Name).Logger()
	logger.Info().
		Str("source", task.Source).
		Str("destination", task.Destination).
		Str("mode", string(task.Mode)).
		Msg("starting backup run")

	defer func() {
		result.Duration = time.Since(result.StartTime)
		if s.cfg.Telegram != nil {
			s.notify(ctx, task, result)
		}
	}()

	fail := func(step string, err error) (*models.RunResult, error) {
		result.FailedStep = step
		result.Error = &models.BackupTaskError{TaskName: task.Name, Step: step, Err: err}
		return result, result.Error
	}

	if s.cfg.WOL != nil {
		if err := s.wake(ctx); err != nil {
			return fail(StepWOL, err)
		}
	}

	archiveResult, err := s.archiveSvc.Create(ctx, models.ArchiveRequest{
		TaskName:         task.Name,
		Source:           task.Source,
		Destination:      task.Destination,
		Mode:             task.Mode,
		CompressionLevel: s.levels.CompressionLevel(),
		Timestamp:        result.StartTime,
	})
	if err != nil {
		return fail(StepArchive, err)
	}
	result.Archive = archiveResult

	logger.Info().
		Str("artifact", archiveResult.ArtifactPath).
		Int("files", archiveResult.FilesWritten).
		Int("skipped", len(archiveResult.ItemErrors)).
		Dur("duration", time.Since(result.StartTime)).
		Msg("backup run completed")

	return result, nil
}

func (s *Impl) wake(ctx context.Context) error {
	result, err := s.wolSvc.Wake(ctx, *s.cfg.WOL)
	if err != nil {
		return fmt.Errorf("WOL failed: %w", err)
	}
	if result.Error != nil {
		return fmt.Errorf("WOL failed: %w", result.Error)
	}
	if !result.TargetReady {
		return fmt.Errorf("destination did not become ready after WOL")
	}

	s.logger.Debug().
		Bool("packet_sent", result.PacketSent).
		Dur("wait", result.WaitDuration).
		Msg("destination awake")
	return nil
}

// ShutdownIdle powers the destination off. It is a no-op when SSH shutdown
// is not configured.
func (s *Impl) ShutdownIdle(ctx context.Context) error {
	if s.cfg.SSHShutdown == nil {
		return nil
	}

	result, err := s.sshSvc.Shutdown(ctx, *s.cfg.SSHShutdown)
	if err != nil {
		return fmt.Errorf("SSH shutdown failed: %w", err)
	}
	if result.Error != nil && !result.CommandRun {
		return fmt.Errorf("SSH shutdown failed: %w", result.Error)
	}
	return nil
}

func (s *Impl) notify(ctx context.Context, task models.Task, run *models.RunResult) {
	msg := models.TelegramMessage{
		Success:     run.Error == nil,
		TaskName:    task.Name,
		Source:      task.Source,
		Destination: task.Destination,
		Mode:        task.Mode,
		StartTime:   run.StartTime,
		Duration:    run.Duration,
	}
	if a := run.Archive; a != nil {
		msg.Artifact = a.ArtifactPath
		msg.FilesWritten = a.FilesWritten
		msg.BytesWritten = a.BytesWritten
		msg.SkippedFiles = len(a.ItemErrors)
	}
	if run.Error != nil {
		msg.FailedStep = run.FailedStep
		msg.ErrorMessage = run.Error.Error()
	}

	// A cancelled run still deserves a notification.
	ctx = context.WithoutCancel(ctx)
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	result, err := s.telegramSvc.SendNotification(ctx, *s.cfg.Telegram, msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to send Telegram notification")
		return
	}
	if result.Error != nil {
		s.logger.Error().Err(result.Error).Msg("failed to send Telegram notification")
	}
}
