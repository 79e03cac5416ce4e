package runner

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/fgeck/gobackup-homelab/internal/models"
	"github.com/fgeck/gobackup-homelab/internal/recurrence"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockArchiveService struct {
	createFunc func(ctx context.Context, req models.ArchiveRequest) (*models.ArchiveResult, error)
}

func (m *mockArchiveService) Create(ctx context.Context, req models.ArchiveRequest) (*models.ArchiveResult, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, req)
	}
	return &models.ArchiveResult{ArtifactPath: "/dst/backup.zip", FilesWritten: 3, BytesWritten: 42}, nil
}

type mockWOLService struct {
	wakeFunc func(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error)
}

func (m *mockWOLService) Wake(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error) {
	if m.wakeFunc != nil {
		return m.wakeFunc(ctx, cfg)
	}
	return &models.WOLResult{PacketSent: true, TargetReady: true}, nil
}

type mockSSHService struct {
	shutdownFunc func(ctx context.Context, cfg models.SSHShutdownConfig) (*models.SSHResult, error)
}

func (m *mockSSHService) Shutdown(ctx context.Context, cfg models.SSHShutdownConfig) (*models.SSHResult, error) {
	if m.shutdownFunc != nil {
		return m.shutdownFunc(ctx, cfg)
	}
	return &models.SSHResult{CommandRun: true}, nil
}

func (m *mockSSHService) Ping(ctx context.Context, cfg models.SSHShutdownConfig) (*models.SSHResult, error) {
	return &models.SSHResult{CommandRun: true, Output: "OK"}, nil
}

type mockTelegramService struct {
	sendFunc func(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error)
}

func (m *mockTelegramService) SendNotification(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error) {
	if m.sendFunc != nil {
		return m.sendFunc(ctx, cfg, msg)
	}
	return &models.TelegramResult{MessageSent: true}, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testTask() models.Task {
	return models.Task{
		ID:          "t-1",
		Name:        "documents",
		Source:      "/home/me/docs",
		Destination: "/mnt/backup",
		Mode:        models.ModeCompressed,
		Recurrence:  recurrence.Daily{Hour: 2, Minute: 0},
	}
}

func newRunner(cfg models.AppConfig, archiveSvc *mockArchiveService, wolSvc *mockWOLService, sshSvc *mockSSHService, tg *mockTelegramService) *Impl {
	return NewWithServices(testLogger(), cfg, FixedLevel(7), archiveSvc, wolSvc, sshSvc, tg)
}

func TestRun_Success(t *testing.T) {
	var got models.ArchiveRequest
	archiveSvc := &mockArchiveService{createFunc: func(_ context.Context, req models.ArchiveRequest) (*models.ArchiveResult, error) {
		got = req
		return &models.ArchiveResult{ArtifactPath: "/mnt/backup/x.zip", FilesWritten: 2}, nil
	}}

	r := newRunner(models.AppConfig{}, archiveSvc, &mockWOLService{}, &mockSSHService{}, &mockTelegramService{})
	result, err := r.Run(context.Background(), testTask())

	require.NoError(t, err)
	require.NotNil(t, result.Archive)
	assert.Equal(t, "t-1", result.TaskID)
	assert.Equal(t, "documents", result.TaskName)
	assert.Equal(t, "/mnt/backup/x.zip", result.Archive.ArtifactPath)
	assert.Empty(t, result.FailedStep)

	assert.Equal(t, "documents", got.TaskName)
	assert.Equal(t, "/home/me/docs", got.Source)
	assert.Equal(t, "/mnt/backup", got.Destination)
	assert.Equal(t, models.ModeCompressed, got.Mode)
	assert.Equal(t, 7, got.CompressionLevel)
	assert.Equal(t, result.StartTime, got.Timestamp)
}

func TestRun_ArchiveFailure(t *testing.T) {
	archiveSvc := &mockArchiveService{createFunc: func(context.Context, models.ArchiveRequest) (*models.ArchiveResult, error) {
		return nil, errors.New("source missing")
	}}

	r := newRunner(models.AppConfig{}, archiveSvc, &mockWOLService{}, &mockSSHService{}, &mockTelegramService{})
	result, err := r.Run(context.Background(), testTask())

	var taskErr *models.BackupTaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, "documents", taskErr.TaskName)
	assert.Equal(t, StepArchive, taskErr.Step)
	assert.Equal(t, StepArchive, result.FailedStep)
	assert.Nil(t, result.Archive)
}

func TestRun_WithWOL(t *testing.T) {
	var order []string
	wolSvc := &mockWOLService{wakeFunc: func(_ context.Context, cfg models.WOLConfig) (*models.WOLResult, error) {
		order = append(order, "wol:"+cfg.MACAddress)
		return &models.WOLResult{PacketSent: true, TargetReady: true}, nil
	}}
	archiveSvc := &mockArchiveService{createFunc: func(context.Context, models.ArchiveRequest) (*models.ArchiveResult, error) {
		order = append(order, "archive")
		return &models.ArchiveResult{}, nil
	}}

	cfg := models.AppConfig{WOL: &models.WOLConfig{MACAddress: "AA:BB:CC:DD:EE:FF"}}
	r := newRunner(cfg, archiveSvc, wolSvc, &mockSSHService{}, &mockTelegramService{})
	_, err := r.Run(context.Background(), testTask())

	require.NoError(t, err)
	assert.Equal(t, []string{"wol:AA:BB:CC:DD:EE:FF", "archive"}, order)
}

func TestRun_WOLFailureSkipsArchive(t *testing.T) {
	archived := false
	wolSvc := &mockWOLService{wakeFunc: func(context.Context, models.WOLConfig) (*models.WOLResult, error) {
		return &models.WOLResult{PacketSent: true, Error: errors.New("timeout")}, nil
	}}
	archiveSvc := &mockArchiveService{createFunc: func(context.Context, models.ArchiveRequest) (*models.ArchiveResult, error) {
		archived = true
		return &models.ArchiveResult{}, nil
	}}

	cfg := models.AppConfig{WOL: &models.WOLConfig{MACAddress: "AA:BB:CC:DD:EE:FF"}}
	r := newRunner(cfg, archiveSvc, wolSvc, &mockSSHService{}, &mockTelegramService{})
	result, err := r.Run(context.Background(), testTask())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "WOL failed")
	assert.Equal(t, StepWOL, result.FailedStep)
	assert.False(t, archived)
}

func TestRun_WOLTargetNotReady(t *testing.T) {
	wolSvc := &mockWOLService{wakeFunc: func(context.Context, models.WOLConfig) (*models.WOLResult, error) {
		return &models.WOLResult{PacketSent: true}, nil
	}}

	cfg := models.AppConfig{WOL: &models.WOLConfig{MACAddress: "AA:BB:CC:DD:EE:FF", PollURL: "http://nas"}}
	r := newRunner(cfg, &mockArchiveService{}, wolSvc, &mockSSHService{}, &mockTelegramService{})
	_, err := r.Run(context.Background(), testTask())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not become ready")
}

func TestRun_TelegramSuccessMessage(t *testing.T) {
	var sent models.TelegramMessage
	tg := &mockTelegramService{sendFunc: func(_ context.Context, _ models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error) {
		sent = msg
		return &models.TelegramResult{MessageSent: true}, nil
	}}
	archiveSvc := &mockArchiveService{createFunc: func(context.Context, models.ArchiveRequest) (*models.ArchiveResult, error) {
		return &models.ArchiveResult{
			ArtifactPath: "/mnt/backup/a.zip",
			FilesWritten: 2,
			BytesWritten: 2048,
			ItemErrors:   []models.ItemError{{Path: "/home/me/docs/locked", Err: errors.New("denied")}},
		}, nil
	}}

	cfg := models.AppConfig{Telegram: &models.TelegramConfig{BotToken: "t", ChatID: "c"}}
	r := newRunner(cfg, archiveSvc, &mockWOLService{}, &mockSSHService{}, tg)
	_, err := r.Run(context.Background(), testTask())

	require.NoError(t, err)
	assert.True(t, sent.Success)
	assert.Equal(t, "documents", sent.TaskName)
	assert.Equal(t, "/mnt/backup/a.zip", sent.Artifact)
	assert.Equal(t, 2, sent.FilesWritten)
	assert.Equal(t, int64(2048), sent.BytesWritten)
	assert.Equal(t, 1, sent.SkippedFiles)
	assert.Empty(t, sent.FailedStep)
}

func TestRun_TelegramFailureMessage(t *testing.T) {
	var sent models.TelegramMessage
	tg := &mockTelegramService{sendFunc: func(_ context.Context, _ models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error) {
		sent = msg
		return &models.TelegramResult{MessageSent: true}, nil
	}}
	archiveSvc := &mockArchiveService{createFunc: func(context.Context, models.ArchiveRequest) (*models.ArchiveResult, error) {
		return nil, errors.New("disk full")
	}}

	cfg := models.AppConfig{Telegram: &models.TelegramConfig{BotToken: "t", ChatID: "c"}}
	r := newRunner(cfg, archiveSvc, &mockWOLService{}, &mockSSHService{}, tg)
	_, err := r.Run(context.Background(), testTask())

	require.Error(t, err)
	assert.False(t, sent.Success)
	assert.Equal(t, StepArchive, sent.FailedStep)
	assert.Contains(t, sent.ErrorMessage, "disk full")
	assert.Empty(t, sent.Artifact)
}

func TestRun_TelegramErrorDoesNotFailRun(t *testing.T) {
	tg := &mockTelegramService{sendFunc: func(context.Context, models.TelegramConfig, models.TelegramMessage) (*models.TelegramResult, error) {
		return &models.TelegramResult{Error: errors.New("chat not found")}, nil
	}}

	cfg := models.AppConfig{Telegram: &models.TelegramConfig{BotToken: "t", ChatID: "c"}}
	r := newRunner(cfg, &mockArchiveService{}, &mockWOLService{}, &mockSSHService{}, tg)
	_, err := r.Run(context.Background(), testTask())

	assert.NoError(t, err)
}

func TestRun_NotifiesAfterCancellation(t *testing.T) {
	notified := false
	tg := &mockTelegramService{sendFunc: func(ctx context.Context, _ models.TelegramConfig, _ models.TelegramMessage) (*models.TelegramResult, error) {
		notified = ctx.Err() == nil
		return &models.TelegramResult{MessageSent: true}, nil
	}}
	archiveSvc := &mockArchiveService{createFunc: func(ctx context.Context, _ models.ArchiveRequest) (*models.ArchiveResult, error) {
		return nil, ctx.Err()
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := models.AppConfig{Telegram: &models.TelegramConfig{BotToken: "t", ChatID: "c"}}
	r := newRunner(cfg, archiveSvc, &mockWOLService{}, &mockSSHService{}, tg)
	_, err := r.Run(ctx, testTask())

	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, notified)
}

func TestShutdownIdle_NotConfigured(t *testing.T) {
	called := false
	sshSvc := &mockSSHService{shutdownFunc: func(context.Context, models.SSHShutdownConfig) (*models.SSHResult, error) {
		called = true
		return &models.SSHResult{}, nil
	}}

	r := newRunner(models.AppConfig{}, &mockArchiveService{}, &mockWOLService{}, sshSvc, &mockTelegramService{})

	assert.NoError(t, r.ShutdownIdle(context.Background()))
	assert.False(t, called)
}

func TestShutdownIdle(t *testing.T) {
	var got models.SSHShutdownConfig
	sshSvc := &mockSSHService{shutdownFunc: func(_ context.Context, cfg models.SSHShutdownConfig) (*models.SSHResult, error) {
		got = cfg
		return &models.SSHResult{CommandRun: true}, nil
	}}

	cfg := models.AppConfig{SSHShutdown: &models.SSHShutdownConfig{Host: "nas", Port: 22}}
	r := newRunner(cfg, &mockArchiveService{}, &mockWOLService{}, sshSvc, &mockTelegramService{})

	require.NoError(t, r.ShutdownIdle(context.Background()))
	assert.Equal(t, "nas", got.Host)
}

func TestShutdownIdle_Failure(t *testing.T) {
	sshSvc := &mockSSHService{shutdownFunc: func(context.Context, models.SSHShutdownConfig) (*models.SSHResult, error) {
		return &models.SSHResult{Error: errors.New("connection refused")}, nil
	}}

	cfg := models.AppConfig{SSHShutdown: &models.SSHShutdownConfig{Host: "nas"}}
	r := newRunner(cfg, &mockArchiveService{}, &mockWOLService{}, sshSvc, &mockTelegramService{})

	err := r.ShutdownIdle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SSH shutdown failed")
}
