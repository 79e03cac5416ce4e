package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fgeck/gobackup-homelab/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_LoadReader_MinimalConfig(t *testing.T) {
	yaml := `
archive:
  compression_level: 6
`
	parser := NewParser()
	cfg, err := parser.LoadReader(yaml)

	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Archive.CompressionLevel)
	// Check defaults
	assert.Equal(t, 5*time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.ErrorBackoff)
	assert.Equal(t, models.OverlapAllow, cfg.Scheduler.OverlapPolicy)
	assert.Equal(t, time.Duration(0), cfg.Scheduler.ShutdownTimeout)
	assert.Equal(t, models.StorageFile, cfg.Storage.Driver)
	assert.Equal(t, "tasks.json", cfg.Storage.Path)
	assert.Equal(t, "backup.log", cfg.Log.File)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Nil(t, cfg.WOL)
	assert.Nil(t, cfg.SSHShutdown)
	assert.Nil(t, cfg.Telegram)
}

func TestParser_LoadReader_FullConfig(t *testing.T) {
	yaml := `
archive:
  compression_level: 3

scheduler:
  poll_interval: 2s
  error_backoff: 30s
  overlap_policy: skip
  shutdown_timeout: 1m

storage:
  driver: sqlite
  path: /var/lib/gobackup/tasks.db
  busy_timeout: 3s

log:
  file: /var/log/gobackup.log
  level: debug

wol:
  mac_address: "AA:BB:CC:DD:EE:FF"
  broadcast_ip: "192.168.1.255"
  poll_url: "http://192.168.1.100:8000"
  timeout: 10m
  poll_interval: 5s
  stabilize_wait: 15s

ssh_shutdown:
  host: "192.168.1.100"
  port: 2222
  username: "admin"
  key_path: "/home/user/.ssh/id_rsa"
  shutdown_delay: 5
  os: windows

telegram:
  bot_token: "123456:ABC"
  chat_id: "-100123456789"
  only_errors: true
  rate_per_minute: 5
`
	parser := NewParser()
	cfg, err := parser.LoadReader(yaml)

	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Archive.CompressionLevel)

	assert.Equal(t, 2*time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.ErrorBackoff)
	assert.Equal(t, models.OverlapSkip, cfg.Scheduler.OverlapPolicy)
	assert.Equal(t, time.Minute, cfg.Scheduler.ShutdownTimeout)

	assert.Equal(t, models.StorageSQLite, cfg.Storage.Driver)
	assert.Equal(t, "/var/lib/gobackup/tasks.db", cfg.Storage.Path)
	assert.Equal(t, 3*time.Second, cfg.Storage.BusyTimeout)

	assert.Equal(t, "/var/log/gobackup.log", cfg.Log.File)
	assert.Equal(t, "debug", cfg.Log.Level)

	// WOL
	require.NotNil(t, cfg.WOL)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", cfg.WOL.MACAddress)
	assert.Equal(t, "192.168.1.255", cfg.WOL.BroadcastIP)
	assert.Equal(t, "http://192.168.1.100:8000", cfg.WOL.PollURL)
	assert.Equal(t, 10*time.Minute, cfg.WOL.Timeout)
	assert.Equal(t, 5*time.Second, cfg.WOL.PollInterval)
	assert.Equal(t, 15*time.Second, cfg.WOL.StabilizeWait)

	// SSH Shutdown
	require.NotNil(t, cfg.SSHShutdown)
	assert.Equal(t, "192.168.1.100", cfg.SSHShutdown.Host)
	assert.Equal(t, 2222, cfg.SSHShutdown.Port)
	assert.Equal(t, "admin", cfg.SSHShutdown.Username)
	assert.Equal(t, "/home/user/.ssh/id_rsa", cfg.SSHShutdown.KeyPath)
	assert.Equal(t, 5, cfg.SSHShutdown.ShutdownDelay)
	assert.Equal(t, "windows", cfg.SSHShutdown.OS)

	// Telegram
	require.NotNil(t, cfg.Telegram)
	assert.Equal(t, "123456:ABC", cfg.Telegram.BotToken)
	assert.Equal(t, "-100123456789", cfg.Telegram.ChatID)
	assert.True(t, cfg.Telegram.OnlyErrors)
	assert.Equal(t, 5, cfg.Telegram.RatePerMin)
}

func TestParser_LoadReader_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_BOT_TOKEN", "env_token")
	t.Setenv("TEST_CHAT_ID", "env_chat")

	yaml := `
telegram:
  bot_token: "${TEST_BOT_TOKEN}"
  chat_id: "$TEST_CHAT_ID"
`
	parser := NewParser()
	cfg, err := parser.LoadReader(yaml)

	require.NoError(t, err)
	require.NotNil(t, cfg.Telegram)
	assert.Equal(t, "env_token", cfg.Telegram.BotToken)
	assert.Equal(t, "env_chat", cfg.Telegram.ChatID)
}

func TestParser_LoadReader_Errors(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		errMsg string
	}{
		{
			name:   "compression level too high",
			yaml:   "archive:\n  compression_level: 12\n",
			errMsg: "archive.compression_level",
		},
		{
			name:   "negative compression level",
			yaml:   "archive:\n  compression_level: -1\n",
			errMsg: "archive.compression_level",
		},
		{
			name:   "unknown overlap policy",
			yaml:   "scheduler:\n  overlap_policy: queue\n",
			errMsg: "scheduler.overlap_policy must be one of",
		},
		{
			name:   "zero poll interval",
			yaml:   "scheduler:\n  poll_interval: 0s\n",
			errMsg: "scheduler.poll_interval must be positive",
		},
		{
			name:   "unknown storage driver",
			yaml:   "storage:\n  driver: postgres\n",
			errMsg: "storage.driver must be one of",
		},
		{
			name:   "wol without mac",
			yaml:   "wol:\n  broadcast_ip: \"192.168.1.255\"\n",
			errMsg: "wol.mac_address is required",
		},
		{
			name:   "ssh without host",
			yaml:   "ssh_shutdown:\n  key_path: /k\n",
			errMsg: "ssh_shutdown.host is required",
		},
		{
			name:   "ssh without key",
			yaml:   "ssh_shutdown:\n  host: nas\n",
			errMsg: "ssh_shutdown.key_path is required",
		},
		{
			name:   "ssh unknown os",
			yaml:   "ssh_shutdown:\n  host: nas\n  key_path: /k\n  os: plan9\n",
			errMsg: "ssh_shutdown.os must be one of",
		},
		{
			name:   "telegram without token",
			yaml:   "telegram:\n  chat_id: \"1\"\n",
			errMsg: "telegram.bot_token is required",
		},
		{
			name:   "telegram without chat",
			yaml:   "telegram:\n  bot_token: \"t\"\n",
			errMsg: "telegram.chat_id is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewParser().LoadReader(tt.yaml)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestParser_LoadReader_CompressionLevelIsValidationError(t *testing.T) {
	_, err := NewParser().LoadReader("archive:\n  compression_level: 10\n")

	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "archive.compression_level", verr.Field)
}

func TestParser_LoadReader_WOL_Defaults(t *testing.T) {
	yaml := `
wol:
  mac_address: "AA:BB:CC:DD:EE:FF"
`
	cfg, err := NewParser().LoadReader(yaml)

	require.NoError(t, err)
	require.NotNil(t, cfg.WOL)
	assert.Equal(t, "255.255.255.255", cfg.WOL.BroadcastIP)
	assert.Empty(t, cfg.WOL.PollURL)
	assert.Equal(t, 5*time.Minute, cfg.WOL.Timeout)
	assert.Equal(t, 10*time.Second, cfg.WOL.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.WOL.StabilizeWait)
}

func TestParser_LoadReader_SSHShutdown_Defaults(t *testing.T) {
	yaml := `
ssh_shutdown:
  host: "nas.local"
  key_path: "/root/.ssh/id_ed25519"
`
	cfg, err := NewParser().LoadReader(yaml)

	require.NoError(t, err)
	require.NotNil(t, cfg.SSHShutdown)
	assert.Equal(t, 22, cfg.SSHShutdown.Port)
	assert.Equal(t, "root", cfg.SSHShutdown.Username)
	assert.Equal(t, 1, cfg.SSHShutdown.ShutdownDelay)
	assert.Equal(t, "linux", cfg.SSHShutdown.OS)
}

func TestParser_LoadFile_MissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	parser := NewParser()

	cfg, err := parser.LoadFile(filepath.Join(dir, "config.yaml"))

	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Archive.CompressionLevel)
	assert.Equal(t, filepath.Join(dir, "tasks.json"), cfg.Storage.Path)
	assert.Equal(t, filepath.Join(dir, "backup.log"), cfg.Log.File)
	assert.Equal(t, filepath.Join(dir, "config.yaml"), parser.Path())
}

func TestParser_LoadFile_RelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
storage:
  path: data/tasks.json
log:
  file: ""
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := NewParser().LoadFile(path)

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "data", "tasks.json"), cfg.Storage.Path)
	assert.Empty(t, cfg.Log.File)
}

func TestParser_LoadFile_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("archive: [unclosed"), 0o600))

	_, err := NewParser().LoadFile(path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestValidate(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(keyPath, []byte("key"), 0o600))

	valid := func() *models.AppConfig {
		return &models.AppConfig{
			Scheduler: models.SchedulerSettings{PollInterval: time.Second},
			Archive:   models.ArchiveSettings{CompressionLevel: 9},
			Storage:   models.StorageSettings{Driver: models.StorageFile, Path: "tasks.json"},
		}
	}

	tests := []struct {
		name    string
		cfg     func() *models.AppConfig
		wantErr bool
		errMsg  string
	}{
		{
			name:    "nil config",
			cfg:     func() *models.AppConfig { return nil },
			wantErr: true,
			errMsg:  "configuration is nil",
		},
		{
			name: "bad compression level",
			cfg: func() *models.AppConfig {
				c := valid()
				c.Archive.CompressionLevel = 11
				return c
			},
			wantErr: true,
			errMsg:  "archive.compression_level",
		},
		{
			name: "missing storage path",
			cfg: func() *models.AppConfig {
				c := valid()
				c.Storage.Path = ""
				return c
			},
			wantErr: true,
			errMsg:  "storage.path is required",
		},
		{
			name: "missing ssh key file",
			cfg: func() *models.AppConfig {
				c := valid()
				c.SSHShutdown = &models.SSHShutdownConfig{Host: "nas", KeyPath: "/does/not/exist"}
				return c
			},
			wantErr: true,
			errMsg:  "ssh_shutdown.key_path",
		},
		{
			name: "valid with ssh key",
			cfg: func() *models.AppConfig {
				c := valid()
				c.SSHShutdown = &models.SSHShutdownConfig{Host: "nas", KeyPath: keyPath}
				return c
			},
			wantErr: false,
		},
		{
			name:    "valid config",
			cfg:     valid,
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.cfg())
			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
