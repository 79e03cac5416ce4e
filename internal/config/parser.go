// Package config provides configuration file parsing.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/gobackup-homelab/internal/models"
	"github.com/spf13/viper"
)

// Defaults applied when a key is absent.
const (
	DefaultCompressionLevel = 9
	DefaultPollInterval     = 5 * time.Second
	DefaultErrorBackoff     = 10 * time.Second
	DefaultStoragePath      = "tasks.json"
	DefaultLogFile          = "backup.log"
	DefaultLogLevel         = "info"
)

// Parser handles configuration file parsing.
type Parser struct {
	v    *viper.Viper
	path string
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("archive.compression_level", DefaultCompressionLevel)
	v.SetDefault("scheduler.poll_interval", DefaultPollInterval)
	v.SetDefault("scheduler.error_backoff", DefaultErrorBackoff)
	v.SetDefault("scheduler.overlap_policy", models.OverlapAllow)
	v.SetDefault("scheduler.shutdown_timeout", time.Duration(0))
	v.SetDefault("storage.driver", models.StorageFile)
	v.SetDefault("storage.path", DefaultStoragePath)
	v.SetDefault("log.file", DefaultLogFile)
	v.SetDefault("log.level", DefaultLogLevel)

	return &Parser{v: v}
}

// LoadFile loads configuration from a file path. A missing file yields the
// defaults; relative storage and log paths resolve against the file's
// directory.
func (p *Parser) LoadFile(path string) (*models.AppConfig, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}
	p.path = abs
	p.v.SetConfigFile(abs)

	if err := p.v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg, err := p.parse()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(abs)
	cfg.Storage.Path = resolve(dir, cfg.Storage.Path)
	cfg.Log.File = resolve(dir, cfg.Log.File)
	return cfg, nil
}

// LoadReader loads configuration from a reader (useful for testing).
func (p *Parser) LoadReader(content string) (*models.AppConfig, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

// Path returns the absolute config file path, empty when loaded from a reader.
func (p *Parser) Path() string {
	return p.path
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.AppConfig, error) {
	cfg := &models.AppConfig{}

	cfg.Archive = models.ArchiveSettings{
		CompressionLevel: p.v.GetInt("archive.compression_level"),
	}
	if err := ValidateCompressionLevel(cfg.Archive.CompressionLevel); err != nil {
		return nil, err
	}

	cfg.Scheduler = models.SchedulerSettings{
		PollInterval:    p.v.GetDuration("scheduler.poll_interval"),
		ErrorBackoff:    p.v.GetDuration("scheduler.error_backoff"),
		OverlapPolicy:   strings.ToLower(p.v.GetString("scheduler.overlap_policy")),
		ShutdownTimeout: p.v.GetDuration("scheduler.shutdown_timeout"),
	}
	if cfg.Scheduler.PollInterval <= 0 {
		return nil, fmt.Errorf("scheduler.poll_interval must be positive")
	}
	if cfg.Scheduler.ErrorBackoff <= 0 {
		return nil, fmt.Errorf("scheduler.error_backoff must be positive")
	}
	if cfg.Scheduler.OverlapPolicy != models.OverlapAllow && cfg.Scheduler.OverlapPolicy != models.OverlapSkip {
		return nil, fmt.Errorf("scheduler.overlap_policy must be one of: allow, skip")
	}
	if cfg.Scheduler.ShutdownTimeout < 0 {
		return nil, fmt.Errorf("scheduler.shutdown_timeout must not be negative")
	}

	cfg.Storage = models.StorageSettings{
		Driver:      strings.ToLower(p.v.GetString("storage.driver")),
		Path:        p.expandEnv(p.v.GetString("storage.path")),
		BusyTimeout: p.v.GetDuration("storage.busy_timeout"),
	}
	if cfg.Storage.Driver != models.StorageFile && cfg.Storage.Driver != models.StorageSQLite {
		return nil, fmt.Errorf("storage.driver must be one of: file, sqlite")
	}
	if cfg.Storage.Path == "" {
		return nil, fmt.Errorf("storage.path is required")
	}

	cfg.Log = models.LogSettings{
		File:  p.expandEnv(p.v.GetString("log.file")),
		Level: strings.ToLower(p.v.GetString("log.level")),
	}

	// Parse optional WOL config.
	if p.v.IsSet("wol") { //nolint:nestif // config parsing with defaults
		cfg.WOL = &models.WOLConfig{
			MACAddress:    p.v.GetString("wol.mac_address"),
			BroadcastIP:   p.v.GetString("wol.broadcast_ip"),
			PollURL:       p.v.GetString("wol.poll_url"),
			Timeout:       p.v.GetDuration("wol.timeout"),
			PollInterval:  p.v.GetDuration("wol.poll_interval"),
			StabilizeWait: p.v.GetDuration("wol.stabilize_wait"),
		}

		if cfg.WOL.MACAddress == "" {
			return nil, fmt.Errorf("wol.mac_address is required when wol is configured")
		}

		if cfg.WOL.BroadcastIP == "" {
			cfg.WOL.BroadcastIP = "255.255.255.255"
		}
		if cfg.WOL.Timeout == 0 {
			cfg.WOL.Timeout = 5 * time.Minute
		}
		if cfg.WOL.PollInterval == 0 {
			cfg.WOL.PollInterval = 10 * time.Second
		}
		if cfg.WOL.StabilizeWait == 0 {
			cfg.WOL.StabilizeWait = 10 * time.Second
		}
	}

	// Parse optional SSH shutdown config.
	if p.v.IsSet("ssh_shutdown") { //nolint:nestif // config parsing with defaults
		cfg.SSHShutdown = &models.SSHShutdownConfig{
			Host:          p.v.GetString("ssh_shutdown.host"),
			Port:          p.v.GetInt("ssh_shutdown.port"),
			Username:      p.v.GetString("ssh_shutdown.username"),
			KeyPath:       p.expandEnv(p.v.GetString("ssh_shutdown.key_path")),
			KnownHosts:    p.expandEnv(p.v.GetString("ssh_shutdown.known_hosts")),
			ShutdownDelay: p.v.GetInt("ssh_shutdown.shutdown_delay"),
			OS:            strings.ToLower(p.v.GetString("ssh_shutdown.os")),
		}

		if cfg.SSHShutdown.Host == "" {
			return nil, fmt.Errorf("ssh_shutdown.host is required when ssh_shutdown is configured")
		}
		if cfg.SSHShutdown.Port == 0 {
			cfg.SSHShutdown.Port = 22
		}
		if cfg.SSHShutdown.Username == "" {
			cfg.SSHShutdown.Username = "root"
		}
		if cfg.SSHShutdown.KeyPath == "" {
			return nil, fmt.Errorf("ssh_shutdown.key_path is required when ssh_shutdown is configured")
		}
		if cfg.SSHShutdown.ShutdownDelay == 0 {
			cfg.SSHShutdown.ShutdownDelay = 1
		}
		if cfg.SSHShutdown.OS == "" {
			cfg.SSHShutdown.OS = "linux"
		}
		validOS := map[string]bool{"linux": true, "windows": true}
		if !validOS[cfg.SSHShutdown.OS] {
			return nil, fmt.Errorf("ssh_shutdown.os must be one of: linux, windows")
		}
	}

	// Parse optional Telegram config.
	if p.v.IsSet("telegram") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken:   p.expandEnv(p.v.GetString("telegram.bot_token")),
			ChatID:     p.expandEnv(p.v.GetString("telegram.chat_id")),
			OnlyErrors: p.v.GetBool("telegram.only_errors"),
			RatePerMin: p.v.GetInt("telegram.rate_per_minute"),
		}

		if cfg.Telegram.BotToken == "" {
			return nil, fmt.Errorf("telegram.bot_token is required when telegram is configured")
		}
		if cfg.Telegram.ChatID == "" {
			return nil, fmt.Errorf("telegram.chat_id is required when telegram is configured")
		}
		if cfg.Telegram.RatePerMin < 0 {
			return nil, fmt.Errorf("telegram.rate_per_minute must not be negative")
		}
	}

	return cfg, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

func resolve(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// ValidateCompressionLevel checks that n is a deflate level between 0 and 9.
func ValidateCompressionLevel(n int) error {
	if n < 0 || n > 9 {
		return &models.ValidationError{
			Field:   "archive.compression_level",
			Message: fmt.Sprintf("%d is outside 0-9", n),
		}
	}
	return nil
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.AppConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if err := ValidateCompressionLevel(cfg.Archive.CompressionLevel); err != nil {
		return err
	}

	if cfg.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	if cfg.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be positive")
	}

	if cfg.SSHShutdown != nil {
		if _, err := os.Stat(cfg.SSHShutdown.KeyPath); err != nil {
			return fmt.Errorf("ssh_shutdown.key_path: %w", err)
		}
	}

	return nil
}
