package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fgeck/gobackup-homelab/internal/config"
	"github.com/fgeck/gobackup-homelab/internal/services/ssh"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var pingSSH bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file without starting the scheduler.`,
	RunE:  validateConfig,
}

func init() {
	validateCmd.Flags().BoolVar(&pingSSH, "ping", false, "also check that the SSH shutdown host accepts the credentials")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	// Check if file exists
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		log.Error().Str("file", configFile).Msg("config file not found")
		return fmt.Errorf("config file not found: %s", configFile)
	}

	cfg := appCfg
	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("configuration validation failed")
		return err
	}

	// Print configuration summary
	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  Task store: %s (%s)\n", cfg.Storage.Path, cfg.Storage.Driver)
	fmt.Printf("  Compression level: %d\n", cfg.Archive.CompressionLevel)
	fmt.Printf("  Log file: %s (%s)\n", cfg.Log.File, cfg.Log.Level)
	fmt.Println()
	fmt.Println("Scheduler:")
	fmt.Printf("  Poll interval: %s\n", cfg.Scheduler.PollInterval)
	fmt.Printf("  Error backoff: %s\n", cfg.Scheduler.ErrorBackoff)
	fmt.Printf("  Overlap policy: %s\n", cfg.Scheduler.OverlapPolicy)
	fmt.Printf("  Shutdown timeout: %s\n", cfg.Scheduler.ShutdownTimeout)
	fmt.Println()
	fmt.Println("Optional Features:")
	fmt.Printf("  Wake-on-LAN: %v\n", cfg.WOL != nil)
	fmt.Printf("  SSH Shutdown: %v\n", cfg.SSHShutdown != nil)
	fmt.Printf("  Telegram: %v\n", cfg.Telegram != nil)

	if cfg.WOL != nil {
		fmt.Println()
		fmt.Println("WOL Configuration:")
		fmt.Printf("  MAC Address: %s\n", cfg.WOL.MACAddress)
		fmt.Printf("  Broadcast IP: %s\n", cfg.WOL.BroadcastIP)
		if cfg.WOL.PollURL != "" {
			fmt.Printf("  Poll URL: %s\n", cfg.WOL.PollURL)
			fmt.Printf("  Timeout: %s\n", cfg.WOL.Timeout)
		}
	}

	if cfg.SSHShutdown != nil {
		fmt.Println()
		fmt.Println("SSH Shutdown Configuration:")
		fmt.Printf("  Host: %s\n", cfg.SSHShutdown.Host)
		fmt.Printf("  Port: %d\n", cfg.SSHShutdown.Port)
		fmt.Printf("  Username: %s\n", cfg.SSHShutdown.Username)
		fmt.Printf("  OS: %s\n", cfg.SSHShutdown.OS)
		fmt.Printf("  Shutdown Delay: %d minute(s)\n", cfg.SSHShutdown.ShutdownDelay)
		if cfg.SSHShutdown.KnownHosts == "" {
			fmt.Printf("  Host key: not verified\n")
		}
	}

	if cfg.Telegram != nil {
		fmt.Println()
		fmt.Println("Telegram Configuration:")
		fmt.Printf("  Chat ID: %s\n", cfg.Telegram.ChatID)
		fmt.Printf("  Bot Token: (configured)\n")
		fmt.Printf("  Only errors: %v\n", cfg.Telegram.OnlyErrors)
	}

	if pingSSH && cfg.SSHShutdown != nil {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		result, err := ssh.New(log.Logger).Ping(ctx, *cfg.SSHShutdown)
		if err == nil && result.Error != nil {
			err = result.Error
		}
		if err != nil {
			log.Error().Err(err).Str("host", cfg.SSHShutdown.Host).Msg("SSH ping failed")
			return err
		}
		fmt.Println()
		fmt.Println("SSH ping: OK")
	}

	return nil
}
