package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fgeck/gobackup-homelab/internal/config"
	"github.com/fgeck/gobackup-homelab/internal/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	verbose    bool
	quiet      bool
	jsonOutput bool

	// Loaded before every subcommand runs.
	cfgParser *config.Parser
	appCfg    *models.AppConfig
	logFile   *os.File
)

var rootCmd = &cobra.Command{
	Use:   "gobackup-homelab",
	Short: "A recurring folder backup scheduler for homelab environments",
	Long: `gobackup-homelab keeps a list of backup tasks and runs each one on its
hourly, daily, weekly or monthly schedule:
  - Zip or mirror a source folder into a timestamped artifact
  - Wake-on-LAN to wake the destination host
  - SSH shutdown of the destination once nothing is running
  - Telegram notifications

Start the scheduler with "run" and manage tasks with "task".`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := setupLogging(models.LogSettings{}); err != nil {
			return err
		}
		return loadConfig()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeLogFile()
	},
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(settingsCmd)
}

func loadConfig() error {
	cfgParser = config.NewParser()
	cfg, err := cfgParser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return err
	}
	appCfg = cfg

	if err := setupLogging(cfg.Log); err != nil {
		log.Error().Err(err).Msg("failed to set up logging")
		return err
	}

	log.Debug().Str("config", cfgParser.Path()).Msg("configuration loaded")
	return nil
}

// setupLogging sends logs to stderr and, when configured, appends them to
// the log file. -q and -v override the configured level.
func setupLogging(settings models.LogSettings) error {
	closeLogFile()

	var console io.Writer = os.Stderr
	if !jsonOutput {
		output := zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
			NoColor:    !term.IsTerminal(int(os.Stderr.Fd())),
		}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		console = output
	}

	writers := []io.Writer{console}
	if settings.File != "" {
		if err := os.MkdirAll(filepath.Dir(settings.File), 0o755); err != nil {
			return fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(settings.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		logFile = f
		writers = append(writers, f)
	}
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()

	level := zerolog.InfoLevel
	if settings.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(settings.Level))
		if err != nil {
			return fmt.Errorf("invalid log.level %q: %w", settings.Level, err)
		}
		level = parsed
	}

	switch {
	case quiet:
		level = zerolog.ErrorLevel
	case verbose:
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	return nil
}

func closeLogFile() {
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
