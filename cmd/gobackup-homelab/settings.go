package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/fgeck/gobackup-homelab/internal/config"
	"github.com/fgeck/gobackup-homelab/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := config.NewSettings(cfgParser, log.Logger)
		fmt.Printf("Config file: %s\n", cfgParser.Path())
		fmt.Printf("Compression level: %d\n", settings.CompressionLevel())
		return nil
	},
}

var settingsSetCompressionCmd = &cobra.Command{
	Use:   "set-compression <0-9>",
	Short: "Set the zip compression level",
	Long: `Set the deflate level used for compressed backups, from 0 (store only) to
9 (smallest). Only archive.compression_level is rewritten in the config
file; comments and other settings are kept. A running scheduler applies it
from the next backup on.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return &models.ValidationError{Field: "archive.compression_level", Message: fmt.Sprintf("%q is not a number", args[0])}
		}

		settings := config.NewSettings(cfgParser, log.Logger)
		if err := settings.SetCompressionLevel(n); err != nil {
			var verr *models.ValidationError
			if errors.As(err, &verr) {
				log.Error().Str("field", verr.Field).Msg(verr.Message)
			} else {
				log.Error().Err(err).Msg("failed to save settings")
			}
			return err
		}

		fmt.Printf("Compression level set to %d\n", n)
		return nil
	},
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCompressionCmd)
}
