package config

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const compressionLevelKey = "archive.compression_level"

// Settings is the mutable part of the configuration. Only the compression
// level can be changed at runtime; every change is written back to the
// config file.
type Settings struct {
	mu     sync.Mutex
	parser *Parser
	level  atomic.Int32
	logger zerolog.Logger
}

// NewSettings wraps a parser whose config has already been loaded.
func NewSettings(parser *Parser, logger zerolog.Logger) *Settings {
	s := &Settings{parser: parser, logger: logger}
	s.level.Store(int32(parser.v.GetInt(compressionLevelKey)))
	return s
}

// CompressionLevel returns the current deflate level.
func (s *Settings) CompressionLevel() int {
	return int(s.level.Load())
}

// SetCompressionLevel validates n, applies it and writes it to the config
// file. Only archive.compression_level is touched in the file; comments and
// other keys stay as the user wrote them. An invalid level is rejected with
// a *models.ValidationError and nothing changes.
func (s *Settings) SetCompressionLevel(n int) error {
	if err := ValidateCompressionLevel(n); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.parser.Path()
	if path == "" {
		s.parser.v.Set(compressionLevelKey, n)
	} else {
		if err := setFileInt(path, compressionLevelKey, n); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
		if err := s.parser.v.ReadInConfig(); err != nil {
			return fmt.Errorf("rereading config file: %w", err)
		}
	}

	s.level.Store(int32(n))
	s.logger.Info().Int("level", n).Msg("compression level updated")
	return nil
}

// Watch reloads the compression level whenever the config file changes on
// disk and calls onChange with the new value. Invalid levels are logged and
// ignored.
func (s *Settings) Watch(onChange func(level int)) {
	if s.parser.Path() == "" {
		return
	}

	s.parser.v.OnConfigChange(func(e fsnotify.Event) {
		s.mu.Lock()
		n := s.parser.v.GetInt(compressionLevelKey)
		s.mu.Unlock()

		if err := ValidateCompressionLevel(n); err != nil {
			s.logger.Warn().Err(err).Str("file", e.Name).Msg("ignoring config change")
			return
		}
		if int(s.level.Swap(int32(n))) == n {
			return
		}

		s.logger.Info().Int("level", n).Str("file", e.Name).Msg("compression level reloaded")
		if onChange != nil {
			onChange(n)
		}
	})
	s.parser.v.WatchConfig()
}
