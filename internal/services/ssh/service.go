// Package ssh powers the backup destination host off over SSH.
package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/fgeck/gobackup-homelab/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const dialTimeout = 30 * time.Second

// Service defines the interface for SSH operations.
type Service interface {
	Shutdown(ctx context.Context, cfg models.SSHShutdownConfig) (*models.SSHResult, error)
	Ping(ctx context.Context, cfg models.SSHShutdownConfig) (*models.SSHResult, error)
}

// Client is the part of *ssh.Client the service needs.
type Client interface {
	NewSession() (Session, error)
	Close() error
}

// Session is the part of *ssh.Session the service needs.
type Session interface {
	CombinedOutput(cmd string) ([]byte, error)
	Close() error
}

// Dialer opens SSH connections.
type Dialer interface {
	Dial(network, addr string, config *ssh.ClientConfig) (Client, error)
}

// NetDialer dials real SSH servers.
type NetDialer struct{}

// Dial connects and authenticates to addr.
func (NetDialer) Dial(network, addr string, config *ssh.ClientConfig) (Client, error) {
	c, err := ssh.Dial(network, addr, config)
	if err != nil {
		return nil, err
	}
	return client{c}, nil
}

type client struct{ c *ssh.Client }

func (c client) NewSession() (Session, error) {
	s, err := c.c.NewSession()
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (c client) Close() error { return c.c.Close() }

// Impl implements the SSH Service interface.
type Impl struct {
	dialer Dialer
	logger zerolog.Logger
}

// New creates a new SSH service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{dialer: NetDialer{}, logger: logger}
}

// NewWithDialer creates a new SSH service with a custom dialer (for testing).
func NewWithDialer(logger zerolog.Logger, dialer Dialer) *Impl {
	return &Impl{dialer: dialer, logger: logger}
}

// ShutdownCommand returns the command that powers the host off after
// cfg.ShutdownDelay minutes.
func ShutdownCommand(cfg models.SSHShutdownConfig) string {
	if cfg.OS == "windows" {
		secs := cfg.ShutdownDelay * 60
		if secs == 0 {
			secs = 60
		}
		return fmt.Sprintf("shutdown /s /t %d", secs)
	}
	if cfg.ShutdownDelay == 0 {
		return "sudo shutdown -h now"
	}
	return fmt.Sprintf("sudo shutdown -h +%d", cfg.ShutdownDelay)
}

// Shutdown schedules a power-off of the destination host. A non-zero exit
// after the command ran is only logged: the host may drop the connection
// while going down.
func (s *Impl) Shutdown(ctx context.Context, cfg models.SSHShutdownConfig) (*models.SSHResult, error) {
	cmd := ShutdownCommand(cfg)

	s.logger.Info().
		Str("host", cfg.Host).
		Str("user", cfg.Username).
		Int("delay_min", cfg.ShutdownDelay).
		Msg("shutting down backup destination")

	result, err := s.exec(ctx, cfg, cmd)
	if err != nil {
		if !result.CommandRun || ctx.Err() != nil {
			result.Error = err
			return result, nil
		}
		s.logger.Warn().Err(err).Str("output", result.Output).Msg("shutdown command exited with error")
	}

	s.logger.Info().Str("output", result.Output).Msg("shutdown scheduled")
	return result, nil
}

// Ping checks that the host accepts the configured credentials.
func (s *Impl) Ping(ctx context.Context, cfg models.SSHShutdownConfig) (*models.SSHResult, error) {
	s.logger.Debug().Str("host", cfg.Host).Int("port", cfg.Port).Msg("checking SSH access")

	result, err := s.exec(ctx, cfg, "echo OK")
	if err != nil {
		result.Error = err
	}
	return result, nil
}

// exec runs one command in a fresh session.
func (s *Impl) exec(ctx context.Context, cfg models.SSHShutdownConfig, cmd string) (*models.SSHResult, error) {
	result := &models.SSHResult{}

	clientCfg, err := clientConfig(cfg)
	if err != nil {
		return result, err
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	type dialed struct {
		c   Client
		err error
	}
	ch := make(chan dialed, 1)
	go func() {
		c, err := s.dialer.Dial("tcp", addr, clientCfg)
		ch <- dialed{c, err}
	}()

	var c Client
	select {
	case <-ctx.Done():
		go func() {
			if d := <-ch; d.c != nil {
				_ = d.c.Close()
			}
		}()
		return result, ctx.Err()
	case d := <-ch:
		if d.err != nil {
			return result, fmt.Errorf("connecting to %s: %w", addr, d.err)
		}
		c = d.c
	}
	defer func() { _ = c.Close() }()

	session, err := c.NewSession()
	if err != nil {
		return result, fmt.Errorf("opening session: %w", err)
	}
	defer func() { _ = session.Close() }()

	s.logger.Debug().Str("command", cmd).Msg("running remote command")
	out, err := session.CombinedOutput(cmd)
	result.Output = string(out)
	result.CommandRun = true
	if err != nil {
		return result, fmt.Errorf("running %q: %w", cmd, err)
	}
	return result, nil
}

func clientConfig(cfg models.SSHShutdownConfig) (*ssh.ClientConfig, error) {
	key := cfg.PrivateKey
	if len(key) == 0 {
		if cfg.KeyPath == "" {
			return nil, errors.New("no private key configured")
		}
		var err error
		key, err = os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("reading private key: %w", err)
		}
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	hostKey := ssh.InsecureIgnoreHostKey() //nolint:gosec // homelab default, pin with known_hosts
	if cfg.KnownHosts != "" {
		hostKey, err = knownhosts.New(cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("loading known_hosts: %w", err)
		}
	}

	return &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKey,
		Timeout:         dialTimeout,
	}, nil
}
