// Package wol wakes the backup destination host before a run.
package wol

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/fgeck/gobackup-homelab/internal/models"
	"github.com/mdlayher/wol"
	"github.com/rs/zerolog"
)

// defaultPort is the discard port conventionally used for magic packets.
const defaultPort = "9"

// Service defines the interface for Wake-on-LAN operations.
type Service interface {
	Wake(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error)
}

// Client sends magic packets.
type Client interface {
	Wake(addr string, mac net.HardwareAddr) error
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// UDPClient sends magic packets with mdlayher/wol.
type UDPClient struct{}

// Wake sends a magic packet for mac to addr (host:port).
func (UDPClient) Wake(addr string, mac net.HardwareAddr) error {
	client, err := wol.NewClient()
	if err != nil {
		return fmt.Errorf("opening wol socket: %w", err)
	}
	defer func() { _ = client.Close() }()

	if err := client.Wake(addr, mac); err != nil {
		return fmt.Errorf("sending magic packet to %s: %w", addr, err)
	}
	return nil
}

// Impl implements the WOL Service interface.
type Impl struct {
	client     Client
	httpClient HTTPClient
	logger     zerolog.Logger
}

// New creates a new WOL service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		client:     UDPClient{},
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     logger,
	}
}

// NewWithClients creates a new WOL service with custom clients (for testing).
func NewWithClients(logger zerolog.Logger, client Client, httpClient HTTPClient) *Impl {
	return &Impl{
		client:     client,
		httpClient: httpClient,
		logger:     logger,
	}
}

// BroadcastAddr returns host:port for the configured broadcast address,
// defaulting the port to 9.
func BroadcastAddr(broadcast string) (string, error) {
	host, port, err := net.SplitHostPort(broadcast)
	if err != nil {
		host, port = broadcast, defaultPort
	}
	if net.ParseIP(host) == nil {
		return "", fmt.Errorf("invalid broadcast address %q", broadcast)
	}
	return net.JoinHostPort(host, port), nil
}

// Wake sends the magic packet and, when a poll URL is configured, blocks
// until the destination answers HTTP or the timeout expires. Failures are
// reported in the result.
func (s *Impl) Wake(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error) {
	result := &models.WOLResult{}
	start := time.Now()
	defer func() { result.WaitDuration = time.Since(start) }()

	mac, err := net.ParseMAC(cfg.MACAddress)
	if err != nil {
		result.Error = fmt.Errorf("invalid MAC address %q: %w", cfg.MACAddress, err)
		return result, nil
	}
	addr, err := BroadcastAddr(cfg.BroadcastIP)
	if err != nil {
		result.Error = err
		return result, nil
	}

	s.logger.Info().Str("mac", mac.String()).Str("broadcast", addr).Msg("waking backup destination")

	if err := s.client.Wake(addr, mac); err != nil {
		result.Error = err
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}
	result.PacketSent = true

	if cfg.PollURL == "" {
		result.TargetReady = true
		return result, nil
	}

	if err := s.awaitDestination(ctx, cfg); err != nil {
		result.Error = err
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}

	if cfg.StabilizeWait > 0 {
		s.logger.Debug().Dur("wait", cfg.StabilizeWait).Msg("letting destination settle")
		timer := time.NewTimer(cfg.StabilizeWait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			result.Error = ctx.Err()
			return result, nil
		case <-timer.C:
		}
	}

	result.TargetReady = true
	s.logger.Info().Dur("after", time.Since(start)).Msg("backup destination is up")
	return result, nil
}

// awaitDestination polls cfg.PollURL until any HTTP response arrives.
func (s *Impl) awaitDestination(ctx context.Context, cfg models.WOLConfig) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info().Str("url", cfg.PollURL).Dur("timeout", cfg.Timeout).Msg("waiting for destination")

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.PollURL, nil)
		if err != nil {
			return fmt.Errorf("building poll request: %w", err)
		}
		resp, err := s.httpClient.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			return nil
		}
		s.logger.Debug().Err(err).Msg("destination not up yet")

		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return fmt.Errorf("destination %s did not answer within %s", cfg.PollURL, cfg.Timeout)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
