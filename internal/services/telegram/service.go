// Package telegram sends backup run notifications through the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/gobackup-homelab/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL    = "https://api.telegram.org"
	defaultRatePerMin = 20
)

// Service defines the interface for Telegram notification operations.
type Service interface {
	SendNotification(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the Telegram Service interface.
type Impl struct {
	httpClient HTTPClient
	logger     zerolog.Logger
	baseURL    string

	mu      sync.Mutex
	limiter *rate.Limiter
	perMin  int
}

// New creates a new Telegram service.
func New(logger zerolog.Logger) *Impl {
	return NewWithClient(logger, &http.Client{Timeout: 30 * time.Second}, defaultBaseURL)
}

// NewWithClient creates a new Telegram service with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient, baseURL string) *Impl {
	return &Impl{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// SendNotification posts msg to the configured chat. Clean runs are
// skipped when cfg.OnlyErrors is set. Sends are throttled to
// cfg.RatePerMin so a burst of runs cannot trip the Bot API limits.
func (s *Impl) SendNotification(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error) {
	result := &models.TelegramResult{}

	if cfg.OnlyErrors && msg.Success && msg.SkippedFiles == 0 {
		s.logger.Debug().Str("task", msg.TaskName).Msg("clean run, notification suppressed")
		return result, nil
	}

	if err := s.limiterFor(cfg.RatePerMin).Wait(ctx); err != nil {
		result.Error = fmt.Errorf("waiting for send slot: %w", err)
		return result, nil
	}

	body, err := json.Marshal(sendMessageRequest{
		ChatID:                cfg.ChatID,
		Text:                  FormatMessage(msg),
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
	if err != nil {
		result.Error = fmt.Errorf("encoding request: %w", err)
		return result, nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		result.Error = fmt.Errorf("building request: %w", err)
		return result, nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		result.Error = fmt.Errorf("sending request: %w", err)
		return result, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		result.Error = apiError(resp)
		return result, nil
	}

	result.MessageSent = true
	s.logger.Info().Str("task", msg.TaskName).Bool("success", msg.Success).Msg("Telegram notification sent")
	return result, nil
}

func (s *Impl) limiterFor(perMin int) *rate.Limiter {
	if perMin <= 0 {
		perMin = defaultRatePerMin
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limiter == nil || s.perMin != perMin {
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), 1)
		s.perMin = perMin
	}
	return s.limiter
}

func apiError(resp *http.Response) error {
	var body apiResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(data, &body); err == nil && body.Description != "" {
		return fmt.Errorf("telegram API returned status %d: %s", resp.StatusCode, body.Description)
	}
	return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
}

// FormatMessage renders msg as Telegram HTML.
func FormatMessage(msg models.TelegramMessage) string {
	var b strings.Builder

	switch {
	case !msg.Success:
		b.WriteString("❌ <b>Backup failed</b>\n\n")
	case msg.SkippedFiles > 0:
		b.WriteString("⚠️ <b>Backup finished with skipped files</b>\n\n")
	default:
		b.WriteString("✅ <b>Backup finished</b>\n\n")
	}

	fmt.Fprintf(&b, "📌 <b>Task:</b> %s\n", html.EscapeString(msg.TaskName))
	fmt.Fprintf(&b, "📂 <b>Source:</b> <code>%s</code>\n", html.EscapeString(msg.Source))
	fmt.Fprintf(&b, "💾 <b>Destination:</b> <code>%s</code>\n", html.EscapeString(msg.Destination))
	fmt.Fprintf(&b, "🗜 <b>Mode:</b> %s\n", html.EscapeString(string(msg.Mode)))
	fmt.Fprintf(&b, "⏰ <b>Started:</b> %s\n", msg.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "⏱ <b>Duration:</b> %s\n", msg.Duration.Round(time.Second))

	if msg.Artifact != "" {
		b.WriteString("\n<b>📊 Artifact:</b>\n")
		fmt.Fprintf(&b, "  • Path: <code>%s</code>\n", html.EscapeString(msg.Artifact))
		fmt.Fprintf(&b, "  • Files: %s\n", humanize.Comma(int64(msg.FilesWritten)))
		fmt.Fprintf(&b, "  • Size: %s\n", humanize.IBytes(uint64(max(msg.BytesWritten, 0))))
		if msg.SkippedFiles > 0 {
			fmt.Fprintf(&b, "  • Skipped: %d\n", msg.SkippedFiles)
		}
	}

	if !msg.Success {
		b.WriteString("\n<b>⚠️ Error:</b>\n")
		fmt.Fprintf(&b, "  • Step: %s\n", html.EscapeString(msg.FailedStep))
		fmt.Fprintf(&b, "  • Message: <code>%s</code>\n", html.EscapeString(msg.ErrorMessage))
	}

	return b.String()
}
