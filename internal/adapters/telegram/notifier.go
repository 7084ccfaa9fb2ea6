package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dauphongxd/tradingbot/internal/ports"
)

const defaultAPIBase = "https://api.telegram.org"

// Notifier implements the ports.Notifier interface over the Telegram Bot API.
type Notifier struct {
	apiBase    string
	token      string
	chatID     string
	httpClient *http.Client
	logger     ports.Logger
}

// Config holds configuration for the Telegram notifier.
type Config struct {
	Token   string
	ChatID  string
	APIBase string        // Override for tests; defaults to the public API
	Timeout time.Duration // HTTP timeout (default 10s)
	Logger  ports.Logger
}

// New creates a new Telegram notifier.
func New(cfg Config) (*Notifier, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Telegram notifier")
	}
	if cfg.Token == "" || cfg.ChatID == "" {
		return nil, fmt.Errorf("telegram token and chat ID are required")
	}
	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		apiBase:    apiBase,
		token:      cfg.Token,
		chatID:     cfg.ChatID,
		httpClient: &http.Client{Timeout: timeout},
		logger:     cfg.Logger,
	}, nil
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// Send delivers a text message to the configured chat.
func (n *Notifier) Send(ctx context.Context, text string) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:    n.chatID,
		Text:      text,
		ParseMode: "Markdown",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal sendMessage request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build sendMessage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Telegram message: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		n.logger.Warn(ctx, "Telegram API returned non-OK status", map[string]interface{}{
			"status": resp.StatusCode,
			"body":   string(respBody),
		})
		return fmt.Errorf("telegram sendMessage returned status %d", resp.StatusCode)
	}

	var apiResp sendMessageResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return fmt.Errorf("failed to decode sendMessage response: %w", err)
	}
	if !apiResp.OK {
		return fmt.Errorf("telegram sendMessage rejected: %s", apiResp.Description)
	}
	return nil
}
