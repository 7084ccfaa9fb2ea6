package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dauphongxd/tradingbot/internal/domain"
	"github.com/dauphongxd/tradingbot/internal/ports"
)

// Commands is the slice of the application service the listener dispatches to.
type Commands interface {
	Balance(ctx context.Context) (float64, error)
	PositionsReport(ctx context.Context) (string, error)
	HistoryReport(ctx context.Context) (string, error)
	SetLeverage(ctx context.Context, leverage float64) error
	SetRisk(ctx context.Context, risk float64) error
	ManualClose(ctx context.Context, symbol string) error
	HandleSignal(ctx context.Context, sig domain.Signal) error
	Confirm(ctx context.Context, requestID string) error
	Ignore(ctx context.Context, requestID string) error
}

// Listener long-polls the Telegram getUpdates endpoint and turns messages
// from the configured chat into commands and signals.
type Listener struct {
	apiBase    string
	token      string
	chatID     int64
	imageDir   string
	httpClient *http.Client
	commands   Commands
	notifier   ports.Notifier
	logger     ports.Logger

	offset int64
}

// ListenerConfig holds configuration for the Telegram listener.
type ListenerConfig struct {
	Token    string
	ChatID   string
	APIBase  string // Override for tests; defaults to the public API
	ImageDir string // Where downloaded signal images are stored (default os.TempDir())
	Commands Commands
	Notifier ports.Notifier
	Logger   ports.Logger
}

// NewListener creates a Telegram command listener.
func NewListener(cfg ListenerConfig) (*Listener, error) {
	if cfg.Commands == nil || cfg.Notifier == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("commands, notifier and logger are required for Telegram listener")
	}
	if cfg.Token == "" || cfg.ChatID == "" {
		return nil, fmt.Errorf("telegram token and chat ID are required")
	}
	chatID, err := strconv.ParseInt(cfg.ChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("chat ID %q is not numeric: %w", cfg.ChatID, err)
	}
	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	imageDir := cfg.ImageDir
	if imageDir == "" {
		imageDir = os.TempDir()
	}
	return &Listener{
		apiBase: apiBase,
		token:   cfg.Token,
		chatID:  chatID,
		// Long poll timeout is 30s; the client needs headroom on top.
		httpClient: &http.Client{Timeout: 40 * time.Second},
		imageDir:   imageDir,
		commands:   cfg.Commands,
		notifier:   cfg.Notifier,
		logger:     cfg.Logger,
	}, nil
}

type update struct {
	UpdateID int64    `json:"update_id"`
	Message  *message `json:"message"`
}

type message struct {
	MessageID int64  `json:"message_id"`
	Chat      chat   `json:"chat"`
	Text      string `json:"text"`
	Caption   string `json:"caption"`
	Photo     []struct {
		FileID string `json:"file_id"`
	} `json:"photo"`
}

type chat struct {
	ID int64 `json:"id"`
}

type getUpdatesResponse struct {
	OK          bool     `json:"ok"`
	Description string   `json:"description,omitempty"`
	Result      []update `json:"result"`
}

// Run polls for updates until the context is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info(ctx, "Telegram listener started", map[string]interface{}{"chatID": l.chatID})
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		updates, err := l.getUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Warn(ctx, "getUpdates failed, backing off", map[string]interface{}{"error": err.Error()})
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= l.offset {
				l.offset = u.UpdateID + 1
			}
			l.handleUpdate(ctx, u)
		}
	}
}

func (l *Listener) getUpdates(ctx context.Context) ([]update, error) {
	q := url.Values{}
	q.Set("offset", strconv.FormatInt(l.offset, 10))
	q.Set("timeout", "30")
	q.Set("allowed_updates", `["message"]`)

	reqURL := fmt.Sprintf("%s/bot%s/getUpdates?%s", l.apiBase, l.token, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build getUpdates request: %w", err)
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("getUpdates request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read getUpdates response: %w", err)
	}
	var parsed getUpdatesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode getUpdates response: %w", err)
	}
	if !parsed.OK {
		return nil, fmt.Errorf("getUpdates rejected: %s", parsed.Description)
	}
	return parsed.Result, nil
}

func (l *Listener) handleUpdate(ctx context.Context, u update) {
	msg := u.Message
	if msg == nil {
		return
	}
	if msg.Chat.ID != l.chatID {
		l.logger.Debug(ctx, "Ignoring message from foreign chat", map[string]interface{}{"chatID": msg.Chat.ID})
		return
	}

	text := strings.TrimSpace(msg.Text)
	if strings.HasPrefix(text, "/") {
		l.dispatchCommand(ctx, text)
		return
	}

	// A photo message is a trading signal; the caption carries the symbol
	// tag and any commentary.
	if len(msg.Photo) > 0 {
		l.handleSignalMessage(ctx, msg)
	}
}

func (l *Listener) dispatchCommand(ctx context.Context, text string) {
	fields := strings.Fields(text)
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	// Commands in groups may carry a @botname suffix.
	if idx := strings.Index(cmd, "@"); idx >= 0 {
		cmd = cmd[:idx]
	}
	args := fields[1:]

	var err error
	switch cmd {
	case "balance":
		var bal float64
		if bal, err = l.commands.Balance(ctx); err == nil {
			l.reply(ctx, fmt.Sprintf("Balance: %.2f", bal))
		}
	case "positions":
		var report string
		if report, err = l.commands.PositionsReport(ctx); err == nil {
			l.reply(ctx, report)
		}
	case "history":
		var report string
		if report, err = l.commands.HistoryReport(ctx); err == nil {
			l.reply(ctx, report)
		}
	case "setleverage":
		err = l.runFloatCommand(ctx, cmd, args, l.commands.SetLeverage)
	case "setrisk":
		err = l.runFloatCommand(ctx, cmd, args, l.commands.SetRisk)
	case "close":
		if len(args) != 1 {
			err = fmt.Errorf("usage: /close SYMBOL")
		} else {
			err = l.commands.ManualClose(ctx, strings.ToUpper(args[0]))
		}
	case "confirm":
		if len(args) != 1 {
			err = fmt.Errorf("usage: /confirm REQUEST_ID")
		} else {
			err = l.commands.Confirm(ctx, args[0])
		}
	case "ignore":
		if len(args) != 1 {
			err = fmt.Errorf("usage: /ignore REQUEST_ID")
		} else {
			err = l.commands.Ignore(ctx, args[0])
		}
	default:
		l.reply(ctx, fmt.Sprintf("Unknown command /%s.", cmd))
		return
	}

	if err != nil {
		l.logger.Warn(ctx, "Command failed", map[string]interface{}{"command": cmd, "error": err.Error()})
		l.reply(ctx, fmt.Sprintf("/%s failed: %v", cmd, err))
	}
}

func (l *Listener) runFloatCommand(ctx context.Context, cmd string, args []string, fn func(context.Context, float64) error) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: /%s VALUE", cmd)
	}
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("%q is not a number", args[0])
	}
	return fn(ctx, v)
}

func (l *Listener) handleSignalMessage(ctx context.Context, msg *message) {
	// Telegram sends several resolutions; the last entry is the largest.
	fileID := msg.Photo[len(msg.Photo)-1].FileID
	imagePath, err := l.downloadFile(ctx, fileID)
	if err != nil {
		l.logger.Error(ctx, err, "Failed to download signal image", map[string]interface{}{"fileID": fileID})
		l.reply(ctx, "Could not download the signal image.")
		return
	}

	sig := domain.Signal{
		Caption:    msg.Caption,
		ImageRef:   imagePath,
		MessageRef: strconv.FormatInt(msg.MessageID, 10),
	}
	if err := l.commands.HandleSignal(ctx, sig); err != nil {
		l.logger.Warn(ctx, "Signal handling failed", map[string]interface{}{"error": err.Error()})
	}
}

type getFileResponse struct {
	OK     bool `json:"ok"`
	Result struct {
		FilePath string `json:"file_path"`
	} `json:"result"`
}

// downloadFile resolves a Telegram file ID and stores the content locally,
// returning the local path.
func (l *Listener) downloadFile(ctx context.Context, fileID string) (string, error) {
	reqURL := fmt.Sprintf("%s/bot%s/getFile?file_id=%s", l.apiBase, l.token, url.QueryEscape(fileID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build getFile request: %w", err)
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("getFile request failed: %w", err)
	}
	defer resp.Body.Close()

	var parsed getFileResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode getFile response: %w", err)
	}
	if !parsed.OK || parsed.Result.FilePath == "" {
		return "", fmt.Errorf("getFile returned no path for %s", fileID)
	}

	dlURL := fmt.Sprintf("%s/file/bot%s/%s", l.apiBase, l.token, parsed.Result.FilePath)
	dlReq, err := http.NewRequestWithContext(ctx, http.MethodGet, dlURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build download request: %w", err)
	}
	dlResp, err := l.httpClient.Do(dlReq)
	if err != nil {
		return "", fmt.Errorf("file download failed: %w", err)
	}
	defer dlResp.Body.Close()
	if dlResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("file download returned status %d", dlResp.StatusCode)
	}

	localPath := filepath.Join(l.imageDir, fmt.Sprintf("signal_%d%s", time.Now().UnixNano(), filepath.Ext(parsed.Result.FilePath)))
	out, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", localPath, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, dlResp.Body); err != nil {
		os.Remove(localPath)
		return "", fmt.Errorf("failed to write %s: %w", localPath, err)
	}
	return localPath, nil
}

func (l *Listener) reply(ctx context.Context, text string) {
	if err := l.notifier.Send(ctx, text); err != nil {
		l.logger.Warn(ctx, "Failed to send reply", map[string]interface{}{"error": err.Error()})
	}
}
