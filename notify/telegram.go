package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultTelegramAPI is the Bot API base URL.
const DefaultTelegramAPI = "https://api.telegram.org"

// TelegramProvider sends messages through the Telegram Bot API.
type TelegramProvider struct {
	client *http.Client
	logger *slog.Logger
	apiURL string
	token  string
	chatID string
}

// NewTelegramProvider creates a provider for one destination chat.
func NewTelegramProvider(client *http.Client, apiURL, token, chatID string, logger *slog.Logger) *TelegramProvider {
	if apiURL == "" {
		apiURL = DefaultTelegramAPI
	}
	return &TelegramProvider{
		client: client,
		logger: logger,
		apiURL: strings.TrimSuffix(apiURL, "/"),
		token:  token,
		chatID: chatID,
	}
}

type telegramSendRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type telegramResponse struct {
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
	ErrorCode int  `json:"error_code"`
	OK        bool `json:"ok"`
}

// Send posts msg to the configured chat. Client errors (bad chat id, revoked
// token) come back as *PermanentError.
func (t *TelegramProvider) Send(ctx context.Context, msg Message) (string, error) {
	payload, err := json.Marshal(telegramSendRequest{
		ChatID:    t.chatID,
		Text:      msg.Text,
		ParseMode: "HTML",
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := t.apiURL + "/bot" + t.token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	t.logger.Info("Telegram API request starting",
		"method", "POST",
		"endpoint", "sendMessage",
		"subject", msg.Subject)

	start := time.Now()
	resp, err := t.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		// The token is part of the URL; never log or return it.
		return "", fmt.Errorf("telegram request failed: %w", redactToken(err, t.token))
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			t.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var tr telegramResponse
	if err := json.Unmarshal(body, &tr); err != nil && resp.StatusCode == http.StatusOK {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || !tr.OK {
		t.logger.Warn("Telegram API returned error",
			"status_code", resp.StatusCode,
			"description", tr.Description,
			"duration_ms", duration.Milliseconds())
		apiErr := fmt.Errorf("telegram HTTP %d: %s", resp.StatusCode, tr.Description)
		if permanentStatus(resp.StatusCode) {
			return "", &PermanentError{StatusCode: resp.StatusCode, Err: apiErr}
		}
		return "", apiErr
	}

	id := strconv.FormatInt(tr.Result.MessageID, 10)
	t.logger.Info("Telegram API request completed",
		"endpoint", "sendMessage",
		"message_id", id,
		"duration_ms", duration.Milliseconds())
	return id, nil
}

// redactToken strips the bot token from transport errors, which quote the URL.
func redactToken(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, "<redacted>"))
}
