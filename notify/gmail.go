package notify

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
)

// GmailProvider delivers messages as HTML email via the Gmail API.
type GmailProvider struct {
	service *gmail.Service
	logger  *slog.Logger
	to      string
}

// NewGmailProvider creates a provider that mails every message to one address.
func NewGmailProvider(service *gmail.Service, to string, logger *slog.Logger) *GmailProvider {
	return &GmailProvider{
		service: service,
		logger:  logger,
		to:      to,
	}
}

// sanitizeEmailHeader removes newlines and control characters to prevent header injection.
func sanitizeEmailHeader(s string) string {
	var result strings.Builder
	for _, r := range s {
		if r >= 32 && r != 127 {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// Send mails msg. The sender address is the authenticated account.
func (g *GmailProvider) Send(ctx context.Context, msg Message) (string, error) {
	to := sanitizeEmailHeader(g.to)
	subject := sanitizeEmailHeader(msg.Subject)

	var b strings.Builder
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	b.WriteString(emailBody(msg.Text))
	encoded := base64.URLEncoding.EncodeToString([]byte(b.String()))

	g.logger.Info("Gmail API request starting",
		"method", "POST",
		"endpoint", "users.messages.send",
		"to", to,
		"subject", subject)

	start := time.Now()
	sent, err := g.service.Users.Messages.Send("me", &gmail.Message{Raw: encoded}).Context(ctx).Do()
	duration := time.Since(start)
	if err != nil {
		g.logger.Warn("Gmail API send failed",
			"to", to,
			"duration_ms", duration.Milliseconds(),
			"error", err)
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && permanentStatus(apiErr.Code) {
			return "", &PermanentError{StatusCode: apiErr.Code, Err: err}
		}
		return "", err
	}

	g.logger.Info("Gmail API request completed",
		"endpoint", "users.messages.send",
		"to", to,
		"message_id", sent.Id,
		"duration_ms", duration.Milliseconds())
	return sent.Id, nil
}

// emailBody wraps chat-style text in a minimal HTML document.
func emailBody(text string) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n<meta charset=\"utf-8\">\n</head>\n")
	b.WriteString("<body style=\"font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333;\">\n")
	b.WriteString(strings.ReplaceAll(text, "\n", "<br>\n"))
	b.WriteString("\n</body>\n</html>")
	return b.String()
}
