package notify

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
)

// MockProvider logs messages instead of sending them, for local development.
type MockProvider struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []Message
}

// NewMockProvider creates a new mock provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{logger: logger}
}

// Send records msg and returns a sequential id.
func (m *MockProvider) Send(_ context.Context, msg Message) (string, error) {
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	id := "mock-" + strconv.Itoa(len(m.sent))
	m.mu.Unlock()

	m.logger.Info("MOCK MESSAGE",
		"message_id", id,
		"subject", msg.Subject,
		"text_length", len(msg.Text))
	return id, nil
}

// Sent returns a copy of every message sent so far.
func (m *MockProvider) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}
