// Package notify formats listing alerts and delivers them through a pluggable
// messaging provider.
package notify

import (
	"context"
	"errors"
	"fmt"
)

// Message is one outbound chat message. Text uses the small HTML subset chat
// APIs accept: <b>, <i>, <a href>, and newlines.
type Message struct {
	Subject string
	Text    string
}

// Provider delivers a message and returns the channel's message id.
type Provider interface {
	Send(ctx context.Context, msg Message) (messageID string, err error)
}

// PermanentError marks a delivery failure that retrying cannot fix, such as
// an unknown chat or a revoked token.
type PermanentError struct {
	Err        error
	StatusCode int
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent delivery failure (status %d): %v", e.StatusCode, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsPermanent checks if an error is a PermanentError.
func IsPermanent(err error) bool {
	var target *PermanentError
	return errors.As(err, &target)
}

// permanentStatus reports whether an HTTP status from a provider means the
// request itself is wrong.
func permanentStatus(code int) bool {
	switch code {
	case 400, 401, 403, 404:
		return true
	}
	return false
}
