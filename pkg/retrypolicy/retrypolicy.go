// Package retrypolicy is the single bounded retry policy shared by the fetcher,
// the notifier providers and the report archive.
package retrypolicy

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// Policy bounds a retried operation: at most Attempts tries with exponential
// backoff starting at Delay, capped at MaxDelay, plus up to MaxJitter of noise.
type Policy struct {
	Attempts  uint
	Delay     time.Duration
	MaxDelay  time.Duration
	MaxJitter time.Duration
}

// Default is three attempts starting at one second.
func Default() Policy {
	return Policy{
		Attempts:  3,
		Delay:     time.Second,
		MaxDelay:  30 * time.Second,
		MaxJitter: 500 * time.Millisecond,
	}
}

// Do runs fn until it succeeds, retryIf rejects its error, the attempts are
// exhausted, or ctx is done. A nil retryIf retries every error.
//
// The returned error is the last error fn produced, unwrapped from the retry
// library's aggregate, so callers can use errors.As on it directly.
func (p Policy) Do(ctx context.Context, logger *slog.Logger, op string, fn func(context.Context) error, retryIf func(error) bool) error {
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 1
	}
	if retryIf == nil {
		retryIf = func(error) bool { return true }
	}
	// The random delay draws from [0, MaxJitter) and needs a positive bound.
	jitter := p.MaxJitter
	if jitter <= 0 {
		jitter = time.Nanosecond
	}

	var last error
	err := retry.Do(
		func() error {
			last = fn(ctx)
			return last
		},
		retry.Attempts(attempts),
		retry.Delay(p.Delay),
		retry.MaxDelay(p.MaxDelay),
		retry.MaxJitter(jitter),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.Info("Retrying after error", "op", op, "attempt", n+1, "error", err)
		}),
		retry.RetryIf(retryIf),
	)
	if err == nil {
		return nil
	}
	if last != nil {
		return last
	}
	return err
}
