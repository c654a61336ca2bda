// internal/llmclient/retry.go
package llmclient

import (
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// defaultBackOff retries transient provider failures (rate limiting, 5xx,
// network errors) for up to two minutes.
func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	b.MaxInterval = 30 * time.Second
	return b
}

// isTransientStatus reports whether an HTTP status is worth retrying.
func isTransientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

// retry runs op under the backoff policy. op marks non-retryable failures
// with backoff.Permanent.
func retry(ctx context.Context, policy backoff.BackOff, logger *zap.Logger, op func() error) error {
	attempt := 0
	notify := func(err error, next time.Duration) {
		attempt++
		logger.Warn("Model request failed, retrying...",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", next),
			zap.Error(err),
		)
	}
	return backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify)
}
