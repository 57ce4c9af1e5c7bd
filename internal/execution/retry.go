package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// CloseWithRetry drives an exit through the port with a per-attempt
// timeout and exponential backoff, up to maxTries attempts. Rejections
// and timeouts are both retried; only parent-context cancellation stops
// early. Callers escalate to a fatal alert when the retry budget is
// exhausted, since an open position must never be silently abandoned.
func CloseWithRetry(ctx context.Context, port Port, assetID string, maxTries uint, timeout time.Duration, logger *zap.Logger) (*Fill, error) {
	attempt := 0
	op := func() (*Fill, error) {
		attempt++
		opCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		fill, err := port.Close(opCtx, assetID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(fmt.Errorf("close %s: %w", assetID, err))
			}
			logger.Warn("exit attempt failed",
				zap.String("asset", assetID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return nil, err
		}
		return fill, nil
	}

	fill, err := backoff.Retry(
		ctx,
		op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(maxTries),
	)
	if err != nil {
		return nil, fmt.Errorf("close %s after %d attempts: %w", assetID, attempt, err)
	}
	return fill, nil
}
