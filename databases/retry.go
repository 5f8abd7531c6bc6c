package databases

import (
	"context"
	"errors"
	"net"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/x/mongo/driver/topology"
	"go.uber.org/zap"

	"github.com/mindhaven/counseling-api/models"
)

// Retry defaults. One storage call gets up to three attempts spaced a
// second apart before the failure is surfaced as storage-unavailable.
const (
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 1 * time.Second
)

// RetryConfig overrides the retry policy per call site. Zero values fall
// back to the defaults.
type RetryConfig struct {
	Attempts int
	Delay    time.Duration
}

// IsTransient classifies storage errors that are worth retrying:
// network blips, driver timeouts and server selection failures. Domain
// errors (no documents, duplicate keys, bad filters) are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false
	}
	if mongo.IsDuplicateKeyError(err) {
		return false
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}
	var selErr topology.ServerSelectionError
	if errors.As(err, &selErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Retry runs op, retrying transient storage errors per cfg. Each retried
// operation must be idempotent at the storage layer; message appends get
// that from their pre-generated message id filter. Non-transient errors
// propagate unretried; exhausting attempts surfaces the last error as a
// storage-unavailable condition.
func Retry(ctx context.Context, cfg RetryConfig, label string, op func(context.Context) error) error {
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	delay := cfg.Delay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return models.NewStorageUnavailableError(label+" aborted", ctx.Err())
			case <-time.After(delay):
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		zap.S().Warnw("transient storage error",
			"operation", label,
			"attempt", attempt,
			"error", lastErr,
		)
	}
	return models.NewStorageUnavailableError(label+" failed after retries", lastErr)
}
