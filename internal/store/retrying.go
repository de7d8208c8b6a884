package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/pimsync/internal/model"
	"github.com/roach88/pimsync/internal/retry"
)

// RetrySettings configures the standard retry policies.
type RetrySettings struct {
	RateLimitInitial    time.Duration
	RateLimitMax        time.Duration
	RateLimitMultiplier float64
	RateLimitAttempts   uint
	TransportAttempts   uint
	TransportWait       time.Duration
}

// DefaultRetrySettings doubles from one second up to a minute over eight
// attempts, and retries transport violations once.
func DefaultRetrySettings() RetrySettings {
	return RetrySettings{
		RateLimitInitial:    time.Second,
		RateLimitMax:        time.Minute,
		RateLimitMultiplier: 2,
		RateLimitAttempts:   8,
		TransportAttempts:   2,
		TransportWait:       250 * time.Millisecond,
	}
}

// NewRetrier builds the rate-limit and transport policies.
func NewRetrier(s RetrySettings, logger *slog.Logger) *retry.Retrier {
	return retry.New(logger,
		retry.Exponential("rate-limit", IsRateLimited, s.RateLimitInitial, s.RateLimitMax, s.RateLimitMultiplier, s.RateLimitAttempts),
		retry.Fixed("transport", IsTransport, s.TransportWait, s.TransportAttempts),
	)
}

type retrying struct {
	next Store
	r    *retry.Retrier
}

// WithRetry returns a Store that runs every call of next through r.
func WithRetry(next Store, r *retry.Retrier) Store {
	return &retrying{next: next, r: r}
}

func (s *retrying) List(ctx context.Context, filter Filter, pageToken string) (Page, error) {
	return retry.Do(ctx, s.r, "list", func(ctx context.Context) (Page, error) {
		return s.next.List(ctx, filter, pageToken)
	})
}

func (s *retrying) Get(ctx context.Context, id string) (*model.Item, error) {
	return retry.Do(ctx, s.r, "get", func(ctx context.Context) (*model.Item, error) {
		return s.next.Get(ctx, id)
	})
}

func (s *retrying) Create(ctx context.Context, item model.Item) (model.Item, error) {
	return retry.Do(ctx, s.r, "create", func(ctx context.Context) (model.Item, error) {
		return s.next.Create(ctx, item)
	})
}

func (s *retrying) Update(ctx context.Context, item model.Item, expectedVersion string) (model.Item, error) {
	return retry.Do(ctx, s.r, "update", func(ctx context.Context) (model.Item, error) {
		return s.next.Update(ctx, item, expectedVersion)
	})
}

func (s *retrying) Delete(ctx context.Context, id string) error {
	_, err := retry.Do(ctx, s.r, "delete", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.next.Delete(ctx, id)
	})
	return err
}

func (s *retrying) ListInstances(ctx context.Context, recurringID string, window TimeRange, includeDeleted bool) ([]model.Item, error) {
	return retry.Do(ctx, s.r, "list-instances", func(ctx context.Context) ([]model.Item, error) {
		return s.next.ListInstances(ctx, recurringID, window, includeDeleted)
	})
}
