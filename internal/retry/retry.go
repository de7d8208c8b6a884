// Package retry wraps remote calls in composable retry policies.
//
// A Policy pairs a predicate (which errors it handles) with a backoff
// schedule and an attempt cap. A Retrier holds several policies; each
// failed attempt is charged to the first policy whose predicate accepts the
// error, and waits according to that policy's schedule. Errors no policy
// accepts are returned immediately. When a policy's cap is reached the call
// fails with *ExhaustedError wrapping the last error.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy is one retry rule.
type Policy struct {
	Name string
	// Retryable selects the errors this policy handles.
	Retryable func(error) bool
	// NewBackOff returns a fresh schedule for one call.
	NewBackOff func() backoff.BackOff
	// MaxAttempts caps the attempts failing with this policy's errors,
	// counting the first call.
	MaxAttempts uint
}

// Exponential builds a policy whose wait starts at initial and grows by
// multiplier up to max.
func Exponential(name string, retryable func(error) bool, initial, max time.Duration, multiplier float64, attempts uint) Policy {
	return Policy{
		Name:      name,
		Retryable: retryable,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initial
			b.MaxInterval = max
			b.Multiplier = multiplier
			b.RandomizationFactor = 0
			return b
		},
		MaxAttempts: attempts,
	}
}

// Fixed builds a policy with a constant wait.
func Fixed(name string, retryable func(error) bool, wait time.Duration, attempts uint) Policy {
	return Policy{
		Name:        name,
		Retryable:   retryable,
		NewBackOff:  func() backoff.BackOff { return backoff.NewConstantBackOff(wait) },
		MaxAttempts: attempts,
	}
}

// ExhaustedError reports that a policy's attempt cap was reached.
type ExhaustedError struct {
	Policy   string
	Attempts uint
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Policy, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// IsExhausted reports whether err came from a spent retry policy.
func IsExhausted(err error) bool {
	var ex *ExhaustedError
	return errors.As(err, &ex)
}

// Retrier applies a set of policies.
type Retrier struct {
	policies []Policy
	logger   *slog.Logger
}

// New returns a Retrier. A nil logger uses slog.Default().
func New(logger *slog.Logger, policies ...Policy) *Retrier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrier{policies: policies, logger: logger}
}

func (r *Retrier) classify(err error) int {
	for i, p := range r.policies {
		if p.Retryable != nil && p.Retryable(err) {
			return i
		}
	}
	return -1
}

// Do runs fn until it succeeds, fails with an error no policy handles,
// exhausts a policy, or ctx ends. name labels log lines.
func Do[T any](ctx context.Context, r *Retrier, name string, fn func(context.Context) (T, error)) (T, error) {
	if r == nil || len(r.policies) == 0 {
		return fn(ctx)
	}

	sched := newSchedule(r.policies)
	attempts := make([]uint, len(r.policies))

	op := func() (T, error) {
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		i := r.classify(err)
		if i < 0 {
			return res, backoff.Permanent(err)
		}
		attempts[i]++
		p := r.policies[i]
		if attempts[i] >= p.MaxAttempts {
			return res, backoff.Permanent(&ExhaustedError{Policy: p.Name, Attempts: attempts[i], Err: err})
		}
		sched.current = i
		return res, err
	}

	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(sched),
		backoff.WithNotify(func(err error, wait time.Duration) {
			r.logger.Debug("retrying",
				"op", name,
				"policy", r.policies[sched.current].Name,
				"attempt", attempts[sched.current],
				"wait", wait,
				"error", err)
		}),
	)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	return res, err
}

// schedule routes NextBackOff to the policy charged with the last failure,
// so each policy keeps its own progression.
type schedule struct {
	offs    []backoff.BackOff
	current int
}

func newSchedule(policies []Policy) *schedule {
	s := &schedule{offs: make([]backoff.BackOff, len(policies))}
	for i, p := range policies {
		if p.NewBackOff != nil {
			s.offs[i] = p.NewBackOff()
		} else {
			s.offs[i] = &backoff.ZeroBackOff{}
		}
	}
	return s
}

func (s *schedule) NextBackOff() time.Duration {
	return s.offs[s.current].NextBackOff()
}

func (s *schedule) Reset() {
	for _, b := range s.offs {
		b.Reset()
	}
}
