// Package resilience wraps outbound calls with retry and circuit breaking.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrorClassification tells the executor how to treat a failure.
// Retryable failures are re-attempted with backoff; only failures
// with RecordFailure set count against the circuit breaker.
type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
}

// ErrorClassifier inspects an error from a wrapped call.
type ErrorClassifier func(err error) ErrorClassification

// Executor runs operations with retry plus a per-operation breaker.
// Breakers are keyed by operation name so a misbehaving endpoint
// does not trip calls to healthy ones.
type Executor struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

func NewExecutor(cfg Config, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		cfg:      cfg.normalize(),
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

// Execute runs fn under the named operation's breaker, retrying
// retryable failures up to the configured attempt budget. Context
// cancellation stops retries immediately and is never recorded as a
// breaker failure.
func (e *Executor) Execute(ctx context.Context, operation string, fn func(ctx context.Context) error, classify ErrorClassifier) error {
	if classify == nil {
		classify = func(error) ErrorClassification {
			return ErrorClassification{Retryable: false, RecordFailure: true}
		}
	}

	breaker := e.breakerFor(operation)
	backoff := e.cfg.Retry.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= e.cfg.Retry.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		var class ErrorClassification
		_, err := breaker.Execute(func() (any, error) {
			callErr := fn(ctx)
			if callErr == nil {
				return nil, nil
			}
			class = classify(callErr)
			if ctx.Err() != nil || !class.RecordFailure {
				// Surface the error without tripping the breaker.
				return nil, &softError{err: callErr}
			}
			return nil, callErr
		})
		if err == nil {
			return nil
		}

		var soft *softError
		if errors.As(err, &soft) {
			err = soft.err
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%s: circuit open: %w", operation, err)
		}
		lastErr = err

		if !class.Retryable || attempt == e.cfg.Retry.MaxAttempts {
			break
		}

		e.logger.Warn("retrying operation",
			"operation", operation,
			"attempt", attempt,
			"backoff", backoff.String(),
			"error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff, e.cfg.Retry)
	}
	return lastErr
}

// IsCircuitOpen reports whether err came from an open breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func (e *Executor) breakerFor(operation string) *gobreaker.CircuitBreaker[any] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cb, ok := e.breakers[operation]; ok {
		return cb
	}

	settings := gobreaker.Settings{
		Name:        operation,
		MaxRequests: e.cfg.Breaker.HalfOpenMaxCalls,
		Timeout:     e.cfg.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if !e.cfg.Breaker.Enabled {
				return false
			}
			if counts.Requests < e.cfg.Breaker.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= e.cfg.Breaker.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.logger.Warn("circuit breaker state change",
				"operation", name,
				"from", from.String(),
				"to", to.String())
		},
	}

	cb := gobreaker.NewCircuitBreaker[any](settings)
	e.breakers[operation] = cb
	return cb
}

func nextBackoff(current time.Duration, policy RetryPolicy) time.Duration {
	next := time.Duration(float64(current) * policy.Multiplier)
	if next > policy.MaxBackoff {
		next = policy.MaxBackoff
	}
	return next
}

// softError carries a failure through the breaker without counting it.
type softError struct {
	err error
}

func (s *softError) Error() string { return s.err.Error() }
func (s *softError) Unwrap() error { return s.err }
