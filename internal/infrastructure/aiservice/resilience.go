package aiservice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/ivankoval/vault-inbox/internal/core/domain"
	"github.com/ivankoval/vault-inbox/internal/infrastructure/resilience"
)

// HTTPStatusError carries a non-2xx response from the AI backend.
type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "ai status error"
	}
	msg := fmt.Sprintf("ai %s status: %s", e.Operation, e.Status)
	if body := strings.TrimSpace(e.Body); body != "" {
		msg += ": " + body
	}
	return msg
}

var (
	retryAndRecord = resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	recordOnly     = resilience.ErrorClassification{Retryable: false, RecordFailure: true}
	ignore         = resilience.ErrorClassification{}
)

// classifyAIError decides whether a failed call may be retried and
// whether it should count against the circuit breaker. Caller-side
// cancellation counts for neither; a definitive 4xx from the backend is
// the caller's problem, not the backend's health.
func classifyAIError(err error) resilience.ErrorClassification {
	if err == nil {
		return ignore
	}
	// A per-call transport timeout also matches context.DeadlineExceeded
	// (http.Client.Timeout, Go 1.16+), so it must be recognized before
	// the cancellation sentinels: a slow backend is retryable, a
	// cancelled caller is not. Context cancellation of the call itself
	// is neutralized by the executor, which stops retrying and never
	// records a failure once its ctx is done.
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return retryAndRecord
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ignore
	}
	if resilience.IsCircuitOpen(err) {
		return retryAndRecord
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		if retryableStatus(statusErr.StatusCode) {
			return retryAndRecord
		}
		return ignore
	}
	if errors.As(err, &netErr) {
		return retryAndRecord
	}
	return recordOnly
}

// wrapTemporaryIfNeeded marks retryable failures as temporary so the
// pipeline knows the file can be requeued rather than parked in error.
func wrapTemporaryIfNeeded(operation string, err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classifyAIError(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
