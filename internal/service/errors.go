package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kjstillabower/forecast-gateway/internal/client"
)

var (
	ErrValidation        = errors.New("invalid request")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrUpstreamFatal     = errors.New("upstream rejected request")
	ErrUpstreamExhausted = errors.New("upstream unavailable")
	ErrCacheLoadFailed   = errors.New("cache load failed")
)

// ValidationError is a caller mistake. It is never cached and costs no rate-limit token
// when raised before admission.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// RateLimitedError is returned when the caller's bucket is empty.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: retry after %ds", ErrRateLimited, e.RetryAfterSeconds())
}

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

// RetryAfterSeconds rounds the wait up to whole seconds, never below one.
func (e *RateLimitedError) RetryAfterSeconds() int {
	s := int(math.Ceil(e.RetryAfter.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// classify attaches gateway meaning to a load outcome. Upstream failures are
// checked first: an exhausted retry loop may itself wrap a deadline error.
func classify(err error) error {
	var ve *ValidationError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ve):
		return ve
	case errors.Is(err, client.ErrRetriesExhausted), errors.Is(err, client.ErrCircuitOpen):
		return fmt.Errorf("%w: %w", ErrUpstreamExhausted, err)
	case client.IsFatal(err):
		return fmt.Errorf("%w: %w", ErrUpstreamFatal, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrCacheLoadFailed, err)
	}
}
