// Package retry runs LLM and Workato calls with exponential backoff. A call is
// retried only when its error classifies as one of the transient sentinels.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"time"
)

// Transient failures. Errors wrapping one of these are retried.
var (
	ErrRateLimited = errors.New("groupchat: rate limit exceeded")
	ErrTimeout     = errors.New("groupchat: request timeout")
	ErrServerError = errors.New("groupchat: server error (5xx)")
)

var transient = []error{ErrRateLimited, ErrTimeout, ErrServerError}

// Classifier wraps err in a transient sentinel when the call is worth repeating
// and returns it unchanged otherwise.
type Classifier func(err error) error

// RetryConfig configures the backoff for one client.
type RetryConfig struct {
	MaxRetries   int           // 0 disables retrying
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration
	Multiplier   float64
	// Classify labels client-specific errors. It runs before the package-level
	// Classify.
	Classify Classifier
	Logger   *slog.Logger
}

// DefaultRetryConfig retries three times, starting at one second.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// NoRetries disables retrying entirely.
func NoRetries() RetryConfig {
	return RetryConfig{}
}

// FromStatus labels err by the HTTP status the server answered with.
func FromStatus(status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %w", ErrServerError, err)
	default:
		return err
	}
}

// Classify labels deadline and network timeouts. Errors already carrying a
// transient sentinel pass through.
func Classify(err error) error {
	if err == nil || isTransient(err) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

func isTransient(err error) bool {
	for _, target := range transient {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// retryable classifies err and reports whether another attempt may succeed.
func (rc RetryConfig) retryable(err error) (error, bool) {
	if err == nil {
		return nil, false
	}
	if rc.Classify != nil {
		err = rc.Classify(err)
	}
	err = Classify(err)
	return err, isTransient(err)
}

// delay returns the backoff before retry number attempt, counted from zero.
func (rc RetryConfig) delay(attempt int) time.Duration {
	d := time.Duration(float64(rc.InitialDelay) * math.Pow(rc.Multiplier, float64(attempt)))
	if attempt <= 0 {
		d = rc.InitialDelay
	}
	if rc.MaxDelay > 0 && d > rc.MaxDelay {
		return rc.MaxDelay
	}
	return d
}

func (rc RetryConfig) logger() *slog.Logger {
	if rc.Logger != nil {
		return rc.Logger
	}
	return slog.Default()
}

// WithRetry calls fn until it succeeds, fails with a non-transient error, or
// runs out of retries. The returned error carries its classification. A
// cancelled ctx stops the loop without another attempt.
func WithRetry[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("context cancelled: %w", err)
		}

		var err error
		result, err = fn()
		if err == nil {
			if attempt > 0 {
				cfg.logger().Info("call succeeded after retry", "attempt", attempt)
			}
			return result, nil
		}

		var ok bool
		lastErr, ok = cfg.retryable(err)
		if !ok || ctx.Err() != nil || attempt >= cfg.MaxRetries {
			break
		}

		wait := cfg.delay(attempt)
		cfg.logger().Warn("call failed, retrying",
			"attempt", attempt+1,
			"max_retries", cfg.MaxRetries,
			"delay", wait,
			"error", lastErr,
		)

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return result, fmt.Errorf("context cancelled during retry backoff: %w", ctx.Err())
		}
	}

	if cfg.MaxRetries == 0 || !isTransient(lastErr) || ctx.Err() != nil {
		return result, lastErr
	}
	return result, fmt.Errorf("max retries (%d) exceeded: %w", cfg.MaxRetries, lastErr)
}
