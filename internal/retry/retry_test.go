package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(maxRetries int) RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxRetries = maxRetries
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	return cfg
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()

	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.InitialDelay)
	assert.Equal(t, 30*time.Second, cfg.MaxDelay)
	assert.InDelta(t, 2.0, cfg.Multiplier, 0.0001)
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestRetryConfig_Retryable(t *testing.T) {
	cfg := DefaultRetryConfig()

	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{name: "nil error", err: nil},
		{name: "rate limit", err: ErrRateLimited, sentinel: ErrRateLimited},
		{name: "server error", err: ErrServerError, sentinel: ErrServerError},
		{name: "joined rate limit", err: errors.Join(errors.New("llm call"), ErrRateLimited), sentinel: ErrRateLimited},
		{name: "deadline", err: fmt.Errorf("llm call: %w", context.DeadlineExceeded), sentinel: ErrTimeout},
		{name: "network timeout", err: &net.OpError{Op: "read", Err: timeoutError{}}, sentinel: ErrTimeout},
		{name: "cancelled", err: context.Canceled},
		{name: "bad request", err: errors.New("invalid prompt")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err, ok := cfg.retryable(tt.err)
			assert.Equal(t, tt.sentinel != nil, ok)
			if tt.sentinel != nil {
				assert.ErrorIs(t, err, tt.sentinel)
				assert.ErrorIs(t, err, tt.err)
			}
		})
	}
}

func TestRetryConfig_CustomClassifier(t *testing.T) {
	busy := errors.New("model is loading")
	cfg := fastConfig(2)
	cfg.Classify = func(err error) error {
		if errors.Is(err, busy) {
			return fmt.Errorf("%w: %w", ErrServerError, err)
		}
		return err
	}

	attempts := 0
	_, err := WithRetry(context.Background(), cfg, func() (int, error) {
		attempts++
		return 0, busy
	})

	assert.Equal(t, 3, attempts)
	assert.ErrorIs(t, err, ErrServerError)
	assert.ErrorIs(t, err, busy)
}

func TestFromStatus(t *testing.T) {
	base := errors.New("upstream said no")

	tests := []struct {
		status   int
		sentinel error
	}{
		{status: http.StatusTooManyRequests, sentinel: ErrRateLimited},
		{status: http.StatusRequestTimeout, sentinel: ErrTimeout},
		{status: http.StatusGatewayTimeout, sentinel: ErrTimeout},
		{status: http.StatusBadGateway, sentinel: ErrServerError},
		{status: http.StatusBadRequest},
		{status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := FromStatus(tt.status, base)
			assert.ErrorIs(t, err, base)
			if tt.sentinel == nil {
				assert.Equal(t, base, err)
				return
			}
			assert.ErrorIs(t, err, tt.sentinel)
		})
	}
}

func TestRetryConfig_Delay(t *testing.T) {
	cfg := DefaultRetryConfig()

	assert.Equal(t, time.Second, cfg.delay(0))
	assert.Equal(t, 2*time.Second, cfg.delay(1))
	assert.Equal(t, 4*time.Second, cfg.delay(2))
	assert.Equal(t, 30*time.Second, cfg.delay(10))
}

func TestWithRetry_SucceedsAfterRetryableFailures(t *testing.T) {
	attempts := 0
	result, err := WithRetry(context.Background(), fastConfig(3), func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", ErrRateLimited
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, attempts)
}

func TestWithRetry_NonRetryableReturnsImmediately(t *testing.T) {
	boom := errors.New("bad request")
	attempts := 0
	_, err := WithRetry(context.Background(), fastConfig(3), func() (int, error) {
		attempts++
		return 0, boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}

func TestWithRetry_ExhaustsRetries(t *testing.T) {
	attempts := 0
	_, err := WithRetry(context.Background(), fastConfig(2), func() (int, error) {
		attempts++
		return 0, ErrServerError
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerError)
	assert.Contains(t, err.Error(), "max retries (2) exceeded")
	assert.Equal(t, 3, attempts)
}

func TestWithRetry_NoRetriesPassesErrorThrough(t *testing.T) {
	_, err := WithRetry(context.Background(), NoRetries(), func() (int, error) {
		return 0, ErrRateLimited
	})
	assert.Equal(t, ErrRateLimited, err)
}

func TestWithRetry_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := WithRetry(ctx, fastConfig(3), func() (int, error) {
		called = true
		return 1, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestWithRetry_RetriesDeadlinePerCall(t *testing.T) {
	attempts := 0
	result, err := WithRetry(context.Background(), fastConfig(3), func() (string, error) {
		attempts++
		if attempts == 1 {
			return "", fmt.Errorf("llm call: %w", context.DeadlineExceeded)
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 2, attempts)
}

func TestWithRetry_StopsWhenContextEndsMidCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	_, err := WithRetry(ctx, fastConfig(3), func() (int, error) {
		attempts++
		cancel()
		return 0, ErrServerError
	})

	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, ErrServerError)
	assert.NotContains(t, err.Error(), "max retries")
}
