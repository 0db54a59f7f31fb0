// Package timeout holds the per-operation deadlines applied during a chat run.
package timeout

import (
	"context"
	"time"
)

// TimeoutConfig configures timeout behavior for different operations.
// A zero duration disables that timeout.
type TimeoutConfig struct {
	Run           time.Duration // Whole InitiateChat call
	Turn          time.Duration // One speaker producing one reply
	LLMCall       time.Duration // Per provider request, retries included
	CodeExecution time.Duration // Per executed code block
}

// DefaultTimeoutConfig returns the defaults used when none is configured.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		Run:           0,
		Turn:          0,
		LLMCall:       2 * time.Minute,
		CodeExecution: 10 * time.Minute,
	}
}

// NoTimeouts returns a config with all timeouts disabled
func NoTimeouts() TimeoutConfig {
	return TimeoutConfig{}
}

// With derives a context bounded by d. A non-positive d returns ctx unchanged.
func With(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
