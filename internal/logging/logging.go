// Package logging resolves slog loggers and redacts credentials before they reach output.
package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	// Logger overrides the logger if provided.
	Logger *slog.Logger

	// Handler is used to build a logger if Logger is nil.
	Handler slog.Handler

	// Level is used when creating a default handler if Logger and Handler are nil.
	Level slog.Level

	// LogPrompts logs every prompt sent to a provider at debug level.
	LogPrompts bool

	// LogResponses logs LLM response summaries.
	LogResponses bool

	// RedactSensitive masks credential-like keys in logged values.
	RedactSensitive bool
}

// DefaultLoggingConfig returns default logging configuration.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:           slog.LevelInfo,
		LogPrompts:      true,
		LogResponses:    false,
		RedactSensitive: true,
	}
}

// Silent returns a config that discards all output.
func (c LoggingConfig) Silent() *LoggingConfig {
	c.Logger = nil
	c.Handler = slog.NewTextHandler(io.Discard, nil)
	return &c
}

// Verbose returns a config that logs at debug level with responses enabled.
func (c LoggingConfig) Verbose() *LoggingConfig {
	c.Level = slog.LevelDebug
	c.LogPrompts = true
	c.LogResponses = true
	return &c
}

// ResolveLogger builds the logger described by cfg. It writes to stderr by default
// so stdout stays reserved for the conversation transcript.
func ResolveLogger(cfg LoggingConfig) *slog.Logger {
	if cfg.Logger != nil {
		return cfg.Logger
	}
	if cfg.Handler != nil {
		return slog.New(cfg.Handler)
	}

	level := cfg.Level
	if level == 0 {
		level = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

const redacted = "[redacted]"

var sensitiveKeys = map[string]struct{}{
	"api_key":        {},
	"apikey":         {},
	"authorization":  {},
	"token":          {},
	"password":       {},
	"secret":         {},
	"access_token":   {},
	"client_secret":  {},
	"bearer":         {},
	"x-api-key":      {},
	"openai_api_key": {},
	"openai_key":     {},
	"azure_key":      {},
}

// Redact returns a copy of value with sensitive keys masked. The value is
// normalised through JSON first so structs and typed maps are handled alike.
func Redact(value any) any {
	data, err := json.Marshal(value)
	if err != nil {
		return value
	}

	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return value
	}

	return redactAny(decoded)
}

func redactAny(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			if IsSensitiveKey(key) {
				out[key] = maskValue(val)
				continue
			}
			out[key] = redactAny(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = redactAny(item)
		}
		return out
	default:
		return value
	}
}

// maskValue keeps empty and placeholder credentials visible; they are not secrets
// and showing them helps diagnose a missing variable.
func maskValue(val any) any {
	s, ok := val.(string)
	if !ok || s == "" || s == "NULL" {
		return val
	}
	return redacted
}

// IsSensitiveKey reports whether key names a credential.
func IsSensitiveKey(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}
