package logging

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLoggingConfig(t *testing.T) {
	cfg := DefaultLoggingConfig()

	assert.Equal(t, slog.LevelInfo, cfg.Level)
	assert.True(t, cfg.LogPrompts)
	assert.False(t, cfg.LogResponses)
	assert.True(t, cfg.RedactSensitive)
}

func TestSilentLoggingConfig(t *testing.T) {
	cfg := LoggingConfig{}.Silent()

	require.NotNil(t, cfg)
	assert.NotNil(t, cfg.Handler)
}

func TestVerboseLoggingConfig(t *testing.T) {
	cfg := LoggingConfig{}.Verbose()

	require.NotNil(t, cfg)
	assert.Equal(t, slog.LevelDebug, cfg.Level)
	assert.True(t, cfg.LogResponses)
}

func TestResolveLogger_WithProvidedLogger(t *testing.T) {
	var buf bytes.Buffer
	customLogger := slog.New(slog.NewTextHandler(&buf, nil))

	logger := ResolveLogger(LoggingConfig{Logger: customLogger})
	assert.Same(t, customLogger, logger)
}

func TestResolveLogger_WithHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := ResolveLogger(LoggingConfig{Handler: slog.NewTextHandler(&buf, nil)})
	require.NotNil(t, logger)

	logger.Info("test message")
	assert.Contains(t, buf.String(), "test message")
}

func TestResolveLogger_DefaultToStderr(t *testing.T) {
	oldStderr := os.Stderr
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stderr = w

	logger := ResolveLogger(LoggingConfig{})
	logger.Info("test message to stderr")

	w.Close()
	os.Stderr = oldStderr

	output, _ := io.ReadAll(r)
	assert.Contains(t, string(output), "test message to stderr")
}

func TestRedact(t *testing.T) {
	input := map[string]any{
		"model":   "gpt-4",
		"api_key": "sk-secret",
		"nested": []any{
			map[string]any{"azure_key": "az-secret", "azure_version": "2023-05-15"},
		},
		"openai_key": "",
	}

	out, ok := Redact(input).(map[string]any)
	require.True(t, ok)

	assert.Equal(t, "gpt-4", out["model"])
	assert.Equal(t, "[redacted]", out["api_key"])
	assert.Equal(t, "", out["openai_key"], "empty credentials stay visible")

	nested := out["nested"].([]any)[0].(map[string]any)
	assert.Equal(t, "[redacted]", nested["azure_key"])
	assert.Equal(t, "2023-05-15", nested["azure_version"])

	assert.Equal(t, "sk-secret", input["api_key"], "input must not be mutated")
}

func TestRedact_PlaceholderCredential(t *testing.T) {
	out := Redact(map[string]any{"api_key": "NULL"}).(map[string]any)
	assert.Equal(t, "NULL", out["api_key"])
}

func TestIsSensitiveKey(t *testing.T) {
	assert.True(t, IsSensitiveKey(" API_KEY "))
	assert.True(t, IsSensitiveKey("azure_key"))
	assert.False(t, IsSensitiveKey("azure_endpoint"))
}
