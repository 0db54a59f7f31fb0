package groupchat

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/darkostanimirovic/groupchat/internal/logging"
	"github.com/darkostanimirovic/groupchat/internal/timeout"
	"github.com/darkostanimirovic/groupchat/providers"
)

// Type aliases for internal package types
type (
	LoggingConfig = logging.LoggingConfig
	TimeoutConfig = timeout.TimeoutConfig
)

// Function re-exports for convenience
var (
	DefaultLoggingConfig = logging.DefaultLoggingConfig
	DefaultTimeoutConfig = timeout.DefaultTimeoutConfig
	NoTimeouts           = timeout.NoTimeouts
)

const defaultPromptLogPath = "groupchat-prompts.log"

// PromptLog appends one JSON line per provider call. It is safe for concurrent use.
type PromptLog struct {
	mu     sync.Mutex
	path   string
	redact bool
}

// PromptEntry is one line of the prompt log.
type PromptEntry struct {
	Time      time.Time            `json:"time"`
	ChatID    string               `json:"chat_id,omitempty"`
	Round     int                  `json:"round,omitempty"`
	Agent     string               `json:"agent"`
	Model     string               `json:"model,omitempty"`
	System    string               `json:"system,omitempty"`
	Messages  []providers.Message  `json:"messages"`
	Tools     []string             `json:"tools,omitempty"`
	Response  string               `json:"response,omitempty"`
	ToolCalls []providers.ToolCall `json:"tool_calls,omitempty"`
	Usage     *providers.TokenUsage `json:"usage,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// NewPromptLog returns a prompt log writing to path, or to
// groupchat-prompts.log when path is empty. Tool call arguments are redacted
// when redact is set.
func NewPromptLog(path string, redact bool) (*PromptLog, error) {
	if strings.TrimSpace(path) == "" {
		path = defaultPromptLogPath
	}
	safePath, err := sanitizePromptLogPath(path)
	if err != nil {
		return nil, err
	}
	return &PromptLog{path: safePath, redact: redact}, nil
}

// Path returns the absolute path being written.
func (p *PromptLog) Path() string {
	return p.path
}

// Write appends entry as a JSON line.
func (p *PromptLog) Write(entry PromptEntry) error {
	if p == nil {
		return nil
	}
	if entry.Time.IsZero() {
		entry.Time = time.Now()
	}

	var payload any = entry
	if p.redact {
		payload = logging.Redact(entry)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return writeJSONLine(p.path, payload)
}

func writeJSONLine(path string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if err := ensureLogDir(path); err != nil {
		return err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600) // #nosec G304 -- path sanitized by sanitizePromptLogPath
	if err != nil {
		return err
	}
	defer func() {
		_ = file.Close()
	}()

	_, err = file.Write(append(data, '\n'))
	return err
}

func sanitizePromptLogPath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("prompt log path is empty")
	}

	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("resolve prompt log path: %w", err)
	}
	if absPath == string(filepath.Separator) {
		return "", errors.New("prompt log path is invalid")
	}

	return absPath, nil
}

func ensureLogDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create prompt log directory: %w", err)
	}
	return nil
}
