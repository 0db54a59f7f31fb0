// Package tokenizer counts prompt tokens for context-window budgeting.
package tokenizer

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Counter counts tokens in a piece of text.
type Counter interface {
	CountTokens(text string) int
}

const defaultEncoding = "cl100k_base"

var modelEncodings = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4o-mini":   "o200k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-4-32k":     "cl100k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

// EncodingFor maps a model name to its tiktoken encoding. Unknown models,
// including local ones, use cl100k_base.
func EncodingFor(model string) string {
	if enc, ok := modelEncodings[model]; ok {
		return enc
	}
	best := ""
	for prefix := range modelEncodings {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best != "" {
		return modelEncodings[best]
	}
	return defaultEncoding
}

// Tiktoken counts with a tiktoken encoding, loaded on first use. If the
// encoding cannot be loaded (no network for the BPE file, unknown name) it
// falls back to Estimate and logs once.
type Tiktoken struct {
	encoding string
	logger   *slog.Logger

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// NewTiktoken creates a counter for model.
func NewTiktoken(model string, logger *slog.Logger) *Tiktoken {
	return NewTiktokenEncoding(EncodingFor(model), logger)
}

// NewTiktokenEncoding creates a counter for a named encoding.
func NewTiktokenEncoding(encoding string, logger *slog.Logger) *Tiktoken {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tiktoken{encoding: encoding, logger: logger}
}

func (t *Tiktoken) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			t.logger.Warn("token counting falls back to estimate", "error", t.initErr)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// CountTokens implements Counter.
func (t *Tiktoken) CountTokens(text string) int {
	if err := t.init(); err != nil {
		return Estimate{}.CountTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Encoding returns the encoding name in use.
func (t *Tiktoken) Encoding() string { return t.encoding }

// Estimate approximates four characters per token.
type Estimate struct{}

// CountTokens implements Counter.
func (Estimate) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
