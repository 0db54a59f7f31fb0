// Package codeblock extracts fenced code blocks from chat messages.
package codeblock

import (
	"regexp"
	"strings"
)

// Block is one fenced code block.
type Block struct {
	Lang string
	Code string
}

var fence = regexp.MustCompile("(?s)```[ \\t]*(\\w+)?[ \\t]*\\r?\\n(.*?)\\r?\\n[ \\t]*```")

var shellPrefixes = []string{"python ", "python3 ", "pip ", "pip3 ", "sh ", "bash ", "ls", "cd ", "echo "}

// Extract returns every fenced block in text, in order. Blocks without a
// language tag have it inferred.
func Extract(text string) []Block {
	matches := fence.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	blocks := make([]Block, 0, len(matches))
	for _, m := range matches {
		lang := strings.ToLower(m[1])
		code := m[2]
		if lang == "" {
			lang = InferLang(code)
		}
		blocks = append(blocks, Block{Lang: lang, Code: code})
	}
	return blocks
}

// InferLang guesses between shell and python for an untagged block.
func InferLang(code string) string {
	trimmed := strings.TrimSpace(code)
	for _, prefix := range shellPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return "sh"
		}
	}
	return "python"
}

// Normalize maps language aliases onto the interpreters an executor knows.
func Normalize(lang string) string {
	switch strings.ToLower(lang) {
	case "python", "py", "python3":
		return "python"
	case "sh", "bash", "shell", "zsh", "console":
		return "sh"
	default:
		return strings.ToLower(lang)
	}
}
