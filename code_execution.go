package groupchat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/darkostanimirovic/groupchat/internal/codeblock"
	"github.com/darkostanimirovic/groupchat/internal/execution"
)

// DefaultWorkDir is used when a CodeExecutionConfig names no directory.
const DefaultWorkDir = "extensions"

// CodeExecutionConfig enables running the code blocks an agent receives.
// A nil config disables code execution.
type CodeExecutionConfig struct {
	// WorkDir is where code files are written and run.
	WorkDir string
	// UseDocker runs blocks in a container instead of on the host.
	UseDocker bool
	// Image is the docker image; it defaults to python:3-slim.
	Image string
	// Timeout bounds each block. Zero falls back to the agent's TimeoutConfig.
	Timeout time.Duration
	// LastNMessages is how many trailing messages are scanned for code. Defaults to 1.
	LastNMessages int
}

// codeExecutor runs fenced blocks for one agent.
type codeExecutor struct {
	backend       execution.Backend
	lastNMessages int
}

func newCodeExecutor(cfg *CodeExecutionConfig, fallbackTimeout time.Duration, logger *slog.Logger) *codeExecutor {
	if cfg == nil {
		return nil
	}
	dir := cfg.WorkDir
	if dir == "" {
		dir = DefaultWorkDir
	}
	d := cfg.Timeout
	if d == 0 {
		d = fallbackTimeout
	}
	var backend execution.Backend = &execution.Local{WorkDir: dir, Timeout: d, Logger: logger}
	if cfg.UseDocker {
		backend = &execution.Docker{WorkDir: dir, Image: cfg.Image, Timeout: d, Logger: logger}
	}
	n := cfg.LastNMessages
	if n <= 0 {
		n = 1
	}
	return &codeExecutor{backend: backend, lastNMessages: n}
}

// findBlocks returns the blocks of the most recent message, among the last n,
// that contains any.
func (e *codeExecutor) findBlocks(history []Message) []codeblock.Block {
	for i := len(history) - 1; i >= 0 && i >= len(history)-e.lastNMessages; i-- {
		if blocks := codeblock.Extract(history[i].Text()); len(blocks) > 0 {
			return blocks
		}
	}
	return nil
}

// execute runs blocks in order and stops at the first failure. The returned
// text is the reply fed back into the conversation.
func (e *codeExecutor) execute(ctx context.Context, agent string, blocks []codeblock.Block) (string, int, error) {
	mws := getMiddleware(ctx)
	outputs := make([]string, 0, len(blocks))
	exitCode := 0

	for i, block := range blocks {
		args := map[string]any{"lang": block.Lang, "index": i}
		toolCtx := ctx
		for _, mw := range mws {
			toolCtx = mw.OnToolStart(toolCtx, agent, "code_execution", args)
		}

		res, err := e.backend.Run(toolCtx, block)

		for _, mw := range mws {
			mw.OnToolComplete(toolCtx, agent, "code_execution", res.Output, err)
		}
		if err != nil {
			return "", 0, fmt.Errorf("%s: execute code block %d: %w", agent, i, err)
		}

		outputs = append(outputs, res.Output)
		exitCode = res.ExitCode
		publish(ctx, CodeExecuted(agent, res.ExitCode, res.Output))
		if res.ExitCode != 0 {
			break
		}
	}

	return formatExecutionResult(exitCode, strings.Join(outputs, "\n")), exitCode, nil
}

func formatExecutionResult(exitCode int, output string) string {
	status := "execution succeeded"
	if exitCode != 0 {
		status = "execution failed"
	}
	return fmt.Sprintf("exitcode: %d (%s)\nCode output: %s", exitCode, status, output)
}
