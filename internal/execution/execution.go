// Package execution runs code blocks extracted from chat messages, either as
// local processes in a working directory or inside a throwaway docker container.
package execution

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/darkostanimirovic/groupchat/internal/codeblock"
	"github.com/darkostanimirovic/groupchat/internal/timeout"
)

// ErrUnsafeFilename is returned when a "# filename:" hint escapes the work dir.
var ErrUnsafeFilename = errors.New("groupchat: code filename escapes the work dir")

// TimeoutExitCode is the exit code reported when a block times out.
const TimeoutExitCode = 1

// DefaultImage is the docker image used when none is configured.
const DefaultImage = "python:3-slim"

var filenameHint = regexp.MustCompile(`^\s*#\s*filename:\s*([^\s]+)`)

// Result is the outcome of one code block.
type Result struct {
	ExitCode int
	Output   string
	Duration time.Duration
}

// Backend runs a single block.
type Backend interface {
	Run(ctx context.Context, block codeblock.Block) (Result, error)
	Name() string
}

// Interpreter returns the command and file extension used for lang, or false
// when the language cannot be executed.
func Interpreter(lang string) (cmd string, ext string, ok bool) {
	switch codeblock.Normalize(lang) {
	case "python":
		return "python3", ".py", true
	case "sh":
		return "sh", ".sh", true
	default:
		return "", "", false
	}
}

// Filename picks the file a block is written to: the "# filename:" hint on its
// first line when present, otherwise a name derived from the code hash.
func Filename(block codeblock.Block, ext string) (string, error) {
	first, _, _ := strings.Cut(block.Code, "\n")
	if m := filenameHint.FindStringSubmatch(first); m != nil {
		name := filepath.Clean(m[1])
		if filepath.IsAbs(name) || name == ".." || strings.HasPrefix(name, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: %s", ErrUnsafeFilename, m[1])
		}
		return name, nil
	}
	sum := sha256.Sum256([]byte(block.Code))
	return "tmp_code_" + hex.EncodeToString(sum[:8]) + ext, nil
}

func writeCodeFile(dir string, block codeblock.Block, ext string) (string, error) {
	name, err := Filename(block, ext)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create code dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(block.Code), 0o644); err != nil {
		return "", fmt.Errorf("write code file: %w", err)
	}
	return name, nil
}

// Local runs blocks as child processes with WorkDir as their working directory.
type Local struct {
	WorkDir string
	// Timeout bounds each block. Zero leaves it bounded only by the caller's ctx.
	Timeout time.Duration
	Logger  *slog.Logger
}

func (l *Local) Name() string { return "local" }

func (l *Local) Run(ctx context.Context, block codeblock.Block) (Result, error) {
	interp, ext, ok := Interpreter(block.Lang)
	if !ok {
		return Result{ExitCode: 1, Output: "unknown language " + block.Lang}, nil
	}
	dir, err := filepath.Abs(l.WorkDir)
	if err != nil {
		return Result{}, fmt.Errorf("resolve work dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create work dir: %w", err)
	}
	name, err := writeCodeFile(dir, block, ext)
	if err != nil {
		return Result{}, err
	}

	logger(l.Logger).Debug("executing code block", "backend", "local", "lang", block.Lang, "file", name)
	return run(ctx, l.Timeout, dir, interp, name)
}

// Docker runs blocks with `docker run --rm`, mounting WorkDir at /workspace.
type Docker struct {
	WorkDir string
	Image   string
	Timeout time.Duration
	Logger  *slog.Logger
}

func (d *Docker) Name() string { return "docker" }

func (d *Docker) Run(ctx context.Context, block codeblock.Block) (Result, error) {
	interp, ext, ok := Interpreter(block.Lang)
	if !ok {
		return Result{ExitCode: 1, Output: "unknown language " + block.Lang}, nil
	}
	dir, err := filepath.Abs(d.WorkDir)
	if err != nil {
		return Result{}, fmt.Errorf("resolve work dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create work dir: %w", err)
	}
	name, err := writeCodeFile(dir, block, ext)
	if err != nil {
		return Result{}, err
	}

	args := d.Args(dir, interp, name)
	logger(d.Logger).Debug("executing code block", "backend", "docker", "image", d.image(), "file", name)
	return run(ctx, d.Timeout, "", "docker", args...)
}

// Args builds the docker command line for a file in dir.
func (d *Docker) Args(dir, interp, name string) []string {
	return []string{
		"run", "--rm",
		"--security-opt", "no-new-privileges",
		"-v", dir + ":/workspace",
		"-w", "/workspace",
		d.image(),
		interp, filepath.ToSlash(name),
	}
}

func (d *Docker) image() string {
	if d.Image == "" {
		return DefaultImage
	}
	return d.Image
}

// run executes name under its own deadline. Only that deadline yields a
// timeout result; an ended ctx is returned as an error.
func run(ctx context.Context, limit time.Duration, dir, name string, args ...string) (Result, error) {
	runCtx, cancel := timeout.With(ctx, limit)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = dir
	start := time.Now()
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	// Children that keep the output pipe open must not block Wait forever.
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	result := Result{Output: out.String(), Duration: time.Since(start)}

	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("run %s: %w", name, err)
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.ExitCode = TimeoutExitCode
		result.Output += "Timeout"
		return result, nil
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		return Result{}, fmt.Errorf("run %s: %w", name, err)
	}
	return result, nil
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return l
}
