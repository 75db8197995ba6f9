package compiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	logpkg "github.com/haukened/rr-ruleset/internal/ruleset/common/log"
	"github.com/haukened/rr-ruleset/internal/ruleset/domain"
)

// waitDelay bounds how long a cancelled compiler keeps its output pipes open.
const waitDelay = time.Second

// SingBox runs `sing-box rule-set compile` to turn a rule-set source document
// into a binary .srs artifact.
type SingBox struct {
	path    string
	timeout time.Duration
	logger  logpkg.Logger
}

// NewSingBox returns a compiler that runs the executable at path.
// A zero timeout leaves each invocation unbounded.
func NewSingBox(path string, timeout time.Duration, logger logpkg.Logger) *SingBox {
	return &SingBox{path: path, timeout: timeout, logger: logger}
}

// Version runs `<path> version` and returns the first line of its output.
// It is used as a preflight check before any work starts.
func (s *SingBox) Version(ctx context.Context) (string, error) {
	out, stderr, _, err := s.run(ctx, "version")
	if err != nil {
		if stderr != "" {
			return "", fmt.Errorf("%s version: %w: %s", s.path, err, stderr)
		}
		return "", fmt.Errorf("%s version: %w", s.path, err)
	}
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	return line, nil
}

// Compile compiles jsonPath into binaryPath. Any failure is a *domain.CompileError
// whose File is jsonPath; ExitCode is -1 when the compiler could not be started
// or was stopped by the timeout.
func (s *SingBox) Compile(ctx context.Context, jsonPath, binaryPath string) error {
	start := time.Now()
	_, stderr, code, err := s.run(ctx, "rule-set", "compile", jsonPath, "-o", binaryPath)
	if err != nil {
		return &domain.CompileError{File: jsonPath, ExitCode: code, Stderr: stderr, Err: err}
	}
	s.logger.Debug(map[string]any{
		"json":       jsonPath,
		"binary":     binaryPath,
		"elapsed_ms": time.Since(start).Milliseconds(),
	}, "compiler_invoked")
	return nil
}

// run executes the compiler with args, returning stdout, stderr and the exit code.
func (s *SingBox) run(ctx context.Context, args ...string) (string, string, int, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, s.path, args...)
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.String(), "", 0, nil
	}

	errText := strings.TrimSpace(stderr.String())
	if ctxErr := ctx.Err(); ctxErr != nil {
		return stdout.String(), errText, -1, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.String(), errText, exitErr.ExitCode(), err
	}
	// compiler failed to start (e.g., not installed)
	return stdout.String(), errText, -1, err
}
