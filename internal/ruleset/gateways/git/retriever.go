package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	logpkg "github.com/haukened/rr-ruleset/internal/ruleset/common/log"
	"github.com/haukened/rr-ruleset/internal/ruleset/domain"
)

// checkoutDir is the clone target inside the caller's workdir.
const checkoutDir = "checkout"

// waitDelay bounds how long a cancelled git keeps its output pipes open.
const waitDelay = time.Second

// Retriever fetches a single sub-path of a remote repository with the git CLI,
// using a shallow, blob-less, sparse clone so only that path is downloaded.
type Retriever struct {
	gitPath string
	timeout time.Duration
	logger  logpkg.Logger
}

// NewRetriever returns a Retriever that runs gitPath. A zero timeout means
// a retrieval is bounded only by the caller's context.
func NewRetriever(gitPath string, timeout time.Duration, logger logpkg.Logger) *Retriever {
	return &Retriever{gitPath: gitPath, timeout: timeout, logger: logger}
}

// Retrieve clones url into workdir and returns the absolute path of remotePath
// inside the checkout (a file or a directory). An empty remotePath retrieves the
// whole repository. Failures are *domain.FetchError; the Source field is left
// for the caller to fill.
func (r *Retriever) Retrieve(ctx context.Context, url, remotePath, workdir string) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	fail := func(stderr string, err error) (string, error) {
		return "", &domain.FetchError{URL: url, Path: remotePath, Stderr: stderr, Err: err}
	}

	dest := filepath.Join(workdir, checkoutDir)
	start := time.Now()

	if remotePath == "" {
		if stderr, err := r.run(ctx, workdir, "clone", "--depth", "1", "--", url, dest); err != nil {
			return fail(stderr, err)
		}
	} else {
		if stderr, err := r.run(ctx, workdir, "clone", "--depth", "1", "--filter=blob:none", "--sparse", "--", url, dest); err != nil {
			return fail(stderr, err)
		}
		if stderr, err := r.run(ctx, dest, "sparse-checkout", "set", "--no-cone", "/"+remotePath); err != nil {
			return fail(stderr, err)
		}
		if stderr, err := r.run(ctx, dest, "checkout"); err != nil {
			return fail(stderr, err)
		}
	}

	target := filepath.Join(dest, filepath.FromSlash(remotePath))
	if _, err := os.Stat(target); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fail("", domain.ErrSubPathMissing)
		}
		return fail("", err)
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return fail("", err)
	}

	r.logger.Debug(map[string]any{
		"url":         url,
		"remote_path": remotePath,
		"elapsed_ms":  time.Since(start).Milliseconds(),
	}, "git_retrieved")
	return abs, nil
}

// run executes one git command in dir and returns its captured stderr on failure.
func (r *Retriever) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, r.gitPath, args...)
	cmd.Dir = dir
	// never block on credential prompts
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	cmd.WaitDelay = waitDelay

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	r.logger.Debug(map[string]any{"dir": dir, "args": strings.Join(args, " ")}, "git_command")
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("git %s: %w", args[0], ctxErr)
		} else {
			err = fmt.Errorf("git %s: %w", args[0], err)
		}
		return strings.TrimSpace(stderr.String()), err
	}
	return "", nil
}
