package syncer

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/haukened/rr-ruleset/internal/ruleset/common/clock"
	logpkg "github.com/haukened/rr-ruleset/internal/ruleset/common/log"
	"github.com/haukened/rr-ruleset/internal/ruleset/domain"
	"github.com/haukened/rr-ruleset/internal/ruleset/repos/layout"
)

// Retriever obtains one sub-path of a remote repository into workdir and
// returns the absolute path of the retrieved file or directory.
type Retriever interface {
	Retrieve(ctx context.Context, url, remotePath, workdir string) (string, error)
}

// Options configures a Syncer.
type Options struct {
	SyncDir  string   // synchronization root, recreated on every Sync
	Wrappers []string // wrapper directory names hoisted after each copy
	TempDir  string   // parent of per-source scratch workspaces; empty uses os.TempDir
}

// Report counts sources processed by Sync.
type Report struct {
	Attempted int
	Succeeded int
}

// Syncer mirrors every configured source into the synchronization root.
type Syncer struct {
	retriever Retriever
	opts      Options
	logger    logpkg.Logger
	clock     clock.Clock
}

// New constructs a Syncer.
func New(retriever Retriever, opts Options, clk clock.Clock, logger logpkg.Logger) *Syncer {
	return &Syncer{retriever: retriever, opts: opts, logger: logger, clock: clk}
}

// Sync recreates the sync root, then retrieves, copies and normalizes each source
// in declaration order. Sources sharing a LocalSubdir overwrite each other, the
// later declaration winning on file collisions. The first failure aborts the sync
// and is returned as a *domain.FetchError.
func (s *Syncer) Sync(ctx context.Context, sources []domain.SourceDescriptor) (Report, error) {
	var rep Report
	if err := layout.ResetDir(s.opts.SyncDir); err != nil {
		return rep, err
	}

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return rep, s.fetchError(src, err)
		}
		rep.Attempted++
		start := s.clock.Now()
		if err := s.syncOne(ctx, src); err != nil {
			s.logger.Error(map[string]any{
				"source": src.DisplayName(),
				"url":    src.URL,
				"error":  err.Error(),
			}, "source_sync_failed")
			return rep, err
		}
		rep.Succeeded++
		s.logger.Info(map[string]any{
			"source":       src.DisplayName(),
			"remote_path":  src.RemotePath,
			"local_subdir": src.LocalSubdir,
			"elapsed_ms":   s.clock.Now().Sub(start).Milliseconds(),
		}, "source_synced")
	}
	return rep, nil
}

func (s *Syncer) syncOne(ctx context.Context, src domain.SourceDescriptor) (err error) {
	workdir, err := os.MkdirTemp(s.opts.TempDir, "rr-ruleset-*")
	if err != nil {
		return s.fetchError(src, err)
	}
	defer func() {
		if rmErr := os.RemoveAll(workdir); rmErr != nil {
			if err != nil {
				err = multierr.Append(err, rmErr)
				return
			}
			s.logger.Warn(map[string]any{"workdir": workdir, "error": rmErr.Error()}, "workdir_cleanup_failed")
		}
	}()

	retrieved, err := s.retriever.Retrieve(ctx, src.URL, src.RemotePath, workdir)
	if err != nil {
		return s.fetchError(src, err)
	}

	dest := filepath.Join(s.opts.SyncDir, src.LocalSubdir)
	if err := layout.CopyTree(retrieved, dest); err != nil {
		return s.fetchError(src, err)
	}
	if err := layout.Normalize(dest, s.opts.Wrappers); err != nil {
		return s.fetchError(src, err)
	}
	return nil
}

// fetchError attributes err to src, reusing an existing FetchError when present.
func (s *Syncer) fetchError(src domain.SourceDescriptor, err error) error {
	var fe *domain.FetchError
	if errors.As(err, &fe) {
		fe.Source = src.DisplayName()
		if fe.URL == "" {
			fe.URL = src.URL
		}
		if fe.Path == "" {
			fe.Path = src.RemotePath
		}
		return err
	}
	return &domain.FetchError{Source: src.DisplayName(), URL: src.URL, Path: src.RemotePath, Err: err}
}
