package pipeline

import (
	"context"

	"github.com/haukened/rr-ruleset/internal/ruleset/domain"
	"github.com/haukened/rr-ruleset/internal/ruleset/repos/artifact"
	"github.com/haukened/rr-ruleset/internal/ruleset/services/builder"
	"github.com/haukened/rr-ruleset/internal/ruleset/services/syncer"
)

// Syncer mirrors the configured sources into the synchronization root.
type Syncer interface {
	Sync(ctx context.Context, sources []domain.SourceDescriptor) (syncer.Report, error)
}

// Builder turns one planned rule file into its artifacts. It must be safe for concurrent use.
type Builder interface {
	Build(ctx context.Context, syncRoot string, t artifact.Target) (builder.Outcome, error)
}

// VersionChecker confirms the compiler is runnable before any work starts.
type VersionChecker interface {
	Version(ctx context.Context) (string, error)
}
