package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/haukened/rr-ruleset/internal/ruleset/common/clock"
	logpkg "github.com/haukened/rr-ruleset/internal/ruleset/common/log"
	"github.com/haukened/rr-ruleset/internal/ruleset/domain"
	"github.com/haukened/rr-ruleset/internal/ruleset/repos/artifact"
	"github.com/haukened/rr-ruleset/internal/ruleset/repos/manifest"
	"github.com/haukened/rr-ruleset/internal/ruleset/repos/parsers"
)

// Compiler turns a rule-set document into a binary artifact.
type Compiler interface {
	Compile(ctx context.Context, jsonPath, binaryPath string) error
}

// Options tunes a Builder.
type Options struct {
	SampleSize  int
	Incremental bool
}

// Outcome is the result of building one rule file.
// Record and Entry are set only when the file produced an artifact.
type Outcome struct {
	RelPath   string
	Record    *domain.CompiledArtifactRecord
	Entry     *manifest.Entry
	Skip      parsers.SkipReason
	Extracted int
	Dropped   int
	Degraded  bool // the previous run had rules for this file, this one has none
}

// Builder parses, writes and compiles a single rule file.
type Builder struct {
	compiler Compiler
	manifest manifest.Manifest
	opts     Options
	logger   logpkg.Logger
	clock    clock.Clock
}

// New constructs a Builder. A nil manifest behaves like manifest.NopManifest.
func New(compiler Compiler, m manifest.Manifest, opts Options, clk clock.Clock, logger logpkg.Logger) *Builder {
	if m == nil {
		m = manifest.NopManifest{}
	}
	return &Builder{compiler: compiler, manifest: m, opts: opts, logger: logger, clock: clk}
}

// Build processes the file at syncRoot/t.RelPath. Skipped files return a zero
// Record and no error. Every failure is a *domain.CompileError naming t.RelPath.
func (b *Builder) Build(ctx context.Context, syncRoot string, t artifact.Target) (Outcome, error) {
	out := Outcome{RelPath: t.RelPath}
	path := filepath.Join(syncRoot, filepath.FromSlash(t.RelPath))

	res := parsers.ParseRuleFile(path, t.RelPath, parsers.Options{SampleSize: b.opts.SampleSize}, b.logger)
	out.Skip, out.Extracted, out.Dropped = res.Skip, res.Extracted, res.Dropped
	prev, known := b.manifest.Lookup(t.RelPath)

	if res.Set == nil {
		if known && prev.RuleCount > 0 {
			out.Degraded = true
			b.logger.Warn(map[string]any{
				"file":           t.RelPath,
				"reason":         res.Skip.String(),
				"previous_rules": prev.RuleCount,
			}, "rule_file_degraded")
		}
		if b.opts.Incremental {
			if err := RemoveOutputs(t.JSONPath, t.BinaryPath); err != nil {
				return out, compileError(t.RelPath, err)
			}
		}
		return out, nil
	}

	data, err := artifact.NewDocument(*res.Set).Encode()
	if err != nil {
		return out, compileError(t.RelPath, err)
	}
	digest := artifact.Digest(data)
	if err := artifact.WriteFile(t.JSONPath, data); err != nil {
		return out, compileError(t.RelPath, err)
	}

	unchanged := b.opts.Incremental && known &&
		prev.Digest == digest && prev.OutRel == t.OutRel && fileExists(t.BinaryPath)
	if !unchanged {
		if err := os.MkdirAll(filepath.Dir(t.BinaryPath), 0o755); err != nil {
			return out, compileError(t.RelPath, err)
		}
		if err := b.compiler.Compile(ctx, t.JSONPath, t.BinaryPath); err != nil {
			var ce *domain.CompileError
			if errors.As(err, &ce) {
				ce.File = t.RelPath
				return out, err
			}
			return out, compileError(t.RelPath, err)
		}
	}

	out.Record = &domain.CompiledArtifactRecord{
		FileName:   filepath.Base(path),
		RelPath:    t.RelPath,
		RuleType:   res.Set.RuleType,
		RuleCount:  res.Set.RuleCount,
		JSONPath:   t.JSONPath,
		BinaryPath: t.BinaryPath,
		Digest:     digest,
		Unchanged:  unchanged,
	}
	out.Entry = &manifest.Entry{
		RelPath:     t.RelPath,
		OutRel:      t.OutRel,
		RuleType:    res.Set.RuleType,
		RuleCount:   res.Set.RuleCount,
		Digest:      digest,
		UpdatedUnix: b.clock.Now().Unix(),
	}

	b.logger.Debug(map[string]any{
		"file":      t.RelPath,
		"rule_type": res.Set.RuleType.String(),
		"rules":     res.Set.RuleCount,
		"unchanged": unchanged,
	}, "compile_done")
	return out, nil
}

// RemoveOutputs deletes the given output files, ignoring ones that do not exist.
func RemoveOutputs(paths ...string) error {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale output: %w", err)
		}
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func compileError(relPath string, err error) error {
	return &domain.CompileError{File: relPath, ExitCode: -1, Err: err}
}
