package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/haukened/rr-ruleset/internal/ruleset/common/clock"
	logpkg "github.com/haukened/rr-ruleset/internal/ruleset/common/log"
	"github.com/haukened/rr-ruleset/internal/ruleset/domain"
	"github.com/haukened/rr-ruleset/internal/ruleset/repos/artifact"
	"github.com/haukened/rr-ruleset/internal/ruleset/repos/layout"
	"github.com/haukened/rr-ruleset/internal/ruleset/repos/manifest"
	"github.com/haukened/rr-ruleset/internal/ruleset/services/builder"
)

// DefaultWorkers is the compile pool size when none is configured.
const DefaultWorkers = 4

// Orchestrator drives a run through Initializing, Syncing, Compiling and Reporting.
type Orchestrator struct {
	builder  Builder
	clock    clock.Clock
	compiler VersionChecker
	logger   logpkg.Logger
	manifest manifest.Manifest
	planner  artifact.Planner
	sources  []domain.SourceDescriptor
	syncer   Syncer

	syncDir     string
	workers     int
	incremental bool
	reportPath  string
	summaryPath string
	topFiles    int
}

// OrchestratorOptions wires an Orchestrator.
type OrchestratorOptions struct {
	Builder  Builder
	Clock    clock.Clock
	Compiler VersionChecker // optional preflight
	Logger   logpkg.Logger
	Manifest manifest.Manifest // optional; nil remembers nothing
	Sources  []domain.SourceDescriptor
	Syncer   Syncer

	SyncDir     string
	JSONDir     string
	BinaryDir   string
	Workers     int
	Incremental bool   // keep output trees and prune only what vanished
	ReportPath  string // optional JSON report
	SummaryPath string // optional markdown summary, appended
	TopFiles    int    // files listed by rule count in the summary
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	m := opts.Manifest
	if m == nil {
		m = manifest.NopManifest{}
	}
	top := opts.TopFiles
	if top <= 0 {
		top = defaultTopFiles
	}
	return &Orchestrator{
		builder:     opts.Builder,
		clock:       opts.Clock,
		compiler:    opts.Compiler,
		logger:      opts.Logger,
		manifest:    m,
		planner:     artifact.Planner{JSONDir: opts.JSONDir, BinaryDir: opts.BinaryDir},
		sources:     opts.Sources,
		syncer:      opts.Syncer,
		syncDir:     opts.SyncDir,
		workers:     workers,
		incremental: opts.Incremental,
		reportPath:  opts.ReportPath,
		summaryPath: opts.SummaryPath,
		topFiles:    top,
	}
}

// Run executes one full run. Reporting always happens, also after a failure;
// the returned error is the failure that stopped the run.
func (o *Orchestrator) Run(ctx context.Context) (RunStatistics, error) {
	rec := newRecorder(o.clock.Now())
	err := o.run(ctx, rec)
	if err != nil {
		var ce *domain.CompileError
		file := ""
		if errors.As(err, &ce) {
			file = ce.File
		}
		rec.fail(file, err)
	}

	rec.enter(PhaseReporting)
	stats := rec.finish(o.clock.Now())
	if repErr := o.report(stats); repErr != nil {
		o.logger.Error(map[string]any{"error": repErr.Error()}, "report_failed")
		if err == nil {
			err = repErr
			stats.Phase = PhaseFailed
			stats.Failure = &Failure{Phase: PhaseReporting, Detail: repErr.Error()}
		}
	}
	return stats, err
}

func (o *Orchestrator) run(ctx context.Context, rec *recorder) error {
	if o.compiler != nil {
		v, err := o.compiler.Version(ctx)
		if err != nil {
			return fmt.Errorf("compiler preflight: %w", err)
		}
		o.logger.Info(map[string]any{"version": v}, "compiler_found")
	}
	if err := o.prepareOutputs(); err != nil {
		return err
	}

	rec.enter(PhaseSyncing)
	rep, err := o.syncer.Sync(ctx, o.sources)
	rec.synced(rep)
	if err != nil {
		return err
	}

	rec.enter(PhaseCompiling)
	files, err := layout.RuleFiles(o.syncDir)
	if err != nil {
		return fmt.Errorf("enumerate rule files: %w", err)
	}
	targets := o.planner.Plan(files)
	o.logger.Info(map[string]any{"files": len(files), "workers": o.workers}, "compile_started")

	entries, err := o.compile(ctx, files, targets, rec)
	if err != nil {
		return err
	}
	if err := o.reconcile(targets, rec); err != nil {
		return err
	}
	if err := o.manifest.Commit(entries, o.clock.Now().Unix()); err != nil {
		return fmt.Errorf("commit manifest: %w", err)
	}
	return nil
}

// prepareOutputs recreates both output trees, or only ensures they exist in incremental mode.
func (o *Orchestrator) prepareOutputs() error {
	for _, dir := range []string{o.planner.JSONDir, o.planner.BinaryDir} {
		var err error
		if o.incremental {
			err = os.MkdirAll(dir, 0o755)
		} else {
			err = layout.ResetDir(dir)
		}
		if err != nil {
			return fmt.Errorf("prepare outputs: %w", err)
		}
	}
	return nil
}

type buildResult struct {
	out builder.Outcome
	err error
}

// compile fans files out over the worker pool. The first failure stops
// dispatch; a failing worker cancels before reporting, so jobs handed out
// after that are dropped. Builds already running finish under a context the
// failure does not cancel. Entries are returned sorted by RelPath.
func (o *Orchestrator) compile(ctx context.Context, files []string, targets map[string]artifact.Target, rec *recorder) ([]manifest.Entry, error) {
	dispatchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	workCtx := context.WithoutCancel(ctx)

	jobs := make(chan artifact.Target)
	results := make(chan buildResult)

	var wg sync.WaitGroup
	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				// a job handed over after the stop is dropped unbuilt
				if dispatchCtx.Err() != nil {
					continue
				}
				out, err := o.builder.Build(workCtx, o.syncDir, t)
				if err != nil {
					cancel()
				}
				results <- buildResult{out: out, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, f := range files {
			if dispatchCtx.Err() != nil {
				return
			}
			select {
			case <-dispatchCtx.Done():
				return
			case jobs <- targets[f]:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var firstErr error
	var entries []manifest.Entry
	for r := range results {
		rec.built(r.out, r.err)
		if r.err != nil {
			o.logger.Error(map[string]any{"file": r.out.RelPath, "error": r.err.Error()}, "compile_failed")
			if firstErr == nil {
				firstErr = r.err
				cancel()
			}
			continue
		}
		if r.out.Entry != nil {
			entries = append(entries, *r.out.Entry)
		}
	}
	if firstErr == nil {
		firstErr = ctx.Err()
	}
	if firstErr != nil {
		return nil, firstErr
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].RelPath < entries[j].RelPath })
	return entries, nil
}

// reconcile handles files the manifest remembers but this run did not see,
// and in incremental mode removes outputs no current file claims.
func (o *Orchestrator) reconcile(targets map[string]artifact.Target, rec *recorder) error {
	prev, err := o.manifest.Entries()
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	claimed := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		claimed[t.OutRel] = struct{}{}
	}

	for _, e := range prev {
		_, present := targets[e.RelPath]
		if !present && e.RuleCount > 0 {
			rec.degraded()
			o.logger.Warn(map[string]any{
				"file":           e.RelPath,
				"previous_rules": e.RuleCount,
			}, "rule_file_vanished")
		}
		if !o.incremental {
			continue
		}
		if _, ok := claimed[e.OutRel]; ok {
			continue
		}
		jsonPath, binaryPath := o.planner.Outputs(e.OutRel)
		if err := builder.RemoveOutputs(jsonPath, binaryPath); err != nil {
			return err
		}
		o.logger.Debug(map[string]any{"file": e.RelPath, "out": e.OutRel}, "stale_outputs_pruned")
	}
	return nil
}
