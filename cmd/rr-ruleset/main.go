package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/multierr"

	"github.com/haukened/rr-ruleset/internal/ruleset/common/clock"
	"github.com/haukened/rr-ruleset/internal/ruleset/common/log"
	"github.com/haukened/rr-ruleset/internal/ruleset/config"
	"github.com/haukened/rr-ruleset/internal/ruleset/domain"
	"github.com/haukened/rr-ruleset/internal/ruleset/gateways/compiler"
	"github.com/haukened/rr-ruleset/internal/ruleset/gateways/git"
	"github.com/haukened/rr-ruleset/internal/ruleset/repos/manifest"
	"github.com/haukened/rr-ruleset/internal/ruleset/repos/manifest/bloom"
	"github.com/haukened/rr-ruleset/internal/ruleset/repos/manifest/bolt"
	"github.com/haukened/rr-ruleset/internal/ruleset/repos/manifest/lru"
	"github.com/haukened/rr-ruleset/internal/ruleset/services/builder"
	"github.com/haukened/rr-ruleset/internal/ruleset/services/pipeline"
	"github.com/haukened/rr-ruleset/internal/ruleset/services/syncer"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "rr-ruleset"

	// manifestCacheSize bounds the manifest's in-memory entry cache.
	manifestCacheSize = 4096

	// summaryEnv names the file CI runners collect step summaries from.
	summaryEnv = "GITHUB_STEP_SUMMARY"
)

// Application holds the wired pipeline and the resources it must release.
type Application struct {
	config       *config.AppConfig
	orchestrator *pipeline.Orchestrator
	manifest     manifest.Manifest
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run is main without the process exit, returning the exit status.
func run(args []string, stdout, stderr io.Writer) int {
	fs := config.NewFlagSet(appName)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Argument error: %v\n", err)
		return 1
	}
	if v, _ := fs.GetBool("version"); v {
		fmt.Fprintf(stdout, "%s %s\n", appName, version)
		return 0
	}

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 1
	}

	if err := log.Configure(cfg.Env, cfg.LogLevel); err != nil {
		fmt.Fprintf(stderr, "Logging configuration error: %v\n", err)
		return 1
	}

	sources, err := config.LoadSources(cfg.Sources)
	if err != nil {
		log.Error(map[string]any{"error": err.Error()}, "Failed to load sources")
		return 1
	}

	log.Info(map[string]any{
		"version":     version,
		"env":         cfg.Env,
		"log_level":   cfg.LogLevel,
		"sources":     len(sources),
		"sync_dir":    cfg.SyncDir,
		"json_dir":    cfg.JSONDir,
		"binary_dir":  cfg.BinaryDir,
		"workers":     cfg.Workers,
		"incremental": cfg.Incremental,
	}, "Starting rule-set build")

	app, err := buildApplication(cfg, sources)
	if err != nil {
		log.Error(map[string]any{"error": err.Error()}, "Failed to build application")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		log.Error(map[string]any{"error": err.Error()}, "Rule-set build failed")
		return 1
	}
	log.Info(nil, "Rule-set build completed")
	return 0
}

// buildApplication constructs all components and wires them together
func buildApplication(cfg *config.AppConfig, sources []domain.SourceDescriptor) (*Application, error) {
	clk := &clock.RealClock{}
	logger := log.GetLogger()

	repos, err := buildRepositories(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build repositories: %w", err)
	}

	gws := buildGateways(cfg, logger)

	syncService := syncer.New(gws.retriever, syncer.Options{
		SyncDir:  cfg.SyncDir,
		Wrappers: cfg.Wrappers,
	}, clk, logger)

	buildService := builder.New(gws.compiler, repos.manifest, builder.Options{
		SampleSize:  cfg.SampleSize,
		Incremental: cfg.Incremental,
	}, clk, logger)

	orchestrator := pipeline.NewOrchestrator(pipeline.OrchestratorOptions{
		Builder:     buildService,
		Clock:       clk,
		Compiler:    gws.compiler,
		Logger:      logger,
		Manifest:    repos.manifest,
		Sources:     sources,
		Syncer:      syncService,
		SyncDir:     cfg.SyncDir,
		JSONDir:     cfg.JSONDir,
		BinaryDir:   cfg.BinaryDir,
		Workers:     cfg.Workers,
		Incremental: cfg.Incremental,
		ReportPath:  cfg.ReportPath,
		SummaryPath: os.Getenv(summaryEnv),
	})

	return &Application{
		config:       cfg,
		orchestrator: orchestrator,
		manifest:     repos.manifest,
	}, nil
}

// repositories holds all repository implementations
type repositories struct {
	manifest manifest.Manifest
}

// gateways holds all gateway implementations
type gateways struct {
	retriever *git.Retriever
	compiler  *compiler.SingBox
}

// buildRepositories creates and configures all repository implementations
func buildRepositories(cfg *config.AppConfig, logger log.Logger) (*repositories, error) {
	if cfg.StateDB == "" {
		log.Info(map[string]any{"disabled": true}, "Build manifest disabled")
		return &repositories{manifest: manifest.NopManifest{}}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.StateDB), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	store, err := bolt.New(cfg.StateDB)
	if err != nil {
		return nil, fmt.Errorf("failed to open build manifest: %w", err)
	}
	cache, err := lru.New(manifestCacheSize)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to create manifest cache: %w", err), store.Close())
	}
	m, err := manifest.New(store, cache, bloom.NewFactory(), bloom.DefaultFPRate, logger)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to load build manifest: %w", err), store.Close())
	}

	log.Info(map[string]any{
		"path":       cfg.StateDB,
		"cache_size": manifestCacheSize,
		"entries":    m.Stats().Store.Entries,
	}, "Build manifest configured")

	return &repositories{manifest: m}, nil
}

// buildGateways creates and configures all gateway implementations
func buildGateways(cfg *config.AppConfig, logger log.Logger) *gateways {
	log.Info(map[string]any{
		"git":             cfg.Git,
		"compiler":        cfg.Compiler,
		"fetch_timeout":   cfg.FetchTimeout.String(),
		"compile_timeout": cfg.CompileTimeout.String(),
	}, "External tools configured")

	return &gateways{
		retriever: git.NewRetriever(cfg.Git, cfg.FetchTimeout, logger),
		compiler:  compiler.NewSingBox(cfg.Compiler, cfg.CompileTimeout, logger),
	}
}

// Run executes one build and releases the manifest.
func (app *Application) Run(ctx context.Context) error {
	_, err := app.orchestrator.Run(ctx)
	if closeErr := app.manifest.Close(); closeErr != nil {
		err = multierr.Append(err, fmt.Errorf("close build manifest: %w", closeErr))
	}
	return err
}
