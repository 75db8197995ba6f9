package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/haukened/rr-ruleset/internal/ruleset/domain"
)

// AppConfig holds the pipeline configuration, merged from defaults,
// RULESET_* environment variables and command-line flags (highest precedence).
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// Sources is the path of the source descriptor file (JSON, JSONC, YAML or TOML).
	Sources string `koanf:"sources" validate:"required"`

	// SyncDir is the synchronization root. It is deleted and recreated on every run.
	SyncDir string `koanf:"sync_dir" validate:"required,nefield=JSONDir,nefield=BinaryDir"`

	// JSONDir receives the intermediate rule-set documents.
	JSONDir string `koanf:"json_dir" validate:"required,nefield=BinaryDir"`

	// BinaryDir receives the compiled artifacts.
	BinaryDir string `koanf:"binary_dir" validate:"required"`

	// Workers is the fixed size of the parse+compile worker pool.
	Workers int `koanf:"workers" validate:"required,gte=1,lte=64"`

	// Compiler is the external rule-set compiler executable.
	Compiler string `koanf:"compiler" validate:"required"`

	// Git is the git executable used to retrieve sources.
	Git string `koanf:"git" validate:"required"`

	// Wrappers lists directory names that are hoisted away after each fetch.
	Wrappers []string `koanf:"wrappers" validate:"dive,required,excludesall=/\\"`

	// SampleSize bounds how many lines the content-based classifier inspects.
	SampleSize int `koanf:"sample_size" validate:"required,gte=1,lte=20"`

	// StateDB is the bbolt build manifest path; empty disables the manifest.
	StateDB string `koanf:"state_db"`

	// Incremental keeps previous outputs and skips compiling unchanged documents.
	// Requires StateDB.
	Incremental bool `koanf:"incremental"`

	// ReportPath, when set, receives a JSON run report.
	ReportPath string `koanf:"report_path"`

	// FetchTimeout bounds a single source retrieval; zero means no limit.
	FetchTimeout time.Duration `koanf:"fetch_timeout" validate:"gte=0"`

	// CompileTimeout bounds a single compiler invocation; zero means no limit.
	CompileTimeout time.Duration `koanf:"compile_timeout" validate:"gte=0"`
}

// DEFAULT_APP_CONFIG mirrors the directory layout the published rule repositories expect.
var DEFAULT_APP_CONFIG = AppConfig{
	Env:        "prod",
	LogLevel:   "info",
	Sources:    "repos.json",
	SyncDir:    "rules-txt",
	JSONDir:    "rules-json",
	BinaryDir:  "rules-srs",
	Workers:    4,
	Compiler:   "sing-box",
	Git:        "git",
	Wrappers:   []string{"rules", "rule", "data"},
	SampleSize: 10,
	StateDB:    "",
}

// envPrefix is stripped from environment variable names before they become koanf keys.
const envPrefix = "RULESET_"

// envLoader loads RULESET_* environment variables. Values containing commas or
// spaces become lists, so RULESET_WRAPPERS="rules,data" works.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
			value = strings.TrimSpace(value)

			if value == "" {
				return key, value
			}

			if strings.Contains(value, " ") || strings.Contains(value, ",") {
				parts := strings.FieldsFunc(value, func(r rune) bool {
					return r == ' ' || r == ','
				})
				return key, parts
			}

			return key, value
		},
	}), nil)
}

// defaultLoader loads DEFAULT_APP_CONFIG through the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// registerValidation registers the custom "relpath" tag.
var registerValidation = func(v *validator.Validate) error {
	return v.RegisterValidation("relpath", validRelPath)
}

// validRelPath accepts paths that stay inside the directory they are joined to.
func validRelPath(fl validator.FieldLevel) bool {
	return filepath.IsLocal(fl.Field().String())
}

// NewFlagSet declares the command-line flags understood by Load.
// Flag names use dashes; they map onto koanf keys with underscores.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("env", DEFAULT_APP_CONFIG.Env, "runtime environment (dev|prod)")
	fs.String("log-level", DEFAULT_APP_CONFIG.LogLevel, "log level (debug|info|warn|error)")
	fs.StringP("sources", "s", DEFAULT_APP_CONFIG.Sources, "source descriptor file")
	fs.String("sync-dir", DEFAULT_APP_CONFIG.SyncDir, "synchronization root (wiped every run)")
	fs.String("json-dir", DEFAULT_APP_CONFIG.JSONDir, "intermediate JSON output tree")
	fs.String("binary-dir", DEFAULT_APP_CONFIG.BinaryDir, "compiled artifact output tree")
	fs.IntP("workers", "j", DEFAULT_APP_CONFIG.Workers, "parse+compile worker count")
	fs.String("compiler", DEFAULT_APP_CONFIG.Compiler, "rule-set compiler executable")
	fs.String("git", DEFAULT_APP_CONFIG.Git, "git executable")
	fs.StringSlice("wrappers", DEFAULT_APP_CONFIG.Wrappers, "wrapper directory names to hoist")
	fs.Int("sample-size", DEFAULT_APP_CONFIG.SampleSize, "lines sampled when classifying by content")
	fs.String("state-db", DEFAULT_APP_CONFIG.StateDB, "build manifest database (empty disables)")
	fs.Bool("incremental", false, "reuse outputs whose documents did not change")
	fs.String("report", "", "write a JSON run report to this path")
	fs.Duration("fetch-timeout", 0, "per-source fetch timeout (0 = none)")
	fs.Duration("compile-timeout", 0, "per-file compile timeout (0 = none)")
	fs.Bool("version", false, "print version and exit")
	return fs
}

// flagKeys maps flag names whose koanf key is not the dash-to-underscore form.
var flagKeys = map[string]string{
	"report": "report_path",
}

// flagLoader overlays flags that were explicitly set on the command line.
var flagLoader = func(k *koanf.Koanf, fs *pflag.FlagSet) error {
	changed := map[string]any{}
	fs.Visit(func(f *pflag.Flag) {
		if f.Name == "version" {
			return
		}
		key, ok := flagKeys[f.Name]
		if !ok {
			key = strings.ReplaceAll(f.Name, "-", "_")
		}
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			changed[key] = sv.GetSlice()
			return
		}
		changed[key] = f.Value.String()
	})
	if len(changed) == 0 {
		return nil
	}
	return k.Load(confmap.Provider(changed, "."), nil)
}

// Load merges defaults, environment and the already-parsed flag set, then validates.
// fs may be nil when no command line is involved.
// Every failure is returned as a *domain.ConfigError.
func Load(fs *pflag.FlagSet) (*AppConfig, error) {
	cfg, err := load(fs)
	if err != nil {
		return nil, &domain.ConfigError{Op: "app", Err: err}
	}
	return cfg, nil
}

func load(fs *pflag.FlagSet) (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	if fs != nil {
		if err := flagLoader(k, fs); err != nil {
			return nil, fmt.Errorf("error loading flags: %w", err)
		}
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	if cfg.Incremental && cfg.StateDB == "" {
		return nil, fmt.Errorf("validation failed: incremental builds require state_db")
	}

	return &cfg, nil
}
