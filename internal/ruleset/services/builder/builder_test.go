package builder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/haukened/rr-ruleset/internal/ruleset/common/clock"
	"github.com/haukened/rr-ruleset/internal/ruleset/common/log"
	"github.com/haukened/rr-ruleset/internal/ruleset/domain"
	"github.com/haukened/rr-ruleset/internal/ruleset/repos/artifact"
	"github.com/haukened/rr-ruleset/internal/ruleset/repos/manifest"
	"github.com/haukened/rr-ruleset/internal/ruleset/repos/parsers"
)

// fakeCompiler copies the document to the binary path and records each call.
type fakeCompiler struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeCompiler) Compile(_ context.Context, jsonPath, binaryPath string) error {
	f.mu.Lock()
	f.calls = append(f.calls, jsonPath)
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return err
	}
	return os.WriteFile(binaryPath, data, 0o644)
}

// mapManifest is an in-memory manifest.Manifest.
type mapManifest struct {
	entries map[string]manifest.Entry
}

func (m *mapManifest) Lookup(rel string) (manifest.Entry, bool) {
	e, ok := m.entries[rel]
	return e, ok
}

func (m *mapManifest) Entries() ([]manifest.Entry, error) {
	out := make([]manifest.Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out, nil
}

func (m *mapManifest) Commit(entries []manifest.Entry, _ int64) error {
	m.entries = map[string]manifest.Entry{}
	for _, e := range entries {
		m.entries[e.RelPath] = e
	}
	return nil
}

func (m *mapManifest) Stats() manifest.Stats { return manifest.Stats{} }
func (m *mapManifest) Close() error          { return nil }

type fixture struct {
	syncRoot string
	planner  artifact.Planner
	compiler *fakeCompiler
	manifest *mapManifest
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	return &fixture{
		syncRoot: filepath.Join(root, "rules-txt"),
		planner:  artifact.Planner{JSONDir: filepath.Join(root, "rules-json"), BinaryDir: filepath.Join(root, "rules-srs")},
		compiler: &fakeCompiler{},
		manifest: &mapManifest{entries: map[string]manifest.Entry{}},
	}
}

func (f *fixture) write(t *testing.T, rel, content string) artifact.Target {
	t.Helper()
	p := filepath.Join(f.syncRoot, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return f.planner.Plan([]string{rel})[rel]
}

func (f *fixture) builder(opts Options, logger log.Logger) *Builder {
	return New(f.compiler, f.manifest, opts, clock.NewMockClock(time.Unix(1723550000, 0)), logger)
}

func TestBuild_DomainList(t *testing.T) {
	f := newFixture(t)
	target := f.write(t, "src/geosite-test.list", "a.com\n#comment\n\"b.com\"\na.com\n")

	out, err := f.builder(Options{SampleSize: 10}, log.NewNoopLogger()).Build(context.Background(), f.syncRoot, target)
	require.NoError(t, err)
	require.NotNil(t, out.Record)

	data, err := os.ReadFile(target.JSONPath)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"version\": 1,\n  \"rules\": [\n    {\n      \"domain_suffix\": [\n        \"a.com\",\n        \"b.com\"\n      ]\n    }\n  ]\n}\n", string(data))
	assert.FileExists(t, target.BinaryPath)

	assert.Equal(t, domain.CompiledArtifactRecord{
		FileName:   "geosite-test.list",
		RelPath:    "src/geosite-test.list",
		RuleType:   domain.DomainSuffix,
		RuleCount:  2,
		JSONPath:   target.JSONPath,
		BinaryPath: target.BinaryPath,
		Digest:     artifact.Digest(data),
	}, *out.Record)
	assert.Equal(t, manifest.Entry{
		RelPath:     "src/geosite-test.list",
		OutRel:      "src/geosite-test",
		RuleType:    domain.DomainSuffix,
		RuleCount:   2,
		Digest:      artifact.Digest(data),
		UpdatedUnix: 1723550000,
	}, *out.Entry)
	assert.Equal(t, []string{target.JSONPath}, f.compiler.calls)
}

func TestBuild_IPList(t *testing.T) {
	f := newFixture(t)
	target := f.write(t, "geoip-test.txt", "1.2.3.0/24\n30.172.in-addr.arpa\n::1\n")

	out, err := f.builder(Options{}, log.NewNoopLogger()).Build(context.Background(), f.syncRoot, target)
	require.NoError(t, err)
	require.NotNil(t, out.Record)

	assert.Equal(t, domain.IPRange, out.Record.RuleType)
	assert.Equal(t, 2, out.Record.RuleCount)
	assert.Equal(t, 3, out.Extracted)
	assert.Equal(t, 1, out.Dropped)

	data, err := os.ReadFile(target.JSONPath)
	require.NoError(t, err)
	doc, err := artifact.DecodeDocument(data)
	require.NoError(t, err)
	assert.Equal(t, []map[string][]string{{"ip_cidr": {"1.2.3.0/24", "::1"}}}, doc.Rules)
}

func TestBuild_SkippedFileProducesNothing(t *testing.T) {
	f := newFixture(t)
	target := f.write(t, "empty.txt", "# nothing here\n")

	out, err := f.builder(Options{}, log.NewNoopLogger()).Build(context.Background(), f.syncRoot, target)
	require.NoError(t, err)
	assert.Nil(t, out.Record)
	assert.Nil(t, out.Entry)
	assert.Equal(t, parsers.SkipEmpty, out.Skip)
	assert.False(t, out.Degraded)
	assert.Empty(t, f.compiler.calls)
	assert.NoFileExists(t, target.JSONPath)
}

func TestBuild_DegradedFileIsReported(t *testing.T) {
	f := newFixture(t)
	target := f.write(t, "cn-ip.txt", "example.com\n")
	f.manifest.entries["cn-ip.txt"] = manifest.Entry{RelPath: "cn-ip.txt", OutRel: "cn-ip", RuleType: domain.IPRange, RuleCount: 42}

	logger, logs := log.NewObservedLogger(zapcore.DebugLevel)
	out, err := f.builder(Options{}, logger).Build(context.Background(), f.syncRoot, target)
	require.NoError(t, err)

	assert.True(t, out.Degraded)
	assert.Equal(t, parsers.SkipSanitizedEmpty, out.Skip)
	require.Equal(t, 1, logs.FilterMessage("rule_file_degraded").Len())
	assert.Equal(t, zapcore.WarnLevel, logs.FilterMessage("rule_file_degraded").All()[0].Level)
}

func TestBuild_CompilerErrorNamesRelativePath(t *testing.T) {
	f := newFixture(t)
	f.compiler.err = &domain.CompileError{File: "/abs/rules-json/bad.json", ExitCode: 2, Stderr: "invalid", Err: errors.New("exit status 2")}
	target := f.write(t, "lists/bad.txt", "a.com\n")

	out, err := f.builder(Options{}, log.NewNoopLogger()).Build(context.Background(), f.syncRoot, target)
	require.Error(t, err)
	assert.Nil(t, out.Record)

	var ce *domain.CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "lists/bad.txt", ce.File)
	assert.Equal(t, 2, ce.ExitCode)
	assert.Equal(t, "invalid", ce.Stderr)
}

func TestBuild_PlainCompilerErrorIsWrapped(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("boom")
	f.compiler.err = boom
	target := f.write(t, "x.txt", "a.com\n")

	_, err := f.builder(Options{}, log.NewNoopLogger()).Build(context.Background(), f.syncRoot, target)
	var ce *domain.CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "x.txt", ce.File)
	assert.Equal(t, -1, ce.ExitCode)
	assert.ErrorIs(t, err, boom)
}

func TestBuild_IncrementalSkipsUnchangedDocuments(t *testing.T) {
	f := newFixture(t)
	target := f.write(t, "ads.txt", "a.com\nb.com\n")
	b := f.builder(Options{Incremental: true}, log.NewNoopLogger())

	first, err := b.Build(context.Background(), f.syncRoot, target)
	require.NoError(t, err)
	assert.False(t, first.Record.Unchanged)
	require.NoError(t, f.manifest.Commit([]manifest.Entry{*first.Entry}, 0))

	second, err := b.Build(context.Background(), f.syncRoot, target)
	require.NoError(t, err)
	assert.True(t, second.Record.Unchanged)
	assert.Equal(t, first.Record.Digest, second.Record.Digest)
	assert.Len(t, f.compiler.calls, 1)

	// content change forces a compile
	target = f.write(t, "ads.txt", "a.com\nc.com\n")
	third, err := b.Build(context.Background(), f.syncRoot, target)
	require.NoError(t, err)
	assert.False(t, third.Record.Unchanged)
	assert.Len(t, f.compiler.calls, 2)
}

func TestBuild_IncrementalRecompilesMissingBinary(t *testing.T) {
	f := newFixture(t)
	target := f.write(t, "ads.txt", "a.com\n")
	b := f.builder(Options{Incremental: true}, log.NewNoopLogger())

	first, err := b.Build(context.Background(), f.syncRoot, target)
	require.NoError(t, err)
	require.NoError(t, f.manifest.Commit([]manifest.Entry{*first.Entry}, 0))
	require.NoError(t, os.Remove(target.BinaryPath))

	second, err := b.Build(context.Background(), f.syncRoot, target)
	require.NoError(t, err)
	assert.False(t, second.Record.Unchanged)
	assert.FileExists(t, target.BinaryPath)
	assert.Len(t, f.compiler.calls, 2)
}

func TestBuild_IncrementalRemovesOutputsOfSkippedFile(t *testing.T) {
	f := newFixture(t)
	target := f.write(t, "ads.txt", "a.com\n")
	b := f.builder(Options{Incremental: true}, log.NewNoopLogger())

	_, err := b.Build(context.Background(), f.syncRoot, target)
	require.NoError(t, err)
	require.FileExists(t, target.BinaryPath)

	target = f.write(t, "ads.txt", "")
	out, err := b.Build(context.Background(), f.syncRoot, target)
	require.NoError(t, err)
	assert.Nil(t, out.Record)
	assert.NoFileExists(t, target.JSONPath)
	assert.NoFileExists(t, target.BinaryPath)
}

func TestNew_NilManifest(t *testing.T) {
	f := newFixture(t)
	target := f.write(t, "a.txt", "a.com\n")
	b := New(f.compiler, nil, Options{Incremental: true}, clock.RealClock{}, log.NewNoopLogger())

	out, err := b.Build(context.Background(), f.syncRoot, target)
	require.NoError(t, err)
	assert.False(t, out.Record.Unchanged)
}

func TestRemoveOutputs(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.json")
	require.NoError(t, os.WriteFile(p, nil, 0o644))

	require.NoError(t, RemoveOutputs(p, filepath.Join(dir, "missing.srs")))
	assert.NoFileExists(t, p)
}
