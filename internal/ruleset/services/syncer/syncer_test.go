package syncer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-ruleset/internal/ruleset/common/clock"
	"github.com/haukened/rr-ruleset/internal/ruleset/common/log"
	"github.com/haukened/rr-ruleset/internal/ruleset/domain"
)

// fakeRetriever materializes per-URL file trees inside the workdir.
type fakeRetriever struct {
	trees    map[string]map[string]string // url -> relpath -> content
	fail     map[string]error
	calls    []string
	workdirs []string
}

func (f *fakeRetriever) Retrieve(_ context.Context, url, remotePath, workdir string) (string, error) {
	f.calls = append(f.calls, url)
	f.workdirs = append(f.workdirs, workdir)
	if err := f.fail[url]; err != nil {
		return "", err
	}
	root := filepath.Join(workdir, "checkout")
	for rel, content := range f.trees[url] {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return "", err
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			return "", err
		}
	}
	return filepath.Join(root, filepath.FromSlash(remotePath)), nil
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	require.NoError(t, filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		data, err := os.ReadFile(path)
		out[filepath.ToSlash(rel)] = string(data)
		return err
	}))
	return out
}

func newSyncer(t *testing.T, r Retriever) (*Syncer, string) {
	t.Helper()
	syncDir := filepath.Join(t.TempDir(), "rules-txt")
	s := New(r, Options{SyncDir: syncDir, Wrappers: []string{"rules", "data"}, TempDir: t.TempDir()},
		clock.NewMockClock(time.Unix(1723550000, 0)), log.NewNoopLogger())
	return s, syncDir
}

func TestSync_CopiesAndNormalizes(t *testing.T) {
	r := &fakeRetriever{trees: map[string]map[string]string{
		"https://example.com/a.git": {"text/rules/geoip.txt": "1.1.1.1", "text/README": "x"},
		"https://example.com/b.git": {"lists/site.txt": "a.com"},
	}}
	s, syncDir := newSyncer(t, r)
	require.NoError(t, os.MkdirAll(filepath.Join(syncDir, "stale"), 0o755))

	rep, err := s.Sync(context.Background(), []domain.SourceDescriptor{
		{URL: "https://example.com/a.git", RemotePath: "text", LocalSubdir: "a"},
		{URL: "https://example.com/b.git", RemotePath: "lists/site.txt", LocalSubdir: "b/site"},
	})
	require.NoError(t, err)
	assert.Equal(t, Report{Attempted: 2, Succeeded: 2}, rep)

	assert.Equal(t, map[string]string{
		"a/geoip.txt":     "1.1.1.1",
		"a/README":        "x",
		"b/site/site.txt": "a.com",
	}, readTree(t, syncDir))

	for _, wd := range r.workdirs {
		assert.NoDirExists(t, wd, "scratch workspace must be removed")
	}
}

func TestSync_OverlappingSubdirLastWriterWins(t *testing.T) {
	trees := map[string]map[string]string{
		"first":  {"d/shared.txt": "from-first", "d/only-first.txt": "1"},
		"second": {"d/shared.txt": "from-second", "d/only-second.txt": "2"},
	}
	sources := []domain.SourceDescriptor{
		{URL: "first", RemotePath: "d", LocalSubdir: "same"},
		{URL: "second", RemotePath: "d", LocalSubdir: "same"},
	}
	want := map[string]string{
		"same/shared.txt":      "from-second",
		"same/only-first.txt":  "1",
		"same/only-second.txt": "2",
	}

	s, syncDir := newSyncer(t, &fakeRetriever{trees: trees})
	for run := 0; run < 2; run++ {
		_, err := s.Sync(context.Background(), sources)
		require.NoError(t, err)
		assert.Equal(t, want, readTree(t, syncDir), "run %d", run)
	}
}

func TestSync_FailFastWithFetchError(t *testing.T) {
	r := &fakeRetriever{
		trees: map[string]map[string]string{"ok": {"x/a.txt": "a"}},
		fail: map[string]error{"https://example.com/broken.git": &domain.FetchError{
			URL: "https://example.com/broken.git", Path: "x", Stderr: "fatal: not found", Err: errors.New("exit status 128"),
		}},
	}
	s, _ := newSyncer(t, r)

	rep, err := s.Sync(context.Background(), []domain.SourceDescriptor{
		{URL: "ok", RemotePath: "x", LocalSubdir: "ok"},
		{Name: "Broken", URL: "https://example.com/broken.git", RemotePath: "x", LocalSubdir: "broken"},
		{URL: "never", RemotePath: "x", LocalSubdir: "never"},
	})
	require.Error(t, err)
	assert.Equal(t, Report{Attempted: 2, Succeeded: 1}, rep)
	assert.Equal(t, []string{"ok", "https://example.com/broken.git"}, r.calls)

	var fe *domain.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "Broken", fe.Source)
	assert.Equal(t, "fatal: not found", fe.Stderr)
}

func TestSync_PlainErrorsBecomeFetchErrors(t *testing.T) {
	r := &fakeRetriever{fail: map[string]error{"https://example.com/x.git": errors.New("boom")}}
	s, _ := newSyncer(t, r)

	_, err := s.Sync(context.Background(), []domain.SourceDescriptor{{URL: "https://example.com/x.git", RemotePath: "p", LocalSubdir: "x"}})
	var fe *domain.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "x", fe.Source)
	assert.Equal(t, "p", fe.Path)
}

func TestSync_MissingRetrievedPath(t *testing.T) {
	r := &fakeRetriever{trees: map[string]map[string]string{"u": {"a/x.txt": "x"}}}
	s, _ := newSyncer(t, r)

	_, err := s.Sync(context.Background(), []domain.SourceDescriptor{{URL: "u", RemotePath: "missing", LocalSubdir: "m"}})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSync_CancelledContext(t *testing.T) {
	r := &fakeRetriever{}
	s, _ := newSyncer(t, r)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := s.Sync(ctx, []domain.SourceDescriptor{{URL: "u", RemotePath: "p", LocalSubdir: "x"}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, rep.Attempted)
	assert.Empty(t, r.calls)
}
