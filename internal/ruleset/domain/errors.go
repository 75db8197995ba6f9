package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSubPathMissing is wrapped by FetchError when the declared remote path
// does not exist in the retrieved tree.
var ErrSubPathMissing = errors.New("remote path not found in repository")

// ConfigError reports missing or malformed configuration. Always fatal, raised before any I/O.
type ConfigError struct {
	Op  string // what was being loaded, e.g. "sources" or "app"
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// FetchError reports a source that could not be retrieved. Always fatal for the run.
type FetchError struct {
	Source string // display name of the source
	URL    string
	Path   string // remote sub-path that was requested
	Stderr string // diagnostic output of the retrieval tool, if any
	Err    error
}

func (e *FetchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "fetch %s (%s:%s): %v", e.Source, e.URL, e.Path, e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		b.WriteString(": ")
		b.WriteString(s)
	}
	return b.String()
}

func (e *FetchError) Unwrap() error { return e.Err }

// CompileError reports a rule file the external compiler rejected,
// or a per-file failure while preparing its input.
type CompileError struct {
	File     string // source path relative to the synchronization root
	ExitCode int    // compiler exit status, -1 when the compiler never ran
	Stderr   string // captured compiler diagnostics
	Err      error
}

func (e *CompileError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("compile %s: %s", e.File, msg)
}

func (e *CompileError) Unwrap() error { return e.Err }
