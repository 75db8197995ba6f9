package domain

import "strings"

// SourceDescriptor declares one upstream origin of rule files.
// Descriptors are loaded once at startup and never mutated.
type SourceDescriptor struct {
	Name        string // cosmetic label used in logs and reports
	URL         string // repository URL handed to the retriever
	RemotePath  string // sub-path inside the repository to retrieve
	LocalSubdir string // destination under the synchronization root
}

// DisplayName returns Name, or a label derived from the repository URL when Name is empty.
func (s SourceDescriptor) DisplayName() string {
	if n := strings.TrimSpace(s.Name); n != "" {
		return n
	}
	u := strings.TrimSuffix(strings.TrimRight(s.URL, "/"), ".git")
	if i := strings.LastIndexAny(u, "/:"); i >= 0 {
		u = u[i+1:]
	}
	if u == "" {
		return "unknown"
	}
	return u
}
