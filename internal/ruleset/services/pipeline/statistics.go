package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/haukened/rr-ruleset/internal/ruleset/domain"
	"github.com/haukened/rr-ruleset/internal/ruleset/services/builder"
	"github.com/haukened/rr-ruleset/internal/ruleset/services/syncer"
)

// Phase is the orchestrator's position in a run.
type Phase uint8

const (
	PhaseInitializing Phase = iota
	PhaseSyncing
	PhaseCompiling
	PhaseReporting
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseSyncing:
		return "syncing"
	case PhaseCompiling:
		return "compiling"
	case PhaseReporting:
		return "reporting"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("Phase(%d)", p)
	}
}

// MarshalText renders the phase by name in reports.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a phase name written by MarshalText.
func (p *Phase) UnmarshalText(text []byte) error {
	for q := PhaseInitializing; q <= PhaseFailed; q++ {
		if q.String() == string(text) {
			*p = q
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", text)
}

// Failure records where a run stopped.
type Failure struct {
	Phase  Phase  `json:"phase"`
	File   string `json:"file,omitempty"` // rule file, for compile failures
	Detail string `json:"detail"`
}

// RunStatistics summarizes one run. PerFileRecords has no particular order.
type RunStatistics struct {
	StartTime        time.Time
	EndTime          time.Time
	Phase            Phase
	SyncAttempted    int
	SyncSucceeded    int
	CompileAttempted int
	CompileSucceeded int
	CompileFailed    int
	Skipped          int
	Unchanged        int
	Degraded         int
	TotalRuleCount   int
	PerFileRecords   []domain.CompiledArtifactRecord
	Failure          *Failure
}

// Duration is the wall time between StartTime and EndTime.
func (s RunStatistics) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// recorder serializes writes to RunStatistics from the orchestrator and its result loop.
type recorder struct {
	mu    sync.Mutex
	stats RunStatistics
}

func newRecorder(start time.Time) *recorder {
	return &recorder{stats: RunStatistics{StartTime: start, Phase: PhaseInitializing}}
}

func (r *recorder) enter(p Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Phase = p
}

func (r *recorder) phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats.Phase
}

func (r *recorder) synced(rep syncer.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.SyncAttempted = rep.Attempted
	r.stats.SyncSucceeded = rep.Succeeded
}

func (r *recorder) built(out builder.Outcome, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.CompileAttempted++
	if out.Degraded {
		r.stats.Degraded++
	}
	switch {
	case err != nil:
		r.stats.CompileFailed++
	case out.Record == nil:
		r.stats.Skipped++
	default:
		r.stats.CompileSucceeded++
		r.stats.TotalRuleCount += out.Record.RuleCount
		r.stats.PerFileRecords = append(r.stats.PerFileRecords, *out.Record)
		if out.Record.Unchanged {
			r.stats.Unchanged++
		}
	}
}

func (r *recorder) degraded() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Degraded++
}

// fail records the first failure only; later ones are consequences of it.
func (r *recorder) fail(file string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stats.Failure != nil {
		return
	}
	r.stats.Failure = &Failure{Phase: r.stats.Phase, File: file, Detail: err.Error()}
}

// finish sets the terminal phase and returns a copy of the statistics.
func (r *recorder) finish(end time.Time) RunStatistics {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.EndTime = end
	if r.stats.Failure != nil {
		r.stats.Phase = PhaseFailed
	} else {
		r.stats.Phase = PhaseSucceeded
	}
	out := r.stats
	out.PerFileRecords = append([]domain.CompiledArtifactRecord(nil), r.stats.PerFileRecords...)
	if r.stats.Failure != nil {
		f := *r.stats.Failure
		out.Failure = &f
	}
	return out
}
