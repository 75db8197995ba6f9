package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/haukened/rr-ruleset/internal/ruleset/domain"
	"github.com/haukened/rr-ruleset/internal/ruleset/repos/artifact"
)

const defaultTopFiles = 20

// FileReport is one compiled file in the JSON report.
type FileReport struct {
	File       string `json:"file"`
	RelPath    string `json:"rel_path"`
	RuleType   string `json:"rule_type"`
	RuleCount  int    `json:"rule_count"`
	JSONPath   string `json:"json_path"`
	BinaryPath string `json:"binary_path"`
	Digest     string `json:"digest"`
	Unchanged  bool   `json:"unchanged,omitempty"`
}

// Report is the JSON run report.
type Report struct {
	Status           Phase        `json:"status"`
	StartTime        time.Time    `json:"start_time"`
	EndTime          time.Time    `json:"end_time"`
	DurationMS       int64        `json:"duration_ms"`
	SyncAttempted    int          `json:"sync_attempted"`
	SyncSucceeded    int          `json:"sync_succeeded"`
	CompileAttempted int          `json:"compile_attempted"`
	CompileSucceeded int          `json:"compile_succeeded"`
	CompileFailed    int          `json:"compile_failed"`
	Skipped          int          `json:"skipped"`
	Unchanged        int          `json:"unchanged"`
	Degraded         int          `json:"degraded"`
	TotalRuleCount   int          `json:"total_rule_count"`
	Failure          *Failure     `json:"failure,omitempty"`
	Files            []FileReport `json:"files"`
}

// NewReport converts statistics into a report with files ordered by rule count, largest first.
func NewReport(s RunStatistics) Report {
	files := make([]FileReport, 0, len(s.PerFileRecords))
	for _, r := range rankRecords(s.PerFileRecords) {
		files = append(files, FileReport{
			File:       r.FileName,
			RelPath:    r.RelPath,
			RuleType:   r.RuleType.Key(),
			RuleCount:  r.RuleCount,
			JSONPath:   r.JSONPath,
			BinaryPath: r.BinaryPath,
			Digest:     r.Digest,
			Unchanged:  r.Unchanged,
		})
	}
	return Report{
		Status:           s.Phase,
		StartTime:        s.StartTime.UTC(),
		EndTime:          s.EndTime.UTC(),
		DurationMS:       s.Duration().Milliseconds(),
		SyncAttempted:    s.SyncAttempted,
		SyncSucceeded:    s.SyncSucceeded,
		CompileAttempted: s.CompileAttempted,
		CompileSucceeded: s.CompileSucceeded,
		CompileFailed:    s.CompileFailed,
		Skipped:          s.Skipped,
		Unchanged:        s.Unchanged,
		Degraded:         s.Degraded,
		TotalRuleCount:   s.TotalRuleCount,
		Failure:          s.Failure,
		Files:            files,
	}
}

// rankRecords sorts a copy by rule count descending, then by path.
func rankRecords(in []domain.CompiledArtifactRecord) []domain.CompiledArtifactRecord {
	out := append([]domain.CompiledArtifactRecord(nil), in...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].RuleCount != out[j].RuleCount {
			return out[i].RuleCount > out[j].RuleCount
		}
		return out[i].RelPath < out[j].RelPath
	})
	return out
}

func (o *Orchestrator) report(s RunStatistics) error {
	o.logSummary(s)

	var err error
	if o.reportPath != "" {
		err = multierr.Append(err, writeJSONReport(o.reportPath, NewReport(s)))
	}
	if o.summaryPath != "" {
		err = multierr.Append(err, appendSummary(o.summaryPath, s, o.topFiles))
	}
	return err
}

func (o *Orchestrator) logSummary(s RunStatistics) {
	o.logger.Info(map[string]any{
		"status":            s.Phase.String(),
		"duration_ms":       s.Duration().Milliseconds(),
		"sync_attempted":    s.SyncAttempted,
		"sync_succeeded":    s.SyncSucceeded,
		"compile_attempted": s.CompileAttempted,
		"compile_succeeded": s.CompileSucceeded,
		"compile_failed":    s.CompileFailed,
		"skipped":           s.Skipped,
		"unchanged":         s.Unchanged,
		"degraded":          s.Degraded,
		"total_rules":       s.TotalRuleCount,
	}, "run_summary")

	ranked := rankRecords(s.PerFileRecords)
	for i, r := range ranked {
		if i == o.topFiles {
			o.logger.Info(map[string]any{"remaining": len(ranked) - o.topFiles}, "top_files_truncated")
			break
		}
		o.logger.Info(map[string]any{
			"rank":      i + 1,
			"file":      r.RelPath,
			"rule_type": r.RuleType.Key(),
			"rules":     r.RuleCount,
		}, "top_file")
	}

	if s.Failure != nil {
		o.logger.Error(map[string]any{
			"phase":  s.Failure.Phase.String(),
			"file":   s.Failure.File,
			"detail": s.Failure.Detail,
		}, "run_failed")
	}
}

func writeJSONReport(path string, r Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := artifact.WriteFile(path, append(data, '\n')); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// appendSummary appends a markdown summary to path, the way CI step summaries accumulate.
func appendSummary(path string, s RunStatistics, top int) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	defer func() { err = multierr.Append(err, f.Close()) }()
	return WriteSummary(f, s, top)
}

// WriteSummary renders a markdown run summary listing at most top files by rule count.
func WriteSummary(w io.Writer, s RunStatistics, top int) error {
	var b strings.Builder
	status := s.Phase.String()
	if s.Failure != nil {
		status = fmt.Sprintf("failed during %s", s.Failure.Phase)
	}
	fmt.Fprintf(&b, "# Rule-set build: %s\n\n", status)
	b.WriteString("| Metric | Result |\n| :--- | :--- |\n")
	fmt.Fprintf(&b, "| Duration | %s |\n", s.Duration().Round(time.Millisecond))
	fmt.Fprintf(&b, "| Sources synced | %d / %d |\n", s.SyncSucceeded, s.SyncAttempted)
	fmt.Fprintf(&b, "| Files compiled | %d (failed: %d, skipped: %d, unchanged: %d) |\n",
		s.CompileSucceeded, s.CompileFailed, s.Skipped, s.Unchanged)
	fmt.Fprintf(&b, "| Total rules | **%d** |\n", s.TotalRuleCount)
	if s.Failure != nil {
		fmt.Fprintf(&b, "\n**Failure** (%s", s.Failure.Phase)
		if s.Failure.File != "" {
			fmt.Fprintf(&b, ", `%s`", s.Failure.File)
		}
		fmt.Fprintf(&b, "): %s\n", s.Failure.Detail)
	}

	ranked := rankRecords(s.PerFileRecords)
	if len(ranked) > 0 {
		fmt.Fprintf(&b, "\n### Top %d files\n\n| File | Type | Rules |\n| :--- | :--- | ---: |\n", top)
		for i, r := range ranked {
			if i == top {
				fmt.Fprintf(&b, "| ... and %d more | | |\n", len(ranked)-top)
				break
			}
			fmt.Fprintf(&b, "| %s | `%s` | %d |\n", r.RelPath, r.RuleType.Key(), r.RuleCount)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
