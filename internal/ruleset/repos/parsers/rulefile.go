package parsers

import (
	"bytes"
	"os"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	logpkg "github.com/haukened/rr-ruleset/internal/ruleset/common/log"
	"github.com/haukened/rr-ruleset/internal/ruleset/domain"
)

// SkipReason explains why a rule file produced no NormalizedRuleSet.
type SkipReason uint8

const (
	NotSkipped SkipReason = iota
	SkipUnreadable
	SkipBinary
	SkipEmpty
	SkipSanitizedEmpty
	SkipEncoding
)

func (r SkipReason) String() string {
	switch r {
	case NotSkipped:
		return "none"
	case SkipUnreadable:
		return "unreadable"
	case SkipBinary:
		return "binary"
	case SkipEmpty:
		return "empty"
	case SkipSanitizedEmpty:
		return "sanitized_empty"
	case SkipEncoding:
		return "encoding"
	default:
		return "unknown"
	}
}

// Options tunes ParseRuleFile.
type Options struct {
	SampleSize int
}

// Result is the outcome of parsing one rule file. Exactly one of Set and Skip is meaningful:
// Set is non-nil iff Skip == NotSkipped.
type Result struct {
	Set       *domain.NormalizedRuleSet
	Skip      SkipReason
	Extracted int // distinct values before sanitization
	Dropped   int // values removed by sanitization
}

// ParseRuleFile reads, classifies and sanitizes a single rule file.
// path is the on-disk location; relPath is recorded as the set's SourceFile.
// No error is returned: every failure is absorbed into a SkipReason.
func ParseRuleFile(path, relPath string, opts Options, logger logpkg.Logger) Result {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn(map[string]any{"file": relPath, "error": err.Error()}, "parse_skip")
		return Result{Skip: SkipUnreadable}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		logger.Debug(map[string]any{"file": relPath, "reason": SkipEmpty.String()}, "parse_skip")
		return Result{Skip: SkipEmpty}
	}
	if !isText(data) {
		logger.Debug(map[string]any{"file": relPath, "reason": SkipBinary.String()}, "parse_skip")
		return Result{Skip: SkipBinary}
	}
	if !isUTF8(data) {
		logger.Debug(map[string]any{"file": relPath, "reason": SkipEncoding.String()}, "parse_skip")
		return Result{Skip: SkipEncoding}
	}

	values, err := ExtractRules(bytes.NewReader(data), relPath, logger)
	if err != nil {
		logger.Warn(map[string]any{"file": relPath, "reason": SkipUnreadable.String(), "error": err.Error()}, "parse_skip")
		return Result{Skip: SkipUnreadable}
	}
	if len(values) == 0 {
		logger.Debug(map[string]any{"file": relPath, "reason": SkipEmpty.String()}, "parse_skip")
		return Result{Skip: SkipEmpty}
	}

	ruleType := Classify(relPath, sampleOf(values, opts.SampleSize))
	kept := Sanitize(ruleType, values)
	res := Result{Extracted: len(values), Dropped: len(values) - len(kept)}
	if len(kept) == 0 {
		logger.Debug(map[string]any{"file": relPath, "rule_type": ruleType.String(), "dropped": res.Dropped}, "parse_skip")
		res.Skip = SkipSanitizedEmpty
		return res
	}

	set := domain.NewNormalizedRuleSet(relPath, ruleType, kept)
	res.Set = &set
	logger.Debug(map[string]any{
		"file":      relPath,
		"rule_type": ruleType.String(),
		"rules":     set.RuleCount,
		"dropped":   res.Dropped,
	}, "parse_done")
	return res
}

// isText reports whether data sniffs as text/plain or one of its descendants
// (json, xml, csv, yaml-like formats all count as text).
func isText(data []byte) bool {
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// isUTF8 reports whether data is valid UTF-8 free of NUL bytes. Legacy
// encodings and UTF-16 sniff as text but would not survive JSON encoding.
func isUTF8(data []byte) bool {
	return utf8.Valid(data) && bytes.IndexByte(data, 0) < 0
}
