package parsers

import (
	"bufio"
	"io"
	"strings"

	logpkg "github.com/haukened/rr-ruleset/internal/ruleset/common/log"
)

// maxLineBytes bounds a single line; longer lines make the whole file unreadable.
const maxLineBytes = 1 << 20

// ExtractLine reduces one raw line to a rule value.
//
// Rules:
// - Strip a leading BOM, then everything from the first '#' or '//'
// - Skip blank lines and metadata lines (payload:, repo:, repository:)
// - Remove all quote characters and leading list dashes
// - Drop trailing commas; reduce "TYPE,value,opts" lines of a supported type
//   to value and drop lines of any other rule type
// - Strip a mihomo "+." suffix marker
//
// Returns ok=false when the line carries no rule.
func ExtractLine(line string) (string, bool) {
	s := strings.TrimSpace(stripComment(stripLineBOM(line)))
	if s == "" || isNonRuleLine(s) {
		return "", false
	}
	s = stripListMarker(stripQuotes(s))
	s, ok := pickClassicalValue(s)
	if !ok {
		return "", false
	}
	s = strings.TrimPrefix(s, "+.")
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return s, true
}

// ExtractRules scans r line by line and returns the distinct extracted values
// in first-seen order.
func ExtractRules(r io.Reader, source string, logger logpkg.Logger) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	seen := make(map[string]struct{})
	out := make([]string, 0, 256)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		value, ok := ExtractLine(scanner.Text())
		if !ok {
			continue
		}
		if _, dup := seen[value]; dup {
			logger.Debug(map[string]any{"line": lineNum, "value": value}, "skip_duplicate")
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}

	if err := scanner.Err(); err != nil {
		logger.Debug(map[string]any{"source": source, "error": err.Error()}, "extract_scan_error")
		return nil, err
	}
	return out, nil
}
