package artifact

import (
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

const (
	jsonExt   = ".json"
	binaryExt = ".srs"
)

// Target is where one rule file's outputs go.
type Target struct {
	RelPath    string // source path relative to the sync root, slash separated
	OutRel     string // output path without extension, slash separated
	JSONPath   string
	BinaryPath string
}

// Planner maps source rule files to output locations under the JSON and binary trees.
type Planner struct {
	JSONDir   string
	BinaryDir string
}

// Plan assigns every relPath a Target. Outputs mirror the source directory
// with the extension replaced. When two files in one directory share a stem
// (a.txt, a.list), the lexically first keeps it and the others fall back to
// their full base name (a.list.json), then to a numbered suffix.
// The result is independent of the input order.
func (p Planner) Plan(relPaths []string) map[string]Target {
	sorted := append([]string(nil), relPaths...)
	sort.Strings(sorted)

	used := make(map[string]struct{}, len(sorted))
	out := make(map[string]Target, len(sorted))
	for _, rel := range sorted {
		dir, base := path.Split(rel)
		stem := strings.TrimSuffix(base, path.Ext(base))
		if stem == "" {
			stem = base
		}

		candidates := []string{stem, base}
		name := ""
		for _, c := range candidates {
			if _, taken := used[dir+c]; !taken {
				name = c
				break
			}
		}
		for i := 2; name == ""; i++ {
			c := fmt.Sprintf("%s-%d", base, i)
			if _, taken := used[dir+c]; !taken {
				name = c
			}
		}
		outRel := dir + name
		used[outRel] = struct{}{}
		out[rel] = p.target(rel, outRel)
	}
	return out
}

func (p Planner) target(rel, outRel string) Target {
	native := filepath.FromSlash(outRel)
	return Target{
		RelPath:    rel,
		OutRel:     outRel,
		JSONPath:   filepath.Join(p.JSONDir, native+jsonExt),
		BinaryPath: filepath.Join(p.BinaryDir, native+binaryExt),
	}
}

// Outputs returns both output paths for a previously planned OutRel.
func (p Planner) Outputs(outRel string) (jsonPath, binaryPath string) {
	t := p.target("", outRel)
	return t.JSONPath, t.BinaryPath
}
