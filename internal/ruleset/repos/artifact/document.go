package artifact

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/haukened/rr-ruleset/internal/ruleset/domain"
)

// DocumentVersion is the rule-set source format version understood by the compiler.
const DocumentVersion = 1

// Document is the intermediate rule-set source handed to the compiler:
//
//	{"version": 1, "rules": [{"domain_suffix": ["a.com", "b.com"]}]}
type Document struct {
	Version int                   `json:"version"`
	Rules   []map[string][]string `json:"rules"`
}

// NewDocument builds the single-rule document for set. Rules are sorted so the
// encoded bytes depend only on set membership.
func NewDocument(set domain.NormalizedRuleSet) Document {
	return Document{
		Version: DocumentVersion,
		Rules:   []map[string][]string{{set.RuleType.Key(): set.Sorted()}},
	}
}

// Encode renders the document with two-space indentation and a trailing newline.
func (d Document) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// DecodeDocument parses an encoded document.
func DecodeDocument(data []byte) (Document, error) {
	var d Document
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&d); err != nil {
		return Document{}, fmt.Errorf("decode document: %w", err)
	}
	if d.Version != DocumentVersion {
		return Document{}, fmt.Errorf("decode document: unsupported version %d", d.Version)
	}
	return d, nil
}

// RuleSet converts a single-rule document back into a NormalizedRuleSet.
func (d Document) RuleSet(sourceFile string) (domain.NormalizedRuleSet, error) {
	if len(d.Rules) != 1 || len(d.Rules[0]) != 1 {
		return domain.NormalizedRuleSet{}, fmt.Errorf("document for %s: want exactly one rule, got %d", sourceFile, len(d.Rules))
	}
	var (
		key    string
		values []string
	)
	for k, v := range d.Rules[0] {
		key, values = k, v
	}
	rt, err := domain.ParseRuleType(key)
	if err != nil {
		return domain.NormalizedRuleSet{}, fmt.Errorf("document for %s: %w", sourceFile, err)
	}
	return domain.NewNormalizedRuleSet(sourceFile, rt, values), nil
}

// digestKey separates document digests from any other BLAKE3 use.
var digestKey = func() [32]byte {
	var k [32]byte
	copy(k[:], "rr-ruleset.document.v1")
	return k
}()

// Digest returns the keyed BLAKE3-256 hex digest of encoded document bytes.
func Digest(data []byte) string {
	h, err := blake3.NewKeyed(digestKey[:])
	if err != nil {
		panic("artifact: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// WriteFile atomically replaces path with data, creating parent directories.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
