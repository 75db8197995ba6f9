package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-ruleset/internal/ruleset/domain"
)

func TestDocument_EncodeIsSortedAndIndented(t *testing.T) {
	set := domain.NewNormalizedRuleSet("geoip-test.txt", domain.IPRange, []string{"::1", "1.2.3.0/24"})

	data, err := NewDocument(set).Encode()
	require.NoError(t, err)

	want := "{\n  \"version\": 1,\n  \"rules\": [\n    {\n      \"ip_cidr\": [\n        \"1.2.3.0/24\",\n        \"::1\"\n      ]\n    }\n  ]\n}\n"
	assert.Equal(t, want, string(data))
}

func TestDocument_RoundTrip(t *testing.T) {
	sets := []domain.NormalizedRuleSet{
		domain.NewNormalizedRuleSet("a/geosite-test.list", domain.DomainSuffix, []string{"b.com", "a.com"}),
		domain.NewNormalizedRuleSet("geoip.txt", domain.IPRange, []string{"10.0.0.0/8", "2001:db8::/32"}),
	}
	for _, set := range sets {
		t.Run(set.SourceFile, func(t *testing.T) {
			data, err := NewDocument(set).Encode()
			require.NoError(t, err)

			doc, err := DecodeDocument(data)
			require.NoError(t, err)
			back, err := doc.RuleSet(set.SourceFile)
			require.NoError(t, err)
			assert.Equal(t, set, back)
		})
	}
}

func TestDocument_EncodingIgnoresInsertionOrder(t *testing.T) {
	a, err := NewDocument(domain.NewNormalizedRuleSet("x", domain.DomainSuffix, []string{"c", "a", "b"})).Encode()
	require.NoError(t, err)
	b, err := NewDocument(domain.NewNormalizedRuleSet("x", domain.DomainSuffix, []string{"b", "c", "a", "a"})).Encode()
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, Digest(a), Digest(b))
}

func TestDecodeDocument_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"malformed", `{"version":`},
		{"wrong version", `{"version":2,"rules":[]}`},
		{"unknown field", `{"version":1,"rules":[],"extra":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeDocument([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestDocument_RuleSetErrors(t *testing.T) {
	_, err := Document{Version: 1}.RuleSet("x")
	assert.Error(t, err)

	_, err = Document{Version: 1, Rules: []map[string][]string{{"geoip": {"cn"}}}}.RuleSet("x")
	assert.Error(t, err)
}

func TestDigest(t *testing.T) {
	d1 := Digest([]byte("one"))
	d2 := Digest([]byte("two"))
	assert.Len(t, d1, 64)
	assert.NotEqual(t, d1, d2)
	assert.Equal(t, d1, Digest([]byte("one")))
}

func TestWriteFile_CreatesParentsAndReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "c.json")

	require.NoError(t, WriteFile(path, []byte("first")))
	require.NoError(t, WriteFile(path, []byte("second")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not linger")
}

func TestPlanner_Plan(t *testing.T) {
	p := Planner{JSONDir: "out-json", BinaryDir: "out-srs"}
	got := p.Plan([]string{"sub/a.txt", "geoip.txt", "sub/a.list", "sub/a", "README"})

	assert.Equal(t, Target{
		RelPath:    "geoip.txt",
		OutRel:     "geoip",
		JSONPath:   filepath.Join("out-json", "geoip.json"),
		BinaryPath: filepath.Join("out-srs", "geoip.srs"),
	}, got["geoip.txt"])

	assert.Equal(t, "README", got["README"].OutRel)
	// sub/a < sub/a.list < sub/a.txt
	assert.Equal(t, "sub/a", got["sub/a"].OutRel)
	assert.Equal(t, "sub/a.list", got["sub/a.list"].OutRel)
	assert.Equal(t, "sub/a.txt", got["sub/a.txt"].OutRel)
	assert.Equal(t, filepath.Join("out-srs", "sub", "a.list.srs"), got["sub/a.list"].BinaryPath)
}

func TestPlanner_PlanIsOrderIndependent(t *testing.T) {
	p := Planner{JSONDir: "j", BinaryDir: "b"}
	first := p.Plan([]string{"x/a.txt", "x/a.list", "x/a.yaml"})
	second := p.Plan([]string{"x/a.yaml", "x/a.list", "x/a.txt"})
	assert.Equal(t, first, second)

	outs := map[string]struct{}{}
	for _, tgt := range first {
		outs[tgt.OutRel] = struct{}{}
	}
	assert.Len(t, outs, 3, "every file gets a distinct output")
}

func TestPlanner_StemChains(t *testing.T) {
	p := Planner{JSONDir: "j", BinaryDir: "b"}
	// a.txt.list keeps its stem; a.txt.txt finds "a.txt" taken and uses its base name.
	got := p.Plan([]string{"a.txt", "a.txt.list", "a.txt.txt"})
	assert.Equal(t, "a", got["a.txt"].OutRel)
	assert.Equal(t, "a.txt", got["a.txt.list"].OutRel)
	assert.Equal(t, "a.txt.txt", got["a.txt.txt"].OutRel)

	got = p.Plan([]string{"a", "a.b", "a.b.c", "a.b.d"})
	assert.Equal(t, "a", got["a"].OutRel)
	assert.Equal(t, "a.b", got["a.b"].OutRel)
	assert.Equal(t, "a.b.c", got["a.b.c"].OutRel)
	assert.Equal(t, "a.b.d", got["a.b.d"].OutRel)
}

func TestPlanner_Outputs(t *testing.T) {
	p := Planner{JSONDir: "j", BinaryDir: "b"}
	j, b := p.Outputs("x/y")
	assert.Equal(t, filepath.Join("j", "x", "y.json"), j)
	assert.Equal(t, filepath.Join("b", "x", "y.srs"), b)
}
