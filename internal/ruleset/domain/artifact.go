package domain

// CompiledArtifactRecord describes one successfully compiled rule file.
// It is created once by the builder and only read afterwards, for reporting
// and for the build manifest.
type CompiledArtifactRecord struct {
	FileName   string   // base name of the source rule file
	RelPath    string   // source path relative to the synchronization root
	RuleType   RuleType // classification used for the document
	RuleCount  int      // number of rules written
	JSONPath   string   // intermediate document location
	BinaryPath string   // compiler output location
	Digest     string   // BLAKE3 hex digest of the JSON document
	Unchanged  bool     // compiler skipped because digest and binary were current
}
