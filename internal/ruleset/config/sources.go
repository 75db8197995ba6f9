package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/tidwall/jsonc"

	"github.com/haukened/rr-ruleset/internal/ruleset/domain"
)

// sourcesKey is the top-level key holding the descriptor list.
const sourcesKey = "sources"

// sourceRecord is the on-disk shape of one source descriptor.
type sourceRecord struct {
	Name        string `koanf:"name"`
	URL         string `koanf:"url" validate:"required"`
	RemotePath  string `koanf:"remote_path" validate:"required"`
	LocalSubdir string `koanf:"local_subdir" validate:"required,relpath"`
}

// LoadSources reads the source descriptor file at path. Supported formats are
// JSON and JSONC (a bare array or an object with a "sources" list), YAML and
// TOML (a "sources" list). Descriptor order is preserved.
// Every failure is returned as a *domain.ConfigError.
func LoadSources(path string) ([]domain.SourceDescriptor, error) {
	out, err := loadSources(path)
	if err != nil {
		return nil, &domain.ConfigError{Op: "sources", Err: err}
	}
	return out, nil
}

func loadSources(path string) ([]domain.SourceDescriptor, error) {
	k := koanf.New(".")

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json", ".jsonc":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if err := k.Load(rawbytes.Provider(wrapSourceArray(jsonc.ToJSON(data))), json.Parser()); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case ".toml":
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported source file type %q", ext)
	}

	if !k.Exists(sourcesKey) {
		return nil, fmt.Errorf("%s: missing %q list", path, sourcesKey)
	}

	var records []sourceRecord
	if err := k.Unmarshal(sourcesKey, &records); err != nil {
		return nil, fmt.Errorf("%s: decoding sources: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: no sources declared", path)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}

	out := make([]domain.SourceDescriptor, 0, len(records))
	for i, r := range records {
		if err := validate.Struct(&r); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) {
				return nil, fmt.Errorf("%s: source #%d: %s", path, i+1, describeValidation(verrs))
			}
			return nil, fmt.Errorf("%s: source #%d: %w", path, i+1, err)
		}
		out = append(out, domain.SourceDescriptor{
			Name:        strings.TrimSpace(r.Name),
			URL:         strings.TrimSpace(r.URL),
			RemotePath:  strings.Trim(strings.TrimSpace(r.RemotePath), "/"),
			LocalSubdir: filepath.Clean(r.LocalSubdir),
		})
	}
	return out, nil
}

// wrapSourceArray turns a bare JSON array into {"sources": [...]} so koanf,
// which needs an object at the root, can load the legacy repos.json layout.
func wrapSourceArray(data []byte) []byte {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return data
	}
	out := make([]byte, 0, len(trimmed)+16)
	out = append(out, `{"`+sourcesKey+`":`...)
	out = append(out, trimmed...)
	out = append(out, '}')
	return out
}

// describeValidation renders validator errors using koanf key names.
func describeValidation(verrs validator.ValidationErrors) string {
	names := map[string]string{
		"URL":         "url",
		"RemotePath":  "remote_path",
		"LocalSubdir": "local_subdir",
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		name, ok := names[fe.Field()]
		if !ok {
			name = fe.Field()
		}
		if fe.Tag() == "required" {
			parts = append(parts, name+" is required")
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %q", name, fe.Tag()))
	}
	return strings.Join(parts, ", ")
}
