package schema

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Pipeline document formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// ParsePipeline decodes a pipeline document. An empty format is detected
// from the content: documents starting with '{' are JSON, anything else YAML.
func ParsePipeline(data []byte, format string) (*Pipeline, error) {
	if format == "" {
		format = detectFormat(data)
	}

	var p Pipeline
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return nil, NewError(ErrCodeValidation, "invalid pipeline JSON: "+err.Error()).WithCause(err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&p); err != nil {
			return nil, NewError(ErrCodeValidation, "invalid pipeline YAML: "+err.Error()).WithCause(err)
		}
	default:
		return nil, NewErrorf(ErrCodeValidation, "unsupported pipeline format %q", format)
	}
	return &p, nil
}

// LoadPipeline reads a pipeline file; .json files are JSON, .yaml and .yml
// YAML, anything else is detected from the content.
func LoadPipeline(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewErrorf(ErrCodeNotFound, "read pipeline %s", path).WithCause(err)
	}

	format := ""
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		format = FormatJSON
	case ".yaml", ".yml":
		format = FormatYAML
	}

	p, err := ParsePipeline(data, format)
	if err != nil {
		return nil, err
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return p, nil
}

// MarshalPipeline encodes a pipeline in the given format.
func MarshalPipeline(p *Pipeline, format string) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(p)
	case FormatJSON, "":
		return json.MarshalIndent(p, "", "  ")
	default:
		return nil, NewErrorf(ErrCodeValidation, "unsupported pipeline format %q", format)
	}
}

func detectFormat(data []byte) string {
	trimmed := bytes.TrimLeft(data, " \t\r\n\ufeff")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatJSON
	}
	return FormatYAML
}
