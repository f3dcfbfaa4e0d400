package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlPipeline = `
name: top-customers
nodes:
  - id: src
    type: example_data
    config:
      dataset: customers
  - id: top
    type: limit
    config:
      count: 5
connections:
  - source: src
    target: top
`

const jsonPipeline = `{
  "name": "top-customers",
  "nodes": [
    {"id": "src", "type": "example_data", "config": {"dataset": "customers"}},
    {"id": "top", "type": "limit", "config": {"count": 5}}
  ],
  "connections": [{"source": "src", "target": "top"}]
}`

func TestParsePipeline_Formats(t *testing.T) {
	for _, tc := range []struct {
		name, doc, format string
	}{
		{"yaml explicit", yamlPipeline, FormatYAML},
		{"yaml detected", yamlPipeline, ""},
		{"json explicit", jsonPipeline, FormatJSON},
		{"json detected", jsonPipeline, ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p, err := ParsePipeline([]byte(tc.doc), tc.format)
			require.NoError(t, err)
			assert.Equal(t, "top-customers", p.Name)
			require.Len(t, p.Nodes, 2)
			assert.Equal(t, "customers", p.Nodes[0].Config["dataset"])
			assert.EqualValues(t, 5, p.Nodes[1].Config["count"])
			require.Len(t, p.Connections, 1)
			assert.Equal(t, DefaultHandle, p.Connections[0].InputHandle())
		})
	}
}

func TestParsePipeline_Errors(t *testing.T) {
	_, err := ParsePipeline([]byte(`{"nodes": [}`), "")
	assert.Equal(t, ErrCodeValidation, ErrorCode(err))

	_, err = ParsePipeline([]byte(`{"nodes": [], "extra": 1}`), FormatJSON)
	assert.Equal(t, ErrCodeValidation, ErrorCode(err), "unknown fields are rejected")

	_, err = ParsePipeline([]byte("nodes:\n  - id: a\n    kind: x\n"), FormatYAML)
	assert.Equal(t, ErrCodeValidation, ErrorCode(err))

	_, err = ParsePipeline([]byte(jsonPipeline), "toml")
	assert.Equal(t, ErrCodeValidation, ErrorCode(err))
}

func TestLoadPipeline(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weekly.yml")
	require.NoError(t, os.WriteFile(path, []byte("nodes:\n  - id: a\n    type: example_data\n"), 0o600))

	p, err := LoadPipeline(path)
	require.NoError(t, err)
	assert.Equal(t, "weekly", p.Name, "name falls back to the file name")

	_, err = LoadPipeline(filepath.Join(dir, "missing.json"))
	assert.Equal(t, ErrCodeNotFound, ErrorCode(err))
}

func TestMarshalPipeline_RoundTripsThroughYAML(t *testing.T) {
	p, err := ParsePipeline([]byte(jsonPipeline), "")
	require.NoError(t, err)

	out, err := MarshalPipeline(p, FormatYAML)
	require.NoError(t, err)
	back, err := ParsePipeline(out, FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, p.Nodes[0].ID, back.Nodes[0].ID)
	assert.Equal(t, p.Connections, back.Connections)
}
