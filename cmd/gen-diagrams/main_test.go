package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/dataflow/internal/executors"
	"github.com/rendis/dataflow/internal/logging"
	"github.com/rendis/dataflow/internal/validation"
	"github.com/rendis/dataflow/pkg/schema"
)

const examplesDir = "../../examples/pipelines"

func TestExamplePipelinesAreValid(t *testing.T) {
	reg := executors.NewRegistry(logging.Discard())
	require.NoError(t, executors.RegisterBuiltins(reg, executors.BuiltinConfig{}))
	pv, err := validation.NewPipelineValidator(reg)
	require.NoError(t, err)

	paths, err := pipelineFiles(examplesDir)
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			p, err := schema.LoadPipeline(path)
			require.NoError(t, err)
			res := pv.Validate(p)
			assert.True(t, res.Valid(), "errors: %v", res.ErrorMessages())
		})
	}
}

func TestGenerate(t *testing.T) {
	out := t.TempDir()
	written, err := generate(context.Background(), examplesDir, out)
	require.NoError(t, err)

	paths, err := pipelineFiles(examplesDir)
	require.NoError(t, err)
	assert.Len(t, written, 3*len(paths))

	data, err := os.ReadFile(filepath.Join(out, "sales-by-region.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "sales --> by_region")
}
