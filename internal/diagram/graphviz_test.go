package diagram

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderImagePNG(t *testing.T) {
	model, err := Build(salesPipeline(), nil, builtins(t))
	require.NoError(t, err)

	png, err := RenderImage(context.Background(), model, ImagePNG)
	require.NoError(t, err)
	require.Greater(t, len(png), 8)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}

func TestRenderImageSVGWithStatus(t *testing.T) {
	model, err := Build(salesPipeline(), map[string]*StatusOverlay{
		"orders": {Status: "success"},
		"big":    {Status: "error"},
		"chart":  {Status: StatusSkipped},
	}, nil)
	require.NoError(t, err)

	svg, err := RenderImage(context.Background(), model, ImageSVG)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(svg, []byte("<svg")))
	assert.True(t, bytes.Contains(svg, []byte("#8b1a1a")))
}

func TestRenderImageUnsupportedFormat(t *testing.T) {
	_, err := RenderImage(context.Background(), &DiagramModel{}, "gif")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported image format")
}
