package pdfrender

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockRendererProducesValidMagic(t *testing.T) {
	r := NewMockRenderer()
	out, err := r.RenderPDF(context.Background(), "<html></html>")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, pdfMagic))
	assert.Equal(t, "<html></html>", r.LastHTML)
}

func TestMockRendererSimulatesCorruption(t *testing.T) {
	r := NewMockRenderer()
	r.SimulateBad = true
	out, err := r.RenderPDF(context.Background(), "<html></html>")
	require.NoError(t, err)
	assert.False(t, bytes.HasPrefix(out, pdfMagic))
}
