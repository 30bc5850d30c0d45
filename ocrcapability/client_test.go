package ocrcapability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockOCRClientDefaultFixture(t *testing.T) {
	client := NewMockOCRClient()
	result, err := client.OCR(context.Background(), []byte("pdf bytes"), "application/pdf", []string{"text"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.PageCount)
	assert.Equal(t, []byte("pdf bytes"), client.LastContent)
	assert.Equal(t, "application/pdf", client.LastMime)
	assert.Equal(t, 1, client.Calls)
}

func TestMockOCRClientTransientError(t *testing.T) {
	client := NewMockOCRClient()
	client.Err = &Error{Class: Transient, Err: errors.New("backend timeout")}

	_, err := client.OCR(context.Background(), nil, "application/pdf", nil, nil)
	require.Error(t, err)

	var ocrErr *Error
	require.True(t, errors.As(err, &ocrErr))
	assert.Equal(t, Transient, ocrErr.Class)
}
