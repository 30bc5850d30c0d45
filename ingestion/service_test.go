package ingestion

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocrforge.dev/apperr"
)

type rejectingCredit struct{}

func (rejectingCredit) CheckCredit(context.Context, string) (bool, error) { return false, nil }

func TestUploadRejectsUnsupportedMime(t *testing.T) {
	s := &Service{}
	_, err := s.Upload(context.Background(), UploadRequest{
		OwnerID:  "user-1",
		Filename: "doc.exe",
		MimeType: "application/octet-stream",
		Content:  []byte("x"),
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ValidationFailed))
}

func TestUploadRejectsOversizeFile(t *testing.T) {
	s := &Service{}
	_, err := s.Upload(context.Background(), UploadRequest{
		OwnerID:  "user-1",
		Filename: "doc.pdf",
		MimeType: "application/pdf",
		Content:  bytes.Repeat([]byte{0}, MaxUploadBytes+1),
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ValidationFailed))
}

func TestUploadRejectsInsufficientCredit(t *testing.T) {
	s := &Service{credit: rejectingCredit{}}
	_, err := s.Upload(context.Background(), UploadRequest{
		OwnerID:  "user-1",
		Filename: "doc.pdf",
		MimeType: "application/pdf",
		Content:  []byte("%PDF-1.4"),
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Forbidden))
}
