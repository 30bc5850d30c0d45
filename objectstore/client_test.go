package objectstore

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocrforge.dev/apperr"
)

func newTestClient() (*Client, *MockS3Client) {
	mock := NewMockS3Client()
	signer := &MockPresigner{BaseURL: "https://example-bucket.s3.amazonaws.com"}
	return NewWithClient(mock, signer, "example-bucket", "arn:aws:kms:us-east-1:123:key/abc"), mock
}

func TestPutRequiresEncryptionKey(t *testing.T) {
	mock := NewMockS3Client()
	signer := &MockPresigner{BaseURL: "https://x"}
	client := NewWithClient(mock, signer, "bucket", "")

	_, err := client.Put(context.Background(), "uploads/u1/2026-07/f1/doc.pdf", bytes.NewReader([]byte("hi")), "application/pdf")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.StorageError))
}

func TestPutGetRoundTrip(t *testing.T) {
	client, _ := newTestClient()
	ctx := context.Background()
	key := UploadKey("user-1", time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC), "file-1", "scan.pdf")

	_, err := client.Put(ctx, key, bytes.NewReader([]byte("%PDF-1.4 content")), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "uploads/user-1/2026-07/file-1/scan.pdf", key)

	rc, err := client.Get(ctx, key)
	require.NoError(t, err)
	defer rc.Close()

	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(rc)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 content", buf.String())
}

func TestGetMissingKeyIsNotFound(t *testing.T) {
	client, _ := newTestClient()
	_, err := client.Get(context.Background(), "uploads/nope")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestPresignDefaults(t *testing.T) {
	client, _ := newTestClient()
	ctx := context.Background()

	getURL, err := client.PresignGet(ctx, "versions/t1/1", 0)
	require.NoError(t, err)
	assert.Contains(t, getURL, "X-Amz-Expires=3600")

	putURL, err := client.PresignPut(ctx, "versions/t1/1", "application/pdf", 0)
	require.NoError(t, err)
	assert.Contains(t, putURL, "X-Amz-Expires=900")
}

func TestTagIsIdempotentAndMerges(t *testing.T) {
	client, mock := newTestClient()
	ctx := context.Background()
	key := ResultKey("user-1", "task-1", "txt")

	_, err := client.Put(ctx, key, bytes.NewReader([]byte("text")), "text/plain")
	require.NoError(t, err)

	require.NoError(t, client.Tag(ctx, key, map[string]string{"source": "ocr"}))
	require.NoError(t, client.Tag(ctx, key, map[string]string{"source": "ocr"}))

	obj := mock.Objects[key]
	require.NotNil(t, obj)
	assert.Equal(t, "ocr", obj.Tags["source"])
	assert.Len(t, obj.Tags, 1)
}

func TestMarkDeletedSetsBothTagsAtomically(t *testing.T) {
	client, mock := newTestClient()
	ctx := context.Background()
	key := ResultKey("user-1", "task-2", "txt")
	_, err := client.Put(ctx, key, bytes.NewReader([]byte("x")), "text/plain")
	require.NoError(t, err)

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	require.NoError(t, client.MarkDeleted(ctx, key, now))

	obj := mock.Objects[key]
	assert.Equal(t, "true", obj.Tags[tagDeleted])
	assert.Equal(t, "2026-07-31T12:00:00Z", obj.Tags[tagDeletedAt])
}

func TestUntagRemovesOnlyNamedTags(t *testing.T) {
	client, mock := newTestClient()
	ctx := context.Background()
	key := ResultKey("user-1", "task-3", "txt")
	_, err := client.Put(ctx, key, bytes.NewReader([]byte("x")), "text/plain")
	require.NoError(t, err)

	require.NoError(t, client.Tag(ctx, key, map[string]string{"deleted": "true", "keep": "1"}))
	require.NoError(t, client.Untag(ctx, key, "deleted"))

	obj := mock.Objects[key]
	_, hasDeleted := obj.Tags["deleted"]
	assert.False(t, hasDeleted)
	assert.Equal(t, "1", obj.Tags["keep"])
}

func TestDeclareLifecycleInvokesPut(t *testing.T) {
	client, mock := newTestClient()
	require.NoError(t, client.DeclareLifecycle(context.Background()))
	assert.True(t, mock.LifecycleDeclared)
}
