package lifecycle

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ocrforge.dev/objectstore"
)

func putDeletedObject(t *testing.T, mockS3 *objectstore.MockS3Client, key string, deletedAt time.Time) {
	t.Helper()
	ctx := context.Background()
	objects := objectstore.NewWithClient(mockS3, &objectstore.MockPresigner{}, "bucket", "kms-key")
	_, err := objects.Put(ctx, key, strings.NewReader("content"), "application/octet-stream")
	require.NoError(t, err)
	require.NoError(t, objects.Tag(ctx, key, map[string]string{
		"deleted":    "true",
		"deleted_at": deletedAt.UTC().Format(time.RFC3339),
	}))
}

func TestStartDeclaresLifecycleBeforeScanning(t *testing.T) {
	mockS3 := objectstore.NewMockS3Client()
	objects := objectstore.NewWithClient(mockS3, &objectstore.MockPresigner{}, "bucket", "kms-key")
	reaper := New(objects, time.Hour, nil)

	require.NoError(t, reaper.Start(context.Background()))
	require.True(t, mockS3.LifecycleDeclared)
}

func TestScanExpiresObjectsPastR1Window(t *testing.T) {
	mockS3 := objectstore.NewMockS3Client()
	objects := objectstore.NewWithClient(mockS3, &objectstore.MockPresigner{}, "bucket", "kms-key")
	reaper := New(objects, time.Hour, nil)

	now := time.Now()
	putDeletedObject(t, mockS3, "results/owner/task/result.html", now.Add(-31*24*time.Hour))
	putDeletedObject(t, mockS3, "results/owner/task2/result.html", now.Add(-2*24*time.Hour))

	require.NoError(t, reaper.scan(context.Background(), now))

	require.Contains(t, mockS3.DeletedKeys, "results/owner/task/result.html")
	require.NotContains(t, mockS3.DeletedKeys, "results/owner/task2/result.html")
}

func TestScanSkipsObjectsWithoutDeletedTag(t *testing.T) {
	mockS3 := objectstore.NewMockS3Client()
	objects := objectstore.NewWithClient(mockS3, &objectstore.MockPresigner{}, "bucket", "kms-key")
	reaper := New(objects, time.Hour, nil)

	ctx := context.Background()
	_, err := objects.Put(ctx, "uploads/owner/file/original.pdf", strings.NewReader("content"), "application/pdf")
	require.NoError(t, err)

	require.NoError(t, reaper.scan(ctx, time.Now()))
	require.Empty(t, mockS3.DeletedKeys)
}
