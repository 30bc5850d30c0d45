//go:build integration

package ocrworker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"ocrforge.dev/bus"
	"ocrforge.dev/metadata"
	"ocrforge.dev/objectstore"
	"ocrforge.dev/ocrcapability"
	"ocrforge.dev/queue"
)

func setupPostgresContainer(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "ocrforge",
			"POSTGRES_PASSWORD": "ocrforge",
			"POSTGRES_DB":       "ocrforge",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://ocrforge:ocrforge@%s:%s/ocrforge?sslmode=disable", host, port.Port())
}

func TestWorkerCompletesQueuedTask(t *testing.T) {
	ctx := context.Background()
	dsn := setupPostgresContainer(t)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	store := metadata.NewWithPool(pool, gdb)
	require.NoError(t, store.Migrate(ctx))

	ownerID := uuid.NewString()
	require.NoError(t, store.EnsureUser(ctx, metadata.User{ID: ownerID, Email: "owner@example.com"}))

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := queue.NewWithClient(redisClient, "ocrforge")
	redisBus := bus.New(redisClient)

	mockS3 := objectstore.NewMockS3Client()
	objects := objectstore.NewWithClient(mockS3, &objectstore.MockPresigner{BaseURL: "https://example.s3"}, "bucket", "kms-key")

	fileID := uuid.NewString()
	taskID := uuid.NewString()
	objectKey := objectstore.UploadKey(ownerID, time.Now(), fileID, "scan.pdf")
	_, err = objects.Put(ctx, objectKey, bytes.NewReader([]byte("%PDF-1.4 source")), "application/pdf")
	require.NoError(t, err)

	require.NoError(t, store.CreateFileAndTask(ctx, metadata.File{
		ID: fileID, OwnerID: ownerID, Filename: "scan.pdf", MimeType: "application/pdf",
		SizeBytes: 15, ObjectKey: objectKey,
	}, metadata.Task{ID: taskID, OwnerID: ownerID, FileID: fileID}))
	require.NoError(t, q.Push(ctx, queue.TaskQueueName, taskID))

	ocrClient := ocrcapability.NewMockOCRClient()
	ocrClient.Result.PageImages = [][]byte{[]byte("page-1-png-bytes")}
	workerPool := NewPool(Deps{Queue: q, Store: store, Objects: objects, Bus: redisBus, OCR: ocrClient}, Config{Concurrency: 1})
	workerPool.Start(ctx)
	defer workerPool.Stop()

	require.Eventually(t, func() bool {
		task, err := store.GetTask(ctx, taskID)
		return err == nil && task.Status == metadata.TaskCompleted
	}, 5*time.Second, 100*time.Millisecond)

	result, err := store.GetResultByTask(ctx, taskID)
	require.NoError(t, err)
	require.Equal(t, 1, result.PageCount)
	require.Positive(t, result.ProcessingTimeMS)

	version, err := store.LatestVersion(ctx, taskID)
	require.NoError(t, err)
	require.True(t, version.IsOriginal)
	require.True(t, version.IsLatest)
	require.Equal(t, 0, version.VersionNumber)

	pageImage, err := objects.Get(ctx, objectstore.PageImageKey(ownerID, taskID, 1))
	require.NoError(t, err)
	defer pageImage.Close()
	body, err := io.ReadAll(pageImage)
	require.NoError(t, err)
	require.Equal(t, "page-1-png-bytes", string(body))
}
