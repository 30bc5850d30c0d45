//go:build integration

package ingestion

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"ocrforge.dev/metadata"
	"ocrforge.dev/objectstore"
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

func TestUploadWritesMetadataObjectAndQueue(t *testing.T) {
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

	mockS3 := objectstore.NewMockS3Client()
	objects := objectstore.NewWithClient(mockS3, &objectstore.MockPresigner{BaseURL: "https://example.s3"}, "bucket", "kms-key")

	svc := New(store, objects, q, nil, nil)

	taskID, err := svc.Upload(ctx, UploadRequest{
		OwnerID:  ownerID,
		Filename: "scan.pdf",
		MimeType: "application/pdf",
		Content:  bytes.Repeat([]byte("a"), 100),
		ProcessingConfig: metadata.ProcessingConfig{
			Modes: []string{"text"},
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, taskID)

	task, err := store.GetTask(ctx, taskID)
	require.NoError(t, err)
	require.Equal(t, metadata.TaskQueued, task.Status)

	msg, err := q.BlockingPop(ctx, queue.TaskQueueName, 0)
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.Equal(t, taskID, msg.TaskID)
}
