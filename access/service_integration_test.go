//go:build integration

package access

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"ocrforge.dev/apperr"
	"ocrforge.dev/metadata"
	"ocrforge.dev/objectstore"
	"ocrforge.dev/permission"
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

func openTestStore(t *testing.T, ctx context.Context, dsn string) *metadata.Store {
	t.Helper()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	store := metadata.NewWithPool(pool, gdb)
	require.NoError(t, store.Migrate(ctx))
	return store
}

func TestServiceEnforcesOwnershipAndCompletion(t *testing.T) {
	ctx := context.Background()
	dsn := setupPostgresContainer(t)
	store := openTestStore(t, ctx, dsn)

	ownerID := uuid.NewString()
	require.NoError(t, store.EnsureUser(ctx, metadata.User{ID: ownerID, Email: "owner@example.com"}))
	stranger := uuid.NewString()
	require.NoError(t, store.EnsureUser(ctx, metadata.User{ID: stranger, Email: "stranger@example.com"}))

	fileID := uuid.NewString()
	taskID := uuid.NewString()
	objectKey := "uploads/" + fileID
	require.NoError(t, store.CreateFileAndTask(ctx, metadata.File{
		ID: fileID, OwnerID: ownerID, Filename: "scan.pdf", MimeType: "application/pdf",
		SizeBytes: 10, ObjectKey: objectKey,
	}, metadata.Task{ID: taskID, OwnerID: ownerID, FileID: fileID}))

	mockS3 := objectstore.NewMockS3Client()
	objects := objectstore.NewWithClient(mockS3, &objectstore.MockPresigner{BaseURL: "https://example.s3"}, "bucket", "kms-key")
	_, err := objects.Put(ctx, objectKey, bytes.NewReader([]byte("%PDF-1.4")), "application/pdf")
	require.NoError(t, err)

	checker := permission.NewChecker(store)
	svc := New(store, objects, checker, nil)
	now := time.Now()

	url, err := svc.Original(ctx, ownerID, taskID, now)
	require.NoError(t, err)
	require.NotEmpty(t, url)

	_, err = svc.Original(ctx, stranger, taskID, now)
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.Forbidden))

	_, err = svc.Result(ctx, ownerID, taskID, now)
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.Conflict), "result must not be readable before completion")
}

func encodeJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 255), G: uint8(y % 255), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func TestPageImageFallsBackToThumbnailForImageOriginals(t *testing.T) {
	ctx := context.Background()
	dsn := setupPostgresContainer(t)
	store := openTestStore(t, ctx, dsn)

	ownerID := uuid.NewString()
	require.NoError(t, store.EnsureUser(ctx, metadata.User{ID: ownerID, Email: "owner@example.com"}))

	fileID := uuid.NewString()
	taskID := uuid.NewString()
	objectKey := "uploads/" + fileID

	mockS3 := objectstore.NewMockS3Client()
	objects := objectstore.NewWithClient(mockS3, &objectstore.MockPresigner{BaseURL: "https://example.s3"}, "bucket", "kms-key")

	content := encodeJPEG(t, 800, 600)
	_, err := objects.Put(ctx, objectKey, bytes.NewReader(content), "image/jpeg")
	require.NoError(t, err)

	require.NoError(t, store.CreateFileAndTask(ctx, metadata.File{
		ID: fileID, OwnerID: ownerID, Filename: "scan.jpg", MimeType: "image/jpeg",
		SizeBytes: int64(len(content)), ObjectKey: objectKey,
	}, metadata.Task{ID: taskID, OwnerID: ownerID, FileID: fileID}))

	checker := permission.NewChecker(store)
	svc := New(store, objects, checker, nil)

	body, contentType, err := svc.PageImage(ctx, ownerID, taskID, 1, time.Now())
	require.NoError(t, err)
	defer body.Close()
	require.Equal(t, "image/jpeg", contentType)

	out, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NotEmpty(t, out)
}
