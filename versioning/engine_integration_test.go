//go:build integration

package versioning

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"ocrforge.dev/metadata"
	"ocrforge.dev/objectstore"
	"ocrforge.dev/pdfrender"
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

func seedTaskWithOriginal(t *testing.T, ctx context.Context, store *metadata.Store, ownerID string, originalHTML string) string {
	t.Helper()
	fileID := uuid.NewString()
	taskID := uuid.NewString()
	require.NoError(t, store.CreateFileAndTask(ctx, metadata.File{
		ID: fileID, OwnerID: ownerID, Filename: "scan.pdf", MimeType: "application/pdf",
		SizeBytes: 10, ObjectKey: "uploads/" + fileID,
	}, metadata.Task{ID: taskID, OwnerID: ownerID, FileID: fileID}))

	require.NoError(t, store.CreateOriginalVersion(ctx, metadata.DocumentVersion{
		ID: uuid.NewString(), TaskID: taskID, Content: []byte(originalHTML),
		ContentChecksum: metadata.Checksum([]byte(originalHTML)), EditedBy: ownerID, EditedAt: time.Now(),
	}))
	return taskID
}

func TestSaveVersionSnapshotsAfterWindowOverwritesWithin(t *testing.T) {
	ctx := context.Background()
	dsn := setupPostgresContainer(t)
	store := openTestStore(t, ctx, dsn)

	ownerID := uuid.NewString()
	require.NoError(t, store.EnsureUser(ctx, metadata.User{ID: ownerID, Email: "owner@example.com"}))
	taskID := seedTaskWithOriginal(t, ctx, store, ownerID, "<html>original</html>")

	mockS3 := objectstore.NewMockS3Client()
	objects := objectstore.NewWithClient(mockS3, &objectstore.MockPresigner{BaseURL: "https://example.s3"}, "bucket", "kms-key")
	checker := permission.NewChecker(store)
	audit := permission.NewAuditLog(store, nil)
	engine := New(store, objects, checker, audit, pdfrender.NewMockRenderer(), Config{SnapshotWindow: time.Minute}, nil)

	now := time.Now()
	session, err := engine.StartSession(ctx, ownerID, taskID, metadata.ViewEdit, now)
	require.NoError(t, err)

	result, err := engine.SaveVersion(ctx, ownerID, session.ID, []byte("<html>edit one</html>"), metadata.ActionAutoSave, now)
	require.NoError(t, err)
	require.True(t, result.IsSnapshot, "first edit past is_original must snapshot")
	require.Equal(t, 1, result.Version.VersionNumber)

	later := now.Add(30 * time.Second)
	result2, err := engine.SaveVersion(ctx, ownerID, session.ID, []byte("<html>edit two</html>"), metadata.ActionAutoSave, later)
	require.NoError(t, err)
	require.False(t, result2.IsSnapshot, "save within snapshot window must overwrite")
	require.Equal(t, 1, result2.Version.VersionNumber)

	muchLater := now.Add(5 * time.Minute)
	result3, err := engine.SaveVersion(ctx, ownerID, session.ID, []byte("<html>edit three</html>"), metadata.ActionAutoSave, muchLater)
	require.NoError(t, err)
	require.True(t, result3.IsSnapshot, "save past snapshot window must snapshot again")
	require.Equal(t, 2, result3.Version.VersionNumber)
}

func TestLatestVersionFallsBackOnCorruption(t *testing.T) {
	ctx := context.Background()
	dsn := setupPostgresContainer(t)
	store := openTestStore(t, ctx, dsn)

	ownerID := uuid.NewString()
	require.NoError(t, store.EnsureUser(ctx, metadata.User{ID: ownerID, Email: "owner@example.com"}))
	taskID := seedTaskWithOriginal(t, ctx, store, ownerID, "<html>original</html>")

	mockS3 := objectstore.NewMockS3Client()
	objects := objectstore.NewWithClient(mockS3, &objectstore.MockPresigner{BaseURL: "https://example.s3"}, "bucket", "kms-key")
	checker := permission.NewChecker(store)
	audit := permission.NewAuditLog(store, nil)
	engine := New(store, objects, checker, audit, pdfrender.NewMockRenderer(), Config{}, nil)

	now := time.Now()
	session, err := engine.StartSession(ctx, ownerID, taskID, metadata.ViewEdit, now)
	require.NoError(t, err)

	_, err = engine.SaveVersion(ctx, ownerID, session.ID, []byte("%PDF-1.4 not html"), metadata.ActionAutoSave, now)
	require.NoError(t, err)

	result, err := engine.LatestVersion(ctx, ownerID, taskID, now)
	require.NoError(t, err)
	require.Equal(t, "corruption_fallback", result.Source)
	require.Equal(t, []byte("<html>original</html>"), result.Content)

	records, err := store.ListAudit(taskID, 10)
	require.NoError(t, err)
	var sawFallback bool
	for _, r := range records {
		if r.Action == metadata.ActionCorruptionFallback {
			sawFallback = true
		}
	}
	require.True(t, sawFallback)
}

func TestEndSessionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dsn := setupPostgresContainer(t)
	store := openTestStore(t, ctx, dsn)

	ownerID := uuid.NewString()
	require.NoError(t, store.EnsureUser(ctx, metadata.User{ID: ownerID, Email: "owner@example.com"}))
	taskID := seedTaskWithOriginal(t, ctx, store, ownerID, "<html>original</html>")

	mockS3 := objectstore.NewMockS3Client()
	objects := objectstore.NewWithClient(mockS3, &objectstore.MockPresigner{BaseURL: "https://example.s3"}, "bucket", "kms-key")
	checker := permission.NewChecker(store)
	audit := permission.NewAuditLog(store, nil)
	engine := New(store, objects, checker, audit, pdfrender.NewMockRenderer(), Config{}, nil)

	now := time.Now()
	session, err := engine.StartSession(ctx, ownerID, taskID, metadata.ViewEdit, now)
	require.NoError(t, err)

	require.NoError(t, engine.EndSession(ctx, session.ID, []byte("<html>final</html>"), "published", now))
	require.NoError(t, engine.EndSession(ctx, session.ID, []byte("<html>ignored</html>"), "published", now.Add(time.Second)))

	got, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, got.EndedAt)
}

func TestSaveAndEndSessionByTask(t *testing.T) {
	ctx := context.Background()
	dsn := setupPostgresContainer(t)
	store := openTestStore(t, ctx, dsn)

	ownerID := uuid.NewString()
	require.NoError(t, store.EnsureUser(ctx, metadata.User{ID: ownerID, Email: "owner@example.com"}))
	taskID := seedTaskWithOriginal(t, ctx, store, ownerID, "<html>original</html>")

	mockS3 := objectstore.NewMockS3Client()
	objects := objectstore.NewWithClient(mockS3, &objectstore.MockPresigner{BaseURL: "https://example.s3"}, "bucket", "kms-key")
	checker := permission.NewChecker(store)
	audit := permission.NewAuditLog(store, nil)
	engine := New(store, objects, checker, audit, pdfrender.NewMockRenderer(), Config{SnapshotWindow: time.Minute}, nil)

	now := time.Now()
	_, err := engine.StartSession(ctx, ownerID, taskID, metadata.ViewEdit, now)
	require.NoError(t, err)

	result, err := engine.SaveVersionByTask(ctx, ownerID, taskID, []byte("<html>edit one</html>"), metadata.ActionAutoSave, now)
	require.NoError(t, err)
	require.True(t, result.IsSnapshot)
	require.Equal(t, 1, result.Version.VersionNumber)

	require.NoError(t, engine.EndSessionByTask(ctx, ownerID, taskID, []byte("<html>final</html>"), "published", now.Add(time.Second)))
	// A repeat beacon call with no active session left must stay a no-op.
	require.NoError(t, engine.EndSessionByTask(ctx, ownerID, taskID, []byte("<html>ignored</html>"), "published", now.Add(2*time.Second)))

	latest, err := engine.LatestVersion(ctx, ownerID, taskID, now.Add(3*time.Second))
	require.NoError(t, err)
	require.Equal(t, []byte("<html>final</html>"), latest.Content)
}
