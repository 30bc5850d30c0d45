//go:build integration

package permission

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

	"ocrforge.dev/apperr"
	"ocrforge.dev/metadata"
)

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

func seedOwnerFileAndTask(t *testing.T, ctx context.Context, store *metadata.Store) (ownerID, taskID string) {
	t.Helper()
	ownerID = uuid.NewString()
	require.NoError(t, store.EnsureUser(ctx, metadata.User{ID: ownerID, Email: "owner@example.com"}))

	fileID := uuid.NewString()
	taskID = uuid.NewString()
	require.NoError(t, store.CreateFileAndTask(ctx, metadata.File{
		ID: fileID, OwnerID: ownerID, Filename: "scan.pdf", MimeType: "application/pdf",
		SizeBytes: 10, ObjectKey: "uploads/" + fileID,
	}, metadata.Task{ID: taskID, OwnerID: ownerID, FileID: fileID}))
	return ownerID, taskID
}

// TestGrantExpiryRevokeLifecycle reproduces the grant/expiry/revoke scenario
// from spec.md: a grant with a 1h expiry permits access before expiry,
// denies it after, and revoke denies access immediately regardless of
// expiry.
func TestGrantExpiryRevokeLifecycle(t *testing.T) {
	ctx := context.Background()
	dsn := setupPostgresContainer(t)
	store := openTestStore(t, ctx, dsn)

	ownerID, taskID := seedOwnerFileAndTask(t, ctx, store)
	grantee := uuid.NewString()
	require.NoError(t, store.EnsureUser(ctx, metadata.User{ID: grantee, Email: "grantee@example.com"}))

	checker := NewChecker(store)

	now := time.Now()
	expiresAt := now.Add(time.Hour)
	permissionID := uuid.NewString()
	require.NoError(t, checker.Grant(ctx, metadata.EditPermission{
		ID: permissionID, TaskID: taskID, UserID: grantee, GrantedBy: ownerID,
		GrantedAt: now, ExpiresAt: &expiresAt, IsActive: true,
	}))

	ok, err := checker.Check(ctx, grantee, taskID, now)
	require.NoError(t, err)
	require.True(t, ok, "grantee should have access before expiry")

	ok, err = checker.Check(ctx, grantee, taskID, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.False(t, ok, "grantee access must lapse after expiry")

	err = checker.RequireAccess(ctx, grantee, taskID, now.Add(2*time.Hour))
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.Forbidden))

	// Re-grant without expiry, then revoke immediately.
	permissionID2 := uuid.NewString()
	require.NoError(t, checker.Grant(ctx, metadata.EditPermission{
		ID: permissionID2, TaskID: taskID, UserID: grantee, GrantedBy: ownerID,
		GrantedAt: now, IsActive: true,
	}))
	ok, err = checker.Check(ctx, grantee, taskID, now)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, checker.Revoke(ctx, permissionID2, "owner requested", now))
	ok, err = checker.Check(ctx, grantee, taskID, now)
	require.NoError(t, err)
	require.False(t, ok, "revoke must take effect immediately")

	// Owner always has access, with no grant at all.
	ok, err = checker.Check(ctx, ownerID, taskID, now)
	require.NoError(t, err)
	require.True(t, ok)

	perms, err := checker.List(ctx, taskID)
	require.NoError(t, err)
	require.Len(t, perms, 2)
}

func TestAuditLogRecordsGrantAndRevoke(t *testing.T) {
	ctx := context.Background()
	dsn := setupPostgresContainer(t)
	store := openTestStore(t, ctx, dsn)

	ownerID, taskID := seedOwnerFileAndTask(t, ctx, store)
	audit := NewAuditLog(store, nil)

	audit.RecordGrant(taskID, ownerID, metadata.AuditRecord{ID: uuid.NewString(), At: time.Now()})
	audit.RecordRevoke(taskID, ownerID, metadata.AuditRecord{ID: uuid.NewString(), At: time.Now()})

	records, err := store.ListAudit(taskID, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
}
