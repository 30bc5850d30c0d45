//go:build integration

package changecapture

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"ocrforge.dev/bus"
	"ocrforge.dev/metadata"
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

type recordingPublisher struct {
	mu      sync.Mutex
	changes []bus.DBChange
}

func (r *recordingPublisher) PublishDBChange(_ context.Context, change bus.DBChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change)
	return nil
}

func (r *recordingPublisher) snapshot() []bus.DBChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bus.DBChange, len(r.changes))
	copy(out, r.changes)
	return out
}

func TestListenerForwardsTaskChanges(t *testing.T) {
	dsn := setupPostgresContainer(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	store := metadata.NewWithPool(pool, gdb)
	require.NoError(t, store.Migrate(ctx))

	pub := &recordingPublisher{}
	listener := New(pool, pub, nil)
	go listener.Start(ctx)
	defer listener.Stop()

	time.Sleep(200 * time.Millisecond) // allow LISTEN to attach

	ownerID := uuid.NewString()
	require.NoError(t, store.EnsureUser(ctx, metadata.User{ID: ownerID, Email: "owner@example.com"}))
	require.NoError(t, store.CreateFileAndTask(ctx, metadata.File{
		ID: uuid.NewString(), OwnerID: ownerID, Filename: "doc.pdf", SizeBytes: 10,
	}, metadata.Task{ID: uuid.NewString(), OwnerID: ownerID}))

	require.Eventually(t, func() bool {
		for _, c := range pub.snapshot() {
			if c.Table == "tasks" && c.Operation == "insert" {
				return true
			}
		}
		return false
	}, 5*time.Second, 100*time.Millisecond)
}
