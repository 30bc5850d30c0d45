package realtime

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"ocrforge.dev/auth"
	"ocrforge.dev/bus"
)

func newTestGateway(t *testing.T) (*Gateway, *bus.Bus) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	redisBus := bus.New(redisClient)

	validator := auth.NewStaticTokenValidator(map[string]auth.Identity{
		"owner-token": {UserID: "owner-1", AuthProvider: "test"},
	})
	return New(validator, redisBus, nil), redisBus
}

func dialWS(t *testing.T, server *httptest.Server, token string) *gorillaws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?token=" + token
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestRejectsUnauthenticatedHandshake(t *testing.T) {
	gw, _ := newTestGateway(t)
	server := httptest.NewServer(gw)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?token=bad-token"
	_, resp, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, 401, resp.StatusCode)
}

func TestSendsWelcomeThenBroadcastsTaskUpdatesToOwner(t *testing.T) {
	gw, redisBus := newTestGateway(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw.Start(ctx)
	defer gw.Stop()

	server := httptest.NewServer(gw)
	defer server.Close()

	conn := dialWS(t, server, "owner-token")
	defer conn.Close()

	var welcome Envelope
	require.NoError(t, conn.ReadJSON(&welcome))
	require.Equal(t, MessageWelcome, welcome.Type)

	require.Eventually(t, func() bool {
		return gw.connectionCount("owner-1") == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, redisBus.PublishTaskUpdate(ctx, bus.TaskUpdate{
		TaskID: "task-1", OwnerID: "owner-1", Status: "completed",
	}))

	var update Envelope
	require.NoError(t, conn.ReadJSON(&update))
	require.Equal(t, MessageTaskUpdate, update.Type)
}

func TestDoesNotBroadcastToOtherUsers(t *testing.T) {
	gw, redisBus := newTestGateway(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw.Start(ctx)
	defer gw.Stop()

	require.NoError(t, redisBus.PublishDBChange(ctx, bus.DBChange{
		Table: "tasks", Operation: "update", RecordID: "r1", OwnerID: "someone-else",
	}))
	// No connection registered for "someone-else"; dispatch must not panic
	// or block on an empty registry.
	time.Sleep(50 * time.Millisecond)
}
