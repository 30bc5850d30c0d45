package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client)
}

func TestPublishAndSubscribeTaskUpdate(t *testing.T) {
	b := newTestBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub := b.Subscribe(ctx, TopicTaskUpdates)
	defer sub.Close()

	// give the subscription a moment to register with miniredis.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, b.PublishTaskUpdate(ctx, TaskUpdate{
		TaskID:  "t1",
		OwnerID: "u1",
		Status:  "processing",
	}))

	select {
	case env := <-sub.Envelopes():
		require.Equal(t, KindTaskUpdate, env.Kind)
		require.NotEmpty(t, env.EventID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
	}
}

func TestPublishDBChange(t *testing.T) {
	b := newTestBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub := b.Subscribe(ctx, TopicDBChanges)
	defer sub.Close()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, b.PublishDBChange(ctx, DBChange{
		Table:     "tasks",
		Operation: "update",
		RecordID:  "t1",
		OwnerID:   "u1",
	}))

	select {
	case env := <-sub.Envelopes():
		require.Equal(t, KindDBChange, env.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
	}
}
