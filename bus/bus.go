// Package bus implements the topic-based pub/sub fan-out (C4) that carries
// worker progress events and database change events to subscribers, most
// notably the realtime gateway.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Topic names declared by the spec.
const (
	TopicTaskUpdates = "task.updates"
	TopicDBChanges   = "db.changes"
)

// Kind tags the event family carried in an Envelope, per the design note
// against passing untyped maps across components.
type Kind string

const (
	KindTaskUpdate Kind = "task_update"
	KindDBChange   Kind = "db_change"
)

// Envelope is the single wire shape published on every topic. EventID lets
// subscribers deduplicate; Kind selects how to interpret Payload.
type Envelope struct {
	EventID   string          `json:"event_id"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// TaskUpdate is the payload for KindTaskUpdate events, emitted by the OCR
// worker pool as a task moves through its state machine.
type TaskUpdate struct {
	TaskID       string `json:"task_id"`
	OwnerID      string `json:"owner_id"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// DBChange is the payload for KindDBChange events, emitted by the change
// capture process from metadata-store NOTIFY triggers.
type DBChange struct {
	Table     string `json:"table"`
	Operation string `json:"operation"`
	RecordID  string `json:"record_id"`
	OwnerID   string `json:"owner_id"`
	Summary   string `json:"summary,omitempty"`
}

// Bus wraps a Redis client for Publish/Subscribe. Subscribers receive
// events in publish order per topic; no ordering is guaranteed across
// topics.
type Bus struct {
	client *redis.Client
}

// New wraps an existing Redis client (shared with the queue's connection
// pool configuration, distinct logical concern).
func New(client *redis.Client) *Bus {
	return &Bus{client: client}
}

func encode(kind Kind, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	env := Envelope{
		EventID:   uuid.NewString(),
		Kind:      kind,
		Payload:   raw,
		Timestamp: time.Now(),
	}
	return json.Marshal(env)
}

// PublishTaskUpdate publishes a worker progress/status event.
func (b *Bus) PublishTaskUpdate(ctx context.Context, update TaskUpdate) error {
	body, err := encode(KindTaskUpdate, update)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, TopicTaskUpdates, body).Err()
}

// PublishDBChange publishes a metadata-store change event.
func (b *Bus) PublishDBChange(ctx context.Context, change DBChange) error {
	body, err := encode(KindDBChange, change)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, TopicDBChanges, body).Err()
}

// Subscription wraps a Redis pub/sub subscription to one or more topics.
type Subscription struct {
	pubsub *redis.PubSub
}

// Subscribe opens a subscription to the given topics. Callers must call
// Close when done and range over Envelopes() to receive events.
func (b *Bus) Subscribe(ctx context.Context, topics ...string) *Subscription {
	return &Subscription{pubsub: b.client.Subscribe(ctx, topics...)}
}

// Envelopes returns a channel of decoded envelopes; malformed payloads are
// dropped rather than propagated, since the bus is hint-only.
func (s *Subscription) Envelopes() <-chan Envelope {
	out := make(chan Envelope)
	go func() {
		defer close(out)
		for msg := range s.pubsub.Channel() {
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				continue
			}
			out <- env
		}
	}()
	return out
}

// Close ends the subscription.
func (s *Subscription) Close() error {
	return s.pubsub.Close()
}
