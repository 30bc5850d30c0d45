// Package changecapture implements C5: a PostgreSQL LISTEN subscriber that
// republishes metadata-store row changes onto the event bus for the
// realtime gateway, with no replay of notifications missed while
// disconnected.
package changecapture

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"ocrforge.dev/bus"
)

// Channel is the Postgres NOTIFY channel the metadata schema's triggers
// publish to.
const Channel = "db_changes"

const reconnectDelay = time.Second

// rawChange mirrors notify_metadata_change()'s jsonb_build_object shape.
type rawChange struct {
	Table     string `json:"table"`
	Operation string `json:"operation"`
	RecordID  string `json:"record_id"`
	OwnerID   string `json:"owner_id"`
}

// decodeChange parses a notify_metadata_change() payload into a bus.DBChange.
func decodeChange(payload string) (bus.DBChange, error) {
	var raw rawChange
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return bus.DBChange{}, err
	}
	return bus.DBChange{
		Table:     raw.Table,
		Operation: raw.Operation,
		RecordID:  raw.RecordID,
		OwnerID:   raw.OwnerID,
	}, nil
}

// Publisher is the subset of bus.Bus the listener needs, so tests can
// inject a recording fake instead of a live Redis bus.
type Publisher interface {
	PublishDBChange(ctx context.Context, change bus.DBChange) error
}

// Listener holds a LISTEN connection open against the metadata store and
// forwards every notification to Publisher. Connection loss triggers
// reconnect-with-backoff; notifications emitted while disconnected are
// not replayed, matching §4.5's at-most-once delivery contract for this
// stream (the metadata store itself remains the source of truth).
type Listener struct {
	pool      *pgxpool.Pool
	publisher Publisher
	log       *logrus.Entry

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// New builds a Listener over pool, publishing decoded changes to pub.
func New(pool *pgxpool.Pool, pub Publisher, log *logrus.Entry) *Listener {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Listener{pool: pool, publisher: pub, log: log}
}

// Start runs the listen loop until ctx is canceled or Stop is called.
// It blocks the calling goroutine; callers typically invoke it via `go`.
func (l *Listener) Start(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.running = true
	l.mu.Unlock()

	const maxReconnectDelay = 30 * time.Second
	delay := reconnectDelay
	for {
		select {
		case <-runCtx.Done():
			return
		default:
		}

		started := time.Now()
		if err := l.listenOnce(runCtx); err != nil {
			if time.Since(started) > maxReconnectDelay {
				// The connection held for a while; start the backoff over.
				delay = reconnectDelay
			}
			l.log.WithError(err).Warn("changecapture: listen connection lost, reconnecting")
			select {
			case <-runCtx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
		}
	}
}

// Stop ends the listen loop.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return
	}
	l.running = false
	if l.cancel != nil {
		l.cancel()
	}
}

func (l *Listener) listenOnce(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return err
	}
	l.log.WithField("channel", Channel).Info("changecapture: listening")

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}

		change, err := decodeChange(notification.Payload)
		if err != nil {
			l.log.WithError(err).Warn("changecapture: malformed notification payload, dropping")
			continue
		}

		if err := l.publisher.PublishDBChange(ctx, change); err != nil {
			l.log.WithError(err).Warn("changecapture: publish to bus failed, dropping")
		}
	}
}
