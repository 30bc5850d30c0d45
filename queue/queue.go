// Package queue provides the FIFO work queue that hands task ids from the
// ingestion service to the OCR worker pool.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TaskQueueName is the single logical queue workers drain.
const TaskQueueName = "ocr:tasks"

// Queue is a Redis-backed FIFO. Push (RPUSH) and BlockingPop (BLPOP) give
// push/blocking_pop; a popped message leaves the list. A companion sorted
// set tracks in-flight task ids by deadline and ExpiredProcessing lists
// those past it; nothing in this package pushes them back onto the queue.
type Queue struct {
	client *redis.Client
	prefix string
}

// Message is the envelope pushed onto the queue.
type Message struct {
	TaskID     string    `json:"task_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempt    int       `json:"attempt"`
}

// Config configures the queue's Redis connection.
type Config struct {
	RedisURL  string // defaults to redis://localhost:6379/0
	KeyPrefix string // defaults to "queue:"
}

// New dials Redis and verifies connectivity.
func New(ctx context.Context, cfg Config) (*Queue, error) {
	redisURL := cfg.RedisURL
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "queue:"
	}

	return &Queue{client: client, prefix: prefix}, nil
}

// NewWithClient wraps an existing Redis client (used by tests against miniredis).
func NewWithClient(client *redis.Client, keyPrefix string) *Queue {
	if keyPrefix == "" {
		keyPrefix = "queue:"
	}
	return &Queue{client: client, prefix: keyPrefix}
}

// Close releases the underlying Redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) listKey(name string) string {
	return q.prefix + name
}

func (q *Queue) processingKey() string {
	return q.prefix + "processing"
}

// Push enqueues a task id onto the named queue.
func (q *Queue) Push(ctx context.Context, queueName, taskID string) error {
	msg := Message{TaskID: taskID, EnqueuedAt: time.Now()}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return q.client.RPush(ctx, q.listKey(queueName), body).Err()
}

// Requeue pushes a task id back onto the tail of the queue with an
// incremented attempt count, used for retryable worker failures.
func (q *Queue) Requeue(ctx context.Context, queueName, taskID string, attempt int) error {
	msg := Message{TaskID: taskID, EnqueuedAt: time.Now(), Attempt: attempt}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return q.client.RPush(ctx, q.listKey(queueName), body).Err()
}

// BlockingPop waits up to timeout for a task id, returning (nil, nil) on
// timeout with no message available.
func (q *Queue) BlockingPop(ctx context.Context, queueName string, timeout time.Duration) (*Message, error) {
	result, err := q.client.BLPop(ctx, timeout, q.listKey(queueName)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("blocking pop: %w", err)
	}
	if len(result) < 2 {
		return nil, nil
	}

	var msg Message
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	return &msg, nil
}

// MarkProcessing records that a task id is being worked with a deadline,
// after which ExpiredProcessing reports it.
func (q *Queue) MarkProcessing(ctx context.Context, taskID string, deadline time.Time) error {
	return q.client.ZAdd(ctx, q.processingKey(), redis.Z{
		Score:  float64(deadline.Unix()),
		Member: taskID,
	}).Err()
}

// CompleteTask removes a task id from the in-flight set.
func (q *Queue) CompleteTask(ctx context.Context, taskID string) error {
	return q.client.ZRem(ctx, q.processingKey(), taskID).Err()
}

// ExpiredProcessing returns task ids whose processing deadline has passed,
// such as a task whose worker died mid-task (S3).
func (q *Queue) ExpiredProcessing(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())
	return q.client.ZRangeByScore(ctx, q.processingKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%f", now),
	}).Result()
}

// Depth reports the number of pending messages, used for the
// ServiceOverloaded backpressure check (§5).
func (q *Queue) Depth(ctx context.Context, queueName string) (int64, error) {
	return q.client.LLen(ctx, q.listKey(queueName)).Result()
}
