package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"ocrforge.dev/apperr"
)

// CreateFileAndTask inserts File and Task in one transaction, per §4.6 step
// 3. A unique-constraint violation (such as a duplicate id) surfaces as
// apperr.Conflict.
func (s *Store) CreateFileAndTask(ctx context.Context, file File, task Task) error {
	cfg, err := json.Marshal(task.ProcessingConfig)
	if err != nil {
		return apperr.Wrap(apperr.ValidationFailed, "processing_config", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.MetadataError, "begin", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO files (id, owner_id, filename, mime_type, size_bytes, content_hash, object_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		file.ID, file.OwnerID, file.Filename, file.MimeType, file.SizeBytes, file.ContentHash, file.ObjectKey)
	if err != nil {
		return classifyInsertErr(err, "file")
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO tasks (id, owner_id, file_id, folder_id, status, processing_config)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		task.ID, task.OwnerID, task.FileID, task.FolderID, TaskQueued, cfg)
	if err != nil {
		return classifyInsertErr(err, "task")
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.MetadataError, "commit", err)
	}
	return nil
}

// pgUniqueViolation is the Postgres error code for a unique constraint
// violation (unique_violation).
const pgUniqueViolation = "23505"

func classifyInsertErr(err error, what string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return apperr.Wrap(apperr.Conflict, what, err)
	}
	return apperr.Wrap(apperr.MetadataError, what, err)
}

const taskColumns = `id, owner_id, file_id, folder_id, status, error_message, processing_config, attempt_count, created_at, updated_at`

func scanTask(row pgx.Row) (Task, error) {
	var t Task
	var cfg []byte
	if err := row.Scan(&t.ID, &t.OwnerID, &t.FileID, &t.FolderID, &t.Status, &t.ErrorMessage,
		&cfg, &t.AttemptCount, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Task{}, err
	}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &t.ProcessingConfig); err != nil {
			return Task{}, fmt.Errorf("unmarshal processing_config: %w", err)
		}
	}
	return t, nil
}

// GetTask loads a task by id.
func (s *Store) GetTask(ctx context.Context, taskID string) (Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, taskID)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Task{}, apperr.New(apperr.NotFound, "task")
	}
	if err != nil {
		return Task{}, apperr.Wrap(apperr.MetadataError, "get task", err)
	}
	return t, nil
}

// ListTasksByOwner returns an owner's tasks newest first, using the
// (owner_id, created_at desc) index.
func (s *Store) ListTasksByOwner(ctx context.Context, ownerID string, limit, offset int) ([]Task, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, ownerID, limit, offset)
	if err != nil {
		return nil, apperr.Wrap(apperr.MetadataError, "list tasks", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.MetadataError, "scan task", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CASTaskStatus performs the compare-and-set transition used by the worker
// pool (§4.7 step 3): update status only if it still matches from. On a lost
// CAS (another worker already claimed the task, or it is already terminal)
// RowsAffected is 0 and the caller must drop the message rather than treat
// it as an error — this generalizes db/state_store.go's TransitionTo, whose
// conditional UPDATE + RowsAffected()==0 check is the same mechanism.
func (s *Store) CASTaskStatus(ctx context.Context, taskID string, from, to TaskStatus) (bool, error) {
	result, err := s.pool.Exec(ctx, `
		UPDATE tasks SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3`, to, taskID, from)
	if err != nil {
		return false, apperr.Wrap(apperr.MetadataError, "cas task status", err)
	}
	return result.RowsAffected() > 0, nil
}

// FailQueuedTask marks a still-queued Task failed directly, for ingestion
// failures that happen before a worker ever claims the task (§4.6 step 4:
// an object-store write failure "marks the Task failed in a separate
// transaction"). It is a no-op (returns false) if the task was already
// claimed by a worker or is otherwise no longer queued.
func (s *Store) FailQueuedTask(ctx context.Context, taskID, errMsg string) (bool, error) {
	result, err := s.pool.Exec(ctx, `
		UPDATE tasks SET status = $1, error_message = $2, updated_at = now()
		WHERE id = $3 AND status = $4`, TaskFailed, errMsg, taskID, TaskQueued)
	if err != nil {
		return false, apperr.Wrap(apperr.MetadataError, "fail queued task", err)
	}
	return result.RowsAffected() > 0, nil
}

// CompleteTask performs step 7's transaction: insert Result and flip
// Task.status=completed atomically. A prior Result row for the task is
// overwritten, matching the idempotence contract in §4.7.
func (s *Store) CompleteTask(ctx context.Context, taskID string, result Result) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.MetadataError, "begin", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO results (id, task_id, result_object_key, page_count, word_count, confidence_score, processing_time_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (task_id) DO UPDATE SET
			result_object_key = EXCLUDED.result_object_key,
			page_count = EXCLUDED.page_count,
			word_count = EXCLUDED.word_count,
			confidence_score = EXCLUDED.confidence_score,
			processing_time_ms = EXCLUDED.processing_time_ms,
			created_at = now()`,
		result.ID, taskID, result.ResultObjectKey, result.PageCount, result.WordCount,
		result.ConfidenceScore, result.ProcessingTimeMS)
	if err != nil {
		return apperr.Wrap(apperr.MetadataError, "insert result", err)
	}

	tag, err := tx.Exec(ctx, `UPDATE tasks SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`,
		TaskCompleted, taskID, TaskProcessing)
	if err != nil {
		return apperr.Wrap(apperr.MetadataError, "complete task", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.Conflict, "task not in processing state")
	}

	return commitTx(ctx, tx)
}

func commitTx(ctx context.Context, tx pgx.Tx) error {
	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.MetadataError, "commit", err)
	}
	return nil
}

// FailTask increments the attempt counter and either leaves the task queued
// for redelivery (under the retry limit) or marks it failed with a message.
func (s *Store) FailTask(ctx context.Context, taskID, errMsg string, maxAttempts int) (retry bool, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, apperr.Wrap(apperr.MetadataError, "begin", err)
	}
	defer tx.Rollback(ctx)

	var attempts int
	if err := tx.QueryRow(ctx, `UPDATE tasks SET attempt_count = attempt_count + 1, updated_at = now()
		WHERE id = $1 AND status = $2 RETURNING attempt_count`, taskID, TaskProcessing).Scan(&attempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, apperr.New(apperr.Conflict, "task not in processing state")
		}
		return false, apperr.Wrap(apperr.MetadataError, "increment attempts", err)
	}

	if attempts < maxAttempts {
		if _, err := tx.Exec(ctx, `UPDATE tasks SET status = $1, updated_at = now() WHERE id = $2`,
			TaskQueued, taskID); err != nil {
			return false, apperr.Wrap(apperr.MetadataError, "requeue task", err)
		}
		return true, commitTx(ctx, tx)
	}

	if _, err := tx.Exec(ctx, `UPDATE tasks SET status = $1, error_message = $2, updated_at = now() WHERE id = $3`,
		TaskFailed, errMsg, taskID); err != nil {
		return false, apperr.Wrap(apperr.MetadataError, "fail task", err)
	}
	return false, commitTx(ctx, tx)
}

// TimeoutStuckProcessing fails every task that has been in status=processing
// past the worker timeout, per S3's reaper contract. Returns the task ids it
// moved to failed.
func (s *Store) TimeoutStuckProcessing(ctx context.Context, olderThan time.Duration) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE tasks SET status = $1, error_message = $2, updated_at = now()
		WHERE status = $3 AND updated_at < now() - $4::interval
		RETURNING id`,
		TaskFailed, "Timeout", TaskProcessing, fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return nil, apperr.Wrap(apperr.MetadataError, "timeout stuck tasks", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RequeueStuckQueued returns task ids still queued past a staleness window,
// for the ingestion-side reaper described in §4.6 step 5.
func (s *Store) RequeueStuckQueued(ctx context.Context, olderThan time.Duration) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM tasks WHERE status = $1 AND created_at < now() - $2::interval`,
		TaskQueued, fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return nil, apperr.Wrap(apperr.MetadataError, "list stuck queued", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteTaskCascade hard-deletes Task, Result, and DocumentVersion rows per
// §4.12's delete semantics. EditSession and AuditRecord rows are untouched.
func (s *Store) DeleteTaskCascade(ctx context.Context, taskID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.MetadataError, "begin", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM document_versions WHERE task_id = $1`, taskID); err != nil {
		return apperr.Wrap(apperr.MetadataError, "delete versions", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM results WHERE task_id = $1`, taskID); err != nil {
		return apperr.Wrap(apperr.MetadataError, "delete result", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, taskID)
	if err != nil {
		return apperr.Wrap(apperr.MetadataError, "delete task", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "task")
	}

	return commitTx(ctx, tx)
}

// GetResultByTask loads the result row for a completed task.
func (s *Store) GetResultByTask(ctx context.Context, taskID string) (Result, error) {
	var r Result
	err := s.pool.QueryRow(ctx, `
		SELECT id, task_id, result_object_key, page_count, word_count, confidence_score, processing_time_ms, created_at
		FROM results WHERE task_id = $1`, taskID).Scan(
		&r.ID, &r.TaskID, &r.ResultObjectKey, &r.PageCount, &r.WordCount, &r.ConfidenceScore, &r.ProcessingTimeMS, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Result{}, apperr.New(apperr.NotFound, "result")
	}
	if err != nil {
		return Result{}, apperr.Wrap(apperr.MetadataError, "get result", err)
	}
	return r, nil
}
