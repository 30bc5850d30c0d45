package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"ocrforge.dev/apperr"
)

// StartSession implements §4.10's session lifecycle: idempotent per
// (user, task) while no active session exists; if one exists, it is ended
// with outcome=superseded before the new one opens.
func (s *Store) StartSession(ctx context.Context, newID, taskID, userID string, viewType ViewType, now time.Time) (EditSession, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return EditSession{}, apperr.Wrap(apperr.MetadataError, "begin", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE edit_sessions SET ended_at = $1, end_outcome = 'superseded'
		WHERE user_id = $2 AND task_id = $3 AND ended_at IS NULL`, now, userID, taskID); err != nil {
		return EditSession{}, apperr.Wrap(apperr.MetadataError, "end previous session", err)
	}

	session := EditSession{
		ID: newID, TaskID: taskID, UserID: userID, StartedAt: now,
		LastActivityAt: now, ViewType: viewType,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO edit_sessions (id, task_id, user_id, started_at, last_activity_at, view_type)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		session.ID, session.TaskID, session.UserID, session.StartedAt, session.LastActivityAt, session.ViewType)
	if err != nil {
		return EditSession{}, apperr.Wrap(apperr.MetadataError, "start session", err)
	}

	if err := commitTx(ctx, tx); err != nil {
		return EditSession{}, err
	}
	return session, nil
}

const sessionSelect = `
	SELECT id, task_id, user_id, started_at, ended_at, last_activity_at,
	       versions_created, view_type, draft_version_id, published_version_id, end_outcome
	FROM edit_sessions`

func scanSession(row pgx.Row) (EditSession, error) {
	var s EditSession
	if err := row.Scan(&s.ID, &s.TaskID, &s.UserID, &s.StartedAt, &s.EndedAt, &s.LastActivityAt,
		&s.VersionsCreated, &s.ViewType, &s.DraftVersionID, &s.PublishedVersionID, &s.EndOutcome); err != nil {
		return EditSession{}, err
	}
	return s, nil
}

// GetSession loads a session by id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (EditSession, error) {
	row := s.pool.QueryRow(ctx, sessionSelect+` WHERE id = $1`, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return EditSession{}, apperr.New(apperr.NotFound, "session")
	}
	if err != nil {
		return EditSession{}, apperr.Wrap(apperr.MetadataError, "get session", err)
	}
	return sess, nil
}

// GetActiveSession finds the non-ended session for a (user, task) pair, if
// any.
func (s *Store) GetActiveSession(ctx context.Context, userID, taskID string) (EditSession, error) {
	row := s.pool.QueryRow(ctx, sessionSelect+` WHERE user_id = $1 AND task_id = $2 AND ended_at IS NULL`, userID, taskID)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return EditSession{}, apperr.New(apperr.NotFound, "session")
	}
	if err != nil {
		return EditSession{}, apperr.Wrap(apperr.MetadataError, "get active session", err)
	}
	return sess, nil
}

// EndSession records ended_at/outcome and the published version, if any.
// Called unconditionally (sendBeacon-tolerant): ending an already-ended
// session is a no-op, not an error.
func (s *Store) EndSession(ctx context.Context, sessionID, outcome string, publishedVersionID *string, now time.Time) error {
	if _, err := s.pool.Exec(ctx, `
		UPDATE edit_sessions
		SET ended_at = $1, end_outcome = $2, published_version_id = COALESCE($3, published_version_id)
		WHERE id = $4 AND ended_at IS NULL`, now, outcome, publishedVersionID, sessionID); err != nil {
		return apperr.Wrap(apperr.MetadataError, "end session", err)
	}
	return nil
}

// ReapIdleSessions ends every session whose last_activity_at is older than
// idleTimeout, the periodic reaper described in §4.10. Returns the ended
// session ids.
func (s *Store) ReapIdleSessions(ctx context.Context, idleTimeout time.Duration, now time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE edit_sessions SET ended_at = $1, end_outcome = 'idle_timeout'
		WHERE ended_at IS NULL AND last_activity_at < $1 - $2::interval
		RETURNING id`, now, fmt.Sprintf("%d seconds", int(idleTimeout.Seconds())))
	if err != nil {
		return nil, apperr.Wrap(apperr.MetadataError, "reap idle sessions", err)
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
