package metadata

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"ocrforge.dev/apperr"
)

// GrantPermission inserts an EditPermission row (§4.11 grant).
func (s *Store) GrantPermission(ctx context.Context, p EditPermission) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO edit_permissions (id, task_id, user_id, granted_by, granted_at, expires_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, true)`,
		p.ID, p.TaskID, p.UserID, p.GrantedBy, p.GrantedAt, p.ExpiresAt)
	if err != nil {
		return apperr.Wrap(apperr.MetadataError, "grant permission", err)
	}
	return nil
}

// RevokePermission sets is_active=false immediately (§4.11 revoke, S6).
func (s *Store) RevokePermission(ctx context.Context, permissionID, reason string, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE edit_permissions SET is_active = false, revoked_at = $1, revoked_reason = $2 WHERE id = $3`,
		now, reason, permissionID)
	if err != nil {
		return apperr.Wrap(apperr.MetadataError, "revoke permission", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "permission")
	}
	return nil
}

// CheckPermission implements §4.11's check: true iff the caller owns the
// task, or holds an active, unexpired EditPermission.
func (s *Store) CheckPermission(ctx context.Context, userID, taskID string, now time.Time) (bool, error) {
	var ownerID string
	err := s.pool.QueryRow(ctx, `SELECT owner_id FROM tasks WHERE id = $1`, taskID).Scan(&ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, apperr.New(apperr.NotFound, "task")
	}
	if err != nil {
		return false, apperr.Wrap(apperr.MetadataError, "check owner", err)
	}
	if ownerID == userID {
		return true, nil
	}

	var count int
	err = s.pool.QueryRow(ctx, `
		SELECT count(*) FROM edit_permissions
		WHERE task_id = $1 AND user_id = $2 AND is_active
		  AND (expires_at IS NULL OR expires_at > $3)`, taskID, userID, now).Scan(&count)
	if err != nil {
		return false, apperr.Wrap(apperr.MetadataError, "check permission", err)
	}
	return count > 0, nil
}

// ListPermissions returns every permission ever granted for a task,
// including revoked/expired ones, for admin/audit views.
func (s *Store) ListPermissions(ctx context.Context, taskID string) ([]EditPermission, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, task_id, user_id, granted_by, granted_at, expires_at, is_active, revoked_at, revoked_reason
		FROM edit_permissions WHERE task_id = $1 ORDER BY granted_at`, taskID)
	if err != nil {
		return nil, apperr.Wrap(apperr.MetadataError, "list permissions", err)
	}
	defer rows.Close()

	var out []EditPermission
	for rows.Next() {
		var p EditPermission
		if err := rows.Scan(&p.ID, &p.TaskID, &p.UserID, &p.GrantedBy, &p.GrantedAt, &p.ExpiresAt,
			&p.IsActive, &p.RevokedAt, &p.RevokedReason); err != nil {
			return nil, apperr.Wrap(apperr.MetadataError, "scan permission", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
