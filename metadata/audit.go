package metadata

import (
	"encoding/json"
	"time"

	"ocrforge.dev/apperr"
)

// auditRow is the GORM model backing the append-only audit log, following
// the teacher's db/postgres.go RabbitLog model: GORM owns this one table's
// migrations and timestamps while every other table is managed by
// schema.sql through pgx. No Update or Delete method exists on this type
// anywhere in the package — append is the only write path, enforcing the
// audit-immutability invariant by omission rather than by a database
// trigger.
type auditRow struct {
	ID        string `gorm:"primaryKey"`
	TaskID    string `gorm:"index;index:idx_audit_task_at,priority:1"`
	UserID    string
	Action    string
	VersionID *string
	SessionID *string
	Details   []byte `gorm:"type:jsonb"`
	IP        string
	UserAgent string
	At        time.Time `gorm:"index:idx_audit_task_at,priority:2,sort:desc"`
}

func (auditRow) TableName() string { return "audit_records" }

// AppendAudit inserts a single audit row. Failures are the caller's to log
// and count (§7: "Audit writes that fail are logged but do not block the
// primary write"); this method itself simply reports the error.
func (s *Store) AppendAudit(rec AuditRecord) error {
	details, err := json.Marshal(rec.Details)
	if err != nil {
		return apperr.Wrap(apperr.ValidationFailed, "audit details", err)
	}

	row := auditRow{
		ID: rec.ID, TaskID: rec.TaskID, UserID: rec.UserID, Action: string(rec.Action),
		VersionID: rec.VersionID, SessionID: rec.SessionID, Details: details,
		IP: rec.IP, UserAgent: rec.UserAgent, At: rec.At,
	}
	if err := s.gdb.Create(&row).Error; err != nil {
		return apperr.Wrap(apperr.MetadataError, "append audit", err)
	}
	return nil
}

// ListAudit returns a task's audit trail, most recent first, using the
// (task_id, at desc) index.
func (s *Store) ListAudit(taskID string, limit int) ([]AuditRecord, error) {
	var rows []auditRow
	if err := s.gdb.Where("task_id = ?", taskID).Order("at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, apperr.Wrap(apperr.MetadataError, "list audit", err)
	}

	out := make([]AuditRecord, 0, len(rows))
	for _, r := range rows {
		var details map[string]any
		_ = json.Unmarshal(r.Details, &details)
		out = append(out, AuditRecord{
			ID: r.ID, TaskID: r.TaskID, UserID: r.UserID, Action: AuditAction(r.Action),
			VersionID: r.VersionID, SessionID: r.SessionID, Details: details,
			IP: r.IP, UserAgent: r.UserAgent, At: r.At,
		})
	}
	return out, nil
}
