// Package permission implements C11: edit-permission grant/revoke/check
// and the append-only audit log, per spec.md §4.11.
package permission

import (
	"context"
	"expvar"
	"time"

	"github.com/sirupsen/logrus"

	"ocrforge.dev/apperr"
	"ocrforge.dev/metadata"
)

// missedAudits counts audit writes that failed and were dropped, per the
// non-blocking propagation policy in spec.md §7.
var missedAudits = expvar.NewInt("ocrforge_missed_audits_total")

// Checker wraps the metadata store's permission table with the
// grant/revoke/check operations spec.md §4.11 names.
type Checker struct {
	store *metadata.Store
}

// NewChecker builds a Checker over store.
func NewChecker(store *metadata.Store) *Checker {
	return &Checker{store: store}
}

// Grant records a new EditPermission. Only the task owner may call this;
// callers enforce that at the HTTP layer since ownership is a property of
// the caller's identity, not of the grant itself.
func (c *Checker) Grant(ctx context.Context, p metadata.EditPermission) error {
	return c.store.GrantPermission(ctx, p)
}

// Revoke deactivates a permission immediately, regardless of expiry.
func (c *Checker) Revoke(ctx context.Context, permissionID, reason string, now time.Time) error {
	return c.store.RevokePermission(ctx, permissionID, reason, now)
}

// Check reports whether user may access task: true iff the user owns the
// task, or holds an active, unexpired EditPermission (§4.11).
func (c *Checker) Check(ctx context.Context, userID, taskID string, now time.Time) (bool, error) {
	return c.store.CheckPermission(ctx, userID, taskID, now)
}

// List returns every permission ever granted for a task, active or not.
func (c *Checker) List(ctx context.Context, taskID string) ([]metadata.EditPermission, error) {
	return c.store.ListPermissions(ctx, taskID)
}

// RequireAccess is a convenience used by C9/C10 call sites: it turns a
// failed check into apperr.Forbidden instead of a bare boolean, since
// every caller needs exactly that error shape.
func (c *Checker) RequireAccess(ctx context.Context, userID, taskID string, now time.Time) error {
	ok, err := c.Check(ctx, userID, taskID, now)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.Forbidden, "no active permission for task")
	}
	return nil
}

// AuditLog appends audit records without ever blocking or failing the
// primary write the caller is performing. A failed append is logged and
// counted in missedAudits instead of propagated.
type AuditLog struct {
	store *metadata.Store
	log   *logrus.Entry
}

// NewAuditLog builds an AuditLog over store. log may be nil.
func NewAuditLog(store *metadata.Store, log *logrus.Entry) *AuditLog {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &AuditLog{store: store, log: log}
}

// Record appends rec, logging and counting (never returning) on failure.
func (a *AuditLog) Record(rec metadata.AuditRecord) {
	if err := a.store.AppendAudit(rec); err != nil {
		missedAudits.Add(1)
		a.log.WithError(err).WithFields(logrus.Fields{
			"task_id": rec.TaskID, "action": rec.Action,
		}).Error("permission: audit write failed")
	}
}

// RecordGrant is a convenience wrapping Record for the grant_permission action.
func (a *AuditLog) RecordGrant(taskID, userID string, rec metadata.AuditRecord) {
	rec.TaskID = taskID
	rec.UserID = userID
	rec.Action = metadata.ActionGrantPermission
	a.Record(rec)
}

// RecordRevoke is a convenience wrapping Record for the revoke_permission action.
func (a *AuditLog) RecordRevoke(taskID, userID string, rec metadata.AuditRecord) {
	rec.TaskID = taskID
	rec.UserID = userID
	rec.Action = metadata.ActionRevokePermission
	a.Record(rec)
}
