// Package versioning implements the document version engine (C10):
// session lifecycle, the auto-save snapshot-or-overwrite algorithm,
// corruption-fallback reads, and PDF rendering for downloads, per
// spec.md §4.10.
package versioning

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ocrforge.dev/apperr"
	"ocrforge.dev/metadata"
	"ocrforge.dev/objectstore"
	"ocrforge.dev/pdfrender"
	"ocrforge.dev/permission"
)

const (
	defaultSnapshotWindow = 5 * time.Minute
	defaultIdleTimeout    = 30 * time.Minute
)

// SessionState models the lifecycle named in §4.10: only one transition
// into ended is legal from any prior state, so Engine treats repeat
// end-session calls (e.g. a page-unload beacon racing a timer) as no-ops
// rather than errors.
type SessionState int

const (
	StateActive SessionState = iota
	StateEnding
	StateEnded
)

func stateOf(s metadata.EditSession) SessionState {
	if s.EndedAt != nil {
		return StateEnded
	}
	return StateActive
}

// Config tunes the two policy windows named in §4.10.
type Config struct {
	SnapshotWindow time.Duration
	IdleTimeout    time.Duration
}

// Engine wires the metadata session/version primitives together with
// permission checks, audit logging, and the PDF render capability.
type Engine struct {
	store    *metadata.Store
	objects  *objectstore.Client
	checker  *permission.Checker
	audit    *permission.AuditLog
	renderer pdfrender.Renderer
	cfg      Config
	log      *logrus.Entry
}

// New builds an Engine, defaulting Config's zero values to §4.10's stated
// defaults (5 minute snapshot window, 30 minute idle timeout).
func New(store *metadata.Store, objects *objectstore.Client, checker *permission.Checker, audit *permission.AuditLog, renderer pdfrender.Renderer, cfg Config, log *logrus.Entry) *Engine {
	if cfg.SnapshotWindow <= 0 {
		cfg.SnapshotWindow = defaultSnapshotWindow
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{store: store, objects: objects, checker: checker, audit: audit, renderer: renderer, cfg: cfg, log: log}
}

// StartSession opens an editing session, ending any still-active session
// for the same (user, task) first (§4.10's idempotent-per-pair rule,
// delegated to metadata.Store.StartSession).
func (e *Engine) StartSession(ctx context.Context, userID, taskID string, viewType metadata.ViewType, now time.Time) (metadata.EditSession, error) {
	if err := e.checker.RequireAccess(ctx, userID, taskID, now); err != nil {
		return metadata.EditSession{}, err
	}
	session, err := e.store.StartSession(ctx, uuid.NewString(), taskID, userID, viewType, now)
	if err != nil {
		return metadata.EditSession{}, err
	}
	e.audit.Record(metadata.AuditRecord{
		ID: uuid.NewString(), TaskID: taskID, UserID: userID,
		Action: metadata.ActionStartSession, SessionID: &session.ID, At: now,
	})
	return session, nil
}

// SaveVersion implements the auto-save algorithm (§4.10 steps 1-5): the
// session must exist, not have ended, and belong to callerID.
func (e *Engine) SaveVersion(ctx context.Context, callerID, sessionID string, content []byte, reason metadata.AuditAction, now time.Time) (metadata.SaveVersionResult, error) {
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return metadata.SaveVersionResult{}, err
	}
	if stateOf(session) == StateEnded {
		return metadata.SaveVersionResult{}, apperr.New(apperr.Conflict, "session already ended")
	}
	if session.UserID != callerID {
		return metadata.SaveVersionResult{}, apperr.New(apperr.Forbidden, "caller does not own session")
	}

	result, err := e.store.SaveVersion(ctx, uuid.NewString(), session.TaskID, sessionID, callerID, content, e.cfg.SnapshotWindow, now)
	if err != nil {
		return metadata.SaveVersionResult{}, err
	}
	if !result.NoOp {
		e.audit.Record(metadata.AuditRecord{
			ID: uuid.NewString(), TaskID: session.TaskID, UserID: callerID, Action: reason,
			VersionID: &result.Version.ID, SessionID: &sessionID, At: now,
		})
	}
	return result, nil
}

// SaveVersionByTask resolves callerID's active session for taskID before
// delegating to SaveVersion, backing the task-keyed save endpoint (§6
// `POST /api/versions/{task_id}/save`).
func (e *Engine) SaveVersionByTask(ctx context.Context, callerID, taskID string, content []byte, reason metadata.AuditAction, now time.Time) (metadata.SaveVersionResult, error) {
	session, err := e.store.GetActiveSession(ctx, callerID, taskID)
	if err != nil {
		return metadata.SaveVersionResult{}, err
	}
	return e.SaveVersion(ctx, callerID, session.ID, content, reason, now)
}

// LatestVersionResult is version.latest's response shape (§4.10).
type LatestVersionResult struct {
	Content       []byte
	VersionNumber int
	Source        string // "version" or "corruption_fallback"
}

// LatestVersion implements the read algorithm of §4.10 steps 1-3,
// including the corruption fallback to the task's original OCR output.
func (e *Engine) LatestVersion(ctx context.Context, callerID, taskID string, now time.Time) (LatestVersionResult, error) {
	if err := e.checker.RequireAccess(ctx, callerID, taskID, now); err != nil {
		return LatestVersionResult{}, err
	}

	latest, err := e.store.LatestVersion(ctx, taskID)
	if err != nil {
		return LatestVersionResult{}, err
	}

	content, err := e.resolveContent(ctx, latest)
	if err != nil {
		return LatestVersionResult{}, err
	}

	if !metadata.IsCorrupt(content) {
		return LatestVersionResult{Content: content, VersionNumber: latest.VersionNumber, Source: "version"}, nil
	}

	original, err := e.originalVersion(ctx, taskID)
	if err != nil {
		return LatestVersionResult{}, err
	}
	originalContent, err := e.resolveContent(ctx, original)
	if err != nil {
		return LatestVersionResult{}, err
	}

	e.audit.Record(metadata.AuditRecord{
		ID: uuid.NewString(), TaskID: taskID, UserID: callerID,
		Action: metadata.ActionCorruptionFallback, VersionID: &latest.ID, At: now,
	})
	return LatestVersionResult{Content: originalContent, VersionNumber: original.VersionNumber, Source: "corruption_fallback"}, nil
}

func (e *Engine) originalVersion(ctx context.Context, taskID string) (metadata.DocumentVersion, error) {
	versions, err := e.store.ListVersions(ctx, taskID)
	if err != nil {
		return metadata.DocumentVersion{}, err
	}
	for _, v := range versions {
		if v.IsOriginal {
			return v, nil
		}
	}
	return metadata.DocumentVersion{}, apperr.New(apperr.NotFound, "original version")
}

func (e *Engine) resolveContent(ctx context.Context, v metadata.DocumentVersion) ([]byte, error) {
	if len(v.Content) > 0 || v.ObjectKey == "" {
		return v.Content, nil
	}
	body, err := e.objects.Get(ctx, v.ObjectKey)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	buf := make([]byte, 0, 64*1024)
	chunk := make([]byte, 32*1024)
	for {
		n, err := body.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil {
			break
		}
	}
	return buf, nil
}

// ListVersions returns a task's full version history, oldest first.
func (e *Engine) ListVersions(ctx context.Context, callerID, taskID string, now time.Time) ([]metadata.DocumentVersion, error) {
	if err := e.checker.RequireAccess(ctx, callerID, taskID, now); err != nil {
		return nil, err
	}
	return e.store.ListVersions(ctx, taskID)
}

// EndSession implements session.end (§4.10): idempotent against an
// already-ended session, attempts one best-effort final save, and records
// the promoted version as published when the outcome calls for it. MUST
// succeed even for a best-effort unload beacon, so a failed final save is
// logged rather than returned.
func (e *Engine) EndSession(ctx context.Context, sessionID string, finalContent []byte, outcome string, now time.Time) error {
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if stateOf(session) == StateEnded {
		return nil
	}

	var publishedVersionID *string
	if len(finalContent) > 0 {
		reason := metadata.AuditAction(outcome)
		if reason == "" {
			reason = metadata.ActionAutoSave
		}
		result, err := e.SaveVersion(ctx, session.UserID, sessionID, finalContent, reason, now)
		if err != nil {
			e.log.WithError(err).WithField("session_id", sessionID).Warn("versioning: best-effort final save failed")
		} else if result.IsSnapshot {
			publishedVersionID = &result.Version.ID
		}
	}

	if err := e.store.EndSession(ctx, sessionID, outcome, publishedVersionID, now); err != nil {
		return err
	}
	e.audit.Record(metadata.AuditRecord{
		ID: uuid.NewString(), TaskID: session.TaskID, UserID: session.UserID,
		Action: endSessionAuditAction(outcome, publishedVersionID), SessionID: &sessionID, At: now,
	})
	return nil
}

// endSessionAuditAction picks the AuditRecord action for a session end:
// a promoted version is a publish; a caller-initiated discard is a revert;
// anything else (idle timeout, superseded) falls back to auto_save, since
// the session's last real content change was already recorded that way.
func endSessionAuditAction(outcome string, publishedVersionID *string) metadata.AuditAction {
	switch outcome {
	case "published":
		return metadata.ActionPublish
	case "reverted", "discarded":
		return metadata.ActionRevert
	default:
		if publishedVersionID != nil {
			return metadata.ActionPublish
		}
		return metadata.ActionAutoSave
	}
}

// EndSessionByTask resolves callerID's active session for taskID before
// delegating to EndSession, backing the task-keyed end endpoint (§6
// `POST /api/sessions/{task_id}/end`). A caller with no active session is
// treated as already-ended, matching EndSession's own idempotence
// contract, so a repeat beacon call is never an error.
func (e *Engine) EndSessionByTask(ctx context.Context, callerID, taskID string, finalContent []byte, outcome string, now time.Time) error {
	session, err := e.store.GetActiveSession(ctx, callerID, taskID)
	if apperr.Is(err, apperr.NotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return e.EndSession(ctx, session.ID, finalContent, outcome, now)
}

// ReapIdleSessions ends every session idle past Config.IdleTimeout.
func (e *Engine) ReapIdleSessions(ctx context.Context, now time.Time) ([]string, error) {
	return e.store.ReapIdleSessions(ctx, e.cfg.IdleTimeout, now)
}

// DownloadResult implements result.download (§4.10): renders html to PDF
// via the render capability and records a new version with reason=download.
func (e *Engine) DownloadResult(ctx context.Context, callerID, taskID, html string, now time.Time) ([]byte, error) {
	if err := e.checker.RequireAccess(ctx, callerID, taskID, now); err != nil {
		return nil, err
	}

	session, err := e.store.GetActiveSession(ctx, callerID, taskID)
	sessionID := ""
	if err == nil {
		sessionID = session.ID
	}

	if _, err := e.store.SaveVersion(ctx, uuid.NewString(), taskID, sessionID, callerID, []byte(html), e.cfg.SnapshotWindow, now); err != nil {
		return nil, err
	}
	e.audit.Record(metadata.AuditRecord{
		ID: uuid.NewString(), TaskID: taskID, UserID: callerID, Action: metadata.ActionDownload, At: now,
	})

	pdf, err := e.renderer.RenderPDF(ctx, html)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageError, "render pdf", err)
	}
	return pdf, nil
}
