// Package metadata is the transactional record of users, files, tasks,
// folders, results, versions, sessions, permissions, and the audit log. It
// is the only authoritative source of entity state; every other component
// is a cache or a derivation of what is written here.
package metadata

import "time"

// TaskStatus is the Task state machine. Transitions only move forward:
// queued -> processing -> {completed, failed}.
type TaskStatus string

const (
	TaskQueued     TaskStatus = "queued"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// ViewType classifies an EditSession's intent.
type ViewType string

const (
	ViewOriginal ViewType = "original_view"
	ViewOnly     ViewType = "view_only"
	ViewEdit     ViewType = "edit"
)

// AuditAction enumerates the actions recorded in AuditRecord.
type AuditAction string

const (
	ActionOpenViewer        AuditAction = "open_viewer"
	ActionStartSession      AuditAction = "start_session"
	ActionAutoSave          AuditAction = "auto_save"
	ActionPublish           AuditAction = "publish"
	ActionRevert            AuditAction = "revert"
	ActionDownload          AuditAction = "download"
	ActionDelete            AuditAction = "delete"
	ActionGrantPermission   AuditAction = "grant_permission"
	ActionRevokePermission  AuditAction = "revoke_permission"
	ActionCorruptionFallback AuditAction = "corruption_fallback"
)

// User is the principal identity. The credit balance is manipulated only
// through an external capability; this store only reads it.
type User struct {
	ID            string
	DisplayName   string
	Email         string
	CreditBalance int64
	CreatedAt     time.Time
}

// Folder is a user-scoped grouping. A task has at most one folder.
type Folder struct {
	ID          string
	OwnerID     string
	Name        string
	Color       string
	Description string
	CreatedAt   time.Time
}

// File is the original uploaded artifact. Exactly one object_key names its
// bytes in the object store.
type File struct {
	ID          string
	OwnerID     string
	Filename    string
	MimeType    string
	SizeBytes   int64
	ContentHash string
	ObjectKey   string
	CreatedAt   time.Time
}

// ProcessingConfig is the declarative extraction choice resolved at
// enqueue time. It is immutable once the Task is created.
type ProcessingConfig struct {
	Modes          []string          `json:"modes"` // kvp, anon, text
	FieldSelectors map[string]string `json:"field_selectors,omitempty"`
}

// Task is a unit of OCR work for one file.
type Task struct {
	ID               string
	OwnerID          string
	FileID           string
	FolderID         *string
	Status           TaskStatus
	ErrorMessage     *string
	ProcessingConfig ProcessingConfig
	AttemptCount     int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Result is the OCR output's metadata, one row per completed Task.
type Result struct {
	ID               string
	TaskID           string
	ResultObjectKey  string
	PageCount        int
	WordCount        int
	ConfidenceScore  float64
	ProcessingTimeMS int64
	CreatedAt        time.Time
}

// DocumentVersion is a saved state of a task's edited content. A save
// within the snapshot window overwrites the latest row in place; a later
// save adds a new row. version_number 0 is always the original OCR output.
type DocumentVersion struct {
	ID              string
	TaskID          string
	VersionNumber   int
	IsLatest        bool
	IsOriginal      bool
	IsDraft         bool
	Content         []byte // inline content; empty when ObjectKey is set
	ObjectKey       string // set for large payloads instead of Content
	ContentChecksum string
	CharacterCount  int
	WordCount       int
	EditedBy        string
	EditedAt        time.Time
	SessionID       *string
}

// EditSession is an active (or recently active) editing window.
type EditSession struct {
	ID                string
	TaskID            string
	UserID            string
	StartedAt         time.Time
	EndedAt           *time.Time
	LastActivityAt    time.Time
	VersionsCreated   int
	ViewType          ViewType
	DraftVersionID    *string
	PublishedVersionID *string
	EndOutcome        string
}

// Active reports whether the session has not yet ended.
func (s EditSession) Active() bool { return s.EndedAt == nil }

// EditPermission is an explicit grant beyond ownership.
type EditPermission struct {
	ID            string
	TaskID        string
	UserID        string
	GrantedBy     string
	GrantedAt     time.Time
	ExpiresAt     *time.Time
	IsActive      bool
	RevokedAt     *time.Time
	RevokedReason string
}

// Active reports whether the permission currently grants access.
func (p EditPermission) Active(now time.Time) bool {
	if !p.IsActive {
		return false
	}
	return p.ExpiresAt == nil || p.ExpiresAt.After(now)
}

// AuditRecord is an append-only entry. No operation updates or deletes one.
type AuditRecord struct {
	ID        string
	TaskID    string
	UserID    string
	Action    AuditAction
	VersionID *string
	SessionID *string
	Details   map[string]any
	IP        string
	UserAgent string
	At        time.Time
}
