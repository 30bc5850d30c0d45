package metadata

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"ocrforge.dev/apperr"
)

// Checksum computes the content_checksum used to detect a no-op save.
func Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// pdfMagic is the sentinel the read path uses to detect a version row whose
// content is an embedded PDF artifact rather than editor HTML (§4.10 step
// 3, S5).
var pdfMagic = []byte("%PDF-")

// IsCorrupt reports whether content is not plausibly editor HTML.
func IsCorrupt(content []byte) bool {
	return bytes.HasPrefix(content, pdfMagic)
}

// LatestVersion loads the row with is_latest=true for a task.
func (s *Store) LatestVersion(ctx context.Context, taskID string) (DocumentVersion, error) {
	row := s.pool.QueryRow(ctx, versionSelect+` WHERE task_id = $1 AND is_latest`, taskID)
	v, err := scanVersion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return DocumentVersion{}, apperr.New(apperr.NotFound, "version")
	}
	if err != nil {
		return DocumentVersion{}, apperr.Wrap(apperr.MetadataError, "latest version", err)
	}
	return v, nil
}

// ListVersions returns every version of a task, oldest first.
func (s *Store) ListVersions(ctx context.Context, taskID string) ([]DocumentVersion, error) {
	rows, err := s.pool.Query(ctx, versionSelect+` WHERE task_id = $1 ORDER BY version_number`, taskID)
	if err != nil {
		return nil, apperr.Wrap(apperr.MetadataError, "list versions", err)
	}
	defer rows.Close()

	var out []DocumentVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.MetadataError, "scan version", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

const versionSelect = `
	SELECT id, task_id, version_number, is_latest, is_original, is_draft,
	       content, object_key, content_checksum, character_count, word_count,
	       edited_by, edited_at, session_id
	FROM document_versions`

func scanVersion(row pgx.Row) (DocumentVersion, error) {
	var v DocumentVersion
	if err := row.Scan(&v.ID, &v.TaskID, &v.VersionNumber, &v.IsLatest, &v.IsOriginal, &v.IsDraft,
		&v.Content, &v.ObjectKey, &v.ContentChecksum, &v.CharacterCount, &v.WordCount,
		&v.EditedBy, &v.EditedAt, &v.SessionID); err != nil {
		return DocumentVersion{}, err
	}
	return v, nil
}

// CreateOriginalVersion inserts version 0, the unedited OCR output, as part
// of worker completion.
func (s *Store) CreateOriginalVersion(ctx context.Context, v DocumentVersion) error {
	v.VersionNumber = 0
	v.IsOriginal = true
	v.IsLatest = true
	_, err := s.pool.Exec(ctx, `
		INSERT INTO document_versions
			(id, task_id, version_number, is_latest, is_original, is_draft, content, object_key, content_checksum, character_count, word_count, edited_by, edited_at, session_id)
		VALUES ($1, $2, 0, true, true, false, $3, $4, $5, $6, $7, $8, $9, $10)`,
		v.ID, v.TaskID, v.Content, v.ObjectKey, v.ContentChecksum, v.CharacterCount, v.WordCount, v.EditedBy, v.EditedAt, v.SessionID)
	if err != nil {
		return apperr.Wrap(apperr.MetadataError, "create original version", err)
	}
	return nil
}

// SaveVersionResult reports what SaveVersion did, for the HTTP and session
// layers to build their responses with.
type SaveVersionResult struct {
	Version    DocumentVersion
	IsSnapshot bool
	NoOp       bool
}

// SaveVersion implements the save algorithm of §4.10 steps 2-5: no-op on an
// identical checksum, otherwise snapshot (new row) or overwrite (in place)
// depending on the snapshot window, flipping is_latest so exactly one row
// holds it, and bumping the session's activity/version counters. newID is
// used only when a new row is created.
func (s *Store) SaveVersion(ctx context.Context, newID, taskID, sessionID, editedBy string, content []byte, snapshotWindow time.Duration, now time.Time) (SaveVersionResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return SaveVersionResult{}, apperr.Wrap(apperr.MetadataError, "begin", err)
	}
	defer tx.Rollback(ctx)

	var latest DocumentVersion
	row := tx.QueryRow(ctx, versionSelect+` WHERE task_id = $1 AND is_latest FOR UPDATE`, taskID)
	latest, err = scanVersion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return SaveVersionResult{}, apperr.New(apperr.NotFound, "version")
	}
	if err != nil {
		return SaveVersionResult{}, apperr.Wrap(apperr.MetadataError, "load latest version", err)
	}

	checksum := Checksum(content)
	if checksum == latest.ContentChecksum {
		return SaveVersionResult{Version: latest, NoOp: true}, nil
	}

	words := len(strings.Fields(string(content)))
	chars := len(content)

	snapshot := latest.IsOriginal || now.Sub(latest.EditedAt) > snapshotWindow

	var result DocumentVersion
	if snapshot {
		result = DocumentVersion{
			ID: newID, TaskID: taskID, VersionNumber: latest.VersionNumber + 1,
			IsLatest: true, Content: content, ContentChecksum: checksum,
			CharacterCount: chars, WordCount: words, EditedBy: editedBy, EditedAt: now,
			SessionID: &sessionID,
		}
		if _, err := tx.Exec(ctx, `UPDATE document_versions SET is_latest = false WHERE id = $1`, latest.ID); err != nil {
			return SaveVersionResult{}, apperr.Wrap(apperr.MetadataError, "unflip latest", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO document_versions
				(id, task_id, version_number, is_latest, is_original, is_draft, content, content_checksum, character_count, word_count, edited_by, edited_at, session_id)
			VALUES ($1, $2, $3, true, false, false, $4, $5, $6, $7, $8, $9, $10)`,
			result.ID, result.TaskID, result.VersionNumber, result.Content, result.ContentChecksum,
			result.CharacterCount, result.WordCount, result.EditedBy, result.EditedAt, result.SessionID)
		if err != nil {
			return SaveVersionResult{}, apperr.Wrap(apperr.MetadataError, "insert snapshot version", err)
		}
	} else {
		result = latest
		result.Content = content
		result.ContentChecksum = checksum
		result.CharacterCount = chars
		result.WordCount = words
		result.EditedBy = editedBy
		result.EditedAt = now
		result.SessionID = &sessionID
		_, err = tx.Exec(ctx, `
			UPDATE document_versions
			SET content = $1, content_checksum = $2, character_count = $3, word_count = $4,
			    edited_by = $5, edited_at = $6, session_id = $7
			WHERE id = $8`,
			content, checksum, chars, words, editedBy, now, sessionID, latest.ID)
		if err != nil {
			return SaveVersionResult{}, apperr.Wrap(apperr.MetadataError, "overwrite version", err)
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE edit_sessions SET versions_created = versions_created + 1, last_activity_at = $1 WHERE id = $2`,
		now, sessionID); err != nil {
		return SaveVersionResult{}, apperr.Wrap(apperr.MetadataError, "bump session", err)
	}

	if err := commitTx(ctx, tx); err != nil {
		return SaveVersionResult{}, err
	}
	return SaveVersionResult{Version: result, IsSnapshot: snapshot}, nil
}
