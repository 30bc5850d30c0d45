package metadata

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"ocrforge.dev/apperr"
)

// GetFile loads a file by id, used by the worker pool to resolve a task's
// original object key and mime type without duplicating that state on Task.
func (s *Store) GetFile(ctx context.Context, fileID string) (File, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, filename, mime_type, size_bytes, content_hash, object_key, created_at
		FROM files WHERE id = $1`, fileID)
	var f File
	err := row.Scan(&f.ID, &f.OwnerID, &f.Filename, &f.MimeType, &f.SizeBytes, &f.ContentHash, &f.ObjectKey, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return File{}, apperr.New(apperr.NotFound, "file")
	}
	if err != nil {
		return File{}, apperr.Wrap(apperr.MetadataError, "get file", err)
	}
	return f, nil
}

// CreateFolder inserts a new folder.
func (s *Store) CreateFolder(ctx context.Context, f Folder) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO folders (id, owner_id, name, color, description)
		VALUES ($1, $2, $3, $4, $5)`, f.ID, f.OwnerID, f.Name, f.Color, f.Description)
	if err != nil {
		return apperr.Wrap(apperr.MetadataError, "create folder", err)
	}
	return nil
}

// ListFolders returns an owner's folders.
func (s *Store) ListFolders(ctx context.Context, ownerID string) ([]Folder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, name, color, description, created_at
		FROM folders WHERE owner_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, apperr.Wrap(apperr.MetadataError, "list folders", err)
	}
	defer rows.Close()

	var out []Folder
	for rows.Next() {
		var f Folder
		if err := rows.Scan(&f.ID, &f.OwnerID, &f.Name, &f.Color, &f.Description, &f.CreatedAt); err != nil {
			return nil, apperr.Wrap(apperr.MetadataError, "scan folder", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// UpdateFolder renames/recolors a folder the caller owns.
func (s *Store) UpdateFolder(ctx context.Context, ownerID string, f Folder) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE folders SET name = $1, color = $2, description = $3
		WHERE id = $4 AND owner_id = $5`, f.Name, f.Color, f.Description, f.ID, ownerID)
	if err != nil {
		return apperr.Wrap(apperr.MetadataError, "update folder", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "folder")
	}
	return nil
}

// DeleteFolder removes a folder the caller owns. tasks.folder_id references
// folders(id) with no ON DELETE action, so deleting a folder that a task
// still references fails with a foreign-key error, returned as
// MetadataError.
func (s *Store) DeleteFolder(ctx context.Context, ownerID, folderID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM folders WHERE id = $1 AND owner_id = $2`, folderID, ownerID)
	if err != nil {
		return apperr.Wrap(apperr.MetadataError, "delete folder", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "folder")
	}
	return nil
}

// GetUser loads a user's credit balance and display attributes.
func (s *Store) GetUser(ctx context.Context, userID string) (User, error) {
	var u User
	err := s.pool.QueryRow(ctx, `
		SELECT id, display_name, email, credit_balance, created_at FROM users WHERE id = $1`, userID).
		Scan(&u.ID, &u.DisplayName, &u.Email, &u.CreditBalance, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, apperr.New(apperr.NotFound, "user")
	}
	if err != nil {
		return User{}, apperr.Wrap(apperr.MetadataError, "get user", err)
	}
	return u, nil
}

// EnsureUser upserts a minimal user row, used the first time an externally
// authenticated identity is seen.
func (s *Store) EnsureUser(ctx context.Context, u User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, display_name, email)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`, u.ID, u.DisplayName, u.Email)
	if err != nil {
		return apperr.Wrap(apperr.MetadataError, "ensure user", err)
	}
	return nil
}
