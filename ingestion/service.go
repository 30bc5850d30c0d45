// Package ingestion implements the upload entrypoint (C6): content
// hashing, transactional metadata insert, object store write, and work
// queue push, in the order spec.md §4.6 requires.
package ingestion

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ocrforge.dev/apperr"
	"ocrforge.dev/metadata"
	"ocrforge.dev/objectstore"
	"ocrforge.dev/queue"
)

// MaxUploadBytes is the hard size ceiling from spec.md §4.6.
const MaxUploadBytes = 50 * 1024 * 1024

// AllowedMimeTypes is the closed set accepted at upload.
var AllowedMimeTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"image/tiff":      true,
	"image/webp":      true,
}

// CreditChecker is the optional external capability gating uploads. A nil
// CreditChecker on Service means the check is skipped, matching spec.md
// §4.6's "may be absent".
type CreditChecker interface {
	CheckCredit(ctx context.Context, ownerID string) (bool, error)
}

// Service implements the upload algorithm.
type Service struct {
	store   *metadata.Store
	objects *objectstore.Client
	queue   *queue.Queue
	credit  CreditChecker
	log     *logrus.Entry
}

// New builds a Service over the metadata store, object store, and work
// queue.
func New(store *metadata.Store, objects *objectstore.Client, q *queue.Queue, credit CreditChecker, log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{store: store, objects: objects, queue: q, credit: credit, log: log}
}

// UploadRequest is the input to Upload.
type UploadRequest struct {
	OwnerID          string
	Filename         string
	MimeType         string
	Content          []byte
	ProcessingConfig metadata.ProcessingConfig
	FolderID         *string
}

// Upload runs the pre-condition checks and the §4.6 insert/write/push
// algorithm, returning the new Task's ID.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (string, error) {
	if !AllowedMimeTypes[req.MimeType] {
		return "", apperr.New(apperr.ValidationFailed, fmt.Sprintf("unsupported_mime:%s", req.MimeType))
	}
	if len(req.Content) > MaxUploadBytes {
		return "", apperr.New(apperr.ValidationFailed, "file_too_large")
	}

	if s.credit != nil {
		ok, err := s.credit.CheckCredit(ctx, req.OwnerID)
		if err != nil {
			return "", apperr.Wrap(apperr.ServiceOverloaded, "credit_check", err)
		}
		if !ok {
			return "", apperr.New(apperr.Forbidden, "insufficient_credit")
		}
	}

	sum := sha256.Sum256(req.Content)
	contentHash := hex.EncodeToString(sum[:])

	fileID := uuid.NewString()
	taskID := uuid.NewString()
	now := time.Now()
	objectKey := objectstore.UploadKey(req.OwnerID, now, fileID, req.Filename)

	file := metadata.File{
		ID:          fileID,
		OwnerID:     req.OwnerID,
		Filename:    req.Filename,
		MimeType:    req.MimeType,
		SizeBytes:   int64(len(req.Content)),
		ContentHash: contentHash,
		ObjectKey:   objectKey,
	}
	task := metadata.Task{
		ID:               taskID,
		OwnerID:          req.OwnerID,
		FileID:           fileID,
		FolderID:         req.FolderID,
		ProcessingConfig: req.ProcessingConfig,
	}

	if err := s.store.CreateFileAndTask(ctx, file, task); err != nil {
		return "", err
	}

	if _, err := s.objects.Put(ctx, objectKey, bytes.NewReader(req.Content), req.MimeType); err != nil {
		if failErr := s.failTaskForStorageError(ctx, taskID, err); failErr != nil {
			s.log.WithError(failErr).WithField("task_id", taskID).Error("ingestion: failed to mark task failed after storage error")
		}
		return "", apperr.Wrap(apperr.StorageError, "write_original", err)
	}

	if err := s.queue.Push(ctx, queue.TaskQueueName, taskID); err != nil {
		// Per §4.6 step 5: leave the Task queued. No process in this
		// repository re-pushes it later. The upload itself still succeeded.
		s.log.WithError(err).WithField("task_id", taskID).Warn("ingestion: queue push failed, task left queued")
	}

	return taskID, nil
}

// failTaskForStorageError marks the Task failed in a separate transaction,
// per §4.6 step 4: object-store write failures never roll back the
// File/Task insert.
func (s *Service) failTaskForStorageError(ctx context.Context, taskID string, cause error) error {
	_, err := s.store.FailQueuedTask(ctx, taskID, cause.Error())
	return err
}
