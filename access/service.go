// Package access implements the download/preview service (C9): authorized
// reads of a task's original, result, preview HTML, and page images, per
// spec.md §4.9.
package access

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"ocrforge.dev/apperr"
	"ocrforge.dev/media"
	"ocrforge.dev/metadata"
	"ocrforge.dev/objectstore"
	"ocrforge.dev/permission"
)

const (
	presignTTL        = time.Hour
	pageThumbnailSize = 1200
)

// Service authorizes every read through permission.Checker before touching
// the object store (§4.9's "Authorization rule").
type Service struct {
	store   *metadata.Store
	objects *objectstore.Client
	checker *permission.Checker
	log     *logrus.Entry
}

// New builds a Service.
func New(store *metadata.Store, objects *objectstore.Client, checker *permission.Checker, log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{store: store, objects: objects, checker: checker, log: log}
}

// Original returns a presigned GET URL for the task's original upload.
func (s *Service) Original(ctx context.Context, callerID, taskID string, now time.Time) (string, error) {
	task, err := s.authorize(ctx, callerID, taskID, now)
	if err != nil {
		return "", err
	}
	file, err := s.store.GetFile(ctx, task.FileID)
	if err != nil {
		return "", err
	}
	return s.objects.PresignGet(ctx, file.ObjectKey, presignTTL)
}

// Result returns a presigned GET URL for the task's OCR result, only once
// the task has completed.
func (s *Service) Result(ctx context.Context, callerID, taskID string, now time.Time) (string, error) {
	task, err := s.authorize(ctx, callerID, taskID, now)
	if err != nil {
		return "", err
	}
	if task.Status != metadata.TaskCompleted {
		return "", apperr.New(apperr.Conflict, "task not completed")
	}
	result, err := s.store.GetResultByTask(ctx, taskID)
	if err != nil {
		return "", err
	}
	return s.objects.PresignGet(ctx, result.ResultObjectKey, presignTTL)
}

// Preview streams the task's rendered HTML, the editor's initial load.
func (s *Service) Preview(ctx context.Context, callerID, taskID string, now time.Time) (io.ReadCloser, string, error) {
	if _, err := s.authorize(ctx, callerID, taskID, now); err != nil {
		return nil, "", err
	}
	result, err := s.store.GetResultByTask(ctx, taskID)
	if err != nil {
		return nil, "", err
	}
	body, err := s.objects.Get(ctx, result.ResultObjectKey)
	if err != nil {
		return nil, "", err
	}
	return body, "text/html", nil
}

// PageImage streams a thumbnail/preview of page n (1-indexed), per §4.9.
// A worker-produced page image is served as-is when present; otherwise, if
// the original is itself a raster image (not a PDF), one is rendered
// on-demand via media.Thumbnail. PDF pages are out of scope for on-demand
// rendering, per SPEC_FULL.md §4.9.
func (s *Service) PageImage(ctx context.Context, callerID, taskID string, page int, now time.Time) (io.ReadCloser, string, error) {
	task, err := s.authorize(ctx, callerID, taskID, now)
	if err != nil {
		return nil, "", err
	}

	pageKey := objectstore.PageImageKey(task.OwnerID, task.ID, page)
	if body, err := s.objects.Get(ctx, pageKey); err == nil {
		return body, "image/png", nil
	} else if !apperr.Is(err, apperr.NotFound) {
		return nil, "", err
	}

	file, err := s.store.GetFile(ctx, task.FileID)
	if err != nil {
		return nil, "", err
	}
	if file.MimeType == "application/pdf" {
		return nil, "", apperr.New(apperr.NotFound, "page image")
	}

	original, err := s.objects.Get(ctx, file.ObjectKey)
	if err != nil {
		return nil, "", err
	}
	defer original.Close()
	content, err := io.ReadAll(original)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.StorageError, "read original for thumbnail", err)
	}

	thumb, err := media.Thumbnail(content, pageThumbnailSize)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.StorageError, "render on-demand thumbnail", err)
	}
	return io.NopCloser(bytes.NewReader(thumb)), file.MimeType, nil
}

// authorize loads the task and enforces caller = owner(task) OR
// active_permission(caller, task).
func (s *Service) authorize(ctx context.Context, callerID, taskID string, now time.Time) (metadata.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return metadata.Task{}, err
	}
	if err := s.checker.RequireAccess(ctx, callerID, taskID, now); err != nil {
		return metadata.Task{}, err
	}
	return task, nil
}
