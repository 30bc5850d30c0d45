// Package lifecycle implements the lifecycle reaper (C12): it declares
// R1-R3 to the object store at startup and, for backends that don't
// evaluate Filter.Tag lifecycle rules natively (MinIO in particular), runs
// a periodic fallback scan of deleted=true-tagged keys to apply the
// expiry itself, per spec.md §4.12.
package lifecycle

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"ocrforge.dev/objectstore"
)

const defaultScanInterval = time.Hour

// Reaper owns the startup lifecycle declaration and the scan fallback
// loop.
type Reaper struct {
	objects  *objectstore.Client
	interval time.Duration
	log      *logrus.Entry
}

// New builds a Reaper. interval <= 0 defaults to an hourly scan.
func New(objects *objectstore.Client, interval time.Duration, log *logrus.Entry) *Reaper {
	if interval <= 0 {
		interval = defaultScanInterval
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Reaper{objects: objects, interval: interval, log: log}
}

// Start declares the lifecycle rules and, if that succeeds, begins the
// periodic scan fallback in its own goroutine. It returns once the
// declare call completes; the scan loop runs until ctx is canceled.
func (r *Reaper) Start(ctx context.Context) error {
	if err := r.objects.DeclareLifecycle(ctx); err != nil {
		return err
	}
	go r.loop(ctx)
	return nil
}

func (r *Reaper) loop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.scan(ctx, time.Now()); err != nil {
				r.log.WithError(err).Warn("lifecycle: scan failed")
			}
		}
	}
}

// scan walks every object key, tag-checking for deleted=true and
// expiring anything older than R1's window. The cold-storage transition
// (R2) has no equivalent here: this client has no storage-class API, so
// on backends that apply Filter.Tag rules natively R2 still runs; on ones
// that don't (the case this fallback exists for), objects simply stay in
// their original class until R1 deletes them.
func (r *Reaper) scan(ctx context.Context, now time.Time) error {
	keys, err := r.objects.ListKeys(ctx, "")
	if err != nil {
		return err
	}
	for _, key := range keys {
		meta, err := r.objects.Head(ctx, key)
		if err != nil {
			r.log.WithError(err).WithField("key", key).Warn("lifecycle: head failed during scan")
			continue
		}
		if meta.Tags["deleted"] != "true" {
			continue
		}
		deletedAt, err := time.Parse(time.RFC3339, meta.Tags["deleted_at"])
		if err != nil {
			continue
		}
		if now.Sub(deletedAt) < time.Duration(objectstore.ExpireAfterDays)*24*time.Hour {
			continue
		}
		if err := r.objects.Delete(ctx, key); err != nil {
			r.log.WithError(err).WithField("key", key).Warn("lifecycle: expire failed")
			continue
		}
		r.log.WithField("key", key).Info("lifecycle: expired deleted object")
	}
	return nil
}
