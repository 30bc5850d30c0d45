// Package ocrworker implements the OCR worker pool (C7): a pool of
// single-flight workers draining the work queue, each pop going through
// load -> CAS(queued->processing) -> invoke OCR capability -> persist
// result -> publish, per spec.md §4.7.
package ocrworker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ocrforge.dev/apperr"
	"ocrforge.dev/bus"
	"ocrforge.dev/metadata"
	"ocrforge.dev/objectstore"
	"ocrforge.dev/ocrcapability"
	"ocrforge.dev/queue"
)

const (
	popTimeout  = 5 * time.Second
	maxAttempts = 3
	// taskTimeout bounds a single OCR invocation; configurable via Config.
	defaultTaskTimeout = 2 * time.Minute
)

// Pool runs N single-flight Workers against the shared queue. Parallelism
// comes from running multiple workers, never from a worker processing two
// tasks concurrently (§5's concurrency floor).
type Pool struct {
	workers []*Worker
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// Config configures the pool.
type Config struct {
	Concurrency int
	TaskTimeout time.Duration
}

// Deps bundles the collaborators every Worker needs.
type Deps struct {
	Queue   *queue.Queue
	Store   *metadata.Store
	Objects *objectstore.Client
	Bus     *bus.Bus
	OCR     ocrcapability.Client
	Log     *logrus.Entry
}

// NewPool builds a Pool of cfg.Concurrency Workers (minimum 1).
func NewPool(deps Deps, cfg Config) *Pool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = defaultTaskTimeout
	}
	log := deps.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	workers := make([]*Worker, cfg.Concurrency)
	for i := range workers {
		workers[i] = &Worker{id: i, deps: deps, taskTimeout: cfg.TaskTimeout, log: log.WithField("worker_id", i)}
	}
	return &Pool{workers: workers}
}

// Start launches every worker's loop in its own goroutine.
func (p *Pool) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.loop(runCtx)
		}(w)
	}
}

// Stop signals every worker to exit and waits for them to drain.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Worker is a single-flight processor: it never handles two tasks at once.
type Worker struct {
	id          int
	deps        Deps
	taskTimeout time.Duration
	log         *logrus.Entry
}

func (w *Worker) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.processNext(ctx); err != nil {
			w.log.WithError(err).Warn("ocrworker: iteration error")
		}
	}
}

// processNext implements one iteration of §4.7 steps 1-8.
func (w *Worker) processNext(ctx context.Context) error {
	msg, err := w.deps.Queue.BlockingPop(ctx, queue.TaskQueueName, popTimeout)
	if err != nil {
		return err
	}
	if msg == nil {
		return nil // timeout, loop again
	}
	taskID := msg.TaskID

	task, err := w.deps.Store.GetTask(ctx, taskID)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			// Spurious message: the DB write that must precede the queue
			// push never landed (or the task was since deleted). Drop it.
			return nil
		}
		return err
	}
	if task.Status != metadata.TaskQueued {
		return nil // already picked up or terminal; drop
	}

	won, err := w.deps.Store.CASTaskStatus(ctx, taskID, metadata.TaskQueued, metadata.TaskProcessing)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	w.publishUpdate(ctx, task, string(metadata.TaskProcessing), "")

	deadline := time.Now().Add(w.taskTimeout)
	if err := w.deps.Queue.MarkProcessing(ctx, taskID, deadline); err != nil {
		w.log.WithError(err).Warn("ocrworker: failed to record processing deadline")
	}

	procCtx, cancel := context.WithTimeout(ctx, w.taskTimeout)
	defer cancel()

	status, errMsg := w.runTask(procCtx, task)

	if err := w.deps.Queue.CompleteTask(ctx, taskID); err != nil {
		w.log.WithError(err).Warn("ocrworker: failed to clear processing deadline")
	}
	if status != "" {
		w.publishUpdate(ctx, task, status, errMsg)
	}
	return nil
}

// runTask executes steps 5-7 and reports the resulting status, or "" if
// the task was requeued for retry rather than resolved.
func (w *Worker) runTask(ctx context.Context, task metadata.Task) (status string, errMsg string) {
	file, err := w.deps.Store.GetFile(ctx, task.FileID)
	if err != nil {
		return w.handleFailure(ctx, task, err)
	}

	original, err := w.deps.Objects.Get(ctx, file.ObjectKey)
	if err != nil {
		return w.handleFailure(ctx, task, err)
	}
	content, err := io.ReadAll(original)
	original.Close()
	if err != nil {
		return w.handleFailure(ctx, task, err)
	}

	ocrStart := time.Now()
	ocrResult, err := w.deps.OCR.OCR(ctx, content, file.MimeType, task.ProcessingConfig.Modes, task.ProcessingConfig.FieldSelectors)
	if err != nil {
		return w.handleFailure(ctx, task, err)
	}
	elapsedMS := time.Since(ocrStart).Milliseconds()

	resultKey := objectstore.ResultKey(task.OwnerID, task.ID, "html")
	if _, err := w.deps.Objects.Put(ctx, resultKey, bytes.NewReader([]byte(ocrResult.HTML)), "text/html"); err != nil {
		return w.handleFailure(ctx, task, err)
	}

	for i, img := range ocrResult.PageImages {
		pageKey := objectstore.PageImageKey(task.OwnerID, task.ID, i+1)
		if _, err := w.deps.Objects.Put(ctx, pageKey, bytes.NewReader(img), "image/png"); err != nil {
			return w.handleFailure(ctx, task, err)
		}
	}

	result := metadata.Result{
		ID:               uuid.NewString(),
		TaskID:           task.ID,
		ResultObjectKey:  resultKey,
		PageCount:        ocrResult.PageCount,
		WordCount:        ocrResult.WordCount,
		ConfidenceScore:  ocrResult.Confidence,
		ProcessingTimeMS: elapsedMS,
	}
	if err := w.deps.Store.CompleteTask(ctx, task.ID, result); err != nil {
		return w.handleFailure(ctx, task, err)
	}

	now := time.Now()
	version := metadata.DocumentVersion{
		ID:              uuid.NewString(),
		TaskID:          task.ID,
		Content:         []byte(ocrResult.HTML),
		ContentChecksum: metadata.Checksum([]byte(ocrResult.HTML)),
		CharacterCount:  len(ocrResult.HTML),
		WordCount:       len(strings.Fields(ocrResult.HTML)),
		EditedBy:        task.OwnerID,
		EditedAt:        now,
	}
	if err := w.deps.Store.CreateOriginalVersion(ctx, version); err != nil {
		// The task itself already completed (result row written, status
		// flipped); a failure here only means the editor's version history
		// is missing its v0 row and needs a manual backfill.
		w.log.WithError(err).Error("ocrworker: failed to create original version")
	}
	return string(metadata.TaskCompleted), ""
}

// handleFailure implements §4.7 step 7's retryable-vs-terminal branch.
func (w *Worker) handleFailure(ctx context.Context, task metadata.Task, cause error) (status string, errMsg string) {
	var ocrErr *ocrcapability.Error
	retryable := !errors.As(cause, &ocrErr) || ocrErr.Class == ocrcapability.Transient
	if !retryable {
		if _, err := w.deps.Store.FailTask(ctx, task.ID, cause.Error(), 0); err != nil {
			w.log.WithError(err).Error("ocrworker: failed to record terminal failure")
		}
		return string(metadata.TaskFailed), cause.Error()
	}

	retry, err := w.deps.Store.FailTask(ctx, task.ID, cause.Error(), maxAttempts)
	if err != nil {
		w.log.WithError(err).Error("ocrworker: failed to record retryable failure")
		return string(metadata.TaskFailed), cause.Error()
	}
	if retry {
		if err := w.deps.Queue.Requeue(ctx, queue.TaskQueueName, task.ID, task.AttemptCount+1); err != nil {
			w.log.WithError(err).Error("ocrworker: failed to requeue task for retry")
		}
		return "", ""
	}
	return string(metadata.TaskFailed), cause.Error()
}

func (w *Worker) publishUpdate(ctx context.Context, task metadata.Task, status, errMsg string) {
	if w.deps.Bus == nil {
		return
	}
	if err := w.deps.Bus.PublishTaskUpdate(ctx, bus.TaskUpdate{
		TaskID:       task.ID,
		OwnerID:      task.OwnerID,
		Status:       status,
		ErrorMessage: errMsg,
	}); err != nil {
		w.log.WithError(err).Warn("ocrworker: failed to publish task update")
	}
}
