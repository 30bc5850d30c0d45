// Command ocrworker runs the OCR worker pool (C7): pops task ids off the
// work queue, CAS-transitions them to processing, invokes the OCR
// capability, persists the result, and publishes a task.updates event.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"ocrforge.dev/bus"
	"ocrforge.dev/common"
	"ocrforge.dev/config"
	"ocrforge.dev/metadata"
	"ocrforge.dev/objectstore"
	"ocrforge.dev/ocrcapability"
	"ocrforge.dev/ocrworker"
	"ocrforge.dev/queue"
)

func main() {
	cfg := config.LoadAppConfig()
	logger := common.ServiceLogger("ocrworker", "1.0.0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := metadata.Open(ctx, metadata.Config{PgxURL: cfg.MetadataURL, GormDSN: cfg.MetadataDSN})
	if err != nil {
		logger.Fatalf("open metadata store: %v", err)
	}

	objects, err := objectstore.New(ctx, objectstore.Config{
		Region: cfg.ObjectStore.Region, Bucket: cfg.ObjectStore.Bucket, KMSKey: cfg.ObjectStore.KMSKey,
	})
	if err != nil {
		logger.Fatalf("open object store: %v", err)
	}

	q, err := queue.New(ctx, queue.Config{RedisURL: cfg.QueueURL})
	if err != nil {
		logger.Fatalf("open queue: %v", err)
	}

	busOpts, err := redis.ParseURL(cfg.BusURL)
	if err != nil {
		logger.Fatalf("parse bus url: %v", err)
	}
	redisBus := bus.New(redis.NewClient(busOpts))

	var ocr ocrcapability.Client
	if cfg.OCRServiceURL != "" {
		ocr = ocrcapability.NewHTTPClient(cfg.OCRServiceURL)
	} else {
		logger.Warn("OCR_SERVICE_URL not set, using deterministic mock OCR client")
		ocr = ocrcapability.NewMockOCRClient()
	}

	pool := ocrworker.NewPool(ocrworker.Deps{
		Queue: q, Store: store, Objects: objects, Bus: redisBus, OCR: ocr,
	}, ocrworker.Config{
		Concurrency: cfg.WorkerConcurrency,
		TaskTimeout: cfg.WorkerTaskTimeout,
	})
	pool.Start(ctx)
	logger.Infof("ocrworker started with concurrency=%d", cfg.WorkerConcurrency)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down ocrworker...")
	pool.Stop()
}
