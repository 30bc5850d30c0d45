// Command reaper runs the lifecycle reaper (C12): declares R1-R3 to the
// object store at startup and periodically scans for tag-marked deleted
// objects past their expiry window.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ocrforge.dev/common"
	"ocrforge.dev/config"
	"ocrforge.dev/lifecycle"
	"ocrforge.dev/objectstore"
)

func main() {
	cfg := config.LoadAppConfig()
	logger := common.ServiceLogger("reaper", "1.0.0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	objects, err := objectstore.New(ctx, objectstore.Config{
		Region: cfg.ObjectStore.Region, Bucket: cfg.ObjectStore.Bucket, KMSKey: cfg.ObjectStore.KMSKey,
	})
	if err != nil {
		logger.Fatalf("open object store: %v", err)
	}

	reaper := lifecycle.New(objects, time.Hour, nil)
	if err := reaper.Start(ctx); err != nil {
		logger.Fatalf("start lifecycle reaper: %v", err)
	}
	logger.Info("lifecycle reaper running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down lifecycle reaper...")
	cancel()
}
