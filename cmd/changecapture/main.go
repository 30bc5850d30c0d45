// Command changecapture subscribes to the metadata store's db_changes
// NOTIFY channel (C5) and republishes each row change onto the event bus
// for the realtime gateway.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"ocrforge.dev/bus"
	"ocrforge.dev/changecapture"
	"ocrforge.dev/common"
	"ocrforge.dev/config"
)

func main() {
	cfg := config.LoadAppConfig()
	logger := common.ServiceLogger("changecapture", "1.0.0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.MetadataURL)
	if err != nil {
		logger.Fatalf("open metadata pool: %v", err)
	}
	defer pool.Close()

	busOpts, err := redis.ParseURL(cfg.BusURL)
	if err != nil {
		logger.Fatalf("parse bus url: %v", err)
	}
	redisBus := bus.New(redis.NewClient(busOpts))

	listener := changecapture.New(pool, redisBus, nil)
	go listener.Start(ctx)
	logger.Info("changecapture listening on db_changes")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down changecapture...")
	listener.Stop()
}
