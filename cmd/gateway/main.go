// Command gateway runs the realtime WebSocket gateway (C8) as its own
// process: authenticates each handshake, subscribes to the event bus, and
// fans task/db-change events out to connected owners.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"ocrforge.dev/auth"
	"ocrforge.dev/bus"
	"ocrforge.dev/common"
	"ocrforge.dev/config"
	"ocrforge.dev/realtime"
	"ocrforge.dev/security"
)

func main() {
	cfg := config.LoadAppConfig()
	logger := common.ServiceLogger("gateway", "1.0.0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	busOpts, err := redis.ParseURL(cfg.BusURL)
	if err != nil {
		logger.Fatalf("parse bus url: %v", err)
	}
	redisBus := bus.New(redis.NewClient(busOpts))

	jwtService := security.NewJWTService(cfg.AuthJWTSecret)
	validator := auth.NewJWTValidator(jwtService, "ocrforge")

	gateway := realtime.New(validator, redisBus, nil)
	gateway.Start(ctx)

	server := &http.Server{Addr: fmt.Sprintf(":%d", cfg.HTTPPort), Handler: gateway}
	go func() {
		logger.Infof("gateway listening on :%d", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("gateway server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down gateway...")
	gateway.Stop()
	_ = server.Shutdown(context.Background())
}
