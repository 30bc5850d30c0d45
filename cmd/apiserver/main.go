// Command apiserver runs the HTTP surface (§6): upload/list/get,
// download/preview, edit sessions and versions, permission grant/revoke,
// folder CRUD, and the /ws realtime upgrade.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"ocrforge.dev/auth"
	"ocrforge.dev/bus"
	"ocrforge.dev/common"
	"ocrforge.dev/config"
	evehttp "ocrforge.dev/http"
	"ocrforge.dev/httpapi"
	"ocrforge.dev/metadata"
	"ocrforge.dev/objectstore"
	"ocrforge.dev/pdfrender"
	"ocrforge.dev/permission"
	"ocrforge.dev/queue"
	"ocrforge.dev/realtime"
	"ocrforge.dev/security"
	"ocrforge.dev/versioning"

	"ocrforge.dev/access"
	"ocrforge.dev/ingestion"
)

func main() {
	cfg := config.LoadAppConfig()
	logger := common.ServiceLogger("apiserver", "1.0.0")

	ctx := context.Background()

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

	checker := permission.NewChecker(store)
	auditLog := permission.NewAuditLog(store, nil)
	accessSvc := access.New(store, objects, checker, nil)
	ingestSvc := ingestion.New(store, objects, q, nil, nil)
	var renderer pdfrender.Renderer = pdfrender.NewMockRenderer()
	if cfg.PDFRenderServiceURL != "" {
		renderer = pdfrender.NewHTTPRenderer(cfg.PDFRenderServiceURL)
	}
	engine := versioning.New(store, objects, checker, auditLog, renderer, versioning.Config{
		SnapshotWindow: cfg.SnapshotWindow,
		IdleTimeout:    cfg.SessionIdleTimeout,
	}, nil)

	jwtService := security.NewJWTService(cfg.AuthJWTSecret)
	validator := auth.NewJWTValidator(jwtService, "ocrforge")
	gateway := realtime.New(validator, redisBus, nil)
	gateway.Start(ctx)

	runCfg := evehttp.DefaultRunServerConfig("apiserver", "OCR Forge API", "1.0.0")
	runCfg.Port = cfg.HTTPPort
	runCfg.BodyLimit = fmt.Sprintf("%dM", cfg.MaxUploadBytes/(1024*1024)+1)
	runCfg.Logger = logger

	err = evehttp.RunServer(runCfg, func(e *echo.Echo) error {
		httpapi.SetupRoutes(e, httpapi.Dependencies{
			Store: store, Ingestion: ingestSvc, Access: accessSvc, Versioning: engine,
			Permission: checker, Audit: auditLog, Gateway: gateway, Validator: validator,
		})
		return nil
	})
	if err != nil {
		gateway.Stop()
		os.Exit(1)
	}
	gateway.Stop()
}
