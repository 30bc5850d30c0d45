package httpapi

import (
	"github.com/labstack/echo/v4"

	"ocrforge.dev/access"
	"ocrforge.dev/auth"
	"ocrforge.dev/ingestion"
	"ocrforge.dev/metadata"
	"ocrforge.dev/permission"
	"ocrforge.dev/realtime"
	"ocrforge.dev/versioning"
)

// Dependencies wires every component the HTTP surface calls into.
type Dependencies struct {
	Store      *metadata.Store
	Ingestion  *ingestion.Service
	Access     *access.Service
	Versioning *versioning.Engine
	Permission *permission.Checker
	Audit      *permission.AuditLog
	Gateway    *realtime.Gateway
	Validator  auth.SessionValidator
}

// SetupRoutes registers every endpoint named in SPEC_FULL §6 under
// /api, protected by RequireAuth, plus the unauthenticated realtime
// upgrade (which authenticates its own handshake) and a health check.
func SetupRoutes(e *echo.Echo, deps Dependencies) {
	tasks := &TaskHandlers{Ingestion: deps.Ingestion, Access: deps.Access, Store: deps.Store}
	sessions := &SessionHandlers{Engine: deps.Versioning}
	perms := &PermissionHandlers{Checker: deps.Permission, Audit: deps.Audit}
	folders := &FolderHandlers{Store: deps.Store}

	e.GET("/health", func(c echo.Context) error { return Respond(c, 200, map[string]string{"status": "ok"}) })
	e.GET("/ws", func(c echo.Context) error {
		deps.Gateway.ServeHTTP(c.Response(), c.Request())
		return nil
	})

	api := e.Group("/api")
	api.Use(RequireAuth(deps.Validator))

	api.POST("/tasks", tasks.Create)
	api.GET("/tasks", tasks.List)
	api.GET("/tasks/:id", tasks.Get)
	api.GET("/tasks/:id/download", tasks.Original)
	api.GET("/tasks/:id/result", tasks.Result)
	api.GET("/tasks/:id/preview", tasks.Preview)
	api.GET("/tasks/:id/page-image/:n", tasks.PageImage)

	api.GET("/tasks/:id/permissions", perms.List)
	api.POST("/tasks/:id/permissions", perms.Grant)
	api.DELETE("/permissions/:id", perms.Revoke)

	api.POST("/sessions/:task_id/start", sessions.Start)
	api.POST("/sessions/:task_id/end", sessions.End)
	api.POST("/sessions/:task_id/download-result", sessions.Download)

	api.POST("/versions/:task_id/save", sessions.Save)
	api.GET("/versions/:task_id", sessions.ListVersions)
	api.GET("/versions/:task_id/latest", sessions.LatestVersion)

	api.GET("/folders", folders.List)
	api.POST("/folders", folders.Create)
	api.PUT("/folders/:id", folders.Update)
	api.DELETE("/folders/:id", folders.Delete)
}
