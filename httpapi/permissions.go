package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"ocrforge.dev/apperr"
	"ocrforge.dev/metadata"
	"ocrforge.dev/permission"
)

// PermissionHandlers backs the /api/tasks/:id/permissions and
// /api/permissions endpoints.
type PermissionHandlers struct {
	Checker *permission.Checker
	Audit   *permission.AuditLog
}

type grantRequest struct {
	UserID    string     `json:"user_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Grant handles POST /api/tasks/:id/permissions.
func (h *PermissionHandlers) Grant(c echo.Context) error {
	var req grantRequest
	if err := c.Bind(&req); err != nil {
		return RespondError(c, apperr.New(apperr.ValidationFailed, "invalid_body"))
	}
	taskID := c.Param("id")
	now := time.Now()

	perm := metadata.EditPermission{
		ID: uuid.NewString(), TaskID: taskID, UserID: req.UserID,
		GrantedBy: callerID(c), GrantedAt: now, ExpiresAt: req.ExpiresAt, IsActive: true,
	}
	if err := h.Checker.Grant(c.Request().Context(), perm); err != nil {
		return RespondError(c, err)
	}
	h.Audit.RecordGrant(taskID, req.UserID, metadata.AuditRecord{ID: uuid.NewString(), At: now})
	return Respond(c, http.StatusCreated, map[string]string{"permission_id": perm.ID})
}

// Revoke handles DELETE /api/permissions/:id.
func (h *PermissionHandlers) Revoke(c echo.Context) error {
	reason := c.QueryParam("reason")
	now := time.Now()
	if err := h.Checker.Revoke(c.Request().Context(), c.Param("id"), reason, now); err != nil {
		return RespondError(c, err)
	}
	h.Audit.RecordRevoke(c.QueryParam("task_id"), callerID(c), metadata.AuditRecord{ID: uuid.NewString(), At: now})
	return Respond(c, http.StatusOK, map[string]bool{"revoked": true})
}

// List handles GET /api/tasks/:id/permissions.
func (h *PermissionHandlers) List(c echo.Context) error {
	perms, err := h.Checker.List(c.Request().Context(), c.Param("id"))
	if err != nil {
		return RespondError(c, err)
	}
	return Respond(c, http.StatusOK, perms)
}
