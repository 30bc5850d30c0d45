package httpapi

import (
	"bytes"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"ocrforge.dev/apperr"
	"ocrforge.dev/metadata"
	"ocrforge.dev/versioning"
)

// SessionHandlers backs the /api/sessions and /api/versions endpoints.
type SessionHandlers struct {
	Engine *versioning.Engine
}

type sessionResponse struct {
	ID              string            `json:"id"`
	TaskID          string            `json:"task_id"`
	UserID          string            `json:"user_id"`
	ViewType        metadata.ViewType `json:"view_type"`
	StartedAt       time.Time         `json:"started_at"`
	EndedAt         *time.Time        `json:"ended_at,omitempty"`
	VersionsCreated int               `json:"versions_created"`
}

func toSessionResponse(s metadata.EditSession) sessionResponse {
	return sessionResponse{
		ID: s.ID, TaskID: s.TaskID, UserID: s.UserID, ViewType: s.ViewType,
		StartedAt: s.StartedAt, EndedAt: s.EndedAt, VersionsCreated: s.VersionsCreated,
	}
}

type startSessionRequest struct {
	ViewType string `json:"view_type"`
}

// Start handles POST /api/sessions/:task_id/start.
func (h *SessionHandlers) Start(c echo.Context) error {
	var req startSessionRequest
	_ = c.Bind(&req) // view_type is optional, defaults below
	viewType := metadata.ViewType(req.ViewType)
	if viewType == "" {
		viewType = metadata.ViewEdit
	}

	session, err := h.Engine.StartSession(c.Request().Context(), callerID(c), c.Param("task_id"), viewType, time.Now())
	if err != nil {
		return RespondError(c, err)
	}
	return Respond(c, http.StatusCreated, toSessionResponse(session))
}

type saveVersionRequest struct {
	Content string `json:"content"`
}

// Save handles POST /api/versions/:task_id/save.
func (h *SessionHandlers) Save(c echo.Context) error {
	var req saveVersionRequest
	if err := c.Bind(&req); err != nil {
		return RespondError(c, apperr.New(apperr.ValidationFailed, "invalid_body"))
	}

	result, err := h.Engine.SaveVersionByTask(c.Request().Context(), callerID(c), c.Param("task_id"), []byte(req.Content), metadata.ActionAutoSave, time.Now())
	if err != nil {
		return RespondError(c, err)
	}
	return Respond(c, http.StatusOK, map[string]any{
		"version_number": result.Version.VersionNumber,
		"is_snapshot":    result.IsSnapshot,
		"no_op":          result.NoOp,
	})
}

type endSessionRequest struct {
	FinalContent string `json:"final_content"`
	Outcome      string `json:"outcome"`
}

// End handles POST /api/sessions/:task_id/end. Best-effort: called from
// both an explicit "done editing" action and a page-unload beacon, so it
// must succeed even when the caller can't wait for a full response.
func (h *SessionHandlers) End(c echo.Context) error {
	var req endSessionRequest
	_ = c.Bind(&req) // a beacon may send no body at all

	if err := h.Engine.EndSessionByTask(c.Request().Context(), callerID(c), c.Param("task_id"), []byte(req.FinalContent), req.Outcome, time.Now()); err != nil {
		return RespondError(c, err)
	}
	return Respond(c, http.StatusOK, map[string]bool{"ended": true})
}

// LatestVersion handles GET /api/versions/:task_id/latest.
func (h *SessionHandlers) LatestVersion(c echo.Context) error {
	result, err := h.Engine.LatestVersion(c.Request().Context(), callerID(c), c.Param("task_id"), time.Now())
	if err != nil {
		return RespondError(c, err)
	}
	return Respond(c, http.StatusOK, map[string]any{
		"content":        string(result.Content),
		"version_number": result.VersionNumber,
		"source":         result.Source,
	})
}

// ListVersions handles GET /api/versions/:task_id.
func (h *SessionHandlers) ListVersions(c echo.Context) error {
	versions, err := h.Engine.ListVersions(c.Request().Context(), callerID(c), c.Param("task_id"), time.Now())
	if err != nil {
		return RespondError(c, err)
	}
	resp := make([]map[string]any, 0, len(versions))
	for _, v := range versions {
		resp = append(resp, map[string]any{
			"version_number": v.VersionNumber,
			"is_latest":      v.IsLatest,
			"is_original":    v.IsOriginal,
			"edited_by":      v.EditedBy,
			"edited_at":      v.EditedAt,
		})
	}
	return Respond(c, http.StatusOK, resp)
}

type downloadRequest struct {
	HTML string `json:"html"`
}

// Download handles POST /api/sessions/:task_id/download-result: renders
// the caller's supplied HTML to PDF and records the download as a version.
func (h *SessionHandlers) Download(c echo.Context) error {
	var req downloadRequest
	if err := c.Bind(&req); err != nil {
		return RespondError(c, apperr.New(apperr.ValidationFailed, "invalid_body"))
	}

	pdf, err := h.Engine.DownloadResult(c.Request().Context(), callerID(c), c.Param("task_id"), req.HTML, time.Now())
	if err != nil {
		return RespondError(c, err)
	}
	return c.Stream(http.StatusOK, "application/pdf", bytes.NewReader(pdf))
}
