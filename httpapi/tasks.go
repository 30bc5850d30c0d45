package httpapi

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"ocrforge.dev/access"
	"ocrforge.dev/apperr"
	"ocrforge.dev/ingestion"
	"ocrforge.dev/metadata"
)

// TaskHandlers backs the /api/tasks endpoints.
type TaskHandlers struct {
	Ingestion *ingestion.Service
	Access    *access.Service
	Store     *metadata.Store
}

type taskResponse struct {
	ID           string                    `json:"id"`
	OwnerID      string                    `json:"owner_id"`
	FolderID     *string                   `json:"folder_id,omitempty"`
	Status       metadata.TaskStatus       `json:"status"`
	ErrorMessage *string                   `json:"error_message,omitempty"`
	Config       metadata.ProcessingConfig `json:"processing_config"`
	AttemptCount int                       `json:"attempt_count"`
}

func toTaskResponse(t metadata.Task) taskResponse {
	return taskResponse{
		ID: t.ID, OwnerID: t.OwnerID, FolderID: t.FolderID, Status: t.Status,
		ErrorMessage: t.ErrorMessage, Config: t.ProcessingConfig, AttemptCount: t.AttemptCount,
	}
}

// Create handles POST /api/tasks: a multipart upload of one file plus the
// processing_config modes the caller wants run.
func (h *TaskHandlers) Create(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return RespondError(c, apperr.New(apperr.ValidationFailed, "missing_file"))
	}
	src, err := fileHeader.Open()
	if err != nil {
		return RespondError(c, apperr.Wrap(apperr.ValidationFailed, "open_upload", err))
	}
	defer src.Close()

	content, err := io.ReadAll(src)
	if err != nil {
		return RespondError(c, apperr.Wrap(apperr.ValidationFailed, "read_upload", err))
	}

	var folderID *string
	if v := c.FormValue("folder_id"); v != "" {
		folderID = &v
	}

	modes := strings.Split(c.FormValue("modes"), ",")
	if len(modes) == 1 && modes[0] == "" {
		modes = []string{"text"}
	}

	taskID, err := h.Ingestion.Upload(c.Request().Context(), ingestion.UploadRequest{
		OwnerID:  callerID(c),
		Filename: fileHeader.Filename,
		MimeType: fileHeader.Header.Get("Content-Type"),
		Content:  content,
		ProcessingConfig: metadata.ProcessingConfig{
			Modes: modes,
		},
		FolderID: folderID,
	})
	if err != nil {
		return RespondError(c, err)
	}
	return Respond(c, http.StatusCreated, map[string]string{"task_id": taskID})
}

// List handles GET /api/tasks for the authenticated owner.
func (h *TaskHandlers) List(c echo.Context) error {
	limit, offset := 50, 0
	if v := c.QueryParam("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}

	tasks, err := h.Store.ListTasksByOwner(c.Request().Context(), callerID(c), limit, offset)
	if err != nil {
		return RespondError(c, err)
	}
	resp := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		resp = append(resp, toTaskResponse(t))
	}
	return Respond(c, http.StatusOK, resp)
}

// Get handles GET /api/tasks/:id.
func (h *TaskHandlers) Get(c echo.Context) error {
	task, err := h.Store.GetTask(c.Request().Context(), c.Param("id"))
	if err != nil {
		return RespondError(c, err)
	}
	if task.OwnerID != callerID(c) {
		return RespondError(c, apperr.New(apperr.Forbidden, "not_owner"))
	}
	return Respond(c, http.StatusOK, toTaskResponse(task))
}

// Original handles GET /api/tasks/:id/download: a redirect to a presigned
// GET of the uploaded file.
func (h *TaskHandlers) Original(c echo.Context) error {
	url, err := h.Access.Original(c.Request().Context(), callerID(c), c.Param("id"), time.Now())
	if err != nil {
		return RespondError(c, err)
	}
	return c.Redirect(http.StatusFound, url)
}

// Result handles GET /api/tasks/:id/result: a redirect to a presigned GET
// of the OCR output.
func (h *TaskHandlers) Result(c echo.Context) error {
	url, err := h.Access.Result(c.Request().Context(), callerID(c), c.Param("id"), time.Now())
	if err != nil {
		return RespondError(c, err)
	}
	return c.Redirect(http.StatusFound, url)
}

// Preview handles GET /api/tasks/:id/preview: streams the result HTML
// body directly rather than redirecting, since the client renders it
// inline.
func (h *TaskHandlers) Preview(c echo.Context) error {
	body, contentType, err := h.Access.Preview(c.Request().Context(), callerID(c), c.Param("id"), time.Now())
	if err != nil {
		return RespondError(c, err)
	}
	defer body.Close()
	return c.Stream(http.StatusOK, contentType, body)
}

// PageImage handles GET /api/tasks/:id/page-image/:n.
func (h *TaskHandlers) PageImage(c echo.Context) error {
	page, err := strconv.Atoi(c.Param("n"))
	if err != nil {
		return RespondError(c, apperr.New(apperr.ValidationFailed, "invalid_page"))
	}
	body, contentType, err := h.Access.PageImage(c.Request().Context(), callerID(c), c.Param("id"), page, time.Now())
	if err != nil {
		return RespondError(c, err)
	}
	defer body.Close()
	return c.Stream(http.StatusOK, contentType, body)
}
