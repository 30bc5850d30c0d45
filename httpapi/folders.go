package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"ocrforge.dev/apperr"
	"ocrforge.dev/metadata"
)

// FolderHandlers backs the /api/folders endpoints. Folders are always
// scoped to the authenticated caller; metadata.Store enforces the scope
// on every read/write.
type FolderHandlers struct {
	Store *metadata.Store
}

type folderRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description"`
}

// Create handles POST /api/folders.
func (h *FolderHandlers) Create(c echo.Context) error {
	var req folderRequest
	if err := c.Bind(&req); err != nil {
		return RespondError(c, apperr.New(apperr.ValidationFailed, "invalid_body"))
	}
	if req.Name == "" {
		return RespondError(c, apperr.New(apperr.ValidationFailed, "name_required"))
	}

	folder := metadata.Folder{
		ID: uuid.NewString(), OwnerID: callerID(c), Name: req.Name,
		Color: req.Color, Description: req.Description, CreatedAt: time.Now(),
	}
	if err := h.Store.CreateFolder(c.Request().Context(), folder); err != nil {
		return RespondError(c, err)
	}
	return Respond(c, http.StatusCreated, folder)
}

// List handles GET /api/folders.
func (h *FolderHandlers) List(c echo.Context) error {
	folders, err := h.Store.ListFolders(c.Request().Context(), callerID(c))
	if err != nil {
		return RespondError(c, err)
	}
	return Respond(c, http.StatusOK, folders)
}

// Update handles PUT /api/folders/:id.
func (h *FolderHandlers) Update(c echo.Context) error {
	var req folderRequest
	if err := c.Bind(&req); err != nil {
		return RespondError(c, apperr.New(apperr.ValidationFailed, "invalid_body"))
	}

	folder := metadata.Folder{ID: c.Param("id"), Name: req.Name, Color: req.Color, Description: req.Description}
	if err := h.Store.UpdateFolder(c.Request().Context(), callerID(c), folder); err != nil {
		return RespondError(c, err)
	}
	return Respond(c, http.StatusOK, map[string]bool{"updated": true})
}

// Delete handles DELETE /api/folders/:id.
func (h *FolderHandlers) Delete(c echo.Context) error {
	if err := h.Store.DeleteFolder(c.Request().Context(), callerID(c), c.Param("id")); err != nil {
		return RespondError(c, err)
	}
	return Respond(c, http.StatusOK, map[string]bool{"deleted": true})
}
