// Package httpapi implements the HTTP surface from SPEC_FULL §6: the
// task, session, version, and folder endpoints, wired to the ingestion,
// access, versioning, and permission components. Grounded on the
// teacher's api/jwt.go Handlers-struct-plus-SetupRoutes shape and
// http/server.go's echo bootstrap.
package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"ocrforge.dev/apperr"
)

// envelope is the {success, data?, error?} JSON shape every handler
// returns, per SPEC_FULL §6.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Respond writes a successful envelope.
func Respond(c echo.Context, status int, data any) error {
	return c.JSON(status, envelope{Success: true, Data: data})
}

// RespondError maps err's apperr.Kind to an HTTP status and writes the
// error envelope. Unclassified errors surface as 500 without leaking
// their message, matching the teacher's "don't echo internal errors"
// practice in api/jwt.go's handlers.
func RespondError(c echo.Context, err error) error {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	return c.JSON(status, envelope{Success: false, Error: message})
}
