package httpapi

import (
	"strings"

	"github.com/labstack/echo/v4"

	"ocrforge.dev/auth"
)

const identityContextKey = "identity"

// RequireAuth validates the bearer token on every request in the group it's
// attached to and stashes the resulting auth.Identity in the echo context,
// mirroring the teacher's echojwt.WithConfig group middleware but built on
// our own SessionValidator rather than echo-jwt's claims type.
func RequireAuth(validator auth.SessionValidator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			identity, err := validator.Validate(c.Request().Context(), bearerToken(c))
			if err != nil {
				return RespondError(c, err)
			}
			c.Set(identityContextKey, identity)
			return next(c)
		}
	}
}

func bearerToken(c echo.Context) string {
	const prefix = "Bearer "
	h := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(h, prefix) {
		return strings.TrimPrefix(h, prefix)
	}
	return ""
}

// callerID returns the authenticated user id stashed by RequireAuth.
func callerID(c echo.Context) string {
	identity, _ := c.Get(identityContextKey).(auth.Identity)
	return identity.UserID
}
