package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"taskboard-api/domain"
	"taskboard-api/storage"
)

// Context keys set by RequireSession for downstream handlers.
const (
	ctxKeyUserID    = "auth.userID"
	ctxKeyPrincipal = "auth.principal"
)

// RequireSession gates every task-scoped route. Anonymous requests (no
// session, expired cookie, or an id that no longer resolves to an account)
// are rejected with 401 and never reach the handler; authenticated requests
// carry the principal and its id in the request context.
func RequireSession(users UserStore) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := sessionUserID(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"message": "authentication required"})
			}

			user, err := users.UserByID(c.Request().Context(), id)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					// Account deleted after the cookie was issued.
					return c.JSON(http.StatusUnauthorized, echo.Map{"message": "authentication required"})
				}
				return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
			}

			c.Set(ctxKeyUserID, user.ID)
			c.Set(ctxKeyPrincipal, user)
			return next(c)
		}
	}
}

// currentUserID returns the principal id attached by RequireSession.
func currentUserID(c echo.Context) string {
	id, _ := c.Get(ctxKeyUserID).(string)
	return id
}

// currentPrincipal returns the principal attached by RequireSession.
func currentPrincipal(c echo.Context) (domain.User, bool) {
	u, ok := c.Get(ctxKeyPrincipal).(domain.User)
	return u, ok
}
