package api

import (
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
)

const (
	sessionName      = "taskboard_session"
	sessionKeyUserID = "uid"

	// SessionTTL bounds how long a session cookie proves a prior login.
	SessionTTL = time.Hour
)

func sessionOptions() *sessions.Options {
	return &sessions.Options{
		Path:     "/",
		MaxAge:   int(SessionTTL / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// NewSessionStore builds the signed cookie store backing all sessions. The
// cookie carries only the principal identifier; the principal itself is
// re-fetched from storage on every request, so deleting an account revokes
// its sessions.
func NewSessionStore(secret []byte) sessions.Store {
	store := sessions.NewCookieStore(secret)
	// Codec-level max age: a replayed cookie older than the TTL fails
	// signature validation even if the client strips the expiry attribute.
	store.MaxAge(int(SessionTTL / time.Second))
	store.Options = sessionOptions()
	return store
}

// establishSession writes the principal id into a fresh session cookie.
func establishSession(c echo.Context, userID string) error {
	sess, err := session.Get(sessionName, c)
	if err != nil {
		return err
	}
	sess.Options = sessionOptions()
	sess.Values[sessionKeyUserID] = userID
	return sess.Save(c.Request(), c.Response())
}

// clearSession invalidates the session cookie.
func clearSession(c echo.Context) error {
	sess, err := session.Get(sessionName, c)
	if err != nil {
		return err
	}
	delete(sess.Values, sessionKeyUserID)
	opts := sessionOptions()
	opts.MaxAge = -1
	sess.Options = opts
	return sess.Save(c.Request(), c.Response())
}

// sessionUserID decodes the principal id from the request's session cookie.
// A missing or unreadable cookie yields ("", false): the request is
// anonymous, not an error.
func sessionUserID(c echo.Context) (string, bool) {
	sess, err := session.Get(sessionName, c)
	if err != nil {
		return "", false
	}
	id, ok := sess.Values[sessionKeyUserID].(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
