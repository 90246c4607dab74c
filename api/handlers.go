package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
	"taskboard-api/storage"
)

const requestBodyMaxSize = 1 << 20

// Register wires up all API routes on the provided Echo instance. google may
// be nil when federated login is not configured; its routes are then absent.
func Register(e *echo.Echo, store Storage, verifier *Verifier, google *GoogleAuth, sessionStore sessions.Store, appURL string, logger *log.Logger) {
	e.Use(session.Middleware(sessionStore))

	auth := e.Group("/api/auth")
	auth.POST("/register", registerUser(store, logger))
	auth.POST("/login", login(verifier, logger))
	auth.POST("/logout", logout(), RequireSession(store))
	if google != nil {
		auth.GET("/google", google.Begin)
		auth.GET("/google/callback", googleCallback(verifier, google, appURL, logger))
	}

	tasks := e.Group("/api/tasks", RequireSession(store))
	tasks.POST("", createTask(store, logger))
	tasks.GET("", getTasks(store, logger))
	tasks.GET("/:id", getTask(store, logger))
	tasks.PATCH("/:id", patchTask(store, logger))
	tasks.DELETE("/:id", deleteTask(store, logger))

	e.GET("/api/users/current", currentUser(), RequireSession(store))
	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// decodeBody decodes a JSON request body into v, rejecting unknown fields
// and oversized payloads.
func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, requestBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	// Accepted for wire compatibility with older clients, ignored: status at
	// creation is always pending.
	Status string `json:"status"`
}

func createTask(store Storage, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := newRequestMetrics(logger, "POST /api/tasks")
		defer func() { metrics.Log(c.Response().Status, err) }()

		var req createTaskRequest
		if err := decodeBody(c, &req); err != nil {
			metrics.SetErrorStage("decode")
			return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid body"})
		}

		now := time.Now().UTC()
		task := domain.Task{
			ID:          uuid.NewString(),
			UserID:      currentUserID(c),
			Title:       req.Title,
			Description: req.Description,
			Status:      domain.StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		storageStart := time.Now()
		insertErr := store.InsertTask(c.Request().Context(), task)
		metrics.ObserveStorage(time.Since(storageStart))
		if insertErr != nil {
			metrics.SetErrorStage("storage")
			c.Logger().Error(insertErr)
			err = c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
			return err
		}

		err = c.JSON(http.StatusCreated, task)
		return err
	}
}

func getTasks(store Storage, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := newRequestMetrics(logger, "GET /api/tasks")
		defer func() { metrics.Log(c.Response().Status, err) }()

		storageStart := time.Now()
		tasks, fetchErr := store.FetchTasks(c.Request().Context(), currentUserID(c))
		metrics.ObserveStorage(time.Since(storageStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			c.Logger().Error(fetchErr)
			err = c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
			return err
		}

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, tasks)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func getTask(store Storage, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := newRequestMetrics(logger, "GET /api/tasks/:id")
		defer func() { metrics.Log(c.Response().Status, err) }()

		task, fetchErr := store.FetchTask(c.Request().Context(), currentUserID(c), c.Param("id"))
		if fetchErr != nil {
			if errors.Is(fetchErr, storage.ErrNotFound) {
				metrics.SetErrorStage("not_found")
				err = c.JSON(http.StatusNotFound, echo.Map{"message": "Task not found"})
				return err
			}
			metrics.SetErrorStage("storage")
			c.Logger().Error(fetchErr)
			err = c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
			return err
		}
		err = c.JSON(http.StatusOK, task)
		return err
	}
}

func patchTask(store Storage, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := newRequestMetrics(logger, "PATCH /api/tasks/:id")
		defer func() { metrics.Log(c.Response().Status, err) }()

		var patch domain.TaskPatch
		if err := decodeBody(c, &patch); err != nil {
			metrics.SetErrorStage("decode")
			return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid body"})
		}
		if patch.Status != nil && !patch.Status.Valid() {
			metrics.SetErrorStage("invalid_status")
			return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid status"})
		}

		storageStart := time.Now()
		task, updateErr := store.UpdateTask(c.Request().Context(), currentUserID(c), c.Param("id"), patch, time.Now().UTC())
		metrics.ObserveStorage(time.Since(storageStart))
		if updateErr != nil {
			if errors.Is(updateErr, storage.ErrNotFound) {
				metrics.SetErrorStage("not_found")
				err = c.JSON(http.StatusNotFound, echo.Map{"message": "Task not found"})
				return err
			}
			metrics.SetErrorStage("storage")
			c.Logger().Error(updateErr)
			err = c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
			return err
		}
		err = c.JSON(http.StatusOK, task)
		return err
	}
}

func deleteTask(store Storage, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := newRequestMetrics(logger, "DELETE /api/tasks/:id")
		defer func() { metrics.Log(c.Response().Status, err) }()

		storageStart := time.Now()
		deleteErr := store.DeleteTask(c.Request().Context(), currentUserID(c), c.Param("id"))
		metrics.ObserveStorage(time.Since(storageStart))
		if deleteErr != nil {
			if errors.Is(deleteErr, storage.ErrNotFound) {
				metrics.SetErrorStage("not_found")
				err = c.JSON(http.StatusNotFound, echo.Map{"message": "Task not found"})
				return err
			}
			metrics.SetErrorStage("storage")
			c.Logger().Error(deleteErr)
			err = c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
			return err
		}
		err = c.NoContent(http.StatusNoContent)
		return err
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func registerUser(store Storage, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req registerRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid body"})
		}
		req.Email = strings.TrimSpace(req.Email)
		if req.Email == "" || req.Password == "" || req.Name == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"message": "email, password and name are required"})
		}

		hash, err := hashPassword(req.Password)
		if err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
		}

		user := domain.User{
			ID:           uuid.NewString(),
			Email:        req.Email,
			Name:         req.Name,
			PasswordHash: hash,
		}
		if err := store.InsertUser(c.Request().Context(), user); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return c.JSON(http.StatusBadRequest, echo.Map{"message": "Error registering user."})
			}
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
		}

		logger.WithField("user", user.ID).Info("registered user")
		return c.JSON(http.StatusCreated, user)
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func login(verifier *Verifier, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req loginRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid body"})
		}

		user, err := verifier.Verify(c.Request().Context(), PasswordCredential{
			Email:    strings.TrimSpace(req.Email),
			Password: req.Password,
		})
		if err != nil {
			if errors.Is(err, ErrInvalidCredential) {
				return c.JSON(http.StatusUnauthorized, echo.Map{"message": ErrInvalidCredential.Error()})
			}
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
		}

		if err := establishSession(c, user.ID); err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
		}
		return c.JSON(http.StatusOK, user)
	}
}

func logout() echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := clearSession(c); err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"message": "Logout error"})
		}
		return c.NoContent(http.StatusOK)
	}
}

func googleCallback(verifier *Verifier, google *GoogleAuth, appURL string, logger *log.Logger) echo.HandlerFunc {
	failureTarget := appURL + "/login?error=google"
	return func(c echo.Context) error {
		assertion, err := google.Exchange(c)
		if err != nil {
			logger.Warnf("google callback rejected: %v", err)
			return c.Redirect(http.StatusTemporaryRedirect, failureTarget)
		}

		user, err := verifier.Verify(c.Request().Context(), assertion)
		if err != nil {
			logger.Errorf("federated verify: %v", err)
			return c.Redirect(http.StatusTemporaryRedirect, failureTarget)
		}
		if err := establishSession(c, user.ID); err != nil {
			logger.Errorf("establish session: %v", err)
			return c.Redirect(http.StatusTemporaryRedirect, failureTarget)
		}
		return c.Redirect(http.StatusTemporaryRedirect, appURL+"/")
	}
}

func currentUser() echo.HandlerFunc {
	return func(c echo.Context) error {
		user, ok := currentPrincipal(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, echo.Map{"message": "authentication required"})
		}
		return c.JSON(http.StatusOK, user)
	}
}
