package api

import (
	"context"
	"time"

	"taskboard-api/domain"
)

// UserStore is the persistence surface needed by credential verification and
// session resolution.
type UserStore interface {
	InsertUser(ctx context.Context, u domain.User) error
	UserByID(ctx context.Context, id string) (domain.User, error)
	UserByEmail(ctx context.Context, email string) (domain.User, error)
	UserByGoogleID(ctx context.Context, sub string) (domain.User, error)
}

// Storage abstracts persistence for handlers.
type Storage interface {
	UserStore

	InsertTask(ctx context.Context, t domain.Task) error
	FetchTasks(ctx context.Context, userID string) ([]domain.Task, error)
	FetchTask(ctx context.Context, userID, taskID string) (domain.Task, error)
	UpdateTask(ctx context.Context, userID, taskID string, patch domain.TaskPatch, now time.Time) (domain.Task, error)
	DeleteTask(ctx context.Context, userID, taskID string) error
}
