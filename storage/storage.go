package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"taskboard-api/domain"
)

var (
	// ErrNotFound is returned when a record is absent, or exists but is not
	// visible to the caller. The two cases are indistinguishable on purpose.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique constraint (email) is violated.
	ErrDuplicate = errors.New("duplicate resource")
)

// Partition keys of the users table. Principal rows live under "user";
// index rows map natural keys back to the principal id.
const (
	userPartition   = "user"
	emailPartition  = "email"
	googlePartition = "google"
)

// Storage provides access to the task and user tables.
type Storage struct {
	taskTable *aztables.Client
	userTable *aztables.Client
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable, usersTable string) (*Storage, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Storage{
		taskTable: svc.NewClient(tasksTable),
		userTable: svc.NewClient(usersTable),
	}, nil
}

type taskEntity struct {
	aztables.Entity
	Title       string `json:"Title"`
	Description string `json:"Description"`
	Status      string `json:"Status"`
	CreatedAt   string `json:"CreatedAt"`
	UpdatedAt   string `json:"UpdatedAt"`
}

func taskFromEntity(ent taskEntity) domain.Task {
	created, _ := time.Parse(time.RFC3339Nano, ent.CreatedAt)
	updated, _ := time.Parse(time.RFC3339Nano, ent.UpdatedAt)
	return domain.Task{
		ID:          ent.RowKey,
		UserID:      ent.PartitionKey,
		Title:       ent.Title,
		Description: ent.Description,
		Status:      domain.Status(ent.Status),
		CreatedAt:   created,
		UpdatedAt:   updated,
	}
}

func entityFromTask(t domain.Task) taskEntity {
	return taskEntity{
		Entity:      aztables.Entity{PartitionKey: t.UserID, RowKey: t.ID},
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		CreatedAt:   t.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:   t.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// InsertTask persists a new task. The task's ID, UserID and timestamps must
// already be set by the caller.
func (s *Storage) InsertTask(ctx context.Context, t domain.Task) error {
	payload, err := json.Marshal(entityFromTask(t))
	if err != nil {
		return err
	}
	if _, err := s.taskTable.AddEntity(ctx, payload, nil); err != nil {
		return mapError(err)
	}
	return nil
}

// FetchTasks retrieves all tasks owned by the given user.
func (s *Storage) FetchTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + userID + "'"
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			tasks = append(tasks, taskFromEntity(ent))
		}
	}
	return tasks, nil
}

// FetchTask retrieves one task scoped to its owner. A task owned by someone
// else lives in a different partition, so it surfaces as ErrNotFound.
func (s *Storage) FetchTask(ctx context.Context, userID, taskID string) (domain.Task, error) {
	ent, err := s.taskTable.GetEntity(ctx, userID, taskID, nil)
	if err != nil {
		return domain.Task{}, mapError(err)
	}
	var raw taskEntity
	if err := json.Unmarshal(ent.Value, &raw); err != nil {
		return domain.Task{}, err
	}
	return taskFromEntity(raw), nil
}

// UpdateTask merges the patch into the stored task and returns the result.
// The replace is guarded by the entity's ETag; a concurrent writer triggers
// one retry from a fresh read.
func (s *Storage) UpdateTask(ctx context.Context, userID, taskID string, patch domain.TaskPatch, now time.Time) (domain.Task, error) {
	for attempt := 0; ; attempt++ {
		ent, err := s.taskTable.GetEntity(ctx, userID, taskID, nil)
		if err != nil {
			return domain.Task{}, mapError(err)
		}
		var raw taskEntity
		if err := json.Unmarshal(ent.Value, &raw); err != nil {
			return domain.Task{}, err
		}
		task := taskFromEntity(raw)
		patch.Apply(&task, now)

		payload, err := json.Marshal(entityFromTask(task))
		if err != nil {
			return domain.Task{}, err
		}
		etag := ent.ETag
		_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{
			IfMatch:    &etag,
			UpdateMode: aztables.UpdateModeReplace,
		})
		if err == nil {
			return task, nil
		}
		if isStatus(err, 412) && attempt == 0 {
			continue
		}
		return domain.Task{}, mapError(err)
	}
}

// DeleteTask removes a task scoped to its owner.
func (s *Storage) DeleteTask(ctx context.Context, userID, taskID string) error {
	etag := azcore.ETagAny
	if _, err := s.taskTable.DeleteEntity(ctx, userID, taskID, &aztables.DeleteEntityOptions{IfMatch: &etag}); err != nil {
		return mapError(err)
	}
	return nil
}

type userEntity struct {
	aztables.Entity
	Email        string `json:"Email"`
	Name         string `json:"Name"`
	GoogleID     string `json:"GoogleID"`
	PasswordHash string `json:"PasswordHash"`
}

type indexEntity struct {
	aztables.Entity
	UserID string `json:"UserID"`
}

// InsertUser persists a new principal. Email uniqueness is enforced via the
// email index row: a conflicting insert there returns ErrDuplicate before
// the principal row is written.
func (s *Storage) InsertUser(ctx context.Context, u domain.User) error {
	if u.Email != "" {
		if err := s.addIndex(ctx, emailPartition, u.Email, u.ID); err != nil {
			return err
		}
	}
	if u.GoogleID != "" {
		if err := s.addIndex(ctx, googlePartition, u.GoogleID, u.ID); err != nil {
			if u.Email != "" {
				s.removeIndex(ctx, emailPartition, u.Email)
			}
			return err
		}
	}

	payload, err := json.Marshal(userEntity{
		Entity:       aztables.Entity{PartitionKey: userPartition, RowKey: u.ID},
		Email:        u.Email,
		Name:         u.Name,
		GoogleID:     u.GoogleID,
		PasswordHash: u.PasswordHash,
	})
	if err == nil {
		_, err = s.userTable.AddEntity(ctx, payload, nil)
	}
	if err != nil {
		if u.Email != "" {
			s.removeIndex(ctx, emailPartition, u.Email)
		}
		if u.GoogleID != "" {
			s.removeIndex(ctx, googlePartition, u.GoogleID)
		}
		return mapError(err)
	}
	return nil
}

func (s *Storage) addIndex(ctx context.Context, partition, key, userID string) error {
	payload, err := json.Marshal(indexEntity{
		Entity: aztables.Entity{PartitionKey: partition, RowKey: key},
		UserID: userID,
	})
	if err != nil {
		return err
	}
	if _, err := s.userTable.AddEntity(ctx, payload, nil); err != nil {
		return mapError(err)
	}
	return nil
}

func (s *Storage) removeIndex(ctx context.Context, partition, key string) {
	etag := azcore.ETagAny
	_, _ = s.userTable.DeleteEntity(ctx, partition, key, &aztables.DeleteEntityOptions{IfMatch: &etag})
}

// UserByID retrieves a principal by identifier.
func (s *Storage) UserByID(ctx context.Context, id string) (domain.User, error) {
	return s.userRow(ctx, id)
}

// UserByEmail resolves the email index and fetches the principal.
func (s *Storage) UserByEmail(ctx context.Context, email string) (domain.User, error) {
	return s.userByIndex(ctx, emailPartition, email)
}

// UserByGoogleID resolves the federated-identity index and fetches the principal.
func (s *Storage) UserByGoogleID(ctx context.Context, sub string) (domain.User, error) {
	return s.userByIndex(ctx, googlePartition, sub)
}

func (s *Storage) userByIndex(ctx context.Context, partition, key string) (domain.User, error) {
	ent, err := s.userTable.GetEntity(ctx, partition, key, nil)
	if err != nil {
		return domain.User{}, mapError(err)
	}
	var idx indexEntity
	if err := json.Unmarshal(ent.Value, &idx); err != nil {
		return domain.User{}, err
	}
	return s.userRow(ctx, idx.UserID)
}

func (s *Storage) userRow(ctx context.Context, id string) (domain.User, error) {
	ent, err := s.userTable.GetEntity(ctx, userPartition, id, nil)
	if err != nil {
		return domain.User{}, mapError(err)
	}
	var raw userEntity
	if err := json.Unmarshal(ent.Value, &raw); err != nil {
		return domain.User{}, err
	}
	return domain.User{
		ID:           raw.RowKey,
		Email:        raw.Email,
		Name:         raw.Name,
		GoogleID:     raw.GoogleID,
		PasswordHash: raw.PasswordHash,
	}, nil
}

// mapError converts Azure table responses to the storage error taxonomy.
func mapError(err error) error {
	if isStatus(err, 404) {
		return ErrNotFound
	}
	if isStatus(err, 409) {
		return ErrDuplicate
	}
	return err
}

func isStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}
