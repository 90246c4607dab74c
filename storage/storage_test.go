package storage

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"taskboard-api/domain"
)

func TestTaskEntityRoundTrip(t *testing.T) {
	created := time.Date(2024, 6, 2, 8, 30, 0, 0, time.UTC)
	task := domain.Task{
		ID:          "t1",
		UserID:      "u1",
		Title:       "Buy milk",
		Description: "",
		Status:      domain.StatusInProgress,
		CreatedAt:   created,
		UpdatedAt:   created.Add(time.Minute),
	}

	data, err := json.Marshal(entityFromTask(task))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ent.PartitionKey != "u1" || ent.RowKey != "t1" {
		t.Fatalf("unexpected keys: %s/%s", ent.PartitionKey, ent.RowKey)
	}

	got := taskFromEntity(ent)
	if got.ID != task.ID || got.UserID != task.UserID || got.Status != task.Status {
		t.Fatalf("unexpected task: %+v", got)
	}
	if !got.CreatedAt.Equal(task.CreatedAt) || !got.UpdatedAt.Equal(task.UpdatedAt) {
		t.Fatalf("timestamps drifted: %+v", got)
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		code int
		want error
	}{
		{name: "missing entity", code: 404, want: ErrNotFound},
		{name: "conflicting insert", code: 409, want: ErrDuplicate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapError(&azcore.ResponseError{StatusCode: tt.code})
			if err != tt.want {
				t.Fatalf("mapError(%d) = %v, want %v", tt.code, err, tt.want)
			}
		})
	}

	if err := mapError(nil); err != nil {
		t.Fatalf("mapError(nil) = %v", err)
	}
}
