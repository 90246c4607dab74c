package board

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"taskboard-api/domain"
)

func mkTask(id string, status domain.Status) domain.Task {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	return domain.Task{ID: id, Title: "task " + id, Status: status, CreatedAt: now, UpdatedAt: now}
}

func boardFixture() *Board {
	return New([]domain.Task{
		mkTask("p1", domain.StatusPending),
		mkTask("p2", domain.StatusPending),
		mkTask("p3", domain.StatusPending),
		mkTask("w1", domain.StatusInProgress),
		mkTask("c1", domain.StatusCompleted),
	})
}

// checkInvariant verifies the multiset union of all columns equals the task
// key set exactly once each.
func checkInvariant(t *testing.T, b *Board) {
	t.Helper()
	seen := map[string]int{}
	for _, col := range b.Columns() {
		for _, id := range col.TaskIDs {
			seen[id]++
		}
	}
	if len(seen) != b.Len() {
		t.Fatalf("columns hold %d distinct ids, board has %d tasks", len(seen), b.Len())
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("task %s appears %d times across columns", id, n)
		}
		if _, ok := b.Task(id); !ok {
			t.Fatalf("column references unknown task %s", id)
		}
	}
}

func TestNewPartitionsPreservingOrder(t *testing.T) {
	b := boardFixture()

	pending, _ := b.Column(domain.StatusPending)
	if want := []string{"p1", "p2", "p3"}; !reflect.DeepEqual(pending.TaskIDs, want) {
		t.Errorf("pending = %v, want %v", pending.TaskIDs, want)
	}
	inProgress, _ := b.Column(domain.StatusInProgress)
	if want := []string{"w1"}; !reflect.DeepEqual(inProgress.TaskIDs, want) {
		t.Errorf("inProgress = %v, want %v", inProgress.TaskIDs, want)
	}
	checkInvariant(t, b)
}

func TestNewNormalizesUnknownStatus(t *testing.T) {
	b := New([]domain.Task{{ID: "x", Status: "archived"}})
	pending, _ := b.Column(domain.StatusPending)
	if !reflect.DeepEqual(pending.TaskIDs, []string{"x"}) {
		t.Errorf("pending = %v, want [x]", pending.TaskIDs)
	}
	task, _ := b.Task("x")
	if task.Status != domain.StatusPending {
		t.Errorf("status = %q, want pending", task.Status)
	}
}

func TestMoveNoOp(t *testing.T) {
	b := boardFixture()
	before := b.Columns()

	change, err := b.Move(MoveRequest{
		TaskID: "p2", Source: domain.StatusPending, SourceIndex: 1,
		Dest: domain.StatusPending, DestIndex: 1,
	})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if change != nil {
		t.Errorf("no-op produced status change %+v", change)
	}
	if !reflect.DeepEqual(b.Columns(), before) {
		t.Error("no-op mutated the board")
	}
}

func TestMoveSameColumnReorder(t *testing.T) {
	b := boardFixture()

	change, err := b.Move(MoveRequest{
		TaskID: "p1", Source: domain.StatusPending, SourceIndex: 0,
		Dest: domain.StatusPending, DestIndex: 2,
	})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if change != nil {
		t.Errorf("same-column reorder produced status change %+v", change)
	}

	pending, _ := b.Column(domain.StatusPending)
	if want := []string{"p2", "p3", "p1"}; !reflect.DeepEqual(pending.TaskIDs, want) {
		t.Errorf("pending = %v, want %v", pending.TaskIDs, want)
	}
	task, _ := b.Task("p1")
	if task.Status != domain.StatusPending {
		t.Errorf("status changed on same-column reorder: %q", task.Status)
	}
	checkInvariant(t, b)
}

func TestMoveCrossColumn(t *testing.T) {
	b := boardFixture()

	change, err := b.Move(MoveRequest{
		TaskID: "p2", Source: domain.StatusPending, SourceIndex: 1,
		Dest: domain.StatusInProgress, DestIndex: 0,
	})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if change == nil {
		t.Fatal("cross-column move reported no status change")
	}
	if change.From != domain.StatusPending || change.To != domain.StatusInProgress || change.TaskID != "p2" {
		t.Errorf("unexpected change %+v", change)
	}

	pending, _ := b.Column(domain.StatusPending)
	if want := []string{"p1", "p3"}; !reflect.DeepEqual(pending.TaskIDs, want) {
		t.Errorf("pending = %v, want %v", pending.TaskIDs, want)
	}
	inProgress, _ := b.Column(domain.StatusInProgress)
	if want := []string{"p2", "w1"}; !reflect.DeepEqual(inProgress.TaskIDs, want) {
		t.Errorf("inProgress = %v, want %v", inProgress.TaskIDs, want)
	}
	task, _ := b.Task("p2")
	if task.Status != domain.StatusInProgress {
		t.Errorf("status = %q, want inProgress", task.Status)
	}
	checkInvariant(t, b)
}

func TestMovePreconditions(t *testing.T) {
	cases := []struct {
		name string
		req  MoveRequest
		want error
	}{
		{
			name: "unknown destination",
			req: MoveRequest{TaskID: "p1", Source: domain.StatusPending, SourceIndex: 0,
				Dest: "archived", DestIndex: 0},
			want: ErrUnknownColumn,
		},
		{
			name: "unknown source",
			req: MoveRequest{TaskID: "p1", Source: "archived", SourceIndex: 0,
				Dest: domain.StatusPending, DestIndex: 0},
			want: ErrUnknownColumn,
		},
		{
			name: "wrong index",
			req: MoveRequest{TaskID: "p1", Source: domain.StatusPending, SourceIndex: 2,
				Dest: domain.StatusCompleted, DestIndex: 0},
			want: ErrTaskNotAtIndex,
		},
		{
			name: "index out of range",
			req: MoveRequest{TaskID: "p1", Source: domain.StatusPending, SourceIndex: 9,
				Dest: domain.StatusCompleted, DestIndex: 0},
			want: ErrTaskNotAtIndex,
		},
		{
			name: "wrong column",
			req: MoveRequest{TaskID: "w1", Source: domain.StatusPending, SourceIndex: 0,
				Dest: domain.StatusCompleted, DestIndex: 0},
			want: ErrTaskNotAtIndex,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := boardFixture()
			if _, err := b.Move(tc.req); !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
			checkInvariant(t, b)
		})
	}
}

func TestMoveDestIndexClamped(t *testing.T) {
	b := boardFixture()

	// Dropping past the end of a short column appends at the tail.
	if _, err := b.Move(MoveRequest{
		TaskID: "p1", Source: domain.StatusPending, SourceIndex: 0,
		Dest: domain.StatusCompleted, DestIndex: 10,
	}); err != nil {
		t.Fatalf("move: %v", err)
	}
	completed, _ := b.Column(domain.StatusCompleted)
	if want := []string{"c1", "p1"}; !reflect.DeepEqual(completed.TaskIDs, want) {
		t.Errorf("completed = %v, want %v", completed.TaskIDs, want)
	}
	checkInvariant(t, b)
}

func TestInvariantAcrossMoveSequences(t *testing.T) {
	b := boardFixture()
	moves := []MoveRequest{
		{TaskID: "p3", Source: domain.StatusPending, SourceIndex: 2, Dest: domain.StatusInProgress, DestIndex: 1},
		{TaskID: "w1", Source: domain.StatusInProgress, SourceIndex: 0, Dest: domain.StatusCompleted, DestIndex: 0},
		{TaskID: "p1", Source: domain.StatusPending, SourceIndex: 0, Dest: domain.StatusPending, DestIndex: 1},
		{TaskID: "p3", Source: domain.StatusInProgress, SourceIndex: 0, Dest: domain.StatusPending, DestIndex: 0},
	}
	for i, m := range moves {
		if _, err := b.Move(m); err != nil {
			t.Fatalf("move %d: %v", i, err)
		}
		checkInvariant(t, b)
	}
}
