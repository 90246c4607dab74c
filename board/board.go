// Package board holds the client-side projection of a user's tasks: a
// normalized board partitioned into ordered status columns, plus the
// reconciler that keeps local drag-and-drop moves consistent with the server.
package board

import (
	"errors"
	"fmt"

	"taskboard-api/domain"
)

var (
	// ErrUnknownColumn is returned when a move names a column that is not
	// one of the three fixed statuses.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrTaskNotAtIndex is returned when the task is not where the move
	// request claims it is, typically after the board was rebuilt under a
	// stale gesture.
	ErrTaskNotAtIndex = errors.New("task not at source index")
)

// columnTitles maps each status to its display label.
var columnTitles = map[domain.Status]string{
	domain.StatusPending:    "Pending",
	domain.StatusInProgress: "In Progress",
	domain.StatusCompleted:  "Completed",
}

// Column is one status bucket holding an ordered sequence of task ids.
// Order is display order, not timestamp order.
type Column struct {
	ID      domain.Status
	Title   string
	TaskIDs []string
}

// Board is the normalized client-side view of all tasks. It is a plain data
// structure; the Reconciler provides the concurrency-safe mutation surface.
type Board struct {
	tasks   map[string]domain.Task
	columns map[domain.Status]*Column
}

// New partitions a flat task list into the three fixed status columns in a
// single pass, preserving the list's relative order within each column.
// Tasks with an unrecognized status land in the pending column.
func New(tasks []domain.Task) *Board {
	b := &Board{
		tasks:   make(map[string]domain.Task, len(tasks)),
		columns: make(map[domain.Status]*Column, len(domain.Statuses)),
	}
	for _, s := range domain.Statuses {
		b.columns[s] = &Column{ID: s, Title: columnTitles[s]}
	}
	for _, t := range tasks {
		if !t.Status.Valid() {
			t.Status = domain.StatusPending
		}
		if _, dup := b.tasks[t.ID]; dup {
			continue
		}
		b.tasks[t.ID] = t
		col := b.columns[t.Status]
		col.TaskIDs = append(col.TaskIDs, t.ID)
	}
	return b
}

// MoveRequest describes a completed drag gesture.
type MoveRequest struct {
	TaskID      string
	Source      domain.Status
	SourceIndex int
	Dest        domain.Status
	DestIndex   int
}

// StatusChange is the persistence side effect of a cross-column move.
type StatusChange struct {
	TaskID string
	From   domain.Status
	To     domain.Status
}

// Move applies a drag gesture to the board. It returns a nil StatusChange
// for no-ops and same-column reorders, and the status side effect the caller
// must persist for cross-column moves. The board is updated in place before
// the caller dispatches anything (optimistic update).
func (b *Board) Move(req MoveRequest) (*StatusChange, error) {
	src, ok := b.columns[req.Source]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, req.Source)
	}
	dst, ok := b.columns[req.Dest]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, req.Dest)
	}
	if req.SourceIndex < 0 || req.SourceIndex >= len(src.TaskIDs) || src.TaskIDs[req.SourceIndex] != req.TaskID {
		return nil, fmt.Errorf("%w: %s at %s[%d]", ErrTaskNotAtIndex, req.TaskID, req.Source, req.SourceIndex)
	}

	if req.Source == req.Dest && req.SourceIndex == req.DestIndex {
		return nil, nil
	}

	if req.Source == req.Dest {
		src.TaskIDs = splice(src.TaskIDs, req.SourceIndex, req.DestIndex, req.TaskID)
		return nil, nil
	}

	src.TaskIDs = removeAt(src.TaskIDs, req.SourceIndex)
	dst.TaskIDs = insertAt(dst.TaskIDs, req.DestIndex, req.TaskID)

	task := b.tasks[req.TaskID]
	change := &StatusChange{TaskID: req.TaskID, From: task.Status, To: req.Dest}
	task.Status = req.Dest
	b.tasks[req.TaskID] = task
	return change, nil
}

// moveToColumnTail relocates a task to the end of the given column, updating
// its status. Used by the reconciler to revert failed persistence calls;
// intra-column position is not recoverable because only status is persisted.
func (b *Board) moveToColumnTail(taskID string, to domain.Status) bool {
	task, ok := b.tasks[taskID]
	if !ok {
		return false
	}
	if cur, ok := b.columns[task.Status]; ok {
		if i := indexOf(cur.TaskIDs, taskID); i >= 0 {
			cur.TaskIDs = removeAt(cur.TaskIDs, i)
		}
	}
	col := b.columns[to]
	col.TaskIDs = append(col.TaskIDs, taskID)
	task.Status = to
	b.tasks[taskID] = task
	return true
}

// Task returns the task with the given id.
func (b *Board) Task(id string) (domain.Task, bool) {
	t, ok := b.tasks[id]
	return t, ok
}

// Column returns a copy of the column for the given status.
func (b *Board) Column(id domain.Status) (Column, bool) {
	col, ok := b.columns[id]
	if !ok {
		return Column{}, false
	}
	out := Column{ID: col.ID, Title: col.Title, TaskIDs: make([]string, len(col.TaskIDs))}
	copy(out.TaskIDs, col.TaskIDs)
	return out, true
}

// Columns returns copies of all columns in display order.
func (b *Board) Columns() []Column {
	out := make([]Column, 0, len(domain.Statuses))
	for _, s := range domain.Statuses {
		c, _ := b.Column(s)
		out = append(out, c)
	}
	return out
}

// Len reports the number of tasks on the board.
func (b *Board) Len() int { return len(b.tasks) }

// splice removes the element at from and reinserts it at to within the same
// sequence, shifting everything between.
func splice(ids []string, from, to int, id string) []string {
	ids = removeAt(ids, from)
	return insertAt(ids, to, id)
}

func removeAt(ids []string, i int) []string {
	return append(ids[:i], ids[i+1:]...)
}

func insertAt(ids []string, i int, id string) []string {
	if i < 0 {
		i = 0
	}
	if i > len(ids) {
		i = len(ids)
	}
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
