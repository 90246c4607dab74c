package board

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
)

// ErrClosed is returned by Move after the reconciler has been closed.
var ErrClosed = errors.New("reconciler closed")

// StatusWriter persists a task's new status. The reconciler only cares
// whether the write succeeded; transport belongs to the caller.
type StatusWriter interface {
	UpdateStatus(ctx context.Context, taskID string, status domain.Status) error
}

// StatusWriterFunc adapts a function to the StatusWriter interface.
type StatusWriterFunc func(ctx context.Context, taskID string, status domain.Status) error

func (f StatusWriterFunc) UpdateStatus(ctx context.Context, taskID string, status domain.Status) error {
	return f(ctx, taskID, status)
}

// FailureFunc observes a move whose persistence terminally failed, after the
// local board has been reverted to the task's last confirmed status.
type FailureFunc func(taskID string, failed domain.Status, err error)

// taskSync tracks persistence state for one task. At most one write per task
// is in flight; later moves overwrite pending (latest wins) and are flushed
// when the in-flight write returns.
type taskSync struct {
	confirmed domain.Status  // last status the server acknowledged
	pending   *domain.Status // desired status queued behind the in-flight write
}

// Reconciler owns a Board and keeps it consistent with the server: moves are
// applied optimistically and their status side effects are persisted
// asynchronously, coalesced per task. On terminal failure the task is
// returned to its last confirmed column and the failure hook fires.
//
// All methods are safe for concurrent use; the Board must not be shared
// outside the reconciler once handed to it.
type Reconciler struct {
	writer    StatusWriter
	logger    *log.Logger
	onFailure FailureFunc

	mu       sync.Mutex
	board    *Board
	inflight map[string]*taskSync
	closed   bool
	wg       sync.WaitGroup
}

// NewReconciler wraps tasks in a reconciler persisting through w. The
// failure hook may be nil. A nil logger falls back to the logrus standard
// logger.
func NewReconciler(tasks []domain.Task, w StatusWriter, onFailure FailureFunc, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Reconciler{
		writer:    w,
		logger:    logger,
		onFailure: onFailure,
		board:     New(tasks),
		inflight:  make(map[string]*taskSync),
	}
}

// Move applies a drag gesture. Same-column reorders mutate only the local
// board; cross-column moves additionally dispatch a status write. The board
// reflects the move before the write resolves.
func (r *Reconciler) Move(req MoveRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	change, err := r.board.Move(req)
	if err != nil {
		return err
	}
	if change == nil {
		return nil
	}

	if entry, ok := r.inflight[change.TaskID]; ok {
		// A write is already in flight; remember only the latest target.
		to := change.To
		entry.pending = &to
		return nil
	}

	entry := &taskSync{confirmed: change.From}
	r.inflight[change.TaskID] = entry
	r.dispatchLocked(change.TaskID, change.To)
	return nil
}

// dispatchLocked starts the persistence goroutine for taskID. Caller holds mu.
func (r *Reconciler) dispatchLocked(taskID string, to domain.Status) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		err := r.writer.UpdateStatus(context.Background(), taskID, to)
		r.settle(taskID, to, err)
	}()
}

// settle records the outcome of a write and flushes or reverts as needed.
func (r *Reconciler) settle(taskID string, to domain.Status, err error) {
	r.mu.Lock()
	entry, ok := r.inflight[taskID]
	if !ok {
		// Board was rebuilt while the write was in flight; the fresh
		// fetch is authoritative.
		r.mu.Unlock()
		return
	}

	if err == nil {
		entry.confirmed = to
		if entry.pending != nil && *entry.pending != to {
			next := *entry.pending
			entry.pending = nil
			r.dispatchLocked(taskID, next)
			r.mu.Unlock()
			return
		}
		delete(r.inflight, taskID)
		r.mu.Unlock()
		return
	}

	// Terminal failure: drop anything queued and put the task back where the
	// server last agreed it was.
	confirmed := entry.confirmed
	delete(r.inflight, taskID)
	r.board.moveToColumnTail(taskID, confirmed)
	r.mu.Unlock()

	r.logger.WithFields(log.Fields{
		"task":   taskID,
		"status": to,
	}).Warnf("status persist failed, reverted to %s: %v", confirmed, err)
	if r.onFailure != nil {
		r.onFailure(taskID, to, err)
	}
}

// Reset rebuilds the board wholesale from a fresh fetch, discarding pending
// persistence state. In-flight writes finish but their outcomes are ignored.
func (r *Reconciler) Reset(tasks []domain.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.board = New(tasks)
	r.inflight = make(map[string]*taskSync)
}

// Columns returns the board's columns in display order.
func (r *Reconciler) Columns() []Column {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.board.Columns()
}

// Task returns the task with the given id.
func (r *Reconciler) Task(id string) (domain.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.board.Task(id)
}

// Pending reports whether the given task has an unconfirmed status write.
func (r *Reconciler) Pending(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inflight[id]
	return ok
}

// Close stops accepting moves and waits for in-flight writes to settle.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.wg.Wait()
}
