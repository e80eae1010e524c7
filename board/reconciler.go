// Package board owns the Board View: the last store snapshot plus the
// optimistic overlay of drag-and-drop moves that are still in flight.
package board

import (
	"context"
	"fmt"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"taskmaster/domain"
)

// State is where a visible task is in the move lifecycle.
type State string

const (
	Synced              State = "synced"
	OptimisticallyMoved State = "optimistically-moved"
	RolledBack          State = "rolled-back"
)

// Store is the subset of the task store client the board needs.
type Store interface {
	List(ctx context.Context) ([]domain.Task, error)
	Patch(ctx context.Context, id string, patch domain.TaskPatch) error
}

// Column is one status lane of the board.
type Column struct {
	Status domain.Status `json:"status"`
	Tasks  []domain.Task `json:"tasks"`
}

// View is a point-in-time copy of the board.
type View struct {
	Revision uint64   `json:"revision"`
	Columns  []Column `json:"columns"`
}

// Column returns the tasks in status s.
func (v View) Column(s domain.Status) []domain.Task {
	for _, c := range v.Columns {
		if c.Status == s {
			return c.Tasks
		}
	}
	return nil
}

// Find returns the task with the given id and whether it is on the board.
func (v View) Find(id string) (domain.Task, bool) {
	for _, c := range v.Columns {
		for _, t := range c.Tasks {
			if t.ID == id {
				return t, true
			}
		}
	}
	return domain.Task{}, false
}

type overlayEntry struct {
	status domain.Status
	seq    uint64
}

// Reconciler merges direct moves and dispatched intents into one Board View.
// The lock is never held across a store call.
type Reconciler struct {
	store  Store
	logger *log.Logger
	broker *broker

	mu        sync.Mutex
	snapshot  map[string]domain.Task
	overlay   map[string]overlayEntry
	states    map[string]State
	confirmed map[string]uint64
	seq       uint64
	revision  uint64
}

// NewReconciler creates a Reconciler with an empty view. Call Refresh to load it.
func NewReconciler(store Store, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Reconciler{
		store:     store,
		logger:    logger,
		broker:    newBroker(),
		snapshot:  make(map[string]domain.Task),
		overlay:   make(map[string]overlayEntry),
		states:    make(map[string]State),
		confirmed: make(map[string]uint64),
	}
}

// Subscribe returns a channel signalled after every board change and a
// function that cancels the subscription.
func (r *Reconciler) Subscribe() (<-chan struct{}, func()) {
	ch := r.broker.subscribe()
	return ch, func() { r.broker.unsubscribe(ch) }
}

// View returns the current board: the snapshot with the overlay applied.
// Columns come in status order, each newest first.
func (r *Reconciler) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()

	byStatus := make(map[domain.Status][]domain.Task, len(domain.Statuses))
	for id, t := range r.snapshot {
		if o, ok := r.overlay[id]; ok {
			t.Status = o.status
		}
		byStatus[t.Status] = append(byStatus[t.Status], t)
	}
	v := View{Revision: r.revision, Columns: make([]Column, 0, len(domain.Statuses))}
	for _, s := range domain.Statuses {
		tasks := byStatus[s]
		if tasks == nil {
			tasks = []domain.Task{}
		}
		sortColumn(tasks)
		v.Columns = append(v.Columns, Column{Status: s, Tasks: tasks})
	}
	return v
}

// State reports the lifecycle state of a task. Tasks never moved are Synced.
func (r *Reconciler) State(id string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.states[id]; ok {
		return s
	}
	return Synced
}

// Move shows the task in the new column at once, then patches the store. A
// failed patch rolls the task back and refetches the board.
func (r *Reconciler) Move(ctx context.Context, id string, status domain.Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}

	r.mu.Lock()
	if _, ok := r.snapshot[id]; !ok {
		r.mu.Unlock()
		return domain.ErrNotFound
	}
	r.seq++
	seq := r.seq
	r.overlay[id] = overlayEntry{status: status, seq: seq}
	r.states[id] = OptimisticallyMoved
	r.revision++
	r.mu.Unlock()
	r.broker.notify()

	if err := r.store.Patch(ctx, id, domain.StatusPatch(status)); err != nil {
		r.mu.Lock()
		if o, ok := r.overlay[id]; ok && o.seq == seq {
			delete(r.overlay, id)
			r.states[id] = RolledBack
			r.revision++
		}
		r.mu.Unlock()
		r.broker.notify()

		r.logger.WithFields(log.Fields{"task_id": id, "status": status}).WithError(err).Warn("move rolled back")
		if rerr := r.Refresh(ctx); rerr != nil {
			r.logger.WithError(rerr).Warn("refresh after rollback")
		}
		return err
	}

	r.mu.Lock()
	r.seq++
	if t, ok := r.snapshot[id]; ok {
		t.Status = status
		r.snapshot[id] = t
	}
	r.confirmed[id] = r.seq
	if o, ok := r.overlay[id]; ok && o.seq == seq {
		delete(r.overlay, id)
		r.states[id] = Synced
	}
	r.revision++
	r.mu.Unlock()
	r.broker.notify()
	return nil
}

// Refresh replaces the snapshot with the store's task list. Writes confirmed
// after the refetch started win over the fetched values, and in-flight moves
// stay in the overlay until the store answers them.
func (r *Reconciler) Refresh(ctx context.Context) error {
	r.mu.Lock()
	r.seq++
	started := r.seq
	r.mu.Unlock()

	tasks, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("refresh board: %w", err)
	}

	r.mu.Lock()
	next := make(map[string]domain.Task, len(tasks))
	for _, t := range tasks {
		if cur, ok := r.snapshot[t.ID]; ok && r.confirmed[t.ID] > started {
			t = cur
		}
		next[t.ID] = t
	}
	// keep tasks this board confirmed after the refetch started
	for id, t := range r.snapshot {
		if _, ok := next[id]; !ok && r.confirmed[id] > started {
			next[id] = t
		}
	}
	for id, o := range r.overlay {
		t, ok := next[id]
		if !ok {
			delete(r.overlay, id)
			delete(r.states, id)
			continue
		}
		if o.seq < started && t.Status == o.status {
			delete(r.overlay, id)
			r.states[id] = Synced
		}
	}
	for id := range r.states {
		if _, ok := next[id]; !ok {
			delete(r.states, id)
		}
	}
	for id := range r.confirmed {
		if _, ok := next[id]; !ok {
			delete(r.confirmed, id)
		}
	}
	r.snapshot = next
	r.revision++
	r.mu.Unlock()
	r.broker.notify()
	return nil
}

// ApplyOutcome folds a dispatched intent into the board once the store has
// answered. Only the ids the store accepted are changed.
func (r *Reconciler) ApplyOutcome(in domain.Intent, out domain.Outcome) {
	r.mu.Lock()
	r.seq++
	now := r.seq
	changed := false

	switch v := in.(type) {
	case domain.CreateTask:
		if out.Created != nil && out.Created.ID != "" {
			r.snapshot[out.Created.ID] = *out.Created
			r.confirmed[out.Created.ID] = now
			changed = true
		}
	case domain.UpdateStatus:
		changed = r.patchAffected(out.Affected, domain.StatusPatch(v.Status), now)
	case domain.EditTask:
		changed = r.patchAffected(out.Affected, v.Fields, now)
	case domain.BulkUpdate:
		changed = r.patchAffected(out.Affected, v.Fields, now)
	case domain.DeleteTask:
		for _, id := range out.Affected {
			delete(r.snapshot, id)
			delete(r.overlay, id)
			delete(r.states, id)
			delete(r.confirmed, id)
			changed = true
		}
	}
	if changed {
		r.revision++
	}
	r.mu.Unlock()
	if changed {
		r.broker.notify()
	}
}

func (r *Reconciler) patchAffected(ids []string, patch domain.TaskPatch, now uint64) bool {
	changed := false
	for _, id := range ids {
		t, ok := r.snapshot[id]
		if !ok {
			continue
		}
		patch.Apply(&t)
		r.snapshot[id] = t
		r.confirmed[id] = now
		changed = true
	}
	return changed
}

func sortColumn(tasks []domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}
