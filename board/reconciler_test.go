package board

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"taskmaster/domain"
)

type fakeStore struct {
	mu       sync.Mutex
	tasks    map[string]domain.Task
	patchErr map[string]error
	// patchGate, when set, blocks Patch until it is closed.
	patchGate chan struct{}
	// listGate, when set, blocks List after the snapshot is taken.
	listGate chan struct{}
	patches  int
	lists    int
}

func newFakeStore(tasks ...domain.Task) *fakeStore {
	f := &fakeStore{tasks: map[string]domain.Task{}, patchErr: map[string]error{}}
	for _, t := range tasks {
		f.tasks[t.ID] = t
	}
	return f
}

func (f *fakeStore) List(ctx context.Context) ([]domain.Task, error) {
	f.mu.Lock()
	f.lists++
	out := make([]domain.Task, 0, len(f.tasks))
	for _, t := range f.tasks {
		out = append(out, t)
	}
	gate := f.listGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return out, nil
}

func (f *fakeStore) Patch(ctx context.Context, id string, patch domain.TaskPatch) error {
	f.mu.Lock()
	gate := f.patchGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches++
	if err := f.patchErr[id]; err != nil {
		return err
	}
	t, ok := f.tasks[id]
	if !ok {
		return &domain.StoreError{Op: "patch", ID: id, StatusCode: 404}
	}
	patch.Apply(&t)
	f.tasks[id] = t
	return nil
}

var base = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

func task(id string, status domain.Status, age time.Duration) domain.Task {
	return domain.Task{ID: id, Title: "task " + id, Status: status, Priority: domain.PriorityMedium, Category: "General", CreatedAt: base.Add(-age)}
}

func columnIDs(v View) map[domain.Status][]string {
	out := map[domain.Status][]string{}
	for _, c := range v.Columns {
		ids := []string{}
		for _, t := range c.Tasks {
			ids = append(ids, t.ID)
		}
		out[c.Status] = ids
	}
	return out
}

func newSyncedReconciler(t *testing.T, store *fakeStore) *Reconciler {
	t.Helper()
	r := NewReconciler(store, nil)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	return r
}

func TestViewOrdersColumnsNewestFirst(t *testing.T) {
	store := newFakeStore(
		task("a", domain.StatusPending, 3*time.Hour),
		task("b", domain.StatusPending, time.Hour),
		task("c", domain.StatusCompleted, 2*time.Hour),
		task("d", domain.StatusPending, time.Hour),
	)
	r := newSyncedReconciler(t, store)

	want := map[domain.Status][]string{
		domain.StatusPending:    {"b", "d", "a"},
		domain.StatusInProgress: {},
		domain.StatusCompleted:  {"c"},
	}
	v := r.View()
	if diff := cmp.Diff(want, columnIDs(v)); diff != "" {
		t.Fatalf("columns mismatch (-want +got):\n%s", diff)
	}
	if v.Columns[0].Status != domain.StatusPending || v.Columns[2].Status != domain.StatusCompleted {
		t.Fatalf("unexpected column order: %#v", v.Columns)
	}
}

func TestMoveIsOptimisticThenSynced(t *testing.T) {
	store := newFakeStore(task("a", domain.StatusPending, time.Hour))
	r := newSyncedReconciler(t, store)

	gate := make(chan struct{})
	store.patchGate = gate
	updates, cancel := r.Subscribe()
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- r.Move(context.Background(), "a", domain.StatusCompleted) }()

	select {
	case <-updates:
	case <-time.After(time.Second):
		t.Fatal("no notification for optimistic move")
	}
	if got, _ := r.View().Find("a"); got.Status != domain.StatusCompleted {
		t.Fatalf("expected optimistic status completed, got %s", got.Status)
	}
	if s := r.State("a"); s != OptimisticallyMoved {
		t.Fatalf("expected OptimisticallyMoved, got %s", s)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("move: %v", err)
	}
	if s := r.State("a"); s != Synced {
		t.Fatalf("expected Synced after confirmation, got %s", s)
	}
	if got, _ := r.View().Find("a"); got.Status != domain.StatusCompleted {
		t.Fatalf("expected confirmed status completed, got %s", got.Status)
	}
}

func TestMoveFailureRollsBackAndRefetches(t *testing.T) {
	store := newFakeStore(task("a", domain.StatusPending, time.Hour))
	r := newSyncedReconciler(t, store)
	store.patchErr["a"] = &domain.StoreError{Op: "patch", ID: "a", StatusCode: 500}
	listsBefore := store.lists

	err := r.Move(context.Background(), "a", domain.StatusInProgress)
	var storeErr *domain.StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected store error, got %v", err)
	}
	if s := r.State("a"); s != RolledBack {
		t.Fatalf("expected RolledBack, got %s", s)
	}
	if got, _ := r.View().Find("a"); got.Status != domain.StatusPending {
		t.Fatalf("expected store status pending after rollback, got %s", got.Status)
	}
	if store.lists != listsBefore+1 {
		t.Fatalf("expected one refetch, got %d", store.lists-listsBefore)
	}
}

func TestMoveUnknownTask(t *testing.T) {
	r := newSyncedReconciler(t, newFakeStore())
	if err := r.Move(context.Background(), "missing", domain.StatusCompleted); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := r.Move(context.Background(), "missing", "archived"); err == nil {
		t.Fatalf("expected invalid status error")
	}
}

func TestConcurrentMovesOnSameTask(t *testing.T) {
	store := newFakeStore(task("a", domain.StatusPending, time.Hour))
	r := newSyncedReconciler(t, store)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Move(context.Background(), "a", domain.Statuses[i%len(domain.Statuses)])
		}()
	}
	wg.Wait()

	if s := r.State("a"); s != Synced {
		t.Fatalf("expected Synced once every move settled, got %s", s)
	}
	got, ok := r.View().Find("a")
	if !ok || !got.Status.Valid() {
		t.Fatalf("task lost or invalid after concurrent moves: %#v", got)
	}
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	after, _ := r.View().Find("a")
	if after.Status != store.tasks["a"].Status {
		t.Fatalf("refresh disagrees with store: %s vs %s", after.Status, store.tasks["a"].Status)
	}
}

func TestRefreshKeepsInFlightMove(t *testing.T) {
	store := newFakeStore(task("a", domain.StatusPending, time.Hour))
	r := newSyncedReconciler(t, store)

	gate := make(chan struct{})
	store.patchGate = gate
	done := make(chan error, 1)
	go func() { done <- r.Move(context.Background(), "a", domain.StatusCompleted) }()

	deadline := time.Now().Add(time.Second)
	for r.State("a") != OptimisticallyMoved {
		if time.Now().After(deadline) {
			t.Fatal("move never became optimistic")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got, _ := r.View().Find("a"); got.Status != domain.StatusCompleted {
		t.Fatalf("refresh dropped in-flight move: %s", got.Status)
	}
	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("move: %v", err)
	}
}

func TestConfirmedWriteWinsOverStaleRefresh(t *testing.T) {
	store := newFakeStore(task("a", domain.StatusPending, time.Hour))
	r := newSyncedReconciler(t, store)

	gate := make(chan struct{})
	store.listGate = gate
	done := make(chan error, 1)
	go func() { done <- r.Refresh(context.Background()) }()

	deadline := time.Now().Add(time.Second)
	for {
		store.mu.Lock()
		n := store.lists
		store.mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("refresh never reached the store")
		}
		time.Sleep(5 * time.Millisecond)
	}

	intent := domain.UpdateStatus{ID: "a", Status: domain.StatusCompleted}
	r.ApplyOutcome(intent, domain.Outcome{Success: true, Affected: []string{"a"}})
	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got, _ := r.View().Find("a"); got.Status != domain.StatusCompleted {
		t.Fatalf("stale refresh overrode confirmed write: %s", got.Status)
	}
}

func TestApplyOutcomeBulkOnlyTouchesSucceededIDs(t *testing.T) {
	store := newFakeStore(
		task("a", domain.StatusPending, time.Hour),
		task("b", domain.StatusPending, 2*time.Hour),
		task("c", domain.StatusPending, 3*time.Hour),
	)
	r := newSyncedReconciler(t, store)

	high := domain.PriorityHigh
	intent := domain.BulkUpdate{IDs: []string{"a", "b", "c"}, Fields: domain.TaskPatch{Priority: &high}}
	r.ApplyOutcome(intent, domain.Outcome{Affected: []string{"a", "c"}, Failed: []string{"b"}})

	v := r.View()
	want := map[string]domain.Priority{"a": domain.PriorityHigh, "b": domain.PriorityMedium, "c": domain.PriorityHigh}
	got := map[string]domain.Priority{}
	for _, id := range []string{"a", "b", "c"} {
		tk, _ := v.Find(id)
		got[id] = tk.Priority
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("priorities mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyOutcomeCreateEditDelete(t *testing.T) {
	store := newFakeStore(task("a", domain.StatusPending, time.Hour))
	r := newSyncedReconciler(t, store)
	rev := r.View().Revision

	created := task("n", domain.StatusPending, 0)
	r.ApplyOutcome(domain.CreateTask{Title: created.Title}, domain.Outcome{Success: true, Affected: []string{"n"}, Created: &created})
	if _, ok := r.View().Find("n"); !ok {
		t.Fatalf("created task missing from board")
	}

	title := "X"
	r.ApplyOutcome(domain.EditTask{ID: "a", Fields: domain.TaskPatch{Title: &title}}, domain.Outcome{Success: true, Affected: []string{"a"}})
	edited, _ := r.View().Find("a")
	before := task("a", domain.StatusPending, time.Hour)
	before.Title = "X"
	if diff := cmp.Diff(before, edited); diff != "" {
		t.Fatalf("edit changed more than the title (-want +got):\n%s", diff)
	}

	for i := 0; i < 2; i++ {
		r.ApplyOutcome(domain.DeleteTask{ID: "a"}, domain.Outcome{Success: true, Affected: []string{"a"}})
	}
	if _, ok := r.View().Find("a"); ok {
		t.Fatalf("deleted task still on board")
	}
	if r.View().Revision <= rev {
		t.Fatalf("revision did not advance")
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	r := NewReconciler(newFakeStore(), nil)
	_, cancel := r.Subscribe()
	if r.broker.count() != 1 {
		t.Fatalf("expected one subscriber")
	}
	cancel()
	if r.broker.count() != 0 {
		t.Fatalf("expected no subscribers after cancel")
	}
}
