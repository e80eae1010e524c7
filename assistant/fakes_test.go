package assistant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"taskmaster/client"
	"taskmaster/domain"
)

// fakeStore behaves like the task store behind client.TaskStore: unknown ids
// answer with a 404 StoreError.
type fakeStore struct {
	mu       sync.Mutex
	tasks    map[string]domain.Task
	patchErr map[string]error
	listErr  error
	nextID   int

	creates, patches, deletes, lists int
}

func newFakeStore(tasks ...domain.Task) *fakeStore {
	f := &fakeStore{tasks: map[string]domain.Task{}, patchErr: map[string]error{}}
	for _, t := range tasks {
		f.tasks[t.ID] = t
	}
	return f
}

func (f *fakeStore) mutations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates + f.patches + f.deletes
}

func (f *fakeStore) List(ctx context.Context) ([]domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]domain.Task, 0, len(f.tasks))
	for _, t := range f.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeStore) Get(ctx context.Context, id string) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return domain.Task{}, &domain.StoreError{Op: "get", ID: id, StatusCode: 404}
	}
	return t, nil
}

func (f *fakeStore) Create(ctx context.Context, in client.NewTask) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	f.nextID++
	t := domain.Task{
		ID:          fmt.Sprintf("new-%d", f.nextID),
		Title:       in.Title,
		Description: in.Description,
		Status:      in.Status,
		Priority:    in.Priority,
		Category:    domain.DefaultCategory,
		DueDate:     in.DueDate,
		CreatedAt:   time.Date(2026, 10, 16, 12, 0, f.nextID, 0, time.UTC),
	}
	f.tasks[t.ID] = t
	return t, nil
}

func (f *fakeStore) Patch(ctx context.Context, id string, patch domain.TaskPatch) error {
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

func (f *fakeStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	if _, ok := f.tasks[id]; !ok {
		return &domain.StoreError{Op: "delete", ID: id, StatusCode: 404}
	}
	delete(f.tasks, id)
	return nil
}

// fakeGenerator returns a canned completion and records the requests.
type fakeGenerator struct {
	mu    sync.Mutex
	text  string
	err   error
	reqs  []Request
	check func(Request)
}

func (g *fakeGenerator) Generate(ctx context.Context, req Request) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reqs = append(g.reqs, req)
	if g.check != nil {
		g.check(req)
	}
	return g.text, g.err
}
