package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"taskmaster/domain"
)

func newTestService(t *testing.T) (*TaskService, *SQLiteStore) {
	t.Helper()
	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return NewTaskService(st), st
}

func ptrString(s string) *string { return &s }

func TestTaskServiceCRUD(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	due := "2026-10-17"
	created, err := svc.Create(ctx, domain.Task{ID: "client-id", Title: "  Buy milk ", Status: domain.StatusPending, DueDate: &due, Links: []string{"https://a"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" || created.ID == "client-id" {
		t.Fatalf("expected store-assigned id, got %q", created.ID)
	}
	if created.Title != "Buy milk" || created.Priority != domain.PriorityMedium || created.Category != domain.DefaultCategory {
		t.Fatalf("unexpected defaults: %#v", created)
	}

	got, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DueDate == nil || *got.DueDate != due || len(got.Links) != 1 || got.Links[0] != "https://a" {
		t.Fatalf("unexpected stored task: %#v", got)
	}

	if err := svc.Update(ctx, created.ID, domain.TaskPatch{Title: ptrString("X")}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err = svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.Title != "X" || got.Status != domain.StatusPending || got.DueDate == nil || *got.DueDate != due {
		t.Fatalf("partial update touched other fields: %#v", got)
	}
	if !got.UpdatedAt.After(created.UpdatedAt) && !got.UpdatedAt.Equal(created.UpdatedAt) {
		t.Fatalf("updatedAt went backwards")
	}

	if err := svc.Delete(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.Delete(ctx, created.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if _, err := svc.Get(ctx, created.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTaskServiceCreateRejectsInvalid(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := map[string]domain.Task{
		"no_title":    {Status: domain.StatusPending},
		"no_status":   {Title: "t"},
		"bad_status":  {Title: "t", Status: "archived"},
		"bad_due":     {Title: "t", Status: domain.StatusPending, DueDate: ptrString("tomorrow")},
		"bad_priorty": {Title: "t", Status: domain.StatusPending, Priority: "urgent"},
	}
	for name, task := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.Create(ctx, task); !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestTaskServiceCreateDropsEmptyDueDate(t *testing.T) {
	svc, _ := newTestService(t)
	created, err := svc.Create(context.Background(), domain.Task{Title: "t", Status: domain.StatusPending, DueDate: ptrString("")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.DueDate != nil {
		t.Fatalf("expected empty due date to be stored as absent, got %q", *created.DueDate)
	}
}

func TestTaskServiceUpdateUnknownID(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.Update(context.Background(), "missing", domain.StatusPatch(domain.StatusCompleted))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := svc.Update(context.Background(), "missing", domain.TaskPatch{}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected empty patch to be invalid, got %v", err)
	}
}

func TestTaskServiceListNewestFirst(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	first, _ := svc.Create(ctx, domain.Task{Title: "first", Status: domain.StatusPending})
	second, _ := svc.Create(ctx, domain.Task{Title: "second", Status: domain.StatusCompleted})

	tasks, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 2 || tasks[0].ID != second.ID || tasks[1].ID != first.ID {
		t.Fatalf("unexpected order: %#v", tasks)
	}
}

func TestTaskServiceUpdateManyAndAll(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a, _ := svc.Create(ctx, domain.Task{Title: "a", Status: domain.StatusPending})
	b, _ := svc.Create(ctx, domain.Task{Title: "b", Status: domain.StatusPending})
	c, _ := svc.Create(ctx, domain.Task{Title: "c", Status: domain.StatusPending})

	high := domain.PriorityHigh
	n, err := svc.UpdateMany(ctx, []string{a.ID, "missing", b.ID}, domain.TaskPatch{Priority: &high})
	if err != nil {
		t.Fatalf("update many: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 modified, got %d", n)
	}
	got, _ := svc.Get(ctx, c.ID)
	if got.Priority != domain.PriorityMedium {
		t.Fatalf("task outside the id set was modified: %#v", got)
	}

	if _, err := svc.UpdateMany(ctx, nil, domain.TaskPatch{Priority: &high}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected empty id list to be rejected, got %v", err)
	}

	low := domain.PriorityLow
	n, err = svc.UpdateAll(ctx, domain.TaskPatch{Priority: &low})
	if err != nil {
		t.Fatalf("update all: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 modified, got %d", n)
	}
}
