package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskmaster/domain"
)

// ErrInvalid marks a rejected create or patch request.
var ErrInvalid = errors.New("invalid task")

// Backend is a persisted task collection. Implementations return
// domain.ErrNotFound for unknown ids.
type Backend interface {
	ListTasks(ctx context.Context) ([]domain.Task, error)
	GetTask(ctx context.Context, id string) (domain.Task, error)
	InsertTask(ctx context.Context, t domain.Task) error
	UpdateTask(ctx context.Context, id string, patch domain.TaskPatch, now time.Time) error
	DeleteTask(ctx context.Context, id string) error
}

// Options selects and configures a backend.
type Options struct {
	Driver           string
	ConnectionString string
	TasksTable       string
	BoardID          string
	SQLitePath       string
	PostgresURL      string
}

// Open creates the backend named by opts.Driver. The returned close function
// releases its connections.
func Open(ctx context.Context, opts Options) (Backend, func() error, error) {
	switch strings.ToLower(opts.Driver) {
	case "table", "aztables", "azure":
		if opts.ConnectionString == "" || opts.TasksTable == "" {
			return nil, nil, fmt.Errorf("missing storage config")
		}
		st, err := NewTableStore(opts.ConnectionString, opts.TasksTable, opts.BoardID)
		if err != nil {
			return nil, nil, err
		}
		return st, func() error { return nil }, nil
	case "sqlite", "":
		st, err := NewSQLiteStore(opts.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	case "postgres", "pg":
		st, err := NewPostgresStore(ctx, opts.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		return st, func() error { st.Close(); return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver: %s", opts.Driver)
	}
}

// TaskService enforces task invariants on top of a Backend.
type TaskService struct {
	backend Backend
	now     func() time.Time
	newID   func() string
}

// NewTaskService creates a TaskService over b.
func NewTaskService(b Backend) *TaskService {
	return &TaskService{
		backend: b,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// List returns every task, newest first.
func (s *TaskService) List(ctx context.Context) ([]domain.Task, error) {
	tasks, err := s.backend.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(tasks)
	return tasks, nil
}

func (s *TaskService) Get(ctx context.Context, id string) (domain.Task, error) {
	return s.backend.GetTask(ctx, id)
}

// Create assigns an id and timestamps. Any id supplied by the caller is ignored.
func (s *TaskService) Create(ctx context.Context, t domain.Task) (domain.Task, error) {
	t.ID = s.newID()
	t.Title = strings.TrimSpace(t.Title)
	if t.Priority == "" {
		t.Priority = domain.PriorityMedium
	}
	if strings.TrimSpace(t.Category) == "" {
		t.Category = domain.DefaultCategory
	}
	if t.DueDate != nil {
		if *t.DueDate == "" {
			t.DueDate = nil
		} else if d, ok := domain.ParseDueDate(*t.DueDate); ok {
			t.DueDate = &d
		}
	}
	if err := t.Validate(); err != nil {
		return domain.Task{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	now := s.now()
	t.CreatedAt = now
	t.UpdatedAt = now
	if err := s.backend.InsertTask(ctx, t); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// Update merges patch into the task with the given id.
func (s *TaskService) Update(ctx context.Context, id string, patch domain.TaskPatch) error {
	if patch.IsEmpty() {
		return fmt.Errorf("%w: no fields to update", ErrInvalid)
	}
	if err := patch.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return s.backend.UpdateTask(ctx, id, patch, s.now())
}

func (s *TaskService) Delete(ctx context.Context, id string) error {
	return s.backend.DeleteTask(ctx, id)
}

// UpdateMany applies patch to each listed id and returns how many tasks were
// modified. Unknown ids are skipped.
func (s *TaskService) UpdateMany(ctx context.Context, ids []string, patch domain.TaskPatch) (int, error) {
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: no task ids", ErrInvalid)
	}
	if patch.IsEmpty() {
		return 0, fmt.Errorf("%w: no fields to update", ErrInvalid)
	}
	if err := patch.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	now := s.now()
	modified := 0
	for _, id := range ids {
		if err := s.backend.UpdateTask(ctx, id, patch, now); err != nil {
			if domain.IsNotFound(err) {
				continue
			}
			return modified, err
		}
		modified++
	}
	return modified, nil
}

// UpdateAll applies patch to every task on the board.
func (s *TaskService) UpdateAll(ctx context.Context, patch domain.TaskPatch) (int, error) {
	tasks, err := s.backend.ListTasks(ctx)
	if err != nil {
		return 0, err
	}
	if len(tasks) == 0 {
		return 0, nil
	}
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return s.UpdateMany(ctx, ids, patch)
}

func sortNewestFirst(tasks []domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}

// mergeTask returns cur with patch applied and UpdatedAt bumped.
func mergeTask(cur domain.Task, patch domain.TaskPatch, now time.Time) domain.Task {
	patch.Apply(&cur)
	cur.UpdatedAt = now
	return cur
}
