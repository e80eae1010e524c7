package api

import (
	"context"

	"taskmaster/assistant"
	"taskmaster/board"
	"taskmaster/domain"
)

// TaskService is the task store behind the /api/tasks routes.
type TaskService interface {
	List(ctx context.Context) ([]domain.Task, error)
	Get(ctx context.Context, id string) (domain.Task, error)
	Create(ctx context.Context, t domain.Task) (domain.Task, error)
	Update(ctx context.Context, id string, patch domain.TaskPatch) error
	Delete(ctx context.Context, id string) error
	UpdateMany(ctx context.Context, ids []string, patch domain.TaskPatch) (int, error)
	UpdateAll(ctx context.Context, patch domain.TaskPatch) (int, error)
}

// Board is the reconciled board the UI renders.
type Board interface {
	View() board.View
	Subscribe() (<-chan struct{}, func())
	Move(ctx context.Context, id string, status domain.Status) error
	Refresh(ctx context.Context) error
}

// Chat runs chat messages through the assistant pipeline.
type Chat interface {
	Chat(ctx context.Context, message string) (assistant.Reply, error)
	Transcript() *assistant.Transcript
}

// Publisher announces committed store writes to other instances.
type Publisher interface {
	Publish(ctx context.Context, eventType string, ids ...string)
}

// Deduper remembers idempotency keys of chat requests.
type Deduper interface {
	// Add records the key and returns true if it was newly added.
	Add(ctx context.Context, scope, key string) (bool, error)
	// Remove deletes a previously added key so the request may be retried.
	Remove(ctx context.Context, scope, key string) error
	// Remember stores the response sent for the key.
	Remember(ctx context.Context, scope, key string, body []byte) error
	// Recall returns the stored response, if any.
	Recall(ctx context.Context, scope, key string) ([]byte, bool, error)
}

// Authenticator verifies bearer tokens and returns the caller's subject.
type Authenticator interface {
	SubjectFromAuthHeader(header string) (string, error)
}
