// Package client is the typed HTTP façade over the task store API.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"taskmaster/domain"
)

const maxErrorBody = 4 << 10

// TaskStore wraps http.Client with typed task store calls. Every failure is a
// *domain.StoreError; a 404 matches domain.ErrNotFound.
type TaskStore struct {
	BaseURL string
	Bearer  string
	HTTP    *http.Client
}

// New creates a TaskStore for baseURL. A zero timeout leaves requests bound
// only by their context.
func New(baseURL, bearer string, timeout time.Duration) *TaskStore {
	return &TaskStore{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Bearer:  bearer,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// NewTask is the create request body. The store assigns the id.
type NewTask struct {
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Status      domain.Status   `json:"status"`
	Priority    domain.Priority `json:"priority,omitempty"`
	Category    string          `json:"category,omitempty"`
	DueDate     *string         `json:"dueDate,omitempty"`
	Links       []string        `json:"links,omitempty"`
	CoverImage  string          `json:"coverImage,omitempty"`
}

type bulkRequest struct {
	IDs    []string         `json:"ids"`
	Update domain.TaskPatch `json:"update"`
}

type modifiedResponse struct {
	ModifiedCount int `json:"modifiedCount"`
}

// List returns every task, newest first.
func (c *TaskStore) List(ctx context.Context) ([]domain.Task, error) {
	var tasks []domain.Task
	if err := c.do(ctx, "list", "", http.MethodGet, "/api/tasks", nil, &tasks); err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return tasks, nil
}

func (c *TaskStore) Get(ctx context.Context, id string) (domain.Task, error) {
	var t domain.Task
	if err := c.do(ctx, "get", id, http.MethodGet, taskPath(id), nil, &t); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// Create stores t and returns it with its assigned id.
func (c *TaskStore) Create(ctx context.Context, t NewTask) (domain.Task, error) {
	var created domain.Task
	if err := c.do(ctx, "create", "", http.MethodPost, "/api/tasks", t, &created); err != nil {
		return domain.Task{}, err
	}
	return created, nil
}

// Patch merges the set fields of patch into the task.
func (c *TaskStore) Patch(ctx context.Context, id string, patch domain.TaskPatch) error {
	return c.do(ctx, "patch", id, http.MethodPatch, taskPath(id), patch, nil)
}

func (c *TaskStore) Delete(ctx context.Context, id string) error {
	return c.do(ctx, "delete", id, http.MethodDelete, taskPath(id), nil, nil)
}

// BulkPatch applies patch to every id in one request and returns how many
// tasks the store modified.
func (c *TaskStore) BulkPatch(ctx context.Context, ids []string, patch domain.TaskPatch) (int, error) {
	var out modifiedResponse
	if err := c.do(ctx, "bulk-patch", "", http.MethodPatch, "/api/tasks/bulk", bulkRequest{IDs: ids, Update: patch}, &out); err != nil {
		return 0, err
	}
	return out.ModifiedCount, nil
}

func taskPath(id string) string {
	return "/api/tasks/" + url.PathEscape(id)
}

func (c *TaskStore) do(ctx context.Context, op, id, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := sonic.Marshal(body)
		if err != nil {
			return &domain.StoreError{Op: op, ID: id, Err: err}
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return &domain.StoreError{Op: op, ID: id, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &domain.StoreError{Op: op, ID: id, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &domain.StoreError{
			Op:         op,
			ID:         id,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.StoreError{Op: op, ID: id, StatusCode: resp.StatusCode, Err: err}
	}
	if err := sonic.Unmarshal(raw, out); err != nil {
		return &domain.StoreError{Op: op, ID: id, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
