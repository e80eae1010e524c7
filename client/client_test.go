package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"

	"taskmaster/domain"
)

func TestCreateSendsBodyAndDecodesTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/tasks" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected auth header %q", got)
		}
		raw, _ := io.ReadAll(r.Body)
		if strings.Contains(string(raw), "dueDate") {
			t.Errorf("absent due date must be omitted: %s", raw)
		}
		var in NewTask
		if err := sonic.Unmarshal(raw, &in); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		out, _ := sonic.Marshal(domain.Task{ID: "new-id", Title: in.Title, Status: in.Status, Priority: in.Priority})
		_, _ = w.Write(out)
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "tok", 0)
	created, err := c.Create(context.Background(), NewTask{Title: "Buy milk", Status: domain.StatusPending, Priority: domain.PriorityMedium})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID != "new-id" || created.Status != domain.StatusPending {
		t.Fatalf("unexpected task: %#v", created)
	}
}

func TestPatchNotFoundIsStoreError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/api/tasks/missing" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"task not found"}`))
	}))
	defer srv.Close()

	err := New(srv.URL, "", 0).Patch(context.Background(), "missing", domain.StatusPatch(domain.StatusCompleted))
	var storeErr *domain.StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected StoreError, got %T %v", err, err)
	}
	if storeErr.StatusCode != http.StatusNotFound || storeErr.Op != "patch" || storeErr.ID != "missing" {
		t.Fatalf("unexpected store error: %#v", storeErr)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected 404 to match ErrNotFound")
	}
}

func TestServerErrorKeepsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	err := New(srv.URL, "", 0).Delete(context.Background(), "t1")
	var storeErr *domain.StoreError
	if !errors.As(err, &storeErr) || storeErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 StoreError, got %v", err)
	}
	if storeErr.Body != `{"error":"boom"}` {
		t.Fatalf("unexpected body %q", storeErr.Body)
	}
	if errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("500 must not match ErrNotFound")
	}
}

func TestTransportErrorIsStoreError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	_, err := New(addr, "", 0).List(context.Background())
	var storeErr *domain.StoreError
	if !errors.As(err, &storeErr) || storeErr.StatusCode != 0 || storeErr.Err == nil {
		t.Fatalf("expected transport StoreError, got %v", err)
	}
}

func TestListAndBulkPatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/tasks":
			_, _ = w.Write([]byte(`null`))
		case r.Method == http.MethodPatch && r.URL.Path == "/api/tasks/bulk":
			var req struct {
				IDs    []string         `json:"ids"`
				Update domain.TaskPatch `json:"update"`
			}
			raw, _ := io.ReadAll(r.Body)
			if err := sonic.Unmarshal(raw, &req); err != nil {
				t.Errorf("decode bulk: %v", err)
			}
			if len(req.IDs) != 2 || req.Update.Priority == nil || *req.Update.Priority != domain.PriorityHigh {
				t.Errorf("unexpected bulk body: %s", raw)
			}
			_, _ = w.Write([]byte(`{"modifiedCount":2}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusTeapot)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "", 0)
	tasks, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if tasks == nil || len(tasks) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", tasks)
	}

	high := domain.PriorityHigh
	n, err := c.BulkPatch(context.Background(), []string{"a", "b"}, domain.TaskPatch{Priority: &high})
	if err != nil {
		t.Fatalf("bulk patch: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 modified, got %d", n)
	}
}
