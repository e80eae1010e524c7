package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
)

func ptrString(s string) *string { return &s }

func TestTaskMarshalOmitsAbsentDueDate(t *testing.T) {
	task := Task{ID: "t1", Title: "Title", Status: StatusPending, Priority: PriorityMedium, Category: DefaultCategory}

	payload, err := sonic.Marshal(task)
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}
	if strings.Contains(string(payload), "dueDate") {
		t.Fatalf("expected dueDate to be omitted, got %s", payload)
	}
	if !strings.Contains(string(payload), `"status":"pending"`) {
		t.Fatalf("expected status field, got %s", payload)
	}
}

func TestParseStatus(t *testing.T) {
	cases := map[string]Status{
		"done":        StatusCompleted,
		"Completed":   StatusCompleted,
		"in_progress": StatusInProgress,
		"In Progress": StatusInProgress,
		"in-progress": StatusInProgress,
		"todo":        StatusPending,
		" pending ":   StatusPending,
	}
	for raw, want := range cases {
		got, ok := ParseStatus(raw)
		if !ok || got != want {
			t.Fatalf("ParseStatus(%q) = %q, %v; want %q", raw, got, ok, want)
		}
	}
	if _, ok := ParseStatus("archived"); ok {
		t.Fatalf("expected unknown status to be rejected")
	}
}

func TestParseDueDate(t *testing.T) {
	if d, ok := ParseDueDate("2026-10-17"); !ok || d != "2026-10-17" {
		t.Fatalf("unexpected date: %q %v", d, ok)
	}
	if d, ok := ParseDueDate("2026-10-17T09:30:00Z"); !ok || d != "2026-10-17" {
		t.Fatalf("expected timestamp to be truncated, got %q %v", d, ok)
	}
	for _, raw := range []string{"", "tomorrow", "17/10/2026"} {
		if _, ok := ParseDueDate(raw); ok {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}

func TestTaskPatchApplyLeavesUnspecifiedFields(t *testing.T) {
	due := "2026-11-01"
	task := Task{
		ID:          "t1",
		Title:       "Buy milk",
		Description: "2 litres",
		Status:      StatusPending,
		Priority:    PriorityHigh,
		Category:    "Home",
		DueDate:     &due,
		Links:       []string{"https://example.com"},
	}

	changed := TaskPatch{Title: ptrString("X")}.Apply(&task)
	if !changed {
		t.Fatalf("expected change")
	}
	if task.Title != "X" {
		t.Fatalf("title not applied: %q", task.Title)
	}
	if task.Description != "2 litres" || task.Status != StatusPending || task.Priority != PriorityHigh ||
		task.Category != "Home" || task.DueDate == nil || *task.DueDate != due || len(task.Links) != 1 {
		t.Fatalf("unspecified fields changed: %#v", task)
	}

	if (TaskPatch{Title: ptrString("X")}).Apply(&task) {
		t.Fatalf("expected identical patch to report no change")
	}
}

func TestTaskValidateRequiresStatus(t *testing.T) {
	if err := (Task{Title: "t"}).Validate(); err == nil {
		t.Fatalf("expected missing status to fail")
	}
	if err := (Task{Title: " ", Status: StatusPending}).Validate(); err == nil {
		t.Fatalf("expected blank title to fail")
	}
	if err := (Task{Title: "t", Status: StatusCompleted, Priority: PriorityLow}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStoreErrorNotFound(t *testing.T) {
	err := fmt.Errorf("dispatch: %w", &StoreError{Op: "delete", ID: "t1", StatusCode: http.StatusNotFound})
	if !IsNotFound(err) {
		t.Fatalf("expected 404 store error to match ErrNotFound")
	}
	other := &StoreError{Op: "patch", ID: "t1", StatusCode: http.StatusInternalServerError, Err: errors.New("boom")}
	if IsNotFound(other) {
		t.Fatalf("500 must not match ErrNotFound")
	}
}
