package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status is the board column a task sits in.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// Statuses lists the board columns in display order.
var Statuses = []Status{StatusPending, StatusInProgress, StatusCompleted}

// Valid reports whether s is one of the known board columns.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// ParseStatus normalizes loosely written status values such as "done",
// "In Progress" or "in_progress".
func ParseStatus(raw string) (Status, bool) {
	v := strings.ToLower(strings.TrimSpace(raw))
	v = strings.NewReplacer("_", "-", " ", "-").Replace(v)
	switch v {
	case "pending", "todo", "to-do", "open":
		return StatusPending, true
	case "in-progress", "inprogress", "doing", "started":
		return StatusInProgress, true
	case "completed", "complete", "done", "finished":
		return StatusCompleted, true
	}
	return "", false
}

// Priority ranks a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// ParsePriority accepts priorities in any letter case.
func ParsePriority(raw string) (Priority, bool) {
	p := Priority(strings.ToLower(strings.TrimSpace(raw)))
	return p, p.Valid()
}

// DefaultCategory is assigned to tasks created without a category.
const DefaultCategory = "General"

const dueDateLayout = "2006-01-02"

// ParseDueDate returns the YYYY-MM-DD form of raw. Full RFC 3339 timestamps
// are truncated to their date.
func ParseDueDate(raw string) (string, bool) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "", false
	}
	if _, err := time.Parse(dueDateLayout, v); err == nil {
		return v, true
	}
	if ts, err := time.Parse(time.RFC3339, v); err == nil {
		return ts.Format(dueDateLayout), true
	}
	return "", false
}

// Task represents a single board card.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	Priority    Priority  `json:"priority"`
	Category    string    `json:"category"`
	DueDate     *string   `json:"dueDate,omitempty"`
	Links       []string  `json:"links,omitempty"`
	CoverImage  string    `json:"coverImage,omitempty"`
	AISummary   string    `json:"aiSummary,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Validate checks the invariants a stored task must satisfy.
func (t Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if t.Status == "" {
		return fmt.Errorf("status is required")
	}
	if !t.Status.Valid() {
		return fmt.Errorf("invalid status %q", t.Status)
	}
	if t.Priority != "" && !t.Priority.Valid() {
		return fmt.Errorf("invalid priority %q", t.Priority)
	}
	if t.DueDate != nil {
		if _, ok := ParseDueDate(*t.DueDate); !ok {
			return fmt.Errorf("invalid dueDate %q", *t.DueDate)
		}
	}
	return nil
}

// TaskPatch carries a partial task. Nil fields are left untouched.
type TaskPatch struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Status      *Status   `json:"status,omitempty"`
	Priority    *Priority `json:"priority,omitempty"`
	Category    *string   `json:"category,omitempty"`
	DueDate     *string   `json:"dueDate,omitempty"`
	Links       *[]string `json:"links,omitempty"`
	CoverImage  *string   `json:"coverImage,omitempty"`
	AISummary   *string   `json:"aiSummary,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p TaskPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil && p.Priority == nil &&
		p.Category == nil && p.DueDate == nil && p.Links == nil && p.CoverImage == nil && p.AISummary == nil
}

// Validate rejects patches that would break a task invariant.
func (p TaskPatch) Validate() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return fmt.Errorf("title must not be empty")
	}
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("invalid status %q", *p.Status)
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return fmt.Errorf("invalid priority %q", *p.Priority)
	}
	if p.DueDate != nil {
		if _, ok := ParseDueDate(*p.DueDate); !ok {
			return fmt.Errorf("invalid dueDate %q", *p.DueDate)
		}
	}
	return nil
}

// Apply merges the patch into t and reports whether any field changed.
func (p TaskPatch) Apply(t *Task) bool {
	changed := false
	if p.Title != nil && t.Title != *p.Title {
		t.Title = *p.Title
		changed = true
	}
	if p.Description != nil && t.Description != *p.Description {
		t.Description = *p.Description
		changed = true
	}
	if p.Status != nil && t.Status != *p.Status {
		t.Status = *p.Status
		changed = true
	}
	if p.Priority != nil && t.Priority != *p.Priority {
		t.Priority = *p.Priority
		changed = true
	}
	if p.Category != nil && t.Category != *p.Category {
		t.Category = *p.Category
		changed = true
	}
	if p.DueDate != nil && (t.DueDate == nil || *t.DueDate != *p.DueDate) {
		d := *p.DueDate
		t.DueDate = &d
		changed = true
	}
	if p.Links != nil {
		t.Links = append([]string(nil), (*p.Links)...)
		changed = true
	}
	if p.CoverImage != nil && t.CoverImage != *p.CoverImage {
		t.CoverImage = *p.CoverImage
		changed = true
	}
	if p.AISummary != nil && t.AISummary != *p.AISummary {
		t.AISummary = *p.AISummary
		changed = true
	}
	return changed
}

// StatusPatch builds a patch that only moves a task to another column.
func StatusPatch(s Status) TaskPatch {
	return TaskPatch{Status: &s}
}
