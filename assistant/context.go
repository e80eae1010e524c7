package assistant

import (
	"context"
	"fmt"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	"taskmaster/domain"
)

const (
	DefaultMaxTasks      = 200
	DefaultMaxTitleRunes = 120

	emptyBoardContext = "The board has no tasks."
)

// TaskLister fetches the current task collection.
type TaskLister interface {
	List(ctx context.Context) ([]domain.Task, error)
}

// ContextBuilder renders the board as the task list the model sees.
type ContextBuilder struct {
	store  TaskLister
	logger *log.Logger

	MaxTasks      int
	MaxTitleRunes int
}

// NewContextBuilder creates a ContextBuilder with default limits.
func NewContextBuilder(store TaskLister, logger *log.Logger) *ContextBuilder {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &ContextBuilder{
		store:         store,
		logger:        logger,
		MaxTasks:      DefaultMaxTasks,
		MaxTitleRunes: DefaultMaxTitleRunes,
	}
}

// Build fetches the tasks and renders them. When the store is unavailable the
// board is presented to the model as empty.
func (b *ContextBuilder) Build(ctx context.Context) string {
	tasks, err := b.store.List(ctx)
	if err != nil {
		b.logger.WithError(err).Warn("list tasks for model context")
		return emptyBoardContext
	}
	return RenderContext(tasks, b.MaxTasks, b.MaxTitleRunes)
}

// RenderContext formats one line per task:
//
//	- <title> | ID: <id> | Status: <status> | Priority: <priority> | Due: <date>
//
// The output depends only on the task values, not on their input order.
func RenderContext(tasks []domain.Task, maxTasks, maxTitleRunes int) string {
	if len(tasks) == 0 {
		return emptyBoardContext
	}
	if maxTasks <= 0 {
		maxTasks = DefaultMaxTasks
	}
	if maxTitleRunes <= 0 {
		maxTitleRunes = DefaultMaxTitleRunes
	}

	ordered := append([]domain.Task(nil), tasks...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.After(ordered[j].CreatedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	shown := ordered
	if len(shown) > maxTasks {
		shown = shown[:maxTasks]
	}

	var sb strings.Builder
	for i, t := range shown {
		if i > 0 {
			sb.WriteByte('\n')
		}
		priority := t.Priority
		if priority == "" {
			priority = domain.PriorityMedium
		}
		fmt.Fprintf(&sb, "- %s | ID: %s | Status: %s | Priority: %s",
			contextTitle(t.Title, maxTitleRunes), t.ID, t.Status, priority)
		if t.DueDate != nil && *t.DueDate != "" {
			sb.WriteString(" | Due: ")
			sb.WriteString(*t.DueDate)
		}
	}
	if rest := len(ordered) - len(shown); rest > 0 {
		fmt.Fprintf(&sb, "\n... and %d more tasks", rest)
	}
	return sb.String()
}

func contextTitle(title string, maxRunes int) string {
	title = strings.Join(strings.Fields(title), " ")
	runes := []rune(title)
	if len(runes) <= maxRunes {
		return title
	}
	return string(runes[:maxRunes]) + "…"
}
