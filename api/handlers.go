// Package api serves the task store routes and the board and chat routes on
// one echo instance.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskmaster/board"
	"taskmaster/domain"
	"taskmaster/storage"
)

const maxBodySize = 1 << 20

// Deps are the collaborators Register wires into the routes. Board and Chat
// may be nil when the instance only serves the task store.
type Deps struct {
	Tasks     TaskService
	Publisher Publisher
	Board     Board
	Chat      Chat
	Deduper   Deduper
	Auth      Authenticator
	// KeepAlive is the SSE comment interval; zero uses 15s.
	KeepAlive time.Duration
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, deps Deps, logger *log.Logger) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if deps.Auth != nil {
		e.Use(requireAuth(deps.Auth))
	}

	if deps.Tasks != nil {
		pub := deps.Publisher
		if pub == nil {
			pub = noopPublisher{}
		}
		e.GET("/api/tasks", listTasks(deps.Tasks, logger))
		e.POST("/api/tasks", createTask(deps.Tasks, pub, logger))
		e.PATCH("/api/tasks/bulk", bulkUpdate(deps.Tasks, pub, logger))
		e.PATCH("/api/tasks/all", updateAll(deps.Tasks, pub, logger))
		e.GET("/api/tasks/:id", getTask(deps.Tasks, logger))
		e.PATCH("/api/tasks/:id", patchTask(deps.Tasks, pub, logger))
		e.DELETE("/api/tasks/:id", deleteTask(deps.Tasks, pub, logger))
	}
	if deps.Board != nil {
		keepAlive := deps.KeepAlive
		if keepAlive <= 0 {
			keepAlive = 15 * time.Second
		}
		e.GET("/api/board", getBoard(deps.Board))
		e.GET("/api/board/stream", streamBoard(deps.Board, keepAlive))
		e.POST("/api/board/move", moveTask(deps.Board, logger))
		e.POST("/api/board/refresh", refreshBoard(deps.Board, logger))
	}
	if deps.Chat != nil {
		e.POST("/api/chat", postChat(deps.Chat, deps.Deduper, logger))
		e.GET("/api/chat/transcript", getTranscript(deps.Chat))
	}
	e.GET("/healthz", healthz())
}

type noopPublisher struct{}

func (noopPublisher) Publish(ctx context.Context, eventType string, ids ...string) {}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type modifiedResponse struct {
	ModifiedCount int `json:"modifiedCount"`
}

func writeError(c echo.Context, status int, msg, detail string) error {
	return c.JSON(status, errorResponse{Error: msg, Detail: detail})
}

// storeStatus maps a task store error to its HTTP status.
func storeStatus(err error) (int, string) {
	switch {
	case errors.Is(err, storage.ErrInvalid):
		return http.StatusBadRequest, "invalid task"
	case domain.IsNotFound(err):
		return http.StatusNotFound, "task not found"
	default:
		return http.StatusInternalServerError, "task store failure"
	}
}

func writeStoreError(c echo.Context, m *requestMetrics, err error) error {
	status, msg := storeStatus(err)
	if status == http.StatusInternalServerError {
		m.SetErrorStage("storage")
		c.Logger().Error(err)
	}
	return writeError(c, status, msg, err.Error())
}

// decodeBody reads a JSON request body into v.
func decodeBody(c echo.Context, v any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	return dec.Decode(v)
}

// instrumented runs h with request metrics bound to the request context.
func instrumented(route string, logger *log.Logger, h func(c echo.Context, m *requestMetrics) error) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := newRequestMetrics(c.Request().Context(), logger, route)
		c.SetRequest(c.Request().WithContext(ctx))
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()
		return h(c, metrics)
	}
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// createRequest is the POST /api/tasks body. Ids sent by the client are
// ignored.
type createRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Status      domain.Status   `json:"status"`
	Priority    domain.Priority `json:"priority"`
	Category    string          `json:"category"`
	DueDate     *string         `json:"dueDate"`
	Links       []string        `json:"links"`
	CoverImage  string          `json:"coverImage"`
	ImageURL    string          `json:"imageUrl"`
	AISummary   string          `json:"aiSummary"`
}

func (r createRequest) task() domain.Task {
	t := domain.Task{
		Title:       r.Title,
		Description: r.Description,
		Status:      r.Status,
		Priority:    r.Priority,
		Category:    r.Category,
		DueDate:     r.DueDate,
		Links:       r.Links,
		CoverImage:  r.CoverImage,
		AISummary:   r.AISummary,
	}
	if t.CoverImage == "" {
		t.CoverImage = r.ImageURL
	}
	if t.Status == "" {
		t.Status = domain.StatusPending
	}
	return t
}

// patchRequest is a partial task. imageUrl is accepted for coverImage.
type patchRequest struct {
	domain.TaskPatch
	ImageURL *string `json:"imageUrl,omitempty"`
}

func (r patchRequest) patch() domain.TaskPatch {
	p := r.TaskPatch
	if p.CoverImage == nil && r.ImageURL != nil {
		p.CoverImage = r.ImageURL
	}
	return p
}

type bulkRequest struct {
	IDs    []string     `json:"ids"`
	Update patchRequest `json:"update"`
}

type updateAllRequest struct {
	Update patchRequest `json:"update"`
}

func listTasks(svc TaskService, logger *log.Logger) echo.HandlerFunc {
	return instrumented("/api/tasks", logger, func(c echo.Context, m *requestMetrics) error {
		start := time.Now()
		tasks, err := svc.List(c.Request().Context())
		m.ObserveStore(time.Since(start))
		if err != nil {
			return writeStoreError(c, m, err)
		}
		if tasks == nil {
			tasks = []domain.Task{}
		}
		m.SetTasksReturned(len(tasks))
		return c.JSON(http.StatusOK, tasks)
	})
}

func getTask(svc TaskService, logger *log.Logger) echo.HandlerFunc {
	return instrumented("/api/tasks/:id", logger, func(c echo.Context, m *requestMetrics) error {
		start := time.Now()
		t, err := svc.Get(c.Request().Context(), c.Param("id"))
		m.ObserveStore(time.Since(start))
		if err != nil {
			return writeStoreError(c, m, err)
		}
		return c.JSON(http.StatusOK, t)
	})
}

func createTask(svc TaskService, pub Publisher, logger *log.Logger) echo.HandlerFunc {
	return instrumented("/api/tasks", logger, func(c echo.Context, m *requestMetrics) error {
		var req createRequest
		if err := decodeBody(c, &req); err != nil {
			m.SetErrorStage("decode")
			return writeError(c, http.StatusBadRequest, "invalid body", err.Error())
		}
		ctx := c.Request().Context()
		start := time.Now()
		created, err := svc.Create(ctx, req.task())
		m.ObserveStore(time.Since(start))
		if err != nil {
			return writeStoreError(c, m, err)
		}
		pub.Publish(ctx, board.TaskCreated, created.ID)
		return c.JSON(http.StatusCreated, created)
	})
}

func patchTask(svc TaskService, pub Publisher, logger *log.Logger) echo.HandlerFunc {
	return instrumented("/api/tasks/:id", logger, func(c echo.Context, m *requestMetrics) error {
		var req patchRequest
		if err := decodeBody(c, &req); err != nil {
			m.SetErrorStage("decode")
			return writeError(c, http.StatusBadRequest, "invalid body", err.Error())
		}
		id := c.Param("id")
		ctx := c.Request().Context()
		start := time.Now()
		err := svc.Update(ctx, id, req.patch())
		m.ObserveStore(time.Since(start))
		if err != nil {
			return writeStoreError(c, m, err)
		}
		pub.Publish(ctx, board.TaskUpdated, id)
		return c.JSON(http.StatusOK, successResponse{Success: true})
	})
}

func deleteTask(svc TaskService, pub Publisher, logger *log.Logger) echo.HandlerFunc {
	return instrumented("/api/tasks/:id", logger, func(c echo.Context, m *requestMetrics) error {
		id := c.Param("id")
		ctx := c.Request().Context()
		start := time.Now()
		err := svc.Delete(ctx, id)
		m.ObserveStore(time.Since(start))
		if err != nil {
			return writeStoreError(c, m, err)
		}
		pub.Publish(ctx, board.TaskDeleted, id)
		return c.JSON(http.StatusOK, successResponse{Success: true})
	})
}

func bulkUpdate(svc TaskService, pub Publisher, logger *log.Logger) echo.HandlerFunc {
	return instrumented("/api/tasks/bulk", logger, func(c echo.Context, m *requestMetrics) error {
		var req bulkRequest
		if err := decodeBody(c, &req); err != nil {
			m.SetErrorStage("decode")
			return writeError(c, http.StatusBadRequest, "invalid body", err.Error())
		}
		ids := make([]string, 0, len(req.IDs))
		for _, id := range req.IDs {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		ctx := c.Request().Context()
		start := time.Now()
		n, err := svc.UpdateMany(ctx, ids, req.Update.patch())
		m.ObserveStore(time.Since(start))
		if err != nil {
			return writeStoreError(c, m, err)
		}
		m.SetModified(n)
		pub.Publish(ctx, board.TasksBulkUpdated, ids...)
		return c.JSON(http.StatusOK, modifiedResponse{ModifiedCount: n})
	})
}

func updateAll(svc TaskService, pub Publisher, logger *log.Logger) echo.HandlerFunc {
	return instrumented("/api/tasks/all", logger, func(c echo.Context, m *requestMetrics) error {
		var req updateAllRequest
		if err := decodeBody(c, &req); err != nil {
			m.SetErrorStage("decode")
			return writeError(c, http.StatusBadRequest, "invalid body", err.Error())
		}
		patch := req.Update.patch()
		if patch.IsEmpty() {
			return writeError(c, http.StatusBadRequest, "invalid body", "no fields to update")
		}
		ctx := c.Request().Context()
		start := time.Now()
		n, err := svc.UpdateAll(ctx, patch)
		m.ObserveStore(time.Since(start))
		if err != nil {
			return writeStoreError(c, m, err)
		}
		m.SetModified(n)
		pub.Publish(ctx, board.TasksBulkUpdated)
		return c.JSON(http.StatusOK, modifiedResponse{ModifiedCount: n})
	})
}
