package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskmaster/domain"
)

type moveRequest struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type moveResponse struct {
	Success  bool   `json:"success"`
	Revision uint64 `json:"revision"`
}

func getBoard(b Board) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, b.View())
	}
}

// streamBoard sends the board as one SSE data frame on connect and after
// every change, with a comment line as keepalive.
func streamBoard(b Board, keepAlive time.Duration) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		ctx := c.Request().Context()
		ch, cancel := b.Subscribe()
		defer cancel()
		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		c.Response().WriteHeader(http.StatusOK)
		for {
			data, err := sonic.Marshal(b.View())
			if err != nil {
				c.Logger().Error(err)
				return err
			}
			if err := writeFrame(c, data); err != nil {
				return nil
			}
			flusher.Flush()
		wait:
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if _, err := c.Response().Write([]byte(": keepalive\n\n")); err != nil {
						return nil
					}
					flusher.Flush()
				case <-ch:
					break wait
				}
			}
		}
	}
}

func writeFrame(c echo.Context, data []byte) error {
	w := c.Response()
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n\n"))
	return err
}

func moveTask(b Board, logger *log.Logger) echo.HandlerFunc {
	return instrumented("/api/board/move", logger, func(c echo.Context, m *requestMetrics) error {
		var req moveRequest
		if err := decodeBody(c, &req); err != nil || req.ID == "" {
			m.SetErrorStage("decode")
			return writeError(c, http.StatusBadRequest, "invalid body", "id and status are required")
		}
		status, ok := domain.ParseStatus(req.Status)
		if !ok {
			m.SetErrorStage("decode")
			return writeError(c, http.StatusBadRequest, "invalid status", req.Status)
		}
		m.SetAction("move")
		start := time.Now()
		err := b.Move(c.Request().Context(), req.ID, status)
		m.ObserveStore(time.Since(start))
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return writeError(c, http.StatusNotFound, "task not found", req.ID)
			}
			m.SetErrorStage("move")
			return writeError(c, http.StatusInternalServerError, "move failed", err.Error())
		}
		return c.JSON(http.StatusOK, moveResponse{Success: true, Revision: b.View().Revision})
	})
}

func refreshBoard(b Board, logger *log.Logger) echo.HandlerFunc {
	return instrumented("/api/board/refresh", logger, func(c echo.Context, m *requestMetrics) error {
		start := time.Now()
		err := b.Refresh(c.Request().Context())
		m.ObserveStore(time.Since(start))
		if err != nil {
			m.SetErrorStage("refresh")
			return writeError(c, http.StatusInternalServerError, "refresh failed", err.Error())
		}
		return c.JSON(http.StatusOK, b.View())
	})
}
