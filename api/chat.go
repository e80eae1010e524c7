package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskmaster/assistant"
)

const headerIdempotencyKey = "Idempotency-Key"

type chatRequest struct {
	Message string `json:"message"`
}

type transcriptResponse struct {
	Entries []assistant.Entry `json:"entries"`
}

// postChat runs one message through the assistant. With an Idempotency-Key
// header a retried request gets the stored reply instead of a second
// dispatch. Only successful replies are stored; a failed one releases the
// key so the caller can retry.
func postChat(chat Chat, deduper Deduper, logger *log.Logger) echo.HandlerFunc {
	return instrumented("/api/chat", logger, func(c echo.Context, m *requestMetrics) error {
		var req chatRequest
		if err := decodeBody(c, &req); err != nil {
			m.SetErrorStage("decode")
			return writeError(c, http.StatusBadRequest, "invalid body", err.Error())
		}
		if strings.TrimSpace(req.Message) == "" {
			m.SetErrorStage("decode")
			return writeError(c, http.StatusBadRequest, "empty message", "")
		}

		ctx := c.Request().Context()
		key := strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
		if deduper == nil {
			key = ""
		}
		scope, _ := c.Get("subject").(string)
		if scope == "" {
			scope = "chat"
		}
		if key != "" {
			if body, ok, err := deduper.Recall(ctx, scope, key); err != nil {
				logger.WithError(err).Warn("recall chat reply")
			} else if ok {
				m.SetAction("replay")
				return c.JSONBlob(http.StatusOK, body)
			}
			added, err := deduper.Add(ctx, scope, key)
			if err != nil {
				m.SetErrorStage("deduper")
				return writeError(c, http.StatusInternalServerError, "idempotency store unavailable", err.Error())
			}
			if !added {
				m.SetErrorStage("duplicate")
				return writeError(c, http.StatusConflict, "duplicate request", "a request with this idempotency key is in progress")
			}
		}

		reply, err := chat.Chat(ctx, req.Message)
		if err != nil {
			if key != "" {
				_ = deduper.Remove(ctx, scope, key)
			}
			if errors.Is(err, assistant.ErrEmptyMessage) {
				return writeError(c, http.StatusBadRequest, "empty message", "")
			}
			m.SetErrorStage("chat")
			return writeError(c, http.StatusInternalServerError, "chat failed", err.Error())
		}
		m.SetAction(string(reply.Action))
		m.SetErrorStage(reply.ErrorStage)

		body, err := sonic.Marshal(reply)
		if err != nil {
			m.SetErrorStage("encode_response")
			if key != "" {
				_ = deduper.Remove(ctx, scope, key)
			}
			return err
		}
		if key != "" {
			if reply.Success {
				if err := deduper.Remember(ctx, scope, key, body); err != nil {
					logger.WithError(err).Warn("remember chat reply")
				}
			} else if err := deduper.Remove(ctx, scope, key); err != nil {
				logger.WithError(err).Warn("release idempotency key")
			}
		}
		return c.JSONBlob(http.StatusOK, body)
	})
}

func getTranscript(chat Chat) echo.HandlerFunc {
	return func(c echo.Context) error {
		entries := chat.Transcript().Entries()
		if entries == nil {
			entries = []assistant.Entry{}
		}
		return c.JSON(http.StatusOK, transcriptResponse{Entries: entries})
	}
}
