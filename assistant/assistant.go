// Package assistant turns chat messages into task board mutations: it builds
// the model context, resolves and validates the intent, dispatches it to the
// task store and hands the result to the board.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"taskmaster/domain"
)

const tracerName = "taskmaster/assistant"

// ErrEmptyMessage rejects a chat request without text.
var ErrEmptyMessage = errors.New("empty message")

const (
	replyUnreachable   = "I couldn't reach the assistant right now, so nothing on the board changed. Please try again."
	replyNotUnderstood = "I couldn't understand that, so nothing on the board changed. Could you rephrase it?"
	replyInvalid       = "I couldn't tell which task you meant, so I didn't change anything."
	replyNoText        = "The assistant returned no reply."
	replyDone          = "Done."
)

// Board receives the effect of dispatched intents.
type Board interface {
	ApplyOutcome(in domain.Intent, out domain.Outcome)
	Refresh(ctx context.Context) error
}

// Reply is the answer to one chat message.
type Reply struct {
	Text        string        `json:"text"`
	Action      domain.Action `json:"action"`
	Success     bool          `json:"success"`
	AffectedIDs []string      `json:"affectedIds,omitempty"`
	FailedIDs   []string      `json:"failedIds,omitempty"`
	Created     *domain.Task  `json:"created,omitempty"`

	// ErrorStage names the pipeline stage that failed: resolve, validate or
	// dispatch. Empty on success.
	ErrorStage string `json:"errorStage,omitempty"`
}

// Assistant wires the pipeline stages together.
type Assistant struct {
	contexts   *ContextBuilder
	resolver   *Resolver
	validator  *Validator
	dispatcher *Dispatcher
	board      Board
	transcript *Transcript
	logger     *log.Logger
}

// New creates an Assistant from its pipeline stages.
func New(contexts *ContextBuilder, resolver *Resolver, validator *Validator, dispatcher *Dispatcher, board Board, transcript *Transcript, logger *log.Logger) *Assistant {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if transcript == nil {
		transcript = NewTranscript(0)
	}
	return &Assistant{
		contexts:   contexts,
		resolver:   resolver,
		validator:  validator,
		dispatcher: dispatcher,
		board:      board,
		transcript: transcript,
		logger:     logger,
	}
}

func (a *Assistant) Transcript() *Transcript { return a.transcript }

// Chat runs one message through the pipeline. Every path, failures included,
// appends the user message and one assistant reply to the transcript. The
// only error is ErrEmptyMessage.
func (a *Assistant) Chat(ctx context.Context, message string) (Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Reply{}, ErrEmptyMessage
	}
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "assistant.chat")
	defer span.End()

	a.transcript.Append(Entry{Role: RoleUser, Text: message})

	reply, stage, err := a.run(ctx, message)
	if err != nil {
		reply.ErrorStage = stage
	}
	a.transcript.Append(Entry{Role: RoleAssistant, Text: reply.Text, Action: reply.Action, Success: reply.Success})

	span.SetAttributes(
		attribute.String("taskmaster.action", string(reply.Action)),
		attribute.Bool("taskmaster.success", reply.Success),
		attribute.Int("taskmaster.affected", len(reply.AffectedIDs)),
		attribute.Int("taskmaster.failed", len(reply.FailedIDs)),
	)
	fields := log.Fields{
		"action":   reply.Action,
		"success":  reply.Success,
		"affected": len(reply.AffectedIDs),
		"failed":   len(reply.FailedIDs),
		"total_ms": float64(time.Since(start)) / float64(time.Millisecond),
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		fields["error_stage"] = stage
		a.logger.WithFields(fields).WithError(err).Warn("assistant.chat")
	} else {
		span.SetStatus(codes.Ok, "")
		a.logger.WithFields(fields).Info("assistant.chat")
	}
	return reply, nil
}

// run returns the reply plus, on failure, the failing stage and its error.
func (a *Assistant) run(ctx context.Context, message string) (Reply, string, error) {
	taskContext := a.buildContext(ctx)

	raw, err := a.resolve(ctx, taskContext, message)
	if err != nil {
		var upstream *domain.UpstreamError
		if errors.As(err, &upstream) {
			return Reply{Text: replyUnreachable, Action: domain.ActionNone}, "resolve", err
		}
		return Reply{Text: replyNotUnderstood, Action: domain.ActionNone}, "resolve", err
	}
	modelText, _ := raw["text"].(string)
	modelText = strings.TrimSpace(modelText)

	intent, err := a.validate(ctx, raw)
	if err != nil {
		return Reply{Text: replyInvalid, Action: domain.ActionNone}, "validate", err
	}

	out := a.dispatch(ctx, intent)
	reply := Reply{
		Text:        modelText,
		Action:      intent.Action(),
		Success:     out.Success,
		AffectedIDs: out.Affected,
		FailedIDs:   out.Failed,
		Created:     out.Created,
	}
	if out.Success {
		if _, noop := intent.(domain.NoOp); !noop {
			a.reconcile(ctx, intent, out)
		}
		if reply.Text == "" {
			reply.Text = replyDone
			if reply.Action == domain.ActionNone {
				reply.Text = replyNoText
			}
		}
		return reply, "", nil
	}

	var partial *domain.PartialBulkFailure
	if errors.As(out.Err, &partial) {
		a.reconcile(ctx, intent, out)
		reply.Text = fmt.Sprintf("%d of %d updates failed; the other tasks were updated.", len(partial.Failed), partial.Total)
		return reply, "dispatch", out.Err
	}

	if rerr := a.board.Refresh(ctx); rerr != nil {
		a.logger.WithError(rerr).Warn("refresh board after failed dispatch")
	}
	reply.Text = "I couldn't update the board: " + storeReason(out.Err)
	return reply, "dispatch", out.Err
}

func (a *Assistant) buildContext(ctx context.Context) string {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "assistant.context")
	defer span.End()
	text := a.contexts.Build(ctx)
	span.SetAttributes(attribute.Int("taskmaster.context_bytes", len(text)))
	return text
}

func (a *Assistant) resolve(ctx context.Context, taskContext, message string) (map[string]any, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "assistant.resolve")
	defer span.End()
	raw, err := a.resolver.Resolve(ctx, taskContext, message)
	endSpan(span, err)
	return raw, err
}

func (a *Assistant) validate(ctx context.Context, raw map[string]any) (domain.Intent, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "assistant.validate")
	defer span.End()
	intent, err := a.validator.Validate(raw)
	span.SetAttributes(attribute.String("taskmaster.action", string(intent.Action())))
	endSpan(span, err)
	return intent, err
}

func (a *Assistant) dispatch(ctx context.Context, intent domain.Intent) domain.Outcome {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "assistant.dispatch",
		trace.WithAttributes(
			attribute.String("taskmaster.action", string(intent.Action())),
			attribute.StringSlice("taskmaster.target_ids", domain.TargetIDs(intent)),
		))
	defer span.End()
	out := a.dispatcher.Dispatch(ctx, intent)
	endSpan(span, out.Err)
	return out
}

func (a *Assistant) reconcile(ctx context.Context, intent domain.Intent, out domain.Outcome) {
	_, span := otel.Tracer(tracerName).Start(ctx, "assistant.reconcile",
		trace.WithAttributes(attribute.StringSlice("taskmaster.affected_ids", out.Affected)))
	defer span.End()
	a.board.ApplyOutcome(intent, out)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

func storeReason(err error) string {
	var storeErr *domain.StoreError
	switch {
	case domain.IsNotFound(err):
		return "that task no longer exists."
	case errors.As(err, &storeErr) && storeErr.StatusCode == 400:
		return "the task store rejected the change."
	case err != nil:
		return "the task store is unavailable."
	}
	return "unknown error."
}
