package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"taskmaster/domain"
)

// Request is one generation call: the system block and the user's utterance.
type Request struct {
	System    string
	Utterance string
}

// Generator asks a text-generation service for a JSON-only completion.
// Implementations report transport and non-2xx failures as
// *domain.UpstreamError and a reply without text as domain.ErrEmptyResponse.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Resolver turns an utterance into the model's raw intent object. It does not
// interpret the object and never retries.
type Resolver struct {
	gen Generator
	now func() time.Time
}

// NewResolver creates a Resolver backed by gen.
func NewResolver(gen Generator) *Resolver {
	return &Resolver{gen: gen, now: time.Now}
}

// Resolve returns the decoded JSON object the model produced.
func (r *Resolver) Resolve(ctx context.Context, taskContext, utterance string) (map[string]any, error) {
	text, err := r.gen.Generate(ctx, Request{
		System:    systemPrompt(taskContext, r.now()),
		Utterance: utterance,
	})
	if err != nil {
		var upstream *domain.UpstreamError
		if errors.As(err, &upstream) || errors.Is(err, domain.ErrEmptyResponse) {
			return nil, err
		}
		return nil, &domain.UpstreamError{Err: err}
	}
	return decodeIntent(text)
}

func decodeIntent(text string) (map[string]any, error) {
	body := stripCodeFence(strings.TrimSpace(text))
	if body == "" {
		return nil, domain.ErrEmptyResponse
	}
	var raw map[string]any
	if err := sonic.UnmarshalString(body, &raw); err != nil {
		return nil, &domain.MalformedIntentError{Raw: text, Err: err}
	}
	if raw == nil {
		return nil, &domain.MalformedIntentError{Raw: text, Err: fmt.Errorf("expected a JSON object")}
	}
	return raw, nil
}

// stripCodeFence removes one surrounding ``` or ```json fence.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	if nl := strings.IndexByte(inner, '\n'); nl >= 0 {
		lang := strings.TrimSpace(inner[:nl])
		if lang == "" || !strings.ContainsAny(lang, "{[\"") {
			inner = inner[nl+1:]
		}
	}
	return strings.TrimSpace(inner)
}
