package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"taskmaster/domain"
)

func TestResolvePromptCarriesDateAndContext(t *testing.T) {
	gen := &fakeGenerator{text: `{"text":"ok","action":"NONE"}`}
	r := NewResolver(gen)
	r.now = func() time.Time { return time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC) }

	raw, err := r.Resolve(context.Background(), "- Buy milk | ID: 64a1 | Status: pending", "done")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if raw["action"] != "NONE" {
		t.Fatalf("unexpected raw object: %#v", raw)
	}
	req := gen.reqs[0]
	if req.Utterance != "done" {
		t.Fatalf("unexpected utterance %q", req.Utterance)
	}
	for _, want := range []string{"2026-10-16", "Friday", "- Buy milk | ID: 64a1 | Status: pending", `"action"`} {
		if !strings.Contains(req.System, want) {
			t.Fatalf("system prompt missing %q:\n%s", want, req.System)
		}
	}
}

func TestResolveDecoding(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantErr   error
		malformed bool
	}{
		{name: "plain", text: `{"action":"NONE","text":"hi"}`},
		{name: "fenced", text: "```json\n{\"action\":\"NONE\",\"text\":\"hi\"}\n```"},
		{name: "bare_fence", text: "```\n{\"action\":\"NONE\"}\n```"},
		{name: "prose", text: "Sure, I'll mark it as done.", malformed: true},
		{name: "truncated", text: `{"action":"UPDATE_STATUS","payload":{"id":"64`, malformed: true},
		{name: "array", text: `[{"action":"NONE"}]`, malformed: true},
		{name: "null", text: `null`, malformed: true},
		{name: "empty", text: "   ", wantErr: domain.ErrEmptyResponse},
		{name: "empty_fence", text: "```\n```", wantErr: domain.ErrEmptyResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := NewResolver(&fakeGenerator{text: tt.text}).Resolve(context.Background(), "", "x")
			switch {
			case tt.malformed:
				var mErr *domain.MalformedIntentError
				if !errors.As(err, &mErr) {
					t.Fatalf("expected MalformedIntentError, got %v", err)
				}
				if mErr.Raw != tt.text {
					t.Fatalf("raw text not attached: %q", mErr.Raw)
				}
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
			default:
				if err != nil {
					t.Fatalf("resolve: %v", err)
				}
				if raw["action"] != "NONE" {
					t.Fatalf("unexpected raw object: %#v", raw)
				}
			}
		})
	}
}

func TestResolveGeneratorErrors(t *testing.T) {
	upstream := &domain.UpstreamError{StatusCode: 503, Body: "overloaded"}
	_, err := NewResolver(&fakeGenerator{err: upstream}).Resolve(context.Background(), "", "x")
	if !errors.Is(err, upstream) {
		t.Fatalf("expected upstream error passthrough, got %v", err)
	}

	_, err = NewResolver(&fakeGenerator{err: domain.ErrEmptyResponse}).Resolve(context.Background(), "", "x")
	if !errors.Is(err, domain.ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}

	boom := errors.New("dial tcp: connection refused")
	_, err = NewResolver(&fakeGenerator{err: boom}).Resolve(context.Background(), "", "x")
	var up *domain.UpstreamError
	if !errors.As(err, &up) || up.StatusCode != 0 || !errors.Is(err, boom) {
		t.Fatalf("expected transport failure wrapped as UpstreamError, got %v", err)
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := map[string]string{
		"{\"a\":1}":                  "{\"a\":1}",
		"```json\n{\"a\":1}\n```":    "{\"a\":1}",
		"```JSON\n{\"a\":1}```":      "{\"a\":1}",
		"```{\"a\":1}```":            "{\"a\":1}",
		"```\n{\"a\":1}\n```":        "{\"a\":1}",
		"```json\n{\"a\":1}\n``` hi": "```json\n{\"a\":1}\n``` hi",
	}
	for in, want := range tests {
		if got := stripCodeFence(in); got != want {
			t.Fatalf("stripCodeFence(%q) = %q, want %q", in, got, want)
		}
	}
}
