package assistant

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"taskmaster/domain"
)

func newGeminiServer(t *testing.T, status int, body string, seen *string) *GeminiGenerator {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/models/gemini-test:generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if seen != nil {
			b, _ := io.ReadAll(r.Body)
			*seen = string(b)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	gen, err := NewGeminiGenerator(context.Background(), GeminiConfig{
		APIKey:  "test-key",
		Model:   "gemini-test",
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("new gemini generator: %v", err)
	}
	return gen
}

func TestGeminiGenerate(t *testing.T) {
	var body string
	gen := newGeminiServer(t, http.StatusOK,
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"action\":\"NONE\",\"text\":\"hi\"}"}]}}]}`,
		&body)

	text, err := gen.Generate(context.Background(), Request{System: "board rules", Utterance: "hello"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != `{"action":"NONE","text":"hi"}` {
		t.Fatalf("unexpected text %q", text)
	}
	for _, want := range []string{"board rules", "hello", "application/json", "systemInstruction"} {
		if !strings.Contains(body, want) {
			t.Fatalf("request body missing %q: %s", want, body)
		}
	}
}

func TestGeminiGenerateErrors(t *testing.T) {
	gen := newGeminiServer(t, http.StatusBadRequest,
		`{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`, nil)
	_, err := gen.Generate(context.Background(), Request{Utterance: "x"})
	var up *domain.UpstreamError
	if !errors.As(err, &up) || up.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected UpstreamError with status 400, got %v", err)
	}
	if !strings.Contains(up.Body, "API key not valid") {
		t.Fatalf("unexpected upstream body %q", up.Body)
	}

	gen = newGeminiServer(t, http.StatusOK, `{"candidates":[]}`, nil)
	if _, err := gen.Generate(context.Background(), Request{Utterance: "x"}); !errors.Is(err, domain.ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestNewGeminiGeneratorNeedsKey(t *testing.T) {
	if _, err := NewGeminiGenerator(context.Background(), GeminiConfig{}); err == nil {
		t.Fatalf("expected error without API key")
	}
}
