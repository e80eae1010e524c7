package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	einoollama "github.com/cloudwego/eino-ext/components/model/ollama"
	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"taskmaster/domain"
)

const defaultOllamaBaseURL = "http://localhost:11434"

// ProviderConfig selects a generation backend.
type ProviderConfig struct {
	Driver  string
	Model   string
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// NewGenerator creates the Generator named by cfg.Driver.
func NewGenerator(ctx context.Context, cfg ProviderConfig) (Generator, error) {
	switch strings.ToLower(cfg.Driver) {
	case "gemini", "":
		return NewGeminiGenerator(ctx, GeminiConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		})
	case "openai", "ollama":
		cm, err := NewChatModel(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewChatModelGenerator(cm), nil
	default:
		return nil, fmt.Errorf("unknown model driver: %s", cfg.Driver)
	}
}

// NewChatModel creates an eino chat model for the openai or ollama driver.
// Both are put in JSON output mode.
func NewChatModel(ctx context.Context, cfg ProviderConfig) (model.BaseChatModel, error) {
	switch strings.ToLower(cfg.Driver) {
	case "openai":
		modelConfig, err := openAIConfig(cfg)
		if err != nil {
			return nil, err
		}
		return einoopenai.NewChatModel(ctx, modelConfig)
	case "ollama":
		return einoollama.NewChatModel(ctx, ollamaConfig(cfg))
	default:
		return nil, fmt.Errorf("unknown chat model driver: %s", cfg.Driver)
	}
}

func providerTimeout(cfg ProviderConfig) time.Duration {
	if cfg.Timeout <= 0 {
		return 60 * time.Second
	}
	return cfg.Timeout
}

func openAIConfig(cfg ProviderConfig) (*einoopenai.ChatModelConfig, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	temp := float32(0.2)
	modelConfig := &einoopenai.ChatModelConfig{
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		Timeout:     providerTimeout(cfg),
		Temperature: &temp,
		ResponseFormat: &einoopenai.ChatCompletionResponseFormat{
			Type: einoopenai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
	if cfg.BaseURL != "" {
		modelConfig.BaseURL = cfg.BaseURL
	}
	return modelConfig, nil
}

func ollamaConfig(cfg ProviderConfig) *einoollama.ChatModelConfig {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	timeout := providerTimeout(cfg)
	return &einoollama.ChatModelConfig{
		BaseURL: baseURL,
		Model:   cfg.Model,
		Timeout: timeout,
		HTTPClient: &http.Client{
			Timeout:   timeout,
			Transport: &statusTransport{inner: http.DefaultTransport},
		},
		Format:  json.RawMessage(`"json"`),
		Options: &einoollama.Options{Temperature: 0.2},
	}
}

// ChatModelGenerator adapts an eino chat model to Generator. The system
// prompt repeats the JSON-only instruction for models without a JSON mode.
type ChatModelGenerator struct {
	model model.BaseChatModel
}

// NewChatModelGenerator wraps m.
func NewChatModelGenerator(m model.BaseChatModel) *ChatModelGenerator {
	return &ChatModelGenerator{model: m}
}

func (g *ChatModelGenerator) Generate(ctx context.Context, req Request) (string, error) {
	msgs := []*schema.Message{
		schema.SystemMessage(req.System + "\n\nOnly output the JSON object, no other text."),
		schema.UserMessage(req.Utterance),
	}
	out, err := g.model.Generate(ctx, msgs)
	if err != nil {
		var upstream *domain.UpstreamError
		if errors.As(err, &upstream) {
			return "", upstream
		}
		return "", &domain.UpstreamError{Err: err}
	}
	if out == nil || strings.TrimSpace(out.Content) == "" {
		return "", domain.ErrEmptyResponse
	}
	return out.Content, nil
}

// statusTransport turns non-2xx and non-JSON provider answers into
// *domain.UpstreamError so the status and body survive the model client.
type statusTransport struct {
	inner http.RoundTripper
}

func (t *statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.inner.RoundTrip(req)
	if err != nil {
		return nil, &domain.UpstreamError{Err: err}
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, &domain.UpstreamError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	// a reverse proxy answering in plain text has no JSON content type
	ct := resp.Header.Get("Content-Type")
	if ct != "" && !strings.Contains(ct, "json") {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, &domain.UpstreamError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return resp, nil
}
