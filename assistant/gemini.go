package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"taskmaster/domain"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiConfig configures the Gemini generator. BaseURL overrides the API
// endpoint.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// GeminiGenerator calls the Gemini API with a JSON response schema.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

func NewGeminiGenerator(ctx context.Context, cfg GeminiConfig) (*GeminiGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: strings.TrimRight(cfg.BaseURL, "/") + "/"}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiGenerator{client: client, model: cfg.Model}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		genai.Text(req.Utterance),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(req.System, genai.RoleUser),
			ResponseMIMEType:  "application/json",
			ResponseSchema:    intentSchema(),
			Temperature:       genai.Ptr[float32](0.2),
		},
	)
	if err != nil {
		return "", geminiError(err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", domain.ErrEmptyResponse
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", domain.ErrEmptyResponse
	}
	return text, nil
}

func geminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &domain.UpstreamError{StatusCode: apiErr.Code, Body: apiErr.Message, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &domain.UpstreamError{StatusCode: apiErrPtr.Code, Body: apiErrPtr.Message, Err: err}
	}
	return &domain.UpstreamError{Err: err}
}

// intentSchema mirrors the response shape described in the system prompt.
func intentSchema() *genai.Schema {
	str := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeString, Description: desc}
	}
	enum := func(values ...string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeString, Enum: values}
	}
	fields := map[string]*genai.Schema{
		"title":       str("task title"),
		"description": str("task description"),
		"status":      enum("pending", "in-progress", "completed"),
		"priority":    enum("low", "medium", "high"),
		"dueDate":     str("due date as YYYY-MM-DD"),
		"category":    str("task category"),
	}
	payload := map[string]*genai.Schema{
		"id":      str("id of the targeted task, copied from the task list"),
		"tasks":   {Type: genai.TypeArray, Items: str("task id")},
		"updates": {Type: genai.TypeObject, Properties: fields},
	}
	for k, v := range fields {
		payload[k] = v
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"text": str("short reply to the user"),
			"action": enum(
				string(domain.ActionCreateTask),
				string(domain.ActionUpdateStatus),
				string(domain.ActionEditTask),
				string(domain.ActionDeleteTask),
				string(domain.ActionBulkUpdate),
				string(domain.ActionNone),
			),
			"payload": {Type: genai.TypeObject, Properties: payload},
		},
		Required: []string{"text", "action"},
	}
}
