package nl2sql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	provider              = "openai-compatible"
	chatCompletionsPath   = "/v1/chat/completions"
	defaultModel          = "gpt-3.5-turbo"
	defaultMaxTokens      = 500
	defaultDialect        = "DuckDB"
	defaultTimeout        = 30 * time.Second
	maxResponseBodyBytes  = 1 << 20
	maxErrorMessageLength = 512
)

var (
	ErrAuthentication = errors.New("language model rejected credentials")
	ErrRateLimited    = errors.New("language model rate limit exceeded")
)

// APIError is a non-2xx answer from the chat completions endpoint.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("chat completion failed status=%d type=%s: %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("chat completion failed status=%d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrAuthentication:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	}
	return false
}

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// OpenAITranslator calls any endpoint that speaks the OpenAI chat completions
// protocol.
type OpenAITranslator struct {
	endpoint    string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client
}

func NewOpenAITranslator(cfg OpenAIConfig) (*OpenAITranslator, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2")
	}

	translator := &OpenAITranslator{
		endpoint:    strings.TrimSuffix(baseURL, "/v1") + chatCompletionsPath,
		apiKey:      apiKey,
		model:       strings.TrimSpace(cfg.Model),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		client:      cfg.HTTPClient,
	}
	if translator.model == "" {
		translator.model = defaultModel
	}
	if translator.maxTokens <= 0 {
		translator.maxTokens = defaultMaxTokens
	}
	if translator.client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		translator.client = &http.Client{Timeout: timeout}
	}
	return translator, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (t *OpenAITranslator) Translate(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Question) == "" {
		return Result{}, fmt.Errorf("question is required")
	}
	body, err := json.Marshal(chatRequest{
		Model:       t.model,
		Messages:    buildMessages(req),
		Temperature: t.temperature,
		MaxTokens:   t.maxTokens,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("request chat completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return Result{}, fmt.Errorf("read chat response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, newAPIError(resp.StatusCode, raw)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Result{}, fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Result{}, fmt.Errorf("empty chat completion choices")
	}
	sql := stripMarkdownSQL(parsed.Choices[0].Message.Content)
	if sql == "" {
		return Result{}, fmt.Errorf("model returned empty SQL (finish_reason=%q)", parsed.Choices[0].FinishReason)
	}

	model := parsed.Model
	if model == "" {
		model = t.model
	}
	return Result{SQL: sql, Provider: provider, Model: model, Usage: parsed.Usage}, nil
}

func newAPIError(status int, raw []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Message: http.StatusText(status)}
	var envelope chatErrorResponse
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Message = envelope.Error.Message
		apiErr.Type = envelope.Error.Type
	} else if text := strings.TrimSpace(string(raw)); text != "" {
		apiErr.Message = text
	}
	if len(apiErr.Message) > maxErrorMessageLength {
		apiErr.Message = apiErr.Message[:maxErrorMessageLength] + "..."
	}
	return apiErr
}

func buildMessages(req Request) []chatMessage {
	dialect := strings.TrimSpace(req.Dialect)
	if dialect == "" {
		dialect = defaultDialect
	}
	var user strings.Builder
	user.WriteString("Convert the following natural language query to a valid SQL query.\n\n")
	user.WriteString(req.SchemaContext)
	user.WriteString("\nNatural Language Query:\n")
	user.WriteString(strings.TrimSpace(req.Question))
	user.WriteString("\n\nRequirements:\n")
	user.WriteString("- Only use tables and columns from the schema provided above\n")
	user.WriteString("- Return ONLY the SQL query, no explanations\n")
	user.WriteString("- The query must be a SELECT statement\n")
	fmt.Fprintf(&user, "- Use proper SQL syntax for %s\n\nSQL Query:", dialect)

	return []chatMessage{
		{
			Role: "system",
			Content: "You are a SQL expert that converts natural language to SQL queries. " +
				"Always return only the SQL query without markdown formatting or explanations.",
		},
		{Role: "user", Content: user.String()},
	}
}

var fencedBlock = regexp.MustCompile("(?s)```(?:[a-zA-Z0-9_-]*\\n)?(.*?)```")

// stripMarkdownSQL returns the first fenced code block when the model wrapped
// its answer in one, otherwise the trimmed text.
func stripMarkdownSQL(value string) string {
	if match := fencedBlock.FindStringSubmatch(value); match != nil {
		return strings.TrimSpace(match[1])
	}
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(value), "`"))
}
