package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultModel       = "gpt-4o-mini"
	defaultTimeout     = 60 * time.Second
	defaultTemperature = 0.7
	defaultMaxTokens   = 1024

	// localAPIKey is sent when no key is configured. Local OpenAI-compatible
	// servers (LM Studio, Ollama) require the header but ignore its value.
	localAPIKey = "lm-studio"

	responseFormatName = "bot_message"
)

// Config configures the OpenAI-compatible model client.
type Config struct {
	// BaseURL is the API endpoint, e.g. http://localhost:1234/v1 for LM
	// Studio. Empty selects the public OpenAI API.
	BaseURL string

	// APIKey is the bearer token. Empty sends a placeholder accepted by
	// local servers.
	APIKey string

	// Model is the chat model name. Defaults to gpt-4o-mini.
	Model string

	// BotName is how the model is told to refer to itself.
	BotName string

	// Timeout bounds a single HTTP round trip. Defaults to 60 s.
	Timeout time.Duration

	// Temperature defaults to 0.7 when zero.
	Temperature float32

	// MaxTokens caps the completion length. Defaults to 1024.
	MaxTokens int

	// ResponseSchema, when set, is sent as a json_schema response format so
	// that the endpoint constrains the output. Leave empty for endpoints
	// without structured-output support.
	ResponseSchema json.RawMessage
}

type openAIModel struct {
	cfg    Config
	client *openai.Client
}

// New returns a Model backed by an OpenAI-compatible chat completions API.
func New(cfg Config) Model {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	key := cfg.APIKey
	if key == "" {
		key = localAPIKey
	}

	clientConfig := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &openAIModel{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientConfig),
	}
}

// Complete sends req to the chat completions endpoint.
func (m *openAIModel) Complete(ctx context.Context, req Request) (Completion, error) {
	chatReq := openai.ChatCompletionRequest{
		Model: m.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(m.cfg.BotName, req.ConversationID)},
			{Role: openai.ChatMessageRoleUser, Content: req.Message},
		},
		Temperature: m.cfg.Temperature,
		MaxTokens:   m.cfg.MaxTokens,
	}
	if len(m.cfg.ResponseSchema) > 0 {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   responseFormatName,
				Schema: m.cfg.ResponseSchema,
			},
		}
	}

	start := time.Now()
	resp, err := m.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return Completion{}, classifyError(err)
	}

	if len(resp.Choices) == 0 {
		return Completion{}, ErrEmptyResponse
	}

	usage := &Usage{
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	if usage.Model == "" {
		usage.Model = m.cfg.Model
	}

	slog.Debug("llm: completion",
		"conversation_id", req.ConversationID,
		"model", usage.Model,
		"total_tokens", usage.TotalTokens,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	msg := resp.Choices[0].Message
	if msg.Refusal != "" {
		return Completion{Content: msg.Refusal, PlainText: true, Usage: usage}, nil
	}
	return Completion{Content: msg.Content, Usage: usage}, nil
}

func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %s", ErrRateLimit, apiErr.Message)
		}
		return fmt.Errorf("%w: API error (HTTP %d): %s", ErrTransport, apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %v", ErrRateLimit, reqErr.Err)
		}
		return fmt.Errorf("%w: HTTP %d: %v", ErrTransport, reqErr.HTTPStatusCode, reqErr.Err)
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}
