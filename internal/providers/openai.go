package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const (
	OpenAIName         = "openai"
	OpenAIDefaultModel = "gpt-4o"
)

// OpenAIConfig holds configuration for the OpenAI client. BaseURL points the
// client at any OpenAI-compatible endpoint.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
	RPM          int // Requests per minute (default: 60)
	MaxRetries   int // SDK-level retries for 429/5xx (default: 2)
}

// OpenAIClient implements LLMClient with Chat Completions.
type OpenAIClient struct {
	client       openai.Client
	apiKey       string
	baseURL      string
	defaultModel string
	limiter      *RateLimiter
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = OpenAIDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		client:       openai.NewClient(opts...),
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
		defaultModel: cfg.DefaultModel,
		limiter:      NewRateLimiter(cfg.RPM),
	}
}

// Name returns the client identifier.
func (c *OpenAIClient) Name() string {
	return OpenAIName
}

// Limiter exposes the client's rate limiter for status reporting.
func (c *OpenAIClient) Limiter() *RateLimiter {
	return c.limiter
}

// Chat sends a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	res := &ChatResult{
		Provider:  OpenAIName,
		ModelUsed: model,
		RequestID: req.RequestID,
	}
	if res.RequestID == "" {
		res.RequestID = uuid.NewString()
	}

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(model),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Opt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Opt(int64(req.MaxTokens))
	}
	if rf := req.ResponseFormat; rf != nil {
		var schema map[string]any
		if err := json.Unmarshal(rf.Schema, &schema); err != nil {
			return nil, fmt.Errorf("response schema %s: %w", rf.Name, err)
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   rf.Name,
					Schema: schema,
				},
			},
		}
	}

	err := complete(ctx, req, res, func(ctx context.Context, msgs []Message) (string, int, int, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", 0, 0, err
		}
		params.Messages = toOpenAIMessages(msgs)
		resp, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return "", 0, 0, c.classify(err)
		}
		if len(resp.Choices) == 0 {
			return "", 0, 0, transient(errors.New("openai: response has no choices"))
		}
		if resp.Model != "" {
			res.ModelUsed = resp.Model
		}
		return resp.Choices[0].Message.Content, int(resp.Usage.PromptTokens), int(resp.Usage.CompletionTokens), nil
	})
	res.ExecutionTime = time.Since(start)
	if err != nil {
		return res, fmt.Errorf("openai chat: %w", err)
	}
	return res, nil
}

func (c *OpenAIClient) classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 {
			c.limiter.Record429()
		}
		return classifyStatus(apiErr.StatusCode, err)
	}
	return err
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

var _ LLMClient = (*OpenAIClient)(nil)
