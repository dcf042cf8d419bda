package providers

import (
	"context"
	"encoding/json"
	"time"
)

// LLMClient is the interface every chat provider implements.
type LLMClient interface {
	// Chat sends a chat completion request. When req.ResponseFormat is set the
	// result carries ParsedJSON validated against the schema.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error)

	// Name returns the client identifier (e.g., "openai").
	Name() string
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ResponseFormat requests structured output conforming to Schema.
type ResponseFormat struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
}

// ChatRequest is a request to an LLM.
type ChatRequest struct {
	Messages []Message `json:"messages"`

	// Model selection (uses client default if empty)
	Model string `json:"model,omitempty"`

	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`

	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`

	RequestID string `json:"-"`
}

// ChatResult is the complete response from an LLM call.
type ChatResult struct {
	Content    string          `json:"content"`
	ParsedJSON json.RawMessage `json:"parsed_json,omitempty"`

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	CostUSD       float64       `json:"cost_usd"`
	ExecutionTime time.Duration `json:"execution_time"`

	Provider  string `json:"provider"`
	ModelUsed string `json:"model_used"`

	RequestID string `json:"request_id"`
	Attempts  int    `json:"attempts"`
}

// addUsage folds the token counts of another attempt into r.
func (r *ChatResult) addUsage(prompt, completion int) {
	r.PromptTokens += prompt
	r.CompletionTokens += completion
	r.TotalTokens = r.PromptTokens + r.CompletionTokens
}

// System is shorthand for a system message.
func System(content string) Message { return Message{Role: "system", Content: content} }

// User is shorthand for a user message.
func User(content string) Message { return Message{Role: "user", Content: content} }
