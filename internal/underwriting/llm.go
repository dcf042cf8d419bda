package underwriting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackzampolin/underwrite/internal/pipeline"
	"github.com/jackzampolin/underwrite/internal/providers"
)

// LLMExecutor runs a stage by prompting a chat model for structured output.
type LLMExecutor struct {
	client      providers.LLMClient
	model       string
	temperature float64
	system      string
	logger      *slog.Logger
}

// NewLLMExecutor creates an executor backed by cfg.LLM.
func NewLLMExecutor(cfg Config) (*LLMExecutor, error) {
	if cfg.LLM == nil {
		return nil, errors.New("underwriting: no LLM client configured")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMExecutor{
		client:      cfg.LLM,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		system:      SystemPrompt(),
		logger:      logger,
	}, nil
}

// Execute renders the stage prompt, asks the model for output matching the
// stage schema (plus an explanation when the stage records one) and splits
// the explanation off the answer.
//
// Transient provider failures are recoverable; anything else the provider
// rejects is not.
func (x *LLMExecutor) Execute(ctx context.Context, d pipeline.Descriptor, input json.RawMessage) (pipeline.Output, error) {
	prompt, err := RenderPrompt(d.Name, input, d.Explains())
	if err != nil {
		return pipeline.Output{}, pipeline.NonRecoverableError(err)
	}
	schema := d.Schema
	if d.Explains() {
		if schema, err = withExplanation(d.Schema); err != nil {
			return pipeline.Output{}, pipeline.NonRecoverableError(err)
		}
	}

	res, err := x.client.Chat(ctx, &providers.ChatRequest{
		Messages:       []providers.Message{providers.System(x.system), providers.User(prompt)},
		Model:          x.model,
		Temperature:    x.temperature,
		ResponseFormat: &providers.ResponseFormat{Name: d.Name, Schema: schema},
	})
	if err != nil {
		x.logger.Warn("stage LLM call failed", "stage", d.Name, "provider", x.client.Name(), "error", err)
		if providers.IsTransient(err) {
			return pipeline.Output{}, pipeline.RecoverableError(err)
		}
		return pipeline.Output{}, pipeline.NonRecoverableError(err)
	}

	value, explanation, err := splitExplanation(res.ParsedJSON, d.Explains())
	if err != nil {
		return pipeline.Output{}, pipeline.RecoverableError(err)
	}
	return pipeline.Output{
		Value:       value,
		Explanation: explanation,
		Usage: &pipeline.Usage{
			Provider:         res.Provider,
			Model:            res.ModelUsed,
			PromptTokens:     res.PromptTokens,
			CompletionTokens: res.CompletionTokens,
			CostUSD:          res.CostUSD,
		},
	}, nil
}

// withExplanation extends an output schema with a required explanation string.
func withExplanation(schema json.RawMessage) (json.RawMessage, error) {
	var root map[string]any
	if err := json.Unmarshal(schema, &root); err != nil {
		return nil, fmt.Errorf("decode stage schema: %w", err)
	}
	props, _ := root["properties"].(map[string]any)
	if props == nil {
		props = map[string]any{}
	}
	props["explanation"] = map[string]any{"type": "string"}
	root["properties"] = props

	required, _ := root["required"].([]any)
	root["required"] = append(required, "explanation")
	return json.Marshal(root)
}

// splitExplanation removes the explanation from a model answer.
func splitExplanation(parsed json.RawMessage, explains bool) (json.RawMessage, *string, error) {
	if !explains {
		return parsed, nil, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(parsed, &fields); err != nil {
		return nil, nil, fmt.Errorf("decode model answer: %w", err)
	}
	var explanation *string
	if raw, ok := fields["explanation"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, nil, fmt.Errorf("decode explanation: %w", err)
		}
		explanation = &s
		delete(fields, "explanation")
	}
	value, err := json.Marshal(fields)
	if err != nil {
		return nil, nil, err
	}
	return value, explanation, nil
}
