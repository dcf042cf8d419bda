// Package metrics records one row per stage run: how long it took, how it
// ended and what the provider charged.
package metrics

import "time"

// Outcome is how a stage run ended.
type Outcome string

const (
	OutcomeCompleted      Outcome = "completed"
	OutcomeRecoverable    Outcome = "recoverable"
	OutcomeNonRecoverable Outcome = "non_recoverable"
)

// Metric is a single stage run.
type Metric struct {
	DocumentID string  `json:"doc_id"`
	Stage      string  `json:"stage"`
	Outcome    Outcome `json:"outcome"`

	Duration time.Duration `json:"duration"`

	Provider         string  `json:"provider,omitempty"`
	Model            string  `json:"model,omitempty"`
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
	CostUSD          float64 `json:"cost_usd,omitempty"`

	Error string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ToMap converts the metric to a StageMetric row.
func (m *Metric) ToMap() map[string]any {
	data := map[string]any{
		"doc_id":      m.DocumentID,
		"stage":       m.Stage,
		"outcome":     string(m.Outcome),
		"duration_ms": m.Duration.Milliseconds(),
		"created_at":  m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}

	if m.Provider != "" {
		data["provider"] = m.Provider
	}
	if m.Model != "" {
		data["model"] = m.Model
	}
	if m.PromptTokens > 0 {
		data["prompt_tokens"] = m.PromptTokens
	}
	if m.CompletionTokens > 0 {
		data["completion_tokens"] = m.CompletionTokens
	}
	if m.CostUSD > 0 {
		data["cost_usd"] = m.CostUSD
	}
	if m.Error != "" {
		data["error"] = m.Error
	}
	return data
}
