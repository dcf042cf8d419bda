package store

import (
	"encoding/json"
	"time"

	"github.com/jackzampolin/underwrite/internal/pipeline"
)

// Status is the processing status of a document.
type Status string

const (
	StatusPending             Status = "pending"
	StatusProcessing          Status = "processing"
	StatusCompleted           Status = "completed"
	StatusFailed              Status = "failed"
	StatusRequiresHumanReview Status = "requires_human_review"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusRequiresHumanReview:
		return true
	}
	return false
}

// DefaultRecipient is used when an inbound document does not name one.
const DefaultRecipient = "underwriting@insurance.com"

// Attachment is a file that arrived with a document.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Pages       int    `json:"pages,omitempty"`
	URI         string `json:"uri"`
}

// Metadata is the immutable inbound content of a document.
type Metadata struct {
	Sender      string       `json:"sender"`
	Recipient   string       `json:"recipient"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	ReceivedAt  time.Time    `json:"received_at"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// StageOutput is the recorded result of one stage.
type StageOutput struct {
	Stage       string          `json:"stage"`
	Input       json.RawMessage `json:"input,omitempty"`
	Output      json.RawMessage `json:"output"`
	Explanation *string         `json:"explanation,omitempty"`
	Edited      bool            `json:"edited,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Document is one inbound item moving through the pipeline.
//
// Stages has one slot per stage; a nil slot is undefined. Every slot before
// CurrentStage is defined and every slot after it is nil.
type Document struct {
	ID           string         `json:"id"`
	Metadata     Metadata       `json:"metadata"`
	Status       Status         `json:"status"`
	CurrentStage int            `json:"current_stage"`
	Stages       []*StageOutput `json:"stages"`
	Revision     int64          `json:"revision"`
	Seen         bool           `json:"seen"`

	Error               string     `json:"error,omitempty"`
	ReviewReason        string     `json:"review_reason,omitempty"`
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`
	ProcessingEndedAt   *time.Time `json:"processing_ended_at,omitempty"`
	ProcessingMillis    int64      `json:"processing_ms,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	c := d
	if d.Metadata.Attachments != nil {
		c.Metadata.Attachments = append([]Attachment(nil), d.Metadata.Attachments...)
	}
	if d.Stages != nil {
		c.Stages = make([]*StageOutput, len(d.Stages))
		for i, s := range d.Stages {
			if s != nil {
				c.Stages[i] = s.clone()
			}
		}
	}
	c.ProcessingStartedAt = cloneTime(d.ProcessingStartedAt)
	c.ProcessingEndedAt = cloneTime(d.ProcessingEndedAt)
	return c
}

func (s *StageOutput) clone() *StageOutput {
	c := *s
	c.Input = append(json.RawMessage(nil), s.Input...)
	c.Output = append(json.RawMessage(nil), s.Output...)
	if s.Explanation != nil {
		e := *s.Explanation
		c.Explanation = &e
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Defined reports whether stage i has an output.
func (d *Document) Defined(i int) bool {
	return i >= 0 && i < len(d.Stages) && d.Stages[i] != nil
}

// FirstUndefined returns the index of the first stage without output, or
// len(Stages) when every stage is defined.
func (d *Document) FirstUndefined() int {
	for i, s := range d.Stages {
		if s == nil {
			return i
		}
	}
	return len(d.Stages)
}

// ClearFrom undefines every stage at index >= i and reports whether any
// slot was actually cleared.
func (d *Document) ClearFrom(i int) bool {
	if i < 0 {
		i = 0
	}
	cleared := false
	for j := i; j < len(d.Stages); j++ {
		if d.Stages[j] != nil {
			d.Stages[j] = nil
			cleared = true
		}
	}
	return cleared
}

// Fields returns the document fields stage inputs may reference.
func (d *Document) Fields() map[string]string {
	return map[string]string{
		"sender":    d.Metadata.Sender,
		"recipient": d.Metadata.Recipient,
		"subject":   d.Metadata.Subject,
		"body":      d.Metadata.Body,
	}
}

// Source returns the input resolution state for d.
func (d *Document) Source() pipeline.Source {
	outputs := make(map[string]json.RawMessage, len(d.Stages))
	for _, s := range d.Stages {
		if s != nil {
			outputs[s.Stage] = s.Output
		}
	}
	return pipeline.Source{Fields: d.Fields(), Outputs: outputs}
}

// Output returns the output of the named stage, or nil.
func (d *Document) Output(stage string) json.RawMessage {
	for _, s := range d.Stages {
		if s != nil && s.Stage == stage {
			return s.Output
		}
	}
	return nil
}

// normalize pads or trims Stages to n slots.
func (d *Document) normalize(n int) {
	switch {
	case len(d.Stages) < n:
		stages := make([]*StageOutput, n)
		copy(stages, d.Stages)
		d.Stages = stages
	case len(d.Stages) > n:
		d.Stages = d.Stages[:n]
	}
	if d.CurrentStage >= n && n > 0 {
		d.CurrentStage = n - 1
	}
	if d.CurrentStage < 0 {
		d.CurrentStage = 0
	}
}
