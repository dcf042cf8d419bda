package hub

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackzampolin/underwrite/internal/engine"
	"github.com/jackzampolin/underwrite/internal/jobs"
	"github.com/jackzampolin/underwrite/internal/pipeline"
	"github.com/jackzampolin/underwrite/internal/store"
)

// Client request types.
const (
	ReqSubscribe       = "subscribe"
	ReqSetPage         = "set_page"
	ReqSetLiveMode     = "set_live_mode"
	ReqMarkSeen        = "mark_seen"
	ReqGetDocument     = "get_document"
	ReqEditStageOutput = "edit_stage_output"
	ReqRerunFromStage  = "rerun_from_stage"
	ReqContinue        = "continue"
)

// Hub message types.
const (
	MsgDataUpdate       = "data_update"
	MsgProcessingUpdate = "processing_update"
	MsgDocumentDetail   = "document_detail"
	MsgAck              = "ack"
	MsgError            = "error"
)

// Error codes sent in error messages.
const (
	CodeInvalidRequest   = "invalid_request"
	CodeSchemaInvalid    = "schema_invalid"
	CodeRevisionConflict = "revision_conflict"
	CodeStaleAdvance     = "stale_advance"
	CodeNotFound         = "not_found"
	CodeQueueFull        = "queue_full"
	CodeUnavailable      = "unavailable"
	CodeInternal         = "internal"
)

// Request is a message from a client. Which fields matter depends on Type.
type Request struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`

	// Page and PageSize are pointers so an explicit 0 is rejected rather
	// than read as absent.
	Page     *int  `json:"page,omitempty"`
	PageSize *int  `json:"page_size,omitempty"`
	LiveMode *bool `json:"live_mode,omitempty"`

	DocumentID       string          `json:"document_id,omitempty"`
	Stage            StageRef        `json:"stage,omitempty"`
	Output           json.RawMessage `json:"output,omitempty"`
	ExpectedRevision *int64          `json:"expected_revision,omitempty"`
}

// StageRef names a stage by index or by name. It accepts a JSON number or
// string.
type StageRef string

func (s *StageRef) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*s = StageRef(strconv.Itoa(n))
		return nil
	}
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return errors.New("stage must be an index or a name")
	}
	*s = StageRef(strings.TrimSpace(name))
	return nil
}

// Pagination describes the page carried by a data update.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalPages int `json:"total_pages"`
	TotalCount int `json:"total_count"`
}

// DataUpdate carries one dashboard page.
type DataUpdate struct {
	Type       string     `json:"type"`
	Records    []any      `json:"records"`
	Pagination Pagination `json:"pagination"`
	LiveMode   bool       `json:"live_mode"`
}

// ProcessingUpdate reports a document starting or stopping processing.
type ProcessingUpdate struct {
	Type       string `json:"type"`
	DocumentID string `json:"document_id"`
	Processing bool   `json:"processing"`
	Error      string `json:"error,omitempty"`
}

// DocumentDetail carries one full document record.
type DocumentDetail struct {
	Type     string         `json:"type"`
	Document store.Document `json:"document"`
}

// Ack confirms a request that changed or queued a change to a document.
type Ack struct {
	Type       string `json:"type"`
	RequestID  string `json:"request_id,omitempty"`
	Request    string `json:"request"`
	DocumentID string `json:"document_id,omitempty"`
	Revision   int64  `json:"revision"`
}

// ErrorMessage reports a rejected request to the client that sent it.
type ErrorMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// Message is an encoded hub message waiting in an outbox.
type Message struct {
	Type string
	Body json.RawMessage
}

func encode(typ string, v any) (Message, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: typ, Body: body}, nil
}

// Record is the default dashboard projection of a document.
type Record struct {
	ID           string       `json:"id"`
	DisplayID    string       `json:"display_id"`
	Sender       string       `json:"sender"`
	Subject      string       `json:"subject"`
	ReceivedAt   time.Time    `json:"received_at"`
	Status       store.Status `json:"status"`
	CurrentStage int          `json:"current_stage"`
	Revision     int64        `json:"revision"`
	Seen         bool         `json:"seen"`
	Error        string       `json:"error,omitempty"`
}

// DefaultProject projects a document without any stage-specific fields.
func DefaultProject(doc store.Document) any {
	return Record{
		ID:           doc.ID,
		DisplayID:    DisplayID(doc.ID),
		Sender:       doc.Metadata.Sender,
		Subject:      doc.Metadata.Subject,
		ReceivedAt:   doc.Metadata.ReceivedAt,
		Status:       doc.Status,
		CurrentStage: doc.CurrentStage,
		Revision:     doc.Revision,
		Seen:         doc.Seen,
		Error:        doc.Error,
	}
}

// DisplayID shortens a document id for display: its last eight characters.
func DisplayID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[len(id)-8:]
}

// ErrorCode maps a request failure to the code the client sees.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, pipeline.ErrSchemaInvalid):
		return CodeSchemaInvalid
	case errors.Is(err, store.ErrRevisionConflict):
		return CodeRevisionConflict
	case errors.Is(err, engine.ErrStaleAdvance):
		return CodeStaleAdvance
	case errors.Is(err, store.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, jobs.ErrWorkerQueueFull):
		return CodeQueueFull
	case errors.Is(err, engine.ErrLockTimeout), errors.Is(err, jobs.ErrPoolStopped), errors.Is(err, ErrNoController):
		return CodeUnavailable
	case errors.Is(err, engine.ErrInvalidStage), errors.Is(err, engine.ErrStageGap),
		errors.Is(err, pipeline.ErrStageNotFound), errors.Is(err, ErrBadRequest),
		errors.Is(err, store.ErrInvalidPage), errors.Is(err, store.ErrInvalidPageSize):
		return CodeInvalidRequest
	}
	return CodeInternal
}

// requestDestined reports whether err belongs to the requester rather than
// to the document.
func requestDestined(err error) bool {
	return ErrorCode(err) != CodeInternal
}
