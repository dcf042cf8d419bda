package ingest

import (
	"fmt"
	"net/http"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// EmailReceivedType is the CloudEvents type of an inbound email.
const EmailReceivedType = "com.underwrite.email.received"

// EmailEvent is the data of an EmailReceivedType event.
type EmailEvent struct {
	Sender     string    `json:"sender"`
	Recipient  string    `json:"recipient,omitempty"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// NewEvent wraps an email in a CloudEvent from source.
func NewEvent(source string, email EmailEvent) (cloudevents.Event, error) {
	e := cloudevents.NewEvent()
	e.SetID(uuid.New().String())
	e.SetSource(source)
	e.SetType(EmailReceivedType)
	e.SetTime(time.Now().UTC())
	if err := e.SetData(cloudevents.ApplicationJSON, email); err != nil {
		return e, fmt.Errorf("encode event data: %w", err)
	}
	return e, nil
}

// FromEvent converts an EmailReceivedType event to an ingest request.
func FromEvent(e cloudevents.Event) (Request, error) {
	if err := e.Validate(); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidUpload, err)
	}
	if e.Type() != EmailReceivedType {
		return Request{}, fmt.Errorf("%w: unexpected event type %q", ErrInvalidUpload, e.Type())
	}
	var email EmailEvent
	if err := e.DataAs(&email); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidUpload, err)
	}
	received := email.ReceivedAt
	if received.IsZero() {
		received = e.Time()
	}
	return Request{
		Sender:     email.Sender,
		Recipient:  email.Recipient,
		Subject:    email.Subject,
		Body:       email.Body,
		ReceivedAt: received.UTC(),
	}, nil
}

// ParseEvent reads a CloudEvent in binary or structured HTTP mode.
func ParseEvent(w http.ResponseWriter, r *http.Request, maxBytes int64) (Request, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	e, err := cloudevents.NewEventFromHTTPRequest(r)
	if err != nil {
		return Request{}, sizeError(err)
	}
	return FromEvent(*e)
}
