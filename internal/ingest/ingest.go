// Package ingest turns incoming emails into pending documents and queues them
// for processing.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/jackzampolin/underwrite/internal/blob"
	"github.com/jackzampolin/underwrite/internal/engine"
	"github.com/jackzampolin/underwrite/internal/store"
)

const (
	// DefaultMaxBytes caps an upload, attachments included.
	DefaultMaxBytes = 5 << 20

	DefaultSubject = "No Subject"
	DefaultSender  = "unknown@example.com"
)

var (
	// ErrMissingBody is returned when an email has no content.
	ErrMissingBody = errors.New("email content missing")
	// ErrTooLarge is returned when an upload exceeds the size cap.
	ErrTooLarge = errors.New("upload too large")
	// ErrInvalidAttachment is returned for attachments that cannot be read.
	ErrInvalidAttachment = errors.New("invalid attachment")
)

// File is an attachment received with an email.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Request contains an email to ingest.
type Request struct {
	Sender      string
	Recipient   string
	Subject     string
	Body        string
	ReceivedAt  time.Time
	Attachments []File
}

// Queue runs documents through the pipeline in the background.
type Queue interface {
	Advance(id string, from int, done engine.DoneFunc) error
}

// Config configures a Service.
type Config struct {
	Store *store.Store
	// Blobs keeps attachments. Required only when emails carry attachments.
	Blobs  blob.Store
	Queue  Queue
	Logger *slog.Logger
}

// Service creates documents from incoming emails.
type Service struct {
	store  *store.Store
	blobs  blob.Store
	queue  Queue
	logger *slog.Logger
	newID  func() string
}

// New creates an ingest service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("ingest: store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  cfg.Store,
		blobs:  cfg.Blobs,
		queue:  cfg.Queue,
		logger: logger,
		newID:  func() string { return uuid.New().String() },
	}, nil
}

// Ingest stores the email as a pending document and queues it from the
// first stage. A document that was created but could not be queued is
// returned with the queue error; it stays pending and is picked up on the
// next resume.
func (s *Service) Ingest(ctx context.Context, req Request) (store.Document, error) {
	if strings.TrimSpace(req.Body) == "" {
		return store.Document{}, ErrMissingBody
	}
	if req.Subject == "" {
		req.Subject = DefaultSubject
	}
	if req.Sender == "" {
		req.Sender = DefaultSender
	}

	id := s.newID()
	log := s.logger.With("document_id", id)

	attachments, err := s.saveAttachments(ctx, id, req.Attachments)
	if err != nil {
		return store.Document{}, err
	}

	doc, err := s.store.Create(ctx, store.Document{
		ID: id,
		Metadata: store.Metadata{
			Sender:      req.Sender,
			Recipient:   req.Recipient,
			Subject:     req.Subject,
			Body:        req.Body,
			ReceivedAt:  req.ReceivedAt,
			Attachments: attachments,
		},
	})
	if err != nil {
		return store.Document{}, fmt.Errorf("create document: %w", err)
	}
	log.Info("email ingested", "sender", req.Sender, "attachments", len(attachments))

	if s.queue == nil {
		return doc, nil
	}
	err = s.queue.Advance(id, 0, func(res engine.Result, err error) {
		if err != nil {
			log.Warn("initial processing failed", "error", err)
		}
	})
	if err != nil {
		return doc, fmt.Errorf("queue %s: %w", id, err)
	}
	return doc, nil
}

// saveAttachments validates attachments and writes them to the blob store.
func (s *Service) saveAttachments(ctx context.Context, id string, files []File) ([]store.Attachment, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if s.blobs == nil {
		return nil, fmt.Errorf("%w: attachments are not accepted", ErrInvalidAttachment)
	}

	out := make([]store.Attachment, 0, len(files))
	for _, f := range files {
		name := path.Base(strings.ReplaceAll(f.Name, "\\", "/"))
		if name == "." || name == "/" || name == ".." {
			return nil, fmt.Errorf("%w: bad name %q", ErrInvalidAttachment, f.Name)
		}
		att := store.Attachment{Name: name, ContentType: f.ContentType, Size: int64(len(f.Data))}

		if isPDF(f) {
			pages, err := PageCount(f.Data)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAttachment, name, err)
			}
			att.Pages = pages
			att.ContentType = "application/pdf"
		}

		key, err := blob.Key(id, name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAttachment, err)
		}
		uri, err := s.blobs.Put(ctx, key, bytes.NewReader(f.Data), att.ContentType)
		if err != nil {
			return nil, fmt.Errorf("store attachment %s: %w", name, err)
		}
		att.URI = uri
		out = append(out, att)
	}
	return out, nil
}

func isPDF(f File) bool {
	return f.ContentType == "application/pdf" ||
		strings.EqualFold(path.Ext(f.Name), ".pdf") ||
		bytes.HasPrefix(f.Data, []byte("%PDF-"))
}

// PageCount returns the number of pages in a PDF.
func PageCount(data []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	return n, nil
}
