// Package relay forwards emails dropped into a Cloud Storage bucket to the
// underwrite server.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"github.com/avast/retry-go/v4"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/jackzampolin/underwrite/internal/api"
	"github.com/jackzampolin/underwrite/internal/blob"
	"github.com/jackzampolin/underwrite/internal/ingest"
)

// GCSEvent is the data of a storage object finalize event.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// OpenFunc reads an object.
type OpenFunc func(ctx context.Context, bucket, name string) (io.ReadCloser, error)

// Config configures a Relay.
type Config struct {
	// Client posts to the server.
	Client *api.Client
	// Open reads the finalized object. Defaults to Cloud Storage on Storage.
	Open    OpenFunc
	Storage *storage.Client

	Attempts uint
	Delay    time.Duration
	Logger   *slog.Logger
}

// Relay handles object finalize events.
type Relay struct {
	client   *api.Client
	open     OpenFunc
	attempts uint
	delay    time.Duration
	logger   *slog.Logger
}

// Created is the server's answer to a forwarded email.
type Created struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// New creates a relay.
func New(cfg Config) (*Relay, error) {
	if cfg.Client == nil {
		return nil, errors.New("relay: api client is required")
	}
	open := cfg.Open
	if open == nil {
		if cfg.Storage == nil {
			return nil, errors.New("relay: storage client or open func is required")
		}
		sc := cfg.Storage
		open = func(ctx context.Context, bucket, name string) (io.ReadCloser, error) {
			return blob.NewGCSWithClient(sc, bucket, "").Open(ctx, name)
		}
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 5
	}
	if cfg.Delay == 0 {
		cfg.Delay = 500 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{client: cfg.Client, open: open, attempts: cfg.Attempts, delay: cfg.Delay, logger: logger}, nil
}

// Handle forwards the object named by e. Objects that are not JSON emails
// or that the server rejects outright are logged and acknowledged so the
// event is not redelivered; transient failures are returned.
func (r *Relay) Handle(ctx context.Context, e cloudevents.Event) error {
	var ev GCSEvent
	if err := json.Unmarshal(e.Data(), &ev); err != nil {
		r.logger.Error("failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return nil
	}
	log := r.logger.With("bucket", ev.Bucket, "object", ev.Name, "event_id", e.ID())

	if path.Ext(ev.Name) != ".json" {
		log.Info("skipping non-JSON object")
		return nil
	}

	upload, err := r.read(ctx, ev)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) || errors.Is(err, ingest.ErrInvalidUpload) {
			log.Warn("dropping object", "error", err)
			return nil
		}
		return err
	}

	created, err := r.forward(ctx, upload)
	if err != nil {
		var se *api.StatusError
		if errors.As(err, &se) && !se.Temporary() {
			log.Warn("server rejected email", "status", se.Code, "error", se.Message)
			return nil
		}
		log.Error("forward failed", "error", err)
		return err
	}
	log.Info("email forwarded", "document_id", created.ID)
	return nil
}

func (r *Relay) read(ctx context.Context, ev GCSEvent) (ingest.Upload, error) {
	rc, err := r.open(ctx, ev.Bucket, ev.Name)
	if err != nil {
		return ingest.Upload{}, fmt.Errorf("open %s/%s: %w", ev.Bucket, ev.Name, err)
	}
	defer rc.Close()

	var u ingest.Upload
	if err := json.NewDecoder(io.LimitReader(rc, ingest.DefaultMaxBytes)).Decode(&u); err != nil {
		return u, fmt.Errorf("%w: %s: %v", ingest.ErrInvalidUpload, ev.Name, err)
	}
	return u, nil
}

func (r *Relay) forward(ctx context.Context, u ingest.Upload) (Created, error) {
	var created Created
	err := retry.Do(
		func() error {
			return r.client.Post(ctx, "/api/documents", u, &created)
		},
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.Delay(r.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(func(err error) bool {
			var se *api.StatusError
			return !errors.As(err, &se) || se.Temporary()
		}),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Debug("retrying forward", "attempt", n+1, "error", err)
		}),
		retry.LastErrorOnly(true),
	)
	return created, err
}
