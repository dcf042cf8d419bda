package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GCS stores blobs in a Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCS creates a store on bucket using application default credentials.
// prefix, if set, is prepended to every key.
func NewGCS(ctx context.Context, bucket, prefix string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}
	return NewGCSWithClient(client, bucket, prefix), nil
}

// NewGCSWithClient wraps an existing storage client.
func NewGCSWithClient(client *storage.Client, bucket, prefix string) *GCS {
	return &GCS{client: client, bucket: bucket, prefix: prefix}
}

func (g *GCS) object(key string) (*storage.ObjectHandle, string, error) {
	name, err := Key(g.prefix, key)
	if err != nil {
		return nil, "", err
	}
	return g.client.Bucket(g.bucket).Object(name), name, nil
}

// Put writes the object only if it does not already exist.
func (g *GCS) Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	obj, name, err := g.object(key)
	if err != nil {
		return "", err
	}
	w := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", g.mapError(key, err)
	}
	if err := w.Close(); err != nil {
		return "", g.mapError(key, err)
	}
	return fmt.Sprintf("gs://%s/%s", g.bucket, name), nil
}

// Open reads the object under key.
func (g *GCS) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, _, err := g.object(key)
	if err != nil {
		return nil, err
	}
	rc, err := obj.NewReader(ctx)
	if err != nil {
		return nil, g.mapError(key, err)
	}
	return rc, nil
}

// Close releases the storage client.
func (g *GCS) Close() error {
	return g.client.Close()
}

func (g *GCS) mapError(key string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
		return fmt.Errorf("%w: %s", ErrExists, key)
	}
	return fmt.Errorf("gcs %s/%s: %w", g.bucket, key, err)
}
