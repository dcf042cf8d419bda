// Package blob stores email attachments outside the document record.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

var (
	// ErrExists is returned when writing a key that is already stored.
	ErrExists = errors.New("blob already exists")
	// ErrNotFound is returned when reading a key that is not stored.
	ErrNotFound = errors.New("blob not found")
	// ErrInvalidKey is returned for keys that escape the store root.
	ErrInvalidKey = errors.New("invalid blob key")
)

// Store is write-once object storage keyed by slash-separated paths.
type Store interface {
	// Put writes r under key and returns the object URI. Writing an existing
	// key fails with ErrExists and leaves the stored object untouched.
	Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	// Open reads the object under key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Key joins parts into a clean object key.
func Key(parts ...string) (string, error) {
	key := path.Join(parts...)
	if key == "" || key == "." || strings.HasPrefix(key, "/") || key == ".." || strings.HasPrefix(key, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return key, nil
}
