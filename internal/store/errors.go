package store

import (
	"errors"
	"fmt"
)

// Sentinel errors for the store package.
var (
	ErrNotFound         = errors.New("document not found")
	ErrExists           = errors.New("document already exists")
	ErrRevisionConflict = errors.New("revision conflict")
	ErrInvalidPage      = errors.New("page must be >= 1")
	ErrInvalidPageSize  = errors.New("page size must be >= 1")
	ErrInvalidDocument  = errors.New("invalid document")
)

// ConflictError reports an expected-revision mismatch.
type ConflictError struct {
	Expected int64
	Current  int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("revision conflict: expected %d, current %d", e.Expected, e.Current)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrRevisionConflict
}
