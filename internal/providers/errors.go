package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrTransient marks failures worth retrying later: rate limits, 5xx
	// responses, network trouble, unparseable structured output.
	ErrTransient = errors.New("transient provider error")

	// ErrProviderNotFound is returned by Registry lookups.
	ErrProviderNotFound = errors.New("provider not found")

	// ErrNotConfigured is returned when a provider lacks credentials.
	ErrNotConfigured = errors.New("provider not configured")
)

// transient wraps err with ErrTransient.
func transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// classifyStatus wraps err as transient for 408, 429 and 5xx.
func classifyStatus(status int, err error) error {
	if status == 408 || status == 429 || status >= 500 {
		return transient(err)
	}
	return err
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
