// Package ai defines the port to the external bias analysis service.
package ai

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable indicates the service could not be reached or answered with a server error.
	ErrUnavailable = errors.New("ai service unavailable")
	// ErrQuotaExceeded indicates the provider returned a quota/limit error (HTTP 429 or similar).
	ErrQuotaExceeded = errors.New("ai quota exceeded")
	// ErrEmptyResponse indicates the provider returned no choices.
	ErrEmptyResponse = errors.New("ai response has no content")
)

// Client sends a prompt and returns the raw JSON object the service produced.
type Client interface {
	Analyze(ctx context.Context, prompt string) (string, error)
}
