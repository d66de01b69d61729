// Package detect finds PII candidates in a text buffer, either with the
// built-in pattern matcher or through a remote detection service.
package detect

import (
	"context"

	"github.com/antoniostano/piiguard/internal/pii"
)

// Detector returns the ranked, deduplicated entities found in text.
type Detector interface {
	Detect(ctx context.Context, text string) ([]pii.Entity, error)
}

// Options tunes the local pattern matcher.
type Options struct {
	// Heuristics enables the loose ADDRESS and NAME matchers.
	Heuristics bool
}

// DefaultOptions enables every matcher.
func DefaultOptions() Options {
	return Options{Heuristics: true}
}

// Request is the remote detector request body.
type Request struct {
	Text string `json:"text"`
}

// Response is the remote detector response body.
type Response struct {
	Entities []pii.Entity `json:"entities"`
}
