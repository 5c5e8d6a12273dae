// Package fetch defines the capability seam between the scrape worker and
// the underlying browser-automation engine.
package fetch

import (
	"context"
	"errors"
	"fmt"

	"github.com/maltedev/jewelry-scraper/internal/identity"
)

// Kind classifies a fetch failure and drives the worker's recovery policy.
type Kind int

const (
	// KindTransient failures (timeouts, resets, half-rendered pages) are
	// retried with backoff and a fresh identity.
	KindTransient Kind = iota
	// KindStructural failures mean the page is reachable but the expected
	// data is absent; the worker abandons the subcategory.
	KindStructural
	// KindFatal failures mean the underlying session is unusable; the whole
	// task fails.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindStructural:
		return "structural"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps a fetch failure with its classification.
type Error struct {
	Kind Kind
	URL  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s fetch error for %s: %v", e.Kind, e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient builds a transient fetch error.
func Transient(url string, err error) *Error {
	return &Error{Kind: KindTransient, URL: url, Err: err}
}

// Structural builds a structural fetch error.
func Structural(url string, err error) *Error {
	return &Error{Kind: KindStructural, URL: url, Err: err}
}

// Fatal builds a fatal fetch error.
func Fatal(url string, err error) *Error {
	return &Error{Kind: KindFatal, URL: url, Err: err}
}

// KindOf returns the classification of err. Unclassified errors are treated
// as transient so the retry policy gets a chance before giving up.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindTransient
}

// Fetcher returns the rendered HTML of a URL, using the given identity for
// the outbound fingerprint.
type Fetcher interface {
	Fetch(ctx context.Context, url string, id identity.Identity) (string, error)
}
