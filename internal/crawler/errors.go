package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals that the requested document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrConstraintViolation signals an insert of a url that is already stored.
	ErrConstraintViolation = errors.New("document url already exists")
)

// NetworkError is a connection, DNS or timeout failure.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error fetching %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError is a non-2xx response.
type HTTPError struct {
	URL    string
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status %d fetching %s", e.Status, e.URL)
}

// ParseError means expected structure was absent from markup.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("parse markup: %v", e.Err)
	}
	return fmt.Sprintf("parse markup from %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ProviderError is a failed call to the enrichment provider.
type ProviderError struct {
	// Status is the provider's HTTP status, zero when the request never completed.
	Status int
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("enrichment provider error (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("enrichment provider error: %v", e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// MalformedResponseError means the provider answered but the section labels
// were missing or out of order.
type MalformedResponseError struct {
	Label string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed enrichment response: missing or misplaced %q section", e.Label)
}

// IsFetchFailure reports whether err came from the page fetcher.
func IsFetchFailure(err error) bool {
	var netErr *NetworkError
	var httpErr *HTTPError
	return errors.As(err, &netErr) || errors.As(err, &httpErr)
}
