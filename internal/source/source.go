// Package source fetches raw aircraft state batches from upstream feeds.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"flight_tracker/internal/flight"
	"flight_tracker/internal/normalize"
)

// Batch is the result of one fetch. Records still need normalising with
// Source's adapter; Flights are already canonical and pass straight through.
type Batch struct {
	Source  normalize.Source
	Records []normalize.Raw
	Flights []flight.Flight
}

// Len returns the number of entries in the batch.
func (b Batch) Len() int {
	return len(b.Records) + len(b.Flights)
}

// Fetcher produces one batch per call.
type Fetcher interface {
	Fetch(ctx context.Context) (Batch, error)
}

// ErrFetch matches any *FetchError.
var ErrFetch = errors.New("upstream fetch failed")

// FetchError reports a failed upstream request. Status is zero for transport
// and decode failures.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrFetch.
func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// Retryable reports whether the next tick may succeed without operator
// action: rate limiting, server errors and transport failures.
func (e *FetchError) Retryable() bool {
	switch {
	case e.Status == 0:
		return true
	case e.Status == http.StatusTooManyRequests:
		return true
	case e.Status >= 500:
		return true
	}
	return false
}
