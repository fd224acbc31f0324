package source

import (
	"context"
	"time"

	"flight_tracker/internal/mock"
	"flight_tracker/internal/normalize"
)

// Mock serves synthetic flights from a generator.
type Mock struct {
	gen *mock.Generator
	now func() time.Time
}

// NewMock wraps gen as a Fetcher.
func NewMock(gen *mock.Generator) *Mock {
	return &Mock{gen: gen, now: time.Now}
}

// Fetch advances the fleet to the current time.
func (m *Mock) Fetch(ctx context.Context) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	return Batch{
		Source:  normalize.Source(mock.Source),
		Flights: m.gen.Advance(m.now()),
	}, nil
}
