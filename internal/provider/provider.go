package provider

import (
	"context"
	"fmt"
)

// Point is one observation of an instrument's price.
// Time is unix seconds (UTC).
type Point struct {
	Time  int64   `json:"t"`
	Price float64 `json:"p"`
}

// Series is a canonical price history: ascending, unique timestamps.
type Series []Point

// Query describes what to fetch. Prediction-market providers read Instrument
// and Fidelity; crypto providers read Instrument, Start and End.
type Query struct {
	Instrument string `json:"instrument"`
	Fidelity   int    `json:"fidelity,omitempty"` // minutes
	Start      int64  `json:"start,omitempty"`
	End        int64  `json:"end,omitempty"`
}

// Key returns the cache key for the query.
func (q Query) Key() string {
	if q.Start == 0 && q.End == 0 {
		return fmt.Sprintf("%s|f=%d", q.Instrument, q.Fidelity)
	}
	return fmt.Sprintf("%s|%d-%d", q.Instrument, q.Start, q.End)
}

// ValidateRange returns an *InvalidRangeError when End is not after Start.
func (q Query) ValidateRange() error {
	if q.End <= q.Start {
		return &InvalidRangeError{Start: q.Start, End: q.End}
	}
	return nil
}

type Provider interface {
	Name() string
	Fetch(ctx context.Context, q Query) (Series, error)
}
