package provider

import (
	"errors"
	"fmt"

	"github.com/mikpoly2/polymarket-grapher/internal/httpx"
)

// ErrSource matches every *SourceError and *UnsupportedInstrumentError via errors.Is.
var ErrSource = errors.New("source error")

// maxBody is the longest upstream payload kept on a SourceError.
const maxBody = 256

// SourceError reports an upstream that was unreachable, answered with a
// non-success status, or returned nothing usable.
type SourceError struct {
	Provider string
	Op       string // e.g. "fetch klines"
	Status   int    // 0 when no HTTP response was received
	Body     string
	Err      error
}

// NewSourceError builds a SourceError, truncating body to a short diagnostic.
func NewSourceError(providerName, op string, status int, body []byte, err error) *SourceError {
	return &SourceError{Provider: providerName, Op: op, Status: status, Body: Truncate(body), Err: err}
}

func (e *SourceError) Error() string {
	msg := e.Provider + ": " + e.Op
	if e.Status != 0 {
		msg += fmt.Sprintf(": http %d", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *SourceError) Unwrap() error { return e.Err }

func (e *SourceError) Is(target error) bool { return target == ErrSource }

// UnsupportedInstrumentError means the provider has no mapping for the symbol/token.
type UnsupportedInstrumentError struct {
	Provider   string
	Instrument string
}

func (e *UnsupportedInstrumentError) Error() string {
	return fmt.Sprintf("%s: unsupported instrument %q", e.Provider, e.Instrument)
}

func (e *UnsupportedInstrumentError) Is(target error) bool { return target == ErrSource }

// InvalidRangeError means the requested range has End <= Start.
type InvalidRangeError struct {
	Start int64
	End   int64
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid time range: end %d must be after start %d", e.End, e.Start)
}

// Truncate shortens an upstream payload for inclusion in error messages.
func Truncate(b []byte) string {
	if len(b) > maxBody {
		return string(b[:maxBody]) + "..."
	}
	return string(b)
}

// WrapHTTP converts a transport/status error from httpx into a *SourceError.
func WrapHTTP(providerName, op string, err error) *SourceError {
	var statusErr *httpx.StatusError
	if errors.As(err, &statusErr) {
		return NewSourceError(providerName, op, statusErr.Code, statusErr.Body, nil)
	}
	return NewSourceError(providerName, op, 0, nil, err)
}
