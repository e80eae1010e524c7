package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNotFound indicates the task id is unknown to the store.
	ErrNotFound = errors.New("task not found")
	// ErrEmptyResponse is returned when the generation service produced no
	// candidate text.
	ErrEmptyResponse = errors.New("generation service returned no candidates")
)

// UpstreamError reports a generation service that was unreachable or answered
// with a non-2xx status. StatusCode is zero for transport failures.
type UpstreamError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("generation service unreachable: %v", e.Err)
	}
	return fmt.Sprintf("generation service returned %d: %s", e.StatusCode, e.Body)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// MalformedIntentError reports model output that is not a single JSON object.
type MalformedIntentError struct {
	Raw string
	Err error
}

func (e *MalformedIntentError) Error() string {
	return fmt.Sprintf("malformed intent: %v", e.Err)
}

func (e *MalformedIntentError) Unwrap() error { return e.Err }

// InvalidIntentError reports a decoded intent that violates the intent schema.
// Raw holds the offending payload for diagnostics.
type InvalidIntentError struct {
	Reason string
	Raw    map[string]any
}

func (e *InvalidIntentError) Error() string {
	return "invalid intent: " + e.Reason
}

// StoreError reports a failed task store call. A 404 unwraps to ErrNotFound.
type StoreError struct {
	Op         string
	ID         string
	StatusCode int
	Body       string
	Err        error
}

func (e *StoreError) Error() string {
	var b strings.Builder
	b.WriteString("store ")
	b.WriteString(e.Op)
	if e.ID != "" {
		b.WriteString(" ")
		b.WriteString(e.ID)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Body != "" {
		b.WriteString(": ")
		b.WriteString(e.Body)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *StoreError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return e.Err
}

// PartialBulkFailure reports the subset of a bulk update that failed. The
// succeeded ids keep their new values.
type PartialBulkFailure struct {
	Total  int
	Failed []string
	Errs   map[string]error
}

func (e *PartialBulkFailure) Error() string {
	return fmt.Sprintf("bulk update failed for %d of %d tasks", len(e.Failed), e.Total)
}

// IsNotFound reports whether err means the task does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
