package records

import (
	"errors"
	"fmt"
)

// ErrCacheMiss is returned by cache stores when a key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// Error is a classified pipeline failure. All stage errors that end up in a
// run summary are of this type so the orchestrator can attach them without
// re-deriving their kind.
type Error struct {
	Kind     ErrorKind
	SourceID string
	Request  string
	RecordID string
	Retries  int
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// ToCollectionError converts the error to its run-summary form.
func (e *Error) ToCollectionError() CollectionError {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return CollectionError{
		SourceID: e.SourceID,
		Request:  e.Request,
		RecordID: e.RecordID,
		Kind:     e.Kind,
		Message:  msg,
		Retries:  e.Retries,
		Terminal: true,
	}
}

// NewFetchFailed wraps a terminal fetch failure after retries exhausted.
func NewFetchFailed(sourceID, request string, retries int, err error) *Error {
	return &Error{Kind: KindFetchFailed, SourceID: sourceID, Request: request, Retries: retries, Err: err}
}

// NewUnexpectedFormat wraps a response media type mismatch.
func NewUnexpectedFormat(sourceID, request string, err error) *Error {
	return &Error{Kind: KindUnexpectedFormat, SourceID: sourceID, Request: request, Err: err}
}

// NewCorruptDocument wraps a structurally invalid extraction input.
func NewCorruptDocument(sourceID, request string, err error) *Error {
	return &Error{Kind: KindCorruptDocument, SourceID: sourceID, Request: request, Err: err}
}

// NewValidationError wraps a missing/invalid required normalized field.
func NewValidationError(sourceID, recordID string, err error) *Error {
	return &Error{Kind: KindValidationError, SourceID: sourceID, RecordID: recordID, Err: err}
}

// NewCacheConsistencyFault wraps a differing-payload write to an existing key.
func NewCacheConsistencyFault(key CacheKey, err error) *Error {
	return &Error{Kind: KindCacheConsistencyFault, Request: string(key), Err: err}
}

// IsKind reports whether err carries the given classification.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
