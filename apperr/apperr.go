// Package apperr models the error kinds shared across every component,
// independent of transport. Handlers at the HTTP and gateway boundary map a
// Kind to a status code or a channel close; internal callers switch on Kind
// to decide whether to retry.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a semantic error classification, not a Go type. Components return
// *Error values carrying a Kind so callers can branch without depending on
// the originating package.
type Kind string

const (
	ValidationFailed  Kind = "validation_failed"
	Unauthenticated   Kind = "unauthenticated"
	Forbidden         Kind = "forbidden"
	NotFound          Kind = "not_found"
	Conflict          Kind = "conflict"
	StorageError      Kind = "storage_error"
	MetadataError     Kind = "metadata_error"
	QueueError        Kind = "queue_error"
	BusError          Kind = "bus_error"
	Corruption        Kind = "corruption"
	Timeout           Kind = "timeout"
	ServiceOverloaded Kind = "service_overloaded"
)

// Error wraps an underlying cause with a Kind and an optional short,
// user-visible reason (e.g. "size" for an oversize upload).
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an *Error of the given kind with a short reason and no
// wrapped cause.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap attaches a kind and reason to an underlying error.
func Wrap(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to MetadataError for
// unclassified infrastructure errors since most unclassified failures in
// this codebase originate from the metadata store.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return MetadataError
}

// Retryable reports whether the error kind represents a transient
// infrastructure condition workers and the ingestion service should retry
// with bounded backoff.
func Retryable(err error) bool {
	switch KindOf(err) {
	case StorageError, MetadataError, QueueError, BusError, Timeout:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a Kind to the status code the HTTP surface returns.
func HTTPStatus(kind Kind) int {
	switch kind {
	case ValidationFailed:
		return http.StatusBadRequest
	case Unauthenticated:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case Timeout:
		return http.StatusGatewayTimeout
	case ServiceOverloaded:
		return http.StatusServiceUnavailable
	case StorageError, MetadataError, QueueError, BusError, Corruption:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
