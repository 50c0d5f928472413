// Package errors provides standardized error types for the grabber pipeline.
package errors

import (
	"errors"
	"fmt"
)

// Error codes for the pipeline stages.
const (
	CodeTransportClient   = "TRANSPORT_CLIENT"
	CodeTransportServer   = "TRANSPORT_SERVER"
	CodeTransportNetwork  = "TRANSPORT_NETWORK"
	CodePaginationOverrun = "PAGINATION_OVERRUN"
	CodeExtractionFailed  = "EXTRACTION_FAILED"
	CodeSchemaViolation   = "SCHEMA_VIOLATION"
	CodeConfigInvalid     = "CONFIGURATION_INVALID"
	CodeQueryNotFound     = "QUERY_NOT_FOUND"
	CodeWriteFailed       = "WRITE_FAILED"
	CodeCanceled          = "CANCELED"
	CodeInternal          = "INTERNAL_ERROR"
)

// Provenance identifies where in a run a value came from, for error
// attribution. Page and Record are -1 when not applicable.
type Provenance struct {
	Entity string `json:"entity,omitempty"`
	Page   int    `json:"page"`
	Record int    `json:"record"`
}

// NoProvenance is the zero coordinate for errors raised before any
// entity-scoped work happens.
var NoProvenance = Provenance{Page: -1, Record: -1}

// AtEntity returns a provenance scoped to an entity only.
func AtEntity(entity string) Provenance {
	return Provenance{Entity: entity, Page: -1, Record: -1}
}

// AtPage returns a provenance scoped to one page of an entity's stream.
func AtPage(entity string, page int) Provenance {
	return Provenance{Entity: entity, Page: page, Record: -1}
}

// AtRecord returns a fully qualified provenance.
func AtRecord(entity string, page, record int) Provenance {
	return Provenance{Entity: entity, Page: page, Record: record}
}

func (p Provenance) String() string {
	switch {
	case p.Entity == "":
		return "(run)"
	case p.Page < 0:
		return fmt.Sprintf("entity=%s", p.Entity)
	case p.Record < 0:
		return fmt.Sprintf("entity=%s page=%d", p.Entity, p.Page)
	default:
		return fmt.Sprintf("entity=%s page=%d record=%d", p.Entity, p.Page, p.Record)
	}
}

// GrabError is the error type used across the pipeline. It carries a stable
// code, a human message, the provenance of the failing value, and the
// underlying cause.
type GrabError struct {
	Code       string     `json:"code"`
	Message    string     `json:"message"`
	Provenance Provenance `json:"provenance"`
	Cause      error      `json:"-"`
}

// Error implements the error interface.
func (e *GrabError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Provenance.Entity != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Provenance)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (caused by: %v)", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *GrabError) Unwrap() error {
	return e.Cause
}

// Is matches on code so callers can compare against sentinel errors.
func (e *GrabError) Is(target error) bool {
	t, ok := target.(*GrabError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithProvenance returns a copy of the error pinned to the given coordinates.
func (e *GrabError) WithProvenance(p Provenance) *GrabError {
	clone := *e
	clone.Provenance = p
	return &clone
}

// New creates a new GrabError with the given code and message.
func New(code, message string) *GrabError {
	return &GrabError{Code: code, Message: message, Provenance: NoProvenance}
}

// Newf creates a new GrabError with a formatted message.
func Newf(code, format string, args ...interface{}) *GrabError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an error with a GrabError. Returns nil when err is nil.
func Wrap(err error, code, message string) *GrabError {
	if err == nil {
		return nil
	}
	return &GrabError{Code: code, Message: message, Provenance: NoProvenance, Cause: err}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code, format string, args ...interface{}) *GrabError {
	if err == nil {
		return nil
	}
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// Code extracts the error code, or CodeInternal for foreign errors.
func Code(err error) string {
	var ge *GrabError
	if errors.As(err, &ge) {
		return ge.Code
	}
	return CodeInternal
}

// ProvenanceOf extracts the provenance attached to an error, if any.
func ProvenanceOf(err error) (Provenance, bool) {
	var ge *GrabError
	if errors.As(err, &ge) {
		return ge.Provenance, true
	}
	return NoProvenance, false
}

// IsTransport checks whether an error belongs to any transport class.
func IsTransport(err error) bool {
	switch Code(err) {
	case CodeTransportClient, CodeTransportServer, CodeTransportNetwork:
		return true
	}
	return false
}

// IsConfiguration checks for QuerySpec or runtime configuration errors.
func IsConfiguration(err error) bool {
	c := Code(err)
	return c == CodeConfigInvalid || c == CodeQueryNotFound
}

// IsSchemaViolation checks for per-row typing failures.
func IsSchemaViolation(err error) bool {
	return Code(err) == CodeSchemaViolation
}

// IsExtraction checks for structural extraction failures.
func IsExtraction(err error) bool {
	return Code(err) == CodeExtractionFailed
}

// IsOverrun checks for pagination safety-cap failures.
func IsOverrun(err error) bool {
	return Code(err) == CodePaginationOverrun
}
