// Package errors provides structured error handling for the draw API.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Draw request errors
	CodeDrawInvalidRange    Code = "DRAW_INVALID_RANGE"
	CodeDrawInvalidCount    Code = "DRAW_INVALID_COUNT"
	CodeDrawUniqueOverflow  Code = "DRAW_UNIQUE_EXCEEDS_RANGE"
	CodeDrawRangeTooWide    Code = "DRAW_RANGE_TOO_WIDE"

	// Chain session errors
	CodeSessionNotFound Code = "SESSION_NOT_FOUND"
	CodeSessionInvalid  Code = "SESSION_INVALID_ID"
)

// HTTPStatus maps an error code to the HTTP status the API surfaces.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeDrawInvalidRange, CodeDrawInvalidCount, CodeDrawUniqueOverflow,
		CodeDrawRangeTooWide, CodeSessionInvalid:
		return http.StatusBadRequest
	case CodeSessionNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
