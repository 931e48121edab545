// Package errors defines the error vocabulary of the task service's
// request surface: lookup misses, input validation, batch admission
// rejections, and internal faults. Each code carries the HTTP status
// the API answers with, so handlers never pick status codes ad hoc.
//
// Agent-side failure kinds (the classifier's closed set) are not part
// of this vocabulary: submission is fire-and-forget, so agent faults
// never surface synchronously — they land in a task's error_message
// and reach clients through the polling surface.
package errors

import (
	"fmt"
	"net/http"
)

// Code identifies a request-level failure class.
type Code string

const (
	CodeTaskNotFound          Code = "TASK_NOT_FOUND"
	CodeOrchestrationNotFound Code = "ORCHESTRATION_NOT_FOUND"
	CodeInvalidField          Code = "INVALID_FIELD"
	CodeMalformedRequest      Code = "MALFORMED_REQUEST"
	CodeAdmissionRejected     Code = "ADMISSION_REJECTED"
	CodeInternal              Code = "INTERNAL"
)

// httpStatus maps each code onto the status line of the response.
// Admission rejections (cycles, duplicate or unknown identifiers) are
// client errors: the batch itself is unacceptable, not the server.
var httpStatus = map[Code]int{
	CodeTaskNotFound:          http.StatusNotFound,
	CodeOrchestrationNotFound: http.StatusNotFound,
	CodeInvalidField:          http.StatusBadRequest,
	CodeMalformedRequest:      http.StatusBadRequest,
	CodeAdmissionRejected:     http.StatusBadRequest,
	CodeInternal:              http.StatusInternalServerError,
}

// Error is one request-level failure. It doubles as the JSON body of
// a non-2xx response. Field names the offending input on validation
// failures so machine clients can react per-field.
type Error struct {
	Code   Code   `json:"code"`
	Detail string `json:"detail"`
	Field  string `json:"field,omitempty"`
	cause  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Field, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// Unwrap exposes the underlying cause to errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.cause }

// Status returns the HTTP status for the error's code.
func (e *Error) Status() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// TaskNotFound reports a lookup miss on a task id.
func TaskNotFound(id int64) *Error {
	return &Error{Code: CodeTaskNotFound, Detail: fmt.Sprintf("no task with id %d", id)}
}

// OrchestrationNotFound reports a lookup miss on an orchestration id.
func OrchestrationNotFound(id int64) *Error {
	return &Error{Code: CodeOrchestrationNotFound, Detail: fmt.Sprintf("no orchestration with id %d", id)}
}

// InvalidField rejects one input field by name.
func InvalidField(field, detail string) *Error {
	return &Error{Code: CodeInvalidField, Field: field, Detail: detail}
}

// Malformed rejects a request body or path parameter that did not
// parse at all.
func Malformed(detail string) *Error {
	return &Error{Code: CodeMalformedRequest, Detail: detail}
}

// AdmissionRejected wraps a batch admission failure: a dependency
// cycle, a duplicate identifier, or a dependency naming a
// non-member. The diagnostic from the DAG check passes through
// verbatim so the offending identifier stays visible.
func AdmissionRejected(err error) *Error {
	return &Error{Code: CodeAdmissionRejected, Detail: err.Error(), cause: err}
}

// Internal wraps a server-side fault. The cause is kept for the log,
// never for the response body.
func Internal(detail string, cause error) *Error {
	return &Error{Code: CodeInternal, Detail: detail, cause: cause}
}
