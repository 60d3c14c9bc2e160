package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// FieldError describes a single invalid field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

// ValidationError represents a validation failure with field-level details
type ValidationError struct {
	Fields []FieldError
}

// NewValidationError creates a new validation error for a single field
func NewValidationError(field, message, typ string) *ValidationError {
	return &ValidationError{
		Fields: []FieldError{{Field: field, Message: message, Type: typ}},
	}
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	msg := "validation failed: "
	for i, f := range e.Fields {
		if i > 0 {
			msg += ", "
		}
		if f.Field != "" {
			msg += f.Field + " " + f.Message
		} else {
			msg += f.Message
		}
	}
	return msg
}

// HTTPStatus returns the HTTP status for this error
func (e *ValidationError) HTTPStatus() int {
	return http.StatusUnprocessableEntity
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	Message  string
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(resource, message string) *NotFoundError {
	return &NotFoundError{
		Resource: resource,
		Message:  message,
	}
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// HTTPStatus returns the HTTP status for this error
func (e *NotFoundError) HTTPStatus() int {
	return http.StatusNotFound
}

// AlreadyExistsError represents a uniqueness violation
type AlreadyExistsError struct {
	Resource string
	Message  string
}

// NewAlreadyExistsError creates a new already exists error
func NewAlreadyExistsError(resource, message string) *AlreadyExistsError {
	return &AlreadyExistsError{
		Resource: resource,
		Message:  message,
	}
}

// Error implements the error interface
func (e *AlreadyExistsError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s already exists", e.Resource)
}

// HTTPStatus returns the HTTP status for this error
func (e *AlreadyExistsError) HTTPStatus() int {
	return http.StatusConflict
}

// ConflictError is returned when a version-guarded write lost a race
type ConflictError struct {
	Message string
}

// NewConflictError creates a new conflict error
func NewConflictError(message string) *ConflictError {
	return &ConflictError{Message: message}
}

// Error implements the error interface
func (e *ConflictError) Error() string {
	return e.Message
}

// HTTPStatus returns the HTTP status for this error
func (e *ConflictError) HTTPStatus() int {
	return http.StatusConflict
}

// PreconditionFailedError is returned when a client-supplied version does not match
type PreconditionFailedError struct {
	Message string
}

// NewPreconditionFailedError creates a new precondition failed error
func NewPreconditionFailedError(message string) *PreconditionFailedError {
	return &PreconditionFailedError{Message: message}
}

// Error implements the error interface
func (e *PreconditionFailedError) Error() string {
	return e.Message
}

// HTTPStatus returns the HTTP status for this error
func (e *PreconditionFailedError) HTTPStatus() int {
	return http.StatusPreconditionFailed
}

// UnavailableError represents a store that could not be reached
type UnavailableError struct {
	Message string
	Err     error
}

// NewUnavailableError creates a new unavailable error
func NewUnavailableError(message string, err error) *UnavailableError {
	return &UnavailableError{
		Message: message,
		Err:     err,
	}
}

// Error implements the error interface
func (e *UnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status for this error
func (e *UnavailableError) HTTPStatus() int {
	return http.StatusServiceUnavailable
}

// InternalError represents an internal server error with context
type InternalError struct {
	Message string
	Err     error
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *InternalError {
	return &InternalError{
		Message: message,
		Err:     err,
	}
}

// Error implements the error interface
func (e *InternalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *InternalError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status for this error
func (e *InternalError) HTTPStatus() int {
	return http.StatusInternalServerError
}

// HTTPStatuser is implemented by errors that map onto an HTTP status
type HTTPStatuser interface {
	HTTPStatus() int
}

// StatusOf returns the HTTP status carried by err or any error it wraps.
// Errors without a status map to 500.
func StatusOf(err error) int {
	var s HTTPStatuser
	if errors.As(err, &s) {
		return s.HTTPStatus()
	}
	return http.StatusInternalServerError
}
