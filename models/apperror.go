package models

import (
	"errors"
	"net/http"
)

// Application error codes surfaced in the stable error response shape.
const (
	CodeValidation         = "VALIDATION"
	CodeAuthentication     = "AUTHENTICATION"
	CodeForbidden          = "FORBIDDEN"
	CodeNotFound           = "NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeStorageUnavailable = "STORAGE_UNAVAILABLE"
)

// AppError is a typed application error carried from the access guard
// and the chat handlers to the HTTP/socket boundary, where it is mapped
// to a status code and the stable error body.
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Err }

// HTTPStatus maps the error code to its response status.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeAuthentication:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeStorageUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// NewValidationError flags malformed input (empty message, bad category).
func NewValidationError(msg string, err error) *AppError {
	return &AppError{Code: CodeValidation, Message: msg, Err: err}
}

// NewAuthenticationError flags a missing or invalid credential.
func NewAuthenticationError(msg string, err error) *AppError {
	return &AppError{Code: CodeAuthentication, Message: msg, Err: err}
}

// NewForbiddenError flags a caller not bound to the resource or with an
// insufficient role. Distinct from not-found so binding failures do not
// leak session existence inconsistently within one operation.
func NewForbiddenError(msg string, err error) *AppError {
	return &AppError{Code: CodeForbidden, Message: msg, Err: err}
}

// NewNotFoundError flags a session id that does not resolve.
func NewNotFoundError(msg string, err error) *AppError {
	return &AppError{Code: CodeNotFound, Message: msg, Err: err}
}

// NewConflictError flags a storage-layer uniqueness violation.
func NewConflictError(msg string, err error) *AppError {
	return &AppError{Code: CodeConflict, Message: msg, Err: err}
}

// NewStorageUnavailableError flags a transient storage failure that
// survived retry. Never conflated with not-found.
func NewStorageUnavailableError(msg string, err error) *AppError {
	return &AppError{Code: CodeStorageUnavailable, Message: msg, Err: err}
}

// AsAppError unwraps err into an *AppError if it is one.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
