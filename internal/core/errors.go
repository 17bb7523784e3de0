// Package core provides the data model, error taxonomy and source contract for the API directory.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorType represents the type of error that occurred
type ErrorType string

const (
	// ErrorTypeNetwork indicates a transport or upstream server failure
	ErrorTypeNetwork ErrorType = "network_error"
	// ErrorTypeTimeout indicates the source did not answer in time
	ErrorTypeTimeout ErrorType = "timeout_error"
	// ErrorTypeNotFound indicates the requested provider, API or endpoint does not exist (404)
	ErrorTypeNotFound ErrorType = "not_found_error"
	// ErrorTypeValidation indicates malformed caller input (400)
	ErrorTypeValidation ErrorType = "validation_error"
	// ErrorTypeCache indicates a cache failure. These never reach aggregation callers.
	ErrorTypeCache ErrorType = "cache_error"
	// ErrorTypeAuthentication indicates a missing or wrong admin key (401)
	ErrorTypeAuthentication ErrorType = "authentication_error"
)

// DirectoryError is the base error type for all directory errors
type DirectoryError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code"`
	Source     string    `json:"source,omitempty"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface
func (e *DirectoryError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Source, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *DirectoryError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *DirectoryError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case ErrorTypeNetwork:
		return http.StatusBadGateway
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a JSON-compatible map
func (e *DirectoryError) ToJSON() map[string]interface{} {
	body := map[string]interface{}{
		"type":    e.Type,
		"message": e.Message,
	}
	if e.Source != "" {
		body["source"] = e.Source
	}
	return map[string]interface{}{"error": body}
}

// NewNetworkError creates a new network error (upstream unreachable or 5xx)
func NewNetworkError(source string, statusCode int, message string, err error) *DirectoryError {
	return &DirectoryError{
		Type:       ErrorTypeNetwork,
		Message:    message,
		StatusCode: statusCode,
		Source:     source,
		Err:        err,
	}
}

// NewTimeoutError creates a new timeout error (504)
func NewTimeoutError(source string, message string, err error) *DirectoryError {
	return &DirectoryError{
		Type:       ErrorTypeTimeout,
		Message:    message,
		StatusCode: http.StatusGatewayTimeout,
		Source:     source,
		Err:        err,
	}
}

// NewNotFoundError creates a new not found error (404)
func NewNotFoundError(source string, message string) *DirectoryError {
	return &DirectoryError{
		Type:       ErrorTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
		Source:     source,
	}
}

// NewValidationError creates a new validation error (400)
func NewValidationError(message string) *DirectoryError {
	return &DirectoryError{
		Type:       ErrorTypeValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

// NewAuthenticationError creates a new authentication error (401)
func NewAuthenticationError(message string) *DirectoryError {
	return &DirectoryError{
		Type:       ErrorTypeAuthentication,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

// NewCacheError creates a new cache error
func NewCacheError(message string, err error) *DirectoryError {
	return &DirectoryError{
		Type:       ErrorTypeCache,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// ParseSourceError maps an unsuccessful upstream response to a DirectoryError
func ParseSourceError(source string, statusCode int, body []byte, originalErr error) *DirectoryError {
	var errorResponse struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}

	message := string(body)
	if err := json.Unmarshal(body, &errorResponse); err == nil {
		switch {
		case errorResponse.Message != "":
			message = errorResponse.Message
		case errorResponse.Error != "":
			message = errorResponse.Error
		}
	}
	if message == "" {
		message = http.StatusText(statusCode)
	}

	switch {
	case statusCode == http.StatusNotFound:
		err := NewNotFoundError(source, message)
		err.Err = originalErr
		return err
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		return NewTimeoutError(source, message, originalErr)
	case statusCode >= 400 && statusCode < 500:
		// Client errors from the source keep their status for debugging but are not the caller's fault
		return NewNetworkError(source, statusCode, message, originalErr)
	default:
		return NewNetworkError(source, http.StatusBadGateway, message, originalErr)
	}
}

// ClassifyTransportError wraps a failure that happened before any response was received
func ClassifyTransportError(source string, err error) *DirectoryError {
	var dirErr *DirectoryError
	if errors.As(err, &dirErr) {
		return dirErr
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return NewTimeoutError(source, "request timed out", err)
	}
	return NewNetworkError(source, http.StatusBadGateway, err.Error(), err)
}

// IsNotFound reports whether err is a not_found_error
func IsNotFound(err error) bool {
	return hasType(err, ErrorTypeNotFound)
}

// IsValidation reports whether err is a validation_error
func IsValidation(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

func hasType(err error, t ErrorType) bool {
	var dirErr *DirectoryError
	if errors.As(err, &dirErr) {
		return dirErr.Type == t
	}
	return false
}
