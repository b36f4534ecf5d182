package errors

import (
	"errors"
	"fmt"
)

// Domain-specific error types
var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates invalid input data
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates unauthorized access
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInternal indicates an internal server error
	ErrInternal = errors.New("internal server error")

	// ErrParse indicates an artifact could not be decoded as a mail structure.
	// It is the only error that aborts the analysis of an artifact.
	ErrParse = errors.New("artifact is not a decodable mail message")

	// ErrLookup indicates the reputation service was unavailable.
	// Callers absorb it and treat the URL as clean.
	ErrLookup = errors.New("reputation lookup failed")

	// ErrDelivery indicates the outbound reply could not be sent.
	ErrDelivery = errors.New("reply delivery failed")

	// ErrReportNotFound indicates the triage report was not found
	ErrReportNotFound = errors.New("report not found")
)

// Error codes for API responses
const (
	CodeNotFound      = "NOT_FOUND"
	CodeInvalidInput  = "INVALID_INPUT"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeInternalError = "INTERNAL_ERROR"
	CodeParseFailed   = "PARSE_FAILED"
	CodeLookupFailed  = "LOOKUP_FAILED"
	CodeDeliveryError = "DELIVERY_FAILED"
)

// AppError represents an application error with context
type AppError struct {
	Err     error
	Message string
	Code    string
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError
func NewAppError(err error, message string, code string) *AppError {
	return &AppError{
		Err:     err,
		Message: message,
		Code:    code,
	}
}

// NewParseError wraps a decoding failure so that errors.Is(err, ErrParse) holds.
func NewParseError(reason string, cause error) *AppError {
	msg := "parse artifact: " + reason
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return &AppError{Err: ErrParse, Message: msg, Code: CodeParseFailed}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrReportNotFound)
}

// IsInvalidInput checks if the error is an invalid input error
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsParse checks if the error is a parse failure
func IsParse(err error) bool {
	return errors.Is(err, ErrParse)
}

// GetErrorCode returns the appropriate error code for an error
func GetErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code != "" {
		return appErr.Code
	}

	switch {
	case IsNotFound(err):
		return CodeNotFound
	case IsInvalidInput(err):
		return CodeInvalidInput
	case IsParse(err):
		return CodeParseFailed
	case errors.Is(err, ErrLookup):
		return CodeLookupFailed
	case errors.Is(err, ErrDelivery):
		return CodeDeliveryError
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	default:
		return CodeInternalError
	}
}
