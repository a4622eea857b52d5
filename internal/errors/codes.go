package errors

import (
	"context"
	stderrors "errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents internal error codes for causality operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Caller errors
	ErrCodeInvalidArgument ErrorCode = 1000
	ErrCodeNotFound        ErrorCode = 1001

	// Store and log errors
	ErrCodeInternal       ErrorCode = 2000
	ErrCodeUnavailable    ErrorCode = 2001
	ErrCodeTimeout        ErrorCode = 2002
	ErrCodeSerialization  ErrorCode = 2003
	ErrCodeEventLogFailed ErrorCode = 2004
)

// String returns the short label used in logs and metric labels
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "ok"
	case ErrCodeInvalidArgument:
		return "invalid_argument"
	case ErrCodeNotFound:
		return "not_found"
	case ErrCodeUnavailable:
		return "unavailable"
	case ErrCodeTimeout:
		return "timeout"
	case ErrCodeSerialization:
		return "serialization"
	case ErrCodeEventLogFailed:
		return "event_log_failed"
	default:
		return "internal"
	}
}

// CausalityError represents a structured error with code and context
type CausalityError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *CausalityError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *CausalityError) Unwrap() error {
	return e.Cause
}

// ToGRPCStatus converts CausalityError to gRPC status
func (e *CausalityError) ToGRPCStatus() *status.Status {
	return status.New(e.toGRPCCode(), e.Error())
}

func (e *CausalityError) toGRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeInvalidArgument:
		return codes.InvalidArgument
	case ErrCodeNotFound:
		return codes.NotFound
	case ErrCodeTimeout:
		return codes.DeadlineExceeded
	case ErrCodeUnavailable, ErrCodeEventLogFailed:
		return codes.Unavailable
	case ErrCodeSerialization:
		return codes.DataLoss
	default:
		return codes.Internal
	}
}

// NewCausalityError creates a new CausalityError
func NewCausalityError(code ErrorCode, message string, cause error) *CausalityError {
	return &CausalityError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *CausalityError) WithDetail(key string, value interface{}) *CausalityError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *CausalityError {
	return NewCausalityError(ErrCodeInvalidArgument, message, cause)
}

func NotFound(kind, id string, cause error) *CausalityError {
	return NewCausalityError(ErrCodeNotFound, fmt.Sprintf("%s not found: %s", kind, id), cause).
		WithDetail("kind", kind).
		WithDetail("id", id)
}

func Timeout(op, key string, cause error) *CausalityError {
	return NewCausalityError(ErrCodeTimeout, fmt.Sprintf("%s %s timed out", op, key), cause).
		WithDetail("op", op).
		WithDetail("key", key)
}

func Unavailable(op, key string, cause error) *CausalityError {
	return NewCausalityError(ErrCodeUnavailable, fmt.Sprintf("%s %s failed", op, key), cause).
		WithDetail("op", op).
		WithDetail("key", key)
}

func Serialization(what string, cause error) *CausalityError {
	return NewCausalityError(ErrCodeSerialization, fmt.Sprintf("failed to encode or decode %s", what), cause)
}

func EventLogFailed(message string, cause error) *CausalityError {
	return NewCausalityError(ErrCodeEventLogFailed, message, cause)
}

func InternalError(message string, cause error) *CausalityError {
	return NewCausalityError(ErrCodeInternal, message, cause)
}

// Classify wraps a raw store failure into a typed error. Context deadline
// and cancellation map to timeout; everything else is unavailable.
func Classify(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CausalityError
	if stderrors.As(err, &ce) {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return Timeout(op, key, err)
	}
	return Unavailable(op, key, err)
}

// IsCausalityError checks if an error is a CausalityError
func IsCausalityError(err error) bool {
	var ce *CausalityError
	return stderrors.As(err, &ce)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var ce *CausalityError
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	return ErrCodeInternal
}

// IsNotFound reports whether err carries ErrCodeNotFound
func IsNotFound(err error) bool {
	return GetCode(err) == ErrCodeNotFound
}

// IsTimeout reports whether err carries ErrCodeTimeout
func IsTimeout(err error) bool {
	return GetCode(err) == ErrCodeTimeout
}
