package errors

import (
	"context"
	"errors"
	"fmt"
)

// LoadError reports why a log could not be loaded. Line is 1-based and zero
// when the failure is not tied to a single record.
type LoadError struct {
	Code    string
	Message string
	LogID   string
	Line    int
	Field   string
	Cause   error
}

func (e *LoadError) Error() string {
	prefix := e.Code
	if e.Line > 0 {
		prefix = fmt.Sprintf("%s: line %d", e.Code, e.Line)
	}
	if e.Field != "" {
		prefix = fmt.Sprintf("%s: field %q", prefix, e.Field)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *LoadError) Unwrap() error { return e.Cause }

const (
	ErrCodeMalformedRecord = "MALFORMED_RECORD"
	ErrCodeMissingField    = "MISSING_FIELD"
	ErrCodeInvalidField    = "INVALID_FIELD"
	ErrCodeLogNotFound     = "LOG_NOT_FOUND"
	ErrCodeInvalidLogID    = "INVALID_LOG_ID"
	ErrCodeInvalidManifest = "INVALID_MANIFEST"
	ErrCodeReadFailed      = "READ_FAILED"
)

func ErrMalformedRecord(line int, cause error) *LoadError {
	return &LoadError{
		Code:    ErrCodeMalformedRecord,
		Message: "record is not a valid JSON object",
		Line:    line,
		Cause:   cause,
	}
}

func ErrMissingField(line int, field string) *LoadError {
	return &LoadError{
		Code:    ErrCodeMissingField,
		Message: "required field missing",
		Line:    line,
		Field:   field,
	}
}

func ErrInvalidField(line int, field string, cause error) *LoadError {
	return &LoadError{
		Code:    ErrCodeInvalidField,
		Message: "field has invalid value",
		Line:    line,
		Field:   field,
		Cause:   cause,
	}
}

func ErrLogNotFound(logID string) *LoadError {
	return &LoadError{
		Code:    ErrCodeLogNotFound,
		Message: "log not found",
		LogID:   logID,
	}
}

func ErrInvalidLogID(logID string) *LoadError {
	return &LoadError{
		Code:    ErrCodeInvalidLogID,
		Message: "log id must be a plain name",
		LogID:   logID,
	}
}

func ErrInvalidManifest(msg string, cause error) *LoadError {
	return &LoadError{
		Code:    ErrCodeInvalidManifest,
		Message: msg,
		Cause:   cause,
	}
}

func ErrReadFailed(logID string, cause error) *LoadError {
	return &LoadError{
		Code:    ErrCodeReadFailed,
		Message: "read failed",
		LogID:   logID,
		Cause:   cause,
	}
}

// HasCode reports whether err wraps a LoadError with the given code.
func HasCode(err error, code string) bool {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Code == code
	}
	return false
}

func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeLogNotFound)
}

// IsRecordError reports whether err was caused by a bad record in the log
// rather than by I/O or lookup.
func IsRecordError(err error) bool {
	return HasCode(err, ErrCodeMalformedRecord) ||
		HasCode(err, ErrCodeMissingField) ||
		HasCode(err, ErrCodeInvalidField)
}

func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
