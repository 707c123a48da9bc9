package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Sentinel values shared across the server
var (
	ErrNotFound          = errors.New("resource not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInternalError     = errors.New("internal error")
	ErrNotImplemented    = errors.New("not implemented")
	ErrTimeout           = errors.New("operation timed out")
	ErrUnavailable       = errors.New("service unavailable")
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrCanceled          = errors.New("operation canceled")

	// Voice pipeline
	ErrSessionNotFound     = errors.New("conversation session not found")
	ErrInvalidAudio        = errors.New("invalid audio payload")
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrSynthesisFailed     = errors.New("speech synthesis failed")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrDeadlineExceeded    = errors.New("processing deadline exceeded")
	ErrStagePanic          = errors.New("pipeline stage panicked")
	ErrPublishFailed       = errors.New("event publish failed")
)

// Error codes surfaced to clients
const (
	CodeNotFound          = "NOT_FOUND"
	CodeInvalidInput      = "INVALID_INPUT"
	CodeInternal          = "INTERNAL_ERROR"
	CodeNotImplemented    = "NOT_IMPLEMENTED"
	CodeTimeout           = "TIMEOUT"
	CodeUnavailable       = "UNAVAILABLE"
	CodeUnauthenticated   = "UNAUTHENTICATED"
	CodeRateLimited       = "RESOURCE_EXHAUSTED"
	CodeSessionNotFound   = "SESSION_NOT_FOUND"
	CodeInvalidAudio      = "INVALID_AUDIO"
	CodeProcessingError   = "PROCESSING_ERROR"
	CodeProviderUnavaible = "PROVIDER_UNAVAILABLE"
)

// Error is a structured error carrying the creation site, context fields and
// an optional client-facing code.
type Error struct {
	original error
	message  string
	fields   map[string]interface{}

	stackPC uintptr
	file    string
	line    int

	// Code categorizes the error for API responses
	Code string
}

func newAt(skip int, original error, message, code string, fields []map[string]interface{}) *Error {
	pc, file, line, _ := runtime.Caller(skip + 1)

	fieldMap := make(map[string]interface{})
	if len(fields) > 0 && fields[0] != nil {
		for k, v := range fields[0] {
			fieldMap[k] = v
		}
	}

	return &Error{
		original: original,
		message:  message,
		fields:   fieldMap,
		stackPC:  pc,
		file:     file,
		line:     line,
		Code:     code,
	}
}

// New creates a structured error with the given message
func New(message string, fields ...map[string]interface{}) *Error {
	return newAt(1, errors.New(message), message, "", fields)
}

// Wrap annotates err with a message. Returns nil when err is nil.
func Wrap(err error, message string, fields ...map[string]interface{}) *Error {
	if err == nil {
		return nil
	}
	return newAt(1, err, message, GetErrorCode(err), fields)
}

// Wrapf is Wrap with a formatted message
func Wrapf(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return newAt(1, err, fmt.Sprintf(format, args...), GetErrorCode(err), nil)
}

func (e *Error) clone(extra int) *Error {
	result := &Error{
		original: e.original,
		message:  e.message,
		fields:   make(map[string]interface{}, len(e.fields)+extra),
		stackPC:  e.stackPC,
		file:     e.file,
		line:     e.line,
		Code:     e.Code,
	}
	for k, v := range e.fields {
		result.fields[k] = v
	}
	return result
}

// WithField returns a copy of the error with key set
func (e *Error) WithField(key string, value interface{}) *Error {
	if e == nil {
		return nil
	}
	result := e.clone(1)
	result.fields[key] = value
	return result
}

// WithFields returns a copy of the error with all fields merged in
func (e *Error) WithFields(fields map[string]interface{}) *Error {
	if e == nil {
		return nil
	}
	result := e.clone(len(fields))
	for k, v := range fields {
		result.fields[k] = v
	}
	return result
}

// WithCode returns a copy of the error carrying code
func (e *Error) WithCode(code string) *Error {
	if e == nil {
		return nil
	}
	result := e.clone(0)
	result.Code = code
	return result
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil || e.original == nil {
		return ""
	}
	if e.message == "" || e.message == e.original.Error() {
		return e.original.Error()
	}
	return fmt.Sprintf("%s: %v", e.message, e.original)
}

// Unwrap implements the errors.Unwrap interface
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.original
}

// Location returns file:line of the creation site
func (e *Error) Location() string {
	if e == nil {
		return ""
	}
	parts := strings.Split(e.file, "/")
	return fmt.Sprintf("%s:%d", parts[len(parts)-1], e.line)
}

// GetFields returns the error's context fields
func (e *Error) GetFields() map[string]interface{} {
	if e == nil {
		return nil
	}
	return e.fields
}

// GetCode returns the error's code
func (e *Error) GetCode() string {
	if e == nil {
		return ""
	}
	return e.Code
}

// Is reports whether the wrapped chain contains target
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	if errors.Is(e.original, target) {
		return true
	}
	return e == target
}

// AsJSON returns the error as a JSON-friendly map. Fields are only included
// when internal is true, so client responses never carry internal context.
func (e *Error) AsJSON(internal bool) map[string]interface{} {
	if e == nil {
		return nil
	}

	result := map[string]interface{}{
		"message": e.Error(),
	}
	if e.Code != "" {
		result["code"] = e.Code
	}
	if internal {
		result["location"] = e.Location()
		if len(e.fields) > 0 {
			result["context"] = e.fields
		}
	}
	return result
}

// NewNotFound creates an ErrNotFound error
func NewNotFound(message string, fields ...map[string]interface{}) *Error {
	return newAt(1, ErrNotFound, message, CodeNotFound, fields)
}

// NewInvalidInput creates an ErrInvalidInput error
func NewInvalidInput(message string, fields ...map[string]interface{}) *Error {
	return newAt(1, ErrInvalidInput, message, CodeInvalidInput, fields)
}

// NewInternalError creates an ErrInternalError error
func NewInternalError(message string, fields ...map[string]interface{}) *Error {
	return newAt(1, ErrInternalError, message, CodeInternal, fields)
}

// NewSessionNotFound creates an ErrSessionNotFound error for sessionID
func NewSessionNotFound(sessionID string, fields ...map[string]interface{}) *Error {
	err := newAt(1, ErrSessionNotFound, fmt.Sprintf("conversation session not found: %s", sessionID), CodeSessionNotFound, fields)
	err.fields["session_id"] = sessionID
	return err
}

// NewInvalidAudio creates an ErrInvalidAudio error
func NewInvalidAudio(details string, fields ...map[string]interface{}) *Error {
	return newAt(1, ErrInvalidAudio, fmt.Sprintf("invalid audio: %s", details), CodeInvalidAudio, fields)
}

// NewProviderUnavailable creates an ErrProviderUnavailable error for provider
func NewProviderUnavailable(provider string, fields ...map[string]interface{}) *Error {
	err := newAt(1, ErrProviderUnavailable, fmt.Sprintf("provider unavailable: %s", provider), CodeProviderUnavaible, fields)
	err.fields["provider"] = provider
	return err
}

// GetErrorCode extracts the code from a structured error
func GetErrorCode(err error) string {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.GetCode()
	}
	return ""
}

// GetErrorFields extracts fields from a structured error
func GetErrorFields(err error) map[string]interface{} {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.GetFields()
	}
	return nil
}

// GetErrorLocation extracts the creation site from a structured error
func GetErrorLocation(err error) string {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Location()
	}
	return ""
}

// Is is errors.Is, re-exported so callers need a single errors import
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is errors.As, re-exported so callers need a single errors import
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
