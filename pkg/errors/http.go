package errors

import (
	"encoding/json"
	"errors"
	"net/http"
)

var errorStatusCodes = map[error]int{
	ErrNotFound:          http.StatusNotFound,
	ErrInvalidInput:      http.StatusBadRequest,
	ErrInternalError:     http.StatusInternalServerError,
	ErrNotImplemented:    http.StatusNotImplemented,
	ErrTimeout:           http.StatusGatewayTimeout,
	ErrUnavailable:       http.StatusServiceUnavailable,
	ErrUnauthenticated:   http.StatusUnauthorized,
	ErrResourceExhausted: http.StatusTooManyRequests,
	ErrCanceled:          http.StatusRequestTimeout,

	ErrSessionNotFound:     http.StatusNotFound,
	ErrInvalidAudio:        http.StatusBadRequest,
	ErrTranscriptionFailed: http.StatusBadGateway,
	ErrSynthesisFailed:     http.StatusBadGateway,
	ErrProviderUnavailable: http.StatusServiceUnavailable,
	ErrDeadlineExceeded:    http.StatusGatewayTimeout,
	ErrStagePanic:          http.StatusInternalServerError,
	ErrPublishFailed:       http.StatusBadGateway,
}

var errorCodeStatusMap = map[string]int{
	CodeNotFound:          http.StatusNotFound,
	CodeInvalidInput:      http.StatusBadRequest,
	CodeInternal:          http.StatusInternalServerError,
	CodeNotImplemented:    http.StatusNotImplemented,
	CodeTimeout:           http.StatusGatewayTimeout,
	CodeUnavailable:       http.StatusServiceUnavailable,
	CodeUnauthenticated:   http.StatusUnauthorized,
	CodeRateLimited:       http.StatusTooManyRequests,
	CodeSessionNotFound:   http.StatusNotFound,
	CodeInvalidAudio:      http.StatusBadRequest,
	CodeProcessingError:   http.StatusInternalServerError,
	CodeProviderUnavaible: http.StatusServiceUnavailable,
}

// WriteError writes a JSON error response. Internal context fields are never
// included; the status is derived from the error code first, then the
// wrapped sentinel.
func WriteError(w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	var response map[string]interface{}

	var serr *Error
	switch {
	case err == nil:
		response = map[string]interface{}{"error": "Unknown error"}
	case errors.As(err, &serr):
		statusCode = HTTPStatusFromError(err)
		response = map[string]interface{}{"error": serr.AsJSON(false)}
	default:
		statusCode = HTTPStatusFromError(err)
		response = map[string]interface{}{"error": map[string]interface{}{"message": err.Error()}}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(response)
}

// HTTPStatusFromError maps an error to an HTTP status code
func HTTPStatusFromError(err error) int {
	if code := GetErrorCode(err); code != "" {
		if status, ok := errorCodeStatusMap[code]; ok {
			return status
		}
	}

	for err != nil {
		if status, ok := errorStatusCodes[err]; ok {
			return status
		}
		unwrapped := errors.Unwrap(err)
		if unwrapped == err {
			break
		}
		err = unwrapped
	}

	return http.StatusInternalServerError
}
