package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New("test error")
	if err == nil {
		t.Fatal("New() returned nil")
	}

	if err.Error() != "test error" {
		t.Errorf("Expected 'test error', got: %s", err.Error())
	}

	if !strings.HasPrefix(err.Location(), "errors_test.go:") {
		t.Errorf("Location should point at the test file, got: %s", err.Location())
	}
}

func TestWrap(t *testing.T) {
	baseErr := errors.New("base error")
	err := Wrap(baseErr, "wrapped")

	if !strings.Contains(err.Error(), "wrapped") || !strings.Contains(err.Error(), "base error") {
		t.Errorf("Unexpected message: %s", err.Error())
	}

	if errors.Unwrap(err) != baseErr {
		t.Errorf("Unwrap() returned wrong error: %v", errors.Unwrap(err))
	}

	if Wrap(nil, "nothing") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestWrapKeepsCode(t *testing.T) {
	inner := NewInvalidAudio("odd length")
	outer := Wrap(inner, "decode chunk")

	if outer.GetCode() != CodeInvalidAudio {
		t.Errorf("Expected code %s, got %s", CodeInvalidAudio, outer.GetCode())
	}
	if !errors.Is(outer, ErrInvalidAudio) {
		t.Error("Wrapped error should match ErrInvalidAudio")
	}
}

func TestWithFieldDoesNotMutateOriginal(t *testing.T) {
	base := New("test error")
	withField := base.WithField("key", "value")

	if len(base.GetFields()) != 0 {
		t.Errorf("Original error was mutated: %v", base.GetFields())
	}
	if withField.GetFields()["key"] != "value" {
		t.Errorf("Expected field['key'] = 'value', got: %v", withField.GetFields()["key"])
	}
}

func TestWithFields(t *testing.T) {
	err := New("test error").WithFields(map[string]interface{}{
		"key1": "value1",
		"key2": 123,
	})

	fields := err.GetFields()
	if len(fields) != 2 {
		t.Fatalf("Expected 2 fields, got %d", len(fields))
	}
	if fields["key2"] != 123 {
		t.Errorf("Expected field['key2'] = 123, got: %v", fields["key2"])
	}
}

func TestNewSessionNotFound(t *testing.T) {
	err := NewSessionNotFound("sess-1")

	if !errors.Is(err, ErrSessionNotFound) {
		t.Error("Expected ErrSessionNotFound")
	}
	if err.GetCode() != CodeSessionNotFound {
		t.Errorf("Unexpected code: %s", err.GetCode())
	}
	if err.GetFields()["session_id"] != "sess-1" {
		t.Errorf("Missing session_id field: %v", err.GetFields())
	}
}

func TestGetErrorHelpers(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewProviderUnavailable("google"))

	if GetErrorCode(err) != CodeProviderUnavaible {
		t.Errorf("Unexpected code: %s", GetErrorCode(err))
	}
	if GetErrorFields(err)["provider"] != "google" {
		t.Errorf("Unexpected fields: %v", GetErrorFields(err))
	}
	if GetErrorLocation(err) == "" {
		t.Error("Expected a location")
	}
	if GetErrorCode(errors.New("plain")) != "" {
		t.Error("Plain errors have no code")
	}
}

func TestHTTPStatusFromError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"session not found", NewSessionNotFound("x"), http.StatusNotFound},
		{"invalid audio", NewInvalidAudio("bad"), http.StatusBadRequest},
		{"wrapped sentinel", fmt.Errorf("ctx: %w", ErrDeadlineExceeded), http.StatusGatewayTimeout},
		{"code wins", Wrap(ErrInternalError, "x").WithCode(CodeRateLimited), http.StatusTooManyRequests},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatusFromError(tt.err); got != tt.status {
				t.Errorf("HTTPStatusFromError() = %d, want %d", got, tt.status)
			}
		})
	}
}

func TestWriteErrorHidesContext(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, NewInvalidInput("missing audio").WithField("secret", "internal-detail"))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Unexpected content type %s", ct)
	}
	if strings.Contains(rr.Body.String(), "internal-detail") {
		t.Errorf("Response leaked context fields: %s", rr.Body.String())
	}

	var body map[string]map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if body["error"]["code"] != CodeInvalidInput {
		t.Errorf("Unexpected body: %v", body)
	}
}

func TestWriteErrorNil(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, nil)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", rr.Code)
	}
}
