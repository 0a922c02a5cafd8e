package offline

import (
	"errors"
	"testing"
)

// TestSentinelErrors verifies all sentinel errors are properly defined
func TestSentinelErrors(t *testing.T) {
	if ErrEngineClosed == nil {
		t.Error("ErrEngineClosed should not be nil")
	}
	if ErrEngineClosed.Error() != "engine is closed" {
		t.Errorf("ErrEngineClosed message = %q, want %q", ErrEngineClosed.Error(), "engine is closed")
	}

	if ErrNotInstalled == nil {
		t.Error("ErrNotInstalled should not be nil")
	}
	if ErrNotInstalled.Error() != "engine is not installed" {
		t.Errorf("ErrNotInstalled message = %q, want %q", ErrNotInstalled.Error(), "engine is not installed")
	}

	if ErrUnknownCache == nil {
		t.Error("ErrUnknownCache should not be nil")
	}
	if ErrUnknownCache.Error() != "unknown cache partition" {
		t.Errorf("ErrUnknownCache message = %q, want %q", ErrUnknownCache.Error(), "unknown cache partition")
	}

	if ErrUnknownStore == nil {
		t.Error("ErrUnknownStore should not be nil")
	}
	if ErrUnknownStore.Error() != "unknown queue store" {
		t.Errorf("ErrUnknownStore message = %q, want %q", ErrUnknownStore.Error(), "unknown queue store")
	}

	if ErrUnknownResource == nil {
		t.Error("ErrUnknownResource should not be nil")
	}
	if ErrUnknownResource.Error() != "unknown mutation resource" {
		t.Errorf("ErrUnknownResource message = %q, want %q", ErrUnknownResource.Error(), "unknown mutation resource")
	}
}

// TestEngineErrorErrorMethod verifies the Error() formatting with and without
// a request URL
func TestEngineErrorErrorMethod(t *testing.T) {
	err := &EngineError{
		Op:  "fetch",
		URL: "https://app.example.com/api/tickets",
		Err: errors.New("connection refused"),
	}
	want := "fetch https://app.example.com/api/tickets: connection refused"
	if err.Error() != want {
		t.Errorf("EngineError.Error() = %q, want %q", err.Error(), want)
	}

	err = &EngineError{
		Op:  "activate",
		Err: errors.New("index unwritable"),
	}
	want = "activate: index unwritable"
	if err.Error() != want {
		t.Errorf("EngineError.Error() = %q, want %q", err.Error(), want)
	}
}

// TestEngineErrorUnwrap verifies Unwrap() for error chain inspection
func TestEngineErrorUnwrap(t *testing.T) {
	underlyingErr := errors.New("underlying error")
	err := &EngineError{
		Op:  "install",
		Err: underlyingErr,
	}

	unwrapped := err.Unwrap()
	if unwrapped != underlyingErr { //nolint:errorlint // Direct comparison needed for testing Unwrap method
		t.Errorf("EngineError.Unwrap() = %v, want %v", unwrapped, underlyingErr)
	}
}

// TestEngineErrorWrapping verifies errors.Is() and errors.As() work through
// EngineError
func TestEngineErrorWrapping(t *testing.T) {
	engineErr := &EngineError{
		Op:  "purge",
		Err: ErrUnknownCache,
	}

	if !errors.Is(engineErr, ErrUnknownCache) {
		t.Error("errors.Is() should return true for wrapped ErrUnknownCache")
	}

	var target *EngineError
	if !errors.As(engineErr, &target) {
		t.Error("errors.As() should match *EngineError")
	}
	if target.Op != "purge" {
		t.Errorf("errors.As() target.Op = %q, want %q", target.Op, "purge")
	}
}
