package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeSessionAcquisition, "debug port requested without a port")

	if err.Code != ErrCodeSessionAcquisition {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeSessionAcquisition)
	}
	if err.Underlying != nil {
		t.Error("Underlying should be nil for New error")
	}
	if len(err.Stack) == 0 {
		t.Error("Stack should be captured")
	}
	if !strings.Contains(err.Stack[0].Function, "TestNew") {
		t.Errorf("first frame = %s, want the caller", err.Stack[0].Function)
	}
	if err.Retryable {
		t.Error("Retryable should default to false")
	}
}

func TestNewf(t *testing.T) {
	err := Newf(ErrCodeDescriptorSchema, "unsupported session descriptor schema_version %d (expected %d)", 99, 1)
	want := "[DESCRIPTOR_SCHEMA] unsupported session descriptor schema_version 99 (expected 1)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrap(t *testing.T) {
	underlying := errors.New("permission denied")
	err := Wrap(underlying, ErrCodeDescriptorIO, "write descriptor")

	if err.Underlying != underlying {
		t.Error("Underlying should be preserved")
	}
	if !errors.Is(err, underlying) {
		t.Error("errors.Is should see the cause")
	}
	if !strings.HasSuffix(err.Error(), ": permission denied") {
		t.Errorf("Error() = %q, want the cause appended", err.Error())
	}
}

func TestWrap_Nil(t *testing.T) {
	if err := Wrap(nil, ErrCodeInternal, "test"); err != nil {
		t.Errorf("Wrap(nil) = %v, want nil", err)
	}
}

func TestContextIsRenderedSorted(t *testing.T) {
	err := New(ErrCodeLeaseBackend, "acquire failed").
		WithContext("port", 9222).
		WithContext("backend", "redis")

	want := "[LEASE_BACKEND] acquire failed {backend: redis, port: 9222}"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestIsCodeThroughWrapping(t *testing.T) {
	inner := New(ErrCodeDescriptorSchema, "bad schema")
	outer := Wrap(inner, ErrCodeSessionAcquisition, "load descriptor")
	wrapped := fmt.Errorf("acquire: %w", outer)

	if !IsCode(wrapped, ErrCodeSessionAcquisition) {
		t.Error("outer code should match through fmt wrapping")
	}
	if !IsCode(wrapped, ErrCodeDescriptorSchema) {
		t.Error("inner code should match")
	}
	if IsCode(wrapped, ErrCodeAuthLoad) {
		t.Error("unrelated code should not match")
	}
	if IsCode(errors.New("plain"), ErrCodeInternal) {
		t.Error("plain errors carry no code")
	}
}

func TestGetCode(t *testing.T) {
	if got := GetCode(nil); got != "" {
		t.Errorf("GetCode(nil) = %q", got)
	}
	if got := GetCode(errors.New("plain")); got != ErrCodeInternal {
		t.Errorf("GetCode(plain) = %q, want INTERNAL", got)
	}
	if got := GetCode(New(ErrCodeDriverNotFound, "x")); got != ErrCodeDriverNotFound {
		t.Errorf("GetCode = %q", got)
	}
}

func TestRetryableAndRemediation(t *testing.T) {
	err := New(ErrCodeLeaseUnavailable, "pool exhausted").
		WithRetryable(true).
		WithRemediation("start more workers", "release idle leases")

	if !IsRetryable(err) {
		t.Error("IsRetryable should be true")
	}
	if len(err.Remediation) != 2 {
		t.Errorf("Remediation = %v", err.Remediation)
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("plain errors are not retryable")
	}
	if !strings.Contains(err.StackTrace(), "Stack trace:") {
		t.Error("StackTrace should render a header")
	}
}
