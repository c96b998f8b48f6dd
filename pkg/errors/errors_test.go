package errors

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestNewError(t *testing.T) {
	t.Parallel()

	t.Run("creates error with all defaults", func(t *testing.T) {
		err := NewError(ErrCodeInvalidConfig, "configuration is invalid")
		if err == nil {
			t.Fatal("NewError returned nil")
		}
		if err.Code != ErrCodeInvalidConfig {
			t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidConfig)
		}
		if err.Message != "configuration is invalid" {
			t.Errorf("Message = %q, want %q", err.Message, "configuration is invalid")
		}
		if err.Category != CategoryConfiguration {
			t.Errorf("Category = %v, want %v", err.Category, CategoryConfiguration)
		}
		if err.Details == nil {
			t.Error("Details map is nil")
		}
		if err.Context == nil {
			t.Error("Context map is nil")
		}
		if err.Timestamp.IsZero() {
			t.Error("Timestamp not set")
		}
	})

	t.Run("sets correct retryable defaults", func(t *testing.T) {
		retryableErr := NewError(ErrCodeConnectionTimeout, "connection timed out")
		if !retryableErr.Retryable {
			t.Error("ConnectionTimeout should be retryable by default")
		}

		nonRetryableErr := NewError(ErrCodeInvalidConfig, "config invalid")
		if nonRetryableErr.Retryable {
			t.Error("InvalidConfig should not be retryable by default")
		}
	})
}

func TestGetCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code     ErrorCode
		expected ErrorCategory
	}{
		{ErrCodeInvalidConfig, CategoryConfiguration},
		{ErrCodeConfigLoad, CategoryConfiguration},
		{ErrCodeFileNotFound, CategoryEnumeration},
		{ErrCodePermissionDenied, CategoryEnumeration},
		{ErrCodeJournalUnavailable, CategoryJournal},
		{ErrCodeTokenMismatch, CategoryJournal},
		{ErrCodePlanFailed, CategoryPlanning},
		{ErrCodeCopyFailed, CategoryCopy},
		{ErrCodeChecksumMismatch, CategoryCopy},
		{ErrCodeOutOfMemory, CategoryResource},
		{ErrCodeBufferBudgetFull, CategoryResource},
		{ErrCodeConnectionFailed, CategoryTransport},
		{ErrCodeCircuitOpen, CategoryTransport},
		{ErrCodeAlreadyStarted, CategoryState},
		{ErrCodeNotInitialized, CategoryState},
		{ErrCodeOperationTimeout, CategoryOperation},
		{ErrCodeValidationFailed, CategoryOperation},
		{ErrCodeOperationNotFound, CategoryOperation},
		{ErrCodeInternalError, CategoryInternal},
		{ErrCodeUnknownError, CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			result := GetCategory(tt.code)
			if result != tt.expected {
				t.Errorf("GetCategory(%v) = %v, want %v", tt.code, result, tt.expected)
			}
		})
	}
}

func TestIsRetryableByDefault(t *testing.T) {
	t.Parallel()

	retryableCodes := []ErrorCode{
		ErrCodeConnectionTimeout,
		ErrCodeConnectionFailed,
		ErrCodeNetworkError,
		ErrCodeOperationTimeout,
		ErrCodeResourceExhausted,
		ErrCodeWorkerBusy,
		ErrCodeJournalUnavailable,
		ErrCodeCircuitOpen,
		ErrCodeInternalError,
	}

	nonRetryableCodes := []ErrorCode{
		ErrCodeInvalidConfig,
		ErrCodeFileNotFound,
		ErrCodePermissionDenied,
		ErrCodeValidationFailed,
	}

	for _, code := range retryableCodes {
		t.Run(string(code)+" should be retryable", func(t *testing.T) {
			if !IsRetryableByDefault(code) {
				t.Errorf("%v should be retryable by default", code)
			}
		})
	}

	for _, code := range nonRetryableCodes {
		t.Run(string(code)+" should not be retryable", func(t *testing.T) {
			if IsRetryableByDefault(code) {
				t.Errorf("%v should not be retryable by default", code)
			}
		})
	}
}

func TestBlitError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *BlitError
		want string
	}{
		{
			name: "with component and operation",
			err: &BlitError{
				Code:      ErrCodeFileNotFound,
				Component: "enum",
				Operation: "walk",
				Message:   "file does not exist",
			},
			want: "[enum:walk] FILE_NOT_FOUND: file does not exist",
		},
		{
			name: "with component only",
			err: &BlitError{
				Code:      ErrCodeInvalidConfig,
				Component: "config",
				Message:   "invalid value",
			},
			want: "[config] INVALID_CONFIG: invalid value",
		},
		{
			name: "minimal error",
			err: &BlitError{
				Code:    ErrCodeUnknownError,
				Message: "something went wrong",
			},
			want: "UNKNOWN_ERROR: something went wrong",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.err.Error()
			if result != tt.want {
				t.Errorf("Error() = %q, want %q", result, tt.want)
			}
		})
	}
}

func TestBlitError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("underlying cause")
	err := &BlitError{
		Code:    ErrCodeInternalError,
		Message: "wrapper",
		Cause:   cause,
	}

	unwrapped := err.Unwrap()
	if unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}
}

func TestBlitError_Is(t *testing.T) {
	t.Parallel()

	err1 := &BlitError{Code: ErrCodeFileNotFound, Message: "not found"}
	err2 := &BlitError{Code: ErrCodeFileNotFound, Message: "different message"}
	err3 := &BlitError{Code: ErrCodeInvalidConfig, Message: "invalid"}
	stdErr := errors.New("standard error")

	if !err1.Is(err2) {
		t.Error("errors with same code should match with Is()")
	}
	if err1.Is(err3) {
		t.Error("errors with different codes should not match with Is()")
	}
	if err1.Is(stdErr) {
		t.Error("BlitError should not match standard error with Is()")
	}
}

func TestBlitError_String(t *testing.T) {
	t.Parallel()

	err := &BlitError{
		Code:       ErrCodeOperationTimeout,
		Category:   CategoryOperation,
		Message:    "operation took too long",
		Component:  "orchestrator",
		Operation:  "copy",
		TransferID: "xfer-123",
		Retryable:  true,
		Details:    map[string]interface{}{"duration": 30},
		Cause:      errors.New("network timeout"),
	}

	result := err.String()

	expectedParts := []string{
		"Code=OPERATION_TIMEOUT",
		"Category=operation",
		`Message="operation took too long"`,
		"Component=orchestrator",
		"Operation=copy",
		"TransferID=xfer-123",
		"Retryable=true",
		"Details=",
		"Cause=",
	}

	for _, part := range expectedParts {
		if !strings.Contains(result, part) {
			t.Errorf("String() missing expected part: %q\nGot: %s", part, result)
		}
	}
}

func TestBlitError_JSON(t *testing.T) {
	t.Parallel()

	err := &BlitError{
		Code:      ErrCodeInvalidConfig,
		Category:  CategoryConfiguration,
		Message:   "invalid setting",
		Component: "config",
		Retryable: false,
	}

	jsonStr := err.JSON()

	var parsed map[string]interface{}
	if parseErr := json.Unmarshal([]byte(jsonStr), &parsed); parseErr != nil {
		t.Fatalf("JSON() returned invalid JSON: %v\nJSON: %s", parseErr, jsonStr)
	}

	if parsed["code"] != "INVALID_CONFIG" {
		t.Errorf("JSON code = %v, want INVALID_CONFIG", parsed["code"])
	}
	if parsed["message"] != "invalid setting" {
		t.Errorf("JSON message = %v, want 'invalid setting'", parsed["message"])
	}
	if parsed["retryable"] != false {
		t.Errorf("JSON retryable = %v, want false", parsed["retryable"])
	}
}

func TestCaptureStack(t *testing.T) {
	t.Parallel()

	stack := CaptureStack(0)

	if stack == "" {
		t.Error("CaptureStack() returned empty string")
	}
	if !strings.Contains(stack, ":") {
		t.Error("Stack trace should contain file:line format")
	}
	if strings.Contains(stack, "errors.go") {
		t.Error("Stack trace should not include errors.go frames")
	}
}

func TestErrorCodeCategories(t *testing.T) {
	t.Parallel()

	allCodes := []ErrorCode{
		ErrCodeInvalidConfig, ErrCodeMissingConfig, ErrCodeConfigValidation,
		ErrCodeConnectionFailed, ErrCodeConnectionTimeout, ErrCodeNetworkError,
		ErrCodeFileNotFound, ErrCodePermissionDenied, ErrCodeEnumerateFailed,
		ErrCodeJournalUnavailable, ErrCodeTokenMismatch,
		ErrCodePlanFailed, ErrCodeCopyFailed, ErrCodeChecksumMismatch,
		ErrCodeOutOfMemory, ErrCodeBufferBudgetFull, ErrCodeResourceExhausted,
		ErrCodeAlreadyStarted, ErrCodeNotInitialized, ErrCodeInvalidState,
		ErrCodeOperationTimeout, ErrCodeValidationFailed, ErrCodeRetryExhausted,
		ErrCodeInternalError, ErrCodePanicRecovered, ErrCodeUnknownError,
	}

	for _, code := range allCodes {
		category := GetCategory(code)
		if category == "" {
			t.Errorf("GetCategory(%v) returned empty category", code)
		}
	}
}

func TestWithMethodsChain(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeCopyFailed, "copy failed").
		WithComponent("copyengine").
		WithOperation("Copy").
		WithTransferID("xfer-1").
		WithContext("path", "/a/b").
		WithDetail("attempt", 2).
		WithCause(errors.New("disk full"))

	if err.Component != "copyengine" || err.Operation != "Copy" || err.TransferID != "xfer-1" {
		t.Errorf("With* methods did not set fields: %+v", err)
	}
	if err.Context["path"] != "/a/b" {
		t.Errorf("WithContext did not set path")
	}
	if err.Details["attempt"] != 2 {
		t.Errorf("WithDetail did not set attempt")
	}
	if err.Cause == nil || err.Cause.Error() != "disk full" {
		t.Errorf("WithCause did not set cause")
	}
}
