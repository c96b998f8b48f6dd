// Package errors provides a structured error system for the transfer core
// with error codes, categories, and context.
package errors

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for transfer operations.
type ErrorCode string

// Error code constants, grouped by subsystem. The grouping is not the
// ErrorCategory: GetCategory derives that from each code's name.
const (
	// Configuration Errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeMissingConfig    ErrorCode = "MISSING_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"

	// Enumeration Errors
	ErrCodePathInvalid     ErrorCode = "PATH_INVALID"
	ErrCodeFileNotFound    ErrorCode = "FILE_NOT_FOUND"
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	ErrCodeEnumerateFailed ErrorCode = "ENUMERATE_FAILED"
	ErrCodeSymlinkLoop     ErrorCode = "SYMLINK_LOOP"

	// Change-Journal Errors
	ErrCodeJournalUnavailable ErrorCode = "JOURNAL_UNAVAILABLE"
	ErrCodeJournalWrapped     ErrorCode = "JOURNAL_WRAPPED"
	ErrCodeTokenMismatch      ErrorCode = "TOKEN_MISMATCH"
	ErrCodeTokenPersist       ErrorCode = "TOKEN_PERSIST"

	// Planning Errors
	ErrCodePlanFailed    ErrorCode = "PLAN_FAILED"
	ErrCodeAmbiguousRoot ErrorCode = "AMBIGUOUS_ROOT"

	// Orchestration Errors
	ErrCodeStallPlannerIdle ErrorCode = "STALL_PLANNER_IDLE"
	ErrCodeStallWorkerIdle  ErrorCode = "STALL_WORKER_IDLE"
	ErrCodeStallBoth        ErrorCode = "STALL_BOTH_IDLE"

	// Protocol Errors (control/data plane wire format)
	ErrCodeProtocolUnexpectedMessage ErrorCode = "PROTOCOL_UNEXPECTED_MESSAGE"
	ErrCodeProtocolTruncatedRecord   ErrorCode = "PROTOCOL_TRUNCATED_RECORD"
	ErrCodeProtocolVersionMismatch   ErrorCode = "PROTOCOL_VERSION_MISMATCH"
	ErrCodeTokenRejected             ErrorCode = "TOKEN_REJECTED"

	// Copy Engine Errors
	ErrCodeCopyFailed       ErrorCode = "COPY_FAILED"
	ErrCodeCloneUnsupported ErrorCode = "CLONE_UNSUPPORTED"
	ErrCodeChecksumMismatch ErrorCode = "CHECKSUM_MISMATCH"
	ErrCodeResumeFailed     ErrorCode = "RESUME_FAILED"
	ErrCodeDiskFull         ErrorCode = "DISK_FULL"

	// Resource Errors
	ErrCodeOutOfMemory       ErrorCode = "OUT_OF_MEMORY"
	ErrCodeBufferBudgetFull  ErrorCode = "BUFFER_BUDGET_FULL"
	ErrCodeResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"
	ErrCodeWorkerBusy        ErrorCode = "WORKER_BUSY"

	// Transport Errors
	ErrCodeConnectionFailed  ErrorCode = "CONNECTION_FAILED"
	ErrCodeConnectionTimeout ErrorCode = "CONNECTION_TIMEOUT"
	ErrCodeConnectionRefused ErrorCode = "CONNECTION_REFUSED"
	ErrCodeNetworkError      ErrorCode = "NETWORK_ERROR"
	ErrCodeNegotiationFailed ErrorCode = "NEGOTIATION_FAILED"
	ErrCodeSessionExpired    ErrorCode = "SESSION_EXPIRED"
	ErrCodeCircuitOpen       ErrorCode = "CIRCUIT_OPEN"

	// State Errors
	ErrCodeAlreadyStarted     ErrorCode = "ALREADY_STARTED"
	ErrCodeNotInitialized     ErrorCode = "NOT_INITIALIZED"
	ErrCodeInvalidState       ErrorCode = "INVALID_STATE"
	ErrCodeShutdownInProgress ErrorCode = "SHUTDOWN_IN_PROGRESS"
	ErrCodeOperationNotFound  ErrorCode = "OPERATION_NOT_FOUND"

	// Operation Errors
	ErrCodeOperationTimeout  ErrorCode = "OPERATION_TIMEOUT"
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeOperationFailed   ErrorCode = "OPERATION_FAILED"
	ErrCodeRetryExhausted    ErrorCode = "RETRY_EXHAUSTED"
	ErrCodeValidationFailed  ErrorCode = "VALIDATION_FAILED"

	// Internal System Errors
	ErrCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrCodePanicRecovered ErrorCode = "PANIC_RECOVERED"
	ErrCodeUnknownError   ErrorCode = "UNKNOWN_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryEnumeration   ErrorCategory = "enumeration"
	CategoryJournal       ErrorCategory = "journal"
	CategoryPlanning      ErrorCategory = "planning"
	CategoryCopy          ErrorCategory = "copy"
	CategoryResource      ErrorCategory = "resource"
	CategoryTransport     ErrorCategory = "transport"
	CategoryState         ErrorCategory = "state"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

// BlitError represents a structured error with context and metadata.
type BlitError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`
	TransferID string `json:"transfer_id,omitempty"`

	Retryable bool `json:"retryable"`

	Stack string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *BlitError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *BlitError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *BlitError) Is(target error) bool {
	if blitErr, ok := target.(*BlitError); ok {
		return e.Code == blitErr.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *BlitError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.TransferID != "" {
		parts = append(parts, fmt.Sprintf("TransferID=%s", e.TransferID))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("BlitError{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *BlitError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a new BlitError with default values.
func NewError(code ErrorCode, message string) *BlitError {
	return &BlitError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
		Context:   make(map[string]string),
		Retryable: IsRetryableByDefault(code),
	}
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "MISSING_CONFIG") ||
		strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "PATH_") || strings.HasPrefix(codeStr, "FILE_NOT_FOUND") ||
		strings.HasPrefix(codeStr, "PERMISSION_") || strings.HasPrefix(codeStr, "ENUMERATE_") ||
		strings.HasPrefix(codeStr, "SYMLINK_"):
		return CategoryEnumeration
	case strings.HasPrefix(codeStr, "JOURNAL_") || strings.HasPrefix(codeStr, "TOKEN_"):
		return CategoryJournal
	case strings.HasPrefix(codeStr, "PLAN_") || strings.HasPrefix(codeStr, "AMBIGUOUS_"):
		return CategoryPlanning
	case strings.HasPrefix(codeStr, "COPY_") || strings.HasPrefix(codeStr, "CLONE_") ||
		strings.HasPrefix(codeStr, "CHECKSUM_") || strings.HasPrefix(codeStr, "RESUME_") ||
		strings.HasPrefix(codeStr, "DISK_"):
		return CategoryCopy
	case strings.HasPrefix(codeStr, "OUT_OF_") || strings.HasPrefix(codeStr, "BUFFER_") ||
		strings.HasPrefix(codeStr, "RESOURCE_") || strings.HasPrefix(codeStr, "WORKER_"):
		return CategoryResource
	case strings.HasPrefix(codeStr, "CONNECTION_") || strings.HasPrefix(codeStr, "NETWORK_") ||
		strings.HasPrefix(codeStr, "NEGOTIATION_") || strings.HasPrefix(codeStr, "SESSION_") ||
		strings.HasPrefix(codeStr, "CIRCUIT_"):
		return CategoryTransport
	case strings.HasPrefix(codeStr, "ALREADY_") || strings.HasPrefix(codeStr, "NOT_INITIALIZED") ||
		strings.HasPrefix(codeStr, "INVALID_STATE") || strings.HasPrefix(codeStr, "SHUTDOWN_"):
		return CategoryState
	case strings.HasPrefix(codeStr, "OPERATION_") || strings.HasPrefix(codeStr, "RETRY_") ||
		strings.HasPrefix(codeStr, "VALIDATION_"):
		return CategoryOperation
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	retryableCodes := map[ErrorCode]bool{
		ErrCodeConnectionTimeout:  true,
		ErrCodeConnectionFailed:   true,
		ErrCodeNetworkError:       true,
		ErrCodeOperationTimeout:   true,
		ErrCodeResourceExhausted:  true,
		ErrCodeWorkerBusy:         true,
		ErrCodeJournalUnavailable: true,
		ErrCodeCircuitOpen:        true,
		ErrCodeInternalError:      true,
	}
	return retryableCodes[code]
}

// CaptureStack captures the current stack trace for debugging.
func CaptureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "errors.go") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// WithContext adds contextual information to an error.
func (e *BlitError) WithContext(key, value string) *BlitError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error.
func (e *BlitError) WithDetail(key string, value interface{}) *BlitError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component that raised the error.
func (e *BlitError) WithComponent(component string) *BlitError {
	e.Component = component
	return e
}

// WithOperation sets the operation being performed when the error occurred.
func (e *BlitError) WithOperation(operation string) *BlitError {
	e.Operation = operation
	return e
}

// WithTransferID tags the error with the transfer it belongs to.
func (e *BlitError) WithTransferID(id string) *BlitError {
	e.TransferID = id
	return e
}

// WithCause sets the underlying cause.
func (e *BlitError) WithCause(cause error) *BlitError {
	e.Cause = cause
	return e
}

// WithStack captures the current stack trace.
func (e *BlitError) WithStack() *BlitError {
	e.Stack = CaptureStack(2)
	return e
}

// GetRecommendation returns an operator-friendly recommendation for fixing
// the error.
func (e *BlitError) GetRecommendation() string {
	recommendations := map[ErrorCode]string{
		ErrCodeConnectionTimeout: "Check network reachability to the destination daemon. " +
			"Consider increasing the transport timeout in configuration.",
		ErrCodeConnectionFailed: "Verify the destination daemon is running and reachable on the configured port.",
		ErrCodeNetworkError:     "Network connectivity issue detected between source and destination.",
		ErrCodeFileNotFound:     "The requested path does not exist. Verify the source root and path.",
		ErrCodePermissionDenied: "Insufficient filesystem permissions for this operation.",
		ErrCodeInvalidConfig:    "Configuration validation failed. Check the configuration file syntax and required fields.",
		ErrCodeOperationTimeout: "Operation took too long to complete. Consider increasing timeout values.",
		ErrCodeResourceExhausted: "Buffer pool or worker resources exhausted. " +
			"Reduce worker_count/stream_count or increase the buffer budget.",
		ErrCodeOutOfMemory:        "Insufficient memory available for the configured buffer budget.",
		ErrCodeDiskFull:           "Destination has insufficient free space for the remaining transfer.",
		ErrCodeJournalUnavailable: "Change-journal capability unavailable on this volume; falling back to full enumeration.",
		ErrCodeCircuitOpen:        "The destination daemon circuit breaker is open after repeated failures; it will retry automatically.",
		ErrCodeCloneUnsupported:   "Source and destination are not on the same filesystem; clone/reflink is unavailable, falling back to chunked copy.",
	}

	if rec, exists := recommendations[e.Code]; exists {
		return rec
	}
	return "Please check the error message for details."
}

// UserFacingMessage returns a simplified message suitable for CLI output.
func (e *BlitError) UserFacingMessage() string {
	messages := map[ErrorCode]string{
		ErrCodeConnectionTimeout: "connection to destination timed out",
		ErrCodeConnectionFailed:  "failed to connect to destination",
		ErrCodeNetworkError:      "network error occurred",
		ErrCodeFileNotFound:      "file not found",
		ErrCodePermissionDenied:  "permission denied",
		ErrCodeInvalidConfig:     "invalid configuration",
		ErrCodeOperationTimeout:  "operation timed out",
		ErrCodeResourceExhausted: "resources exhausted",
		ErrCodeOutOfMemory:       "out of memory",
		ErrCodeDiskFull:          "destination disk full",
		ErrCodeChecksumMismatch:  "checksum mismatch after copy",
	}

	if msg, exists := messages[e.Code]; exists {
		return msg
	}
	return e.Message
}

// DetailedDiagnostic returns a comprehensive diagnostic message for verbose
// CLI output and daemon logs.
func (e *BlitError) DetailedDiagnostic() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Error: %s", e.UserFacingMessage()))
	parts = append(parts, fmt.Sprintf("Code: %s", e.Code))
	parts = append(parts, fmt.Sprintf("Category: %s", e.Category))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component: %s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation: %s", e.Operation))
	}
	if e.TransferID != "" {
		parts = append(parts, fmt.Sprintf("TransferID: %s", e.TransferID))
	}

	if len(e.Context) > 0 {
		parts = append(parts, "\nContext:")
		for k, v := range e.Context {
			parts = append(parts, fmt.Sprintf("  %s: %s", k, v))
		}
	}
	if len(e.Details) > 0 {
		parts = append(parts, "\nDetails:")
		for k, v := range e.Details {
			parts = append(parts, fmt.Sprintf("  %s: %v", k, v))
		}
	}

	recommendation := e.GetRecommendation()
	if recommendation != "" {
		parts = append(parts, "\nRecommendation:")
		parts = append(parts, "  "+recommendation)
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("\nUnderlying cause: %s", e.Cause.Error()))
	}

	return strings.Join(parts, "\n")
}
