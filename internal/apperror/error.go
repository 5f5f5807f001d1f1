// Package apperror provides structured application errors with stable codes.
package apperror

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// AppError carries a stable code, the user-facing message registered for
// it, free-form context and the wrapped cause.
type AppError struct {
	Code      Code      `json:"code"`
	Message   string    `json:"message"`
	Context   string    `json:"context,omitempty"`
	TraceID   string    `json:"traceId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	cause     error
	stack     []uintptr
}

func (e *AppError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (context: %s)", e.Code, e.Message, e.Context)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.cause
}

// Is reports whether target is an AppError with the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithTraceID sets the trace ID for distributed tracing
func (e *AppError) WithTraceID(traceID string) *AppError {
	e.TraceID = traceID
	return e
}

// Temporary reports whether retrying the failed operation can succeed
// without the user doing anything.
func (e *AppError) Temporary() bool {
	switch e.Code {
	case CodeRateLimitExceeded, CodeCircuitOpen,
		CodeEthereumConnectionFailed, CodeEthereumRPCError, CodeEthereumSubscribeFailed,
		CodeWebSocketConnectionError, CodeWebSocketSendError:
		return true
	}
	return false
}

// ToLog flattens the error into log fields, stack included.
func (e *AppError) ToLog() map[string]any {
	fields := map[string]any{
		"code":      e.Code,
		"message":   e.Message,
		"temporary": e.Temporary(),
		"timestamp": e.Timestamp.Format(time.RFC3339),
	}
	if e.Context != "" {
		fields["context"] = e.Context
	}
	if e.TraceID != "" {
		fields["traceId"] = e.TraceID
	}
	if e.cause != nil {
		fields["cause"] = e.cause.Error()
	}
	if len(e.stack) > 0 {
		fields["stack"] = e.formatStack()
	}
	return fields
}

func (e *AppError) formatStack() string {
	var sb strings.Builder
	frames := runtime.CallersFrames(e.stack)
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") {
			fmt.Fprintf(&sb, "\n\t%s:%d %s", frame.File, frame.Line, frame.Function)
		}
		if !more {
			return sb.String()
		}
	}
}

func captureStack() []uintptr {
	var pcs [32]uintptr
	n := runtime.Callers(3, pcs[:])
	return pcs[:n]
}

// Option is a functional option for AppError
type Option func(*AppError)

// New creates a new AppError with the given code and options
func New(code Code, opts ...Option) *AppError {
	err := &AppError{
		Code:      code,
		Message:   Message(code),
		Timestamp: time.Now(),
		stack:     captureStack(),
	}
	for _, opt := range opts {
		opt(err)
	}
	return err
}

// WithMessage overrides the registered message.
func WithMessage(message string) Option {
	return func(e *AppError) { e.Message = message }
}

// WithContext adds context information
func WithContext(context string) Option {
	return func(e *AppError) { e.Context = context }
}

// WithCause wraps an underlying error
func WithCause(cause error) Option {
	return func(e *AppError) { e.cause = cause }
}

// Wrap returns err as an AppError. An existing AppError in the chain is
// returned as is, with context filled in if it had none.
func Wrap(err error, code Code, context string) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		if context != "" && appErr.Context == "" {
			appErr.Context = context
		}
		return appErr
	}

	return New(code, WithContext(context), WithCause(err))
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// IsTemporary reports whether err is a temporary AppError.
func IsTemporary(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Temporary()
}

// GetCode extracts the error code from an error
func GetCode(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknownError
}
