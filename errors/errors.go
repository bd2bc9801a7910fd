package errors

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// Error is a hub failure with a code, the object key it concerns and
// optional string metadata.
type Error struct {
	code     ErrorCode
	category ErrorCategory
	message  string
	cause    error
	metadata map[string]string
	key      string
	at       time.Time
}

// Error returns the message, followed by the cause when there is one.
func (e *Error) Error() string {
	if e.cause == nil {
		return e.message
	}
	return e.message + ": " + e.cause.Error()
}

// Code returns the error code.
func (e *Error) Code() ErrorCode { return e.code }

// Category returns the error category.
func (e *Error) Category() ErrorCategory { return e.category }

// Retryable reports whether retrying the operation may succeed.
func (e *Error) Retryable() bool { return e.category.IsRetryable() }

// Key returns the object key, empty when the error concerns no object.
func (e *Error) Key() string { return e.key }

// Timestamp returns when the error was created.
func (e *Error) Timestamp() time.Time { return e.at }

// Unwrap returns the cause.
func (e *Error) Unwrap() error { return e.cause }

// Metadata returns a copy of the error's metadata, never nil.
func (e *Error) Metadata() map[string]string {
	md := make(map[string]string, len(e.metadata))
	maps.Copy(md, e.metadata)
	return md
}

// wireError is the body written to HTTP callers.
type wireError struct {
	Success   bool              `json:"success"`
	Code      ErrorCode         `json:"code"`
	Category  ErrorCategory     `json:"category"`
	Message   string            `json:"message"`
	Key       string            `json:"key,omitempty"`
	Cause     string            `json:"cause,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Retryable bool              `json:"retryable"`
	Timestamp *time.Time        `json:"timestamp,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	w := wireError{
		Code:      e.code,
		Category:  e.category,
		Message:   e.message,
		Key:       e.key,
		Metadata:  e.metadata,
		Retryable: e.Retryable(),
	}
	if e.cause != nil {
		w.Cause = e.cause.Error()
	}
	if !e.at.IsZero() {
		at := e.at
		w.Timestamp = &at
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler. The cause comes back as a
// plain error carrying the original text.
func (e *Error) UnmarshalJSON(data []byte) error {
	var w wireError
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Error{
		code:     w.Code,
		category: w.Category,
		message:  w.Message,
		metadata: w.Metadata,
		key:      w.Key,
	}
	if e.category == "" {
		e.category = w.Code.DefaultCategory()
	}
	if w.Cause != "" {
		e.cause = fmt.Errorf("%s", w.Cause)
	}
	if w.Timestamp != nil {
		e.at = *w.Timestamp
	}
	return nil
}

// Option configures an Error.
type Option func(*Error)

// WithKey records the object key the error concerns.
func WithKey(key string) Option {
	return func(e *Error) { e.key = key }
}

// WithMetadata adds one metadata entry.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) { e.cause = cause }
}

// New creates an Error whose category follows from code.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:     code,
		category: code.DefaultCategory(),
		message:  message,
		at:       time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates an Error with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// NotFound reports that key does not exist.
func NotFound(key string, opts ...Option) *Error {
	return New(ErrCodeNotFound, fmt.Sprintf("object %q not found", key), append([]Option{WithKey(key)}, opts...)...)
}

// ReadOnly rejects operation because the hub is read-only.
func ReadOnly(operation string, opts ...Option) *Error {
	opts = append([]Option{WithMetadata("operation", operation)}, opts...)
	return New(ErrCodeReadOnly, operation+" rejected: hub is read-only", opts...)
}

// InvalidInput reports a malformed request.
func InvalidInput(message string, opts ...Option) *Error {
	return New(ErrCodeInvalidInput, message, opts...)
}

// Corruption reports a persisted record that cannot be decoded.
func Corruption(message string, opts ...Option) *Error {
	return New(ErrCodeCorruption, message, opts...)
}

// Internal reports an unexpected failure.
func Internal(message string, opts ...Option) *Error {
	return New(ErrCodeInternal, message, opts...)
}
