package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap adds message to err. A wrapped *Error keeps its code, key and
// metadata; context errors become TIMEOUT or CANCELED; anything else becomes
// INTERNAL. Wrap(nil) is nil, so only call it on a non-nil error when the
// result is returned as an error interface.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var inner *Error
	switch {
	case errors.As(err, &inner):
		w := New(inner.code, message, WithCause(err), WithKey(inner.key))
		w.category = inner.category
		w.metadata = inner.Metadata()
		for _, opt := range opts {
			opt(w)
		}
		return w
	case errors.Is(err, context.DeadlineExceeded):
		return New(ErrCodeTimeout, message, append(opts, WithCause(err))...)
	case errors.Is(err, context.Canceled):
		return New(ErrCodeCanceled, message, append(opts, WithCause(err))...)
	default:
		return New(ErrCodeInternal, message, append(opts, WithCause(err))...)
	}
}

// Wrapf wraps err with a formatted message.
func Wrapf(err error, format string, args ...any) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps err under a specific code.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	return New(code, message, append(opts, WithCause(err))...)
}

// Code returns the code of the outermost *Error in err's chain, or "".
func Code(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}
	return ""
}

// Is reports whether err carries code.
func Is(err error, code ErrorCode) bool {
	return err != nil && Code(err) == code
}

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool { return Is(err, ErrCodeNotFound) }

// IsReadOnly reports whether err is a READ_ONLY rejection.
func IsReadOnly(err error) bool { return Is(err, ErrCodeReadOnly) }

// Join combines errors, dropping nils.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// RecoverPanic turns a recovered panic value into a PANIC error.
func RecoverPanic(recovered any) *Error {
	if recovered == nil {
		return nil
	}
	message := fmt.Sprint(recovered)
	if err, ok := recovered.(error); ok {
		message = err.Error()
	}
	return New(ErrCodePanic, message, WithMetadata("panic_value", fmt.Sprintf("%T", recovered)))
}
