package kernel

import (
	"errors"
	"fmt"
)

// Kernel error codes reported by Local.
const (
	CodeInvalidInput = "invalid_input"
	CodeUnsupported  = "unsupported_op"
	CodeTopology     = "invalid_topology"
	CodePanic        = "kernel_panic"
)

// ErrUnavailable is wrapped in a TransientError when the kernel cannot
// accept work right now.
var ErrUnavailable = errors.New("kernel unavailable")

// KernelError is a deterministic rejection of a request: repeating the
// same request yields the same error, so it is safe to cache and is never
// retried.
type KernelError struct {
	Op      string
	Code    string
	Message string
}

func (e *KernelError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("kernel: %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("kernel: %s: %s: %s", e.Op, e.Code, e.Message)
}

// Errorf builds a KernelError with a formatted message.
func Errorf(op, code, format string, args ...any) *KernelError {
	return &KernelError{Op: op, Code: code, Message: fmt.Sprintf(format, args...)}
}

// TransientError marks a failure that may succeed on retry, such as an
// unavailable or overloaded kernel.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("kernel: %s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError for op.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is, or wraps, a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// AsKernelError extracts a KernelError from err's chain.
func AsKernelError(err error) (*KernelError, bool) {
	var ke *KernelError
	if errors.As(err, &ke) {
		return ke, true
	}
	return nil, false
}
