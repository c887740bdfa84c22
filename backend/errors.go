package backend

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrUnsupportedConfiguration is returned when a request cannot run with the
// devices at hand, for example a forced accelerator run without a queue.
var ErrUnsupportedConfiguration = errors.New("unsupported configuration")

// OperationError is a hard failure reported by the runtime for a submit,
// enqueue, copy or wait call. It is never retried.
type OperationError struct {
	Op  string
	Err error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("backend %s failed: %v", e.Op, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// OpError wraps err as an OperationError for op, returning nil for a nil err.
func OpError(op string, err error) error {
	if err == nil {
		return nil
	}
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return err
	}
	return errors.WithStack(&OperationError{Op: op, Err: err})
}

// Unsupported returns an error wrapping ErrUnsupportedConfiguration.
func Unsupported(format string, args ...any) error {
	return errors.Wrapf(ErrUnsupportedConfiguration, format, args...)
}
