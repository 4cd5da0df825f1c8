package vm

import (
	"errors"
	"fmt"
)

// ErrStepLimit is returned when a run exceeds the configured step limit.
var ErrStepLimit = errors.New("step limit exceeded")

// IOError reports a failure of the underlying input or output stream. End of
// input is not an error.
type IOError struct {
	Op  string // "read" or "write"
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
