package lora

import "fmt"

// InvalidStateError signals a precondition failure: an operation was attempted
// on a job whose current status does not permit it. The HTTP layer maps it to
// a client error instead of a server fault.
type InvalidStateError struct {
	Op     string
	Status string
	Reason string
}

func (e *InvalidStateError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s not allowed in status %q: %s", e.Op, e.Status, e.Reason)
	}
	return fmt.Sprintf("%s not allowed in status %q", e.Op, e.Status)
}

func NewInvalidStateError(op, status, reason string) *InvalidStateError {
	return &InvalidStateError{Op: op, Status: status, Reason: reason}
}

// ErrNoTestSamples is returned by the scorer when no post-training test
// samples exist yet. The consistency score stays unset in that case.
var ErrNoTestSamples = fmt.Errorf("no test samples to score")
