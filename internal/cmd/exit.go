package cmd

import "fmt"

// ExitError carries a process exit code through cobra's error return so
// main can honor the run outcome contract (0 converged, 1 rejected or
// failed, 2 budget exhausted, 3 cancelled).
type ExitError struct {
	Code int
	Err  error
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

// Unwrap exposes the wrapped error to errors.Is/As.
func (e *ExitError) Unwrap() error {
	return e.Err
}
