package emu

import (
	"errors"
	"fmt"
)

// ErrConfig marks a core that cannot be built from the configuration it
// was given.
var ErrConfig = errors.New("invalid core configuration")

// ErrDefect marks a simulator defect: an internal state the simulator
// cannot continue from. Guest faults never produce it.
var ErrDefect = errors.New("simulator defect")

// ErrNoVector is the defect of delivering an exception kind the vector
// table has no address for.
var ErrNoVector = errors.New("no vector registered")

// DefectError reports a simulator defect on a core.
type DefectError struct {
	Core string
	PC   uint64
	Err  error
}

func (e *DefectError) Error() string {
	return fmt.Sprintf("%s at pc=0x%X: %v", e.Core, e.PC, e.Err)
}

// Unwrap returns the cause and ErrDefect, so errors.Is matches either.
func (e *DefectError) Unwrap() []error {
	return []error{ErrDefect, e.Err}
}

// ExitError is returned by execution when the guest asks to terminate.
type ExitError struct {
	Code int64
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("guest exited with status %d", e.Code)
}

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}
