package executor

import (
	"errors"
	"fmt"
)

// ErrNoEntryPoint is reported when the module does not export _start.
var ErrNoEntryPoint = errors.New("module has no _start export")

// ErrClosed is returned by Run once the Executor has been closed.
var ErrClosed = errors.New("executor is closed")

// InstantiationError reports that the compiled module could not be
// instantiated against the WASI import table.
type InstantiationError struct {
	Err error
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("instantiate: %v", e.Err)
}

func (e *InstantiationError) Unwrap() error { return e.Err }

// ProgramTrap reports that the running program faulted.
type ProgramTrap struct {
	Err error
}

func (e *ProgramTrap) Error() string {
	return fmt.Sprintf("program trap: %v", e.Err)
}

func (e *ProgramTrap) Unwrap() error { return e.Err }
