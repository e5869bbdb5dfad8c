package modcache

import "fmt"

// FetchError reports that the artifact could not be retrieved.
type FetchError struct {
	Location string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Location, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// CompileError reports that the retrieved bytes are not a valid module.
type CompileError struct {
	Location string
	Err      error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile %s: %v", e.Location, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }
