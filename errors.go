package streamcache

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors
var (
	// ErrDisposed is returned by any operation on a disposed stream.
	ErrDisposed = errors.New("stream cache disposed")

	// ErrClosed is returned when writing to a Writer that was closed or
	// converted into a Reader.
	ErrClosed = errors.New("stream cache writer already closed")

	// ErrTransferred is returned when a Writer's content was already handed
	// over to a Reader.
	ErrTransferred = errors.New("stream cache ownership already transferred")

	// ErrNotRewindable is returned when a Reader is rewound, or read at an
	// offset, before its first pass reached end of stream.
	ErrNotRewindable = errors.New("stream cache not fully read")

	// ErrIncompletePass is returned when rewinding a Reader whose first pass
	// failed with an upstream error.
	ErrIncompletePass = errors.New("stream cache first pass did not complete")

	// ErrInvalidOffset is returned for negative read offsets.
	ErrInvalidOffset = errors.New("invalid offset")
)

// SpillError reports a failure while moving cached bytes from memory to a
// temporary file, or while appending to that file. The entry that produced
// it is unusable; only Dispose is still meaningful.
type SpillError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *SpillError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("spill to file: %v", e.Err)
	}
	return fmt.Sprintf("spill to file %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying I/O error.
func (e *SpillError) Unwrap() error {
	return e.Err
}

// PassThroughError reports a failure writing to a Writer's downstream.
// The bytes were still cached.
type PassThroughError struct {
	Err error
}

// Error implements the error interface.
func (e *PassThroughError) Error() string {
	return fmt.Sprintf("pass-through write: %v", e.Err)
}

// Unwrap returns the downstream error.
func (e *PassThroughError) Unwrap() error {
	return e.Err
}

// ValidationError represents one or more configuration problems.
type ValidationError struct {
	Errors []error
}

// Error implements the error interface.
func (ve *ValidationError) Error() string {
	if len(ve.Errors) == 0 {
		return "validation failed"
	}
	if len(ve.Errors) == 1 {
		return fmt.Sprintf("validation failed: %v", ve.Errors[0])
	}

	var buf strings.Builder
	buf.WriteString(fmt.Sprintf("validation failed with %d errors:\n", len(ve.Errors)))
	for i, err := range ve.Errors {
		fmt.Fprintf(&buf, "  %d. %v\n", i+1, err)
	}
	return buf.String()
}

// Unwrap returns the underlying errors for use with errors.Is and errors.As.
// This implements the multi-error unwrap interface introduced in Go 1.20.
func (ve *ValidationError) Unwrap() []error {
	return ve.Errors
}

// newValidationError creates a ValidationError from a slice of errors.
// Returns nil if the slice is empty.
func newValidationError(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Errors: errs}
}
