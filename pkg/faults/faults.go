// Package faults classifies pipeline failures.
//
// Two failure classes exist: transient faults (network, rate limits,
// warehouse unavailability) that the invoking scheduler may retry by
// re-running the whole pipeline, and data faults (corrupt batch files,
// schema mismatches) that will fail identically on every retry and need a
// human. Lower-level packages wrap their errors with one of these at the
// call sites that know which class applies; the top level only ever asks
// IsTransient/IsData.
package faults

import (
	"errors"
	"fmt"
)

// TransientError marks a failure worth retrying on the next invocation.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a transient fault. Returns nil for a nil err.
// Wrapping an already-transient error is a no-op.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	var t *TransientError
	if errors.As(err, &t) {
		return err
	}
	return &TransientError{Err: err}
}

// DataError marks a failure that is deterministic for a given input:
// re-running the pipeline against the same batch reproduces it. Source
// identifies the input (object key or table reference) and Field, when
// known, the offending column.
type DataError struct {
	Source string
	Field  string
	Err    error
}

func (e *DataError) Error() string {
	switch {
	case e.Source != "" && e.Field != "":
		return fmt.Sprintf("data error in %s (field %q): %v", e.Source, e.Field, e.Err)
	case e.Source != "":
		return fmt.Sprintf("data error in %s: %v", e.Source, e.Err)
	default:
		return fmt.Sprintf("data error: %v", e.Err)
	}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// Data wraps err as a data fault attributed to source. Returns nil for a
// nil err.
func Data(source string, err error) error {
	if err == nil {
		return nil
	}
	return &DataError{Source: source, Err: err}
}

// DataField is Data with the offending field named.
func DataField(source, field string, err error) error {
	if err == nil {
		return nil
	}
	return &DataError{Source: source, Field: field, Err: err}
}

// IsTransient reports whether err is classified as transient.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsData reports whether err is classified as a data fault.
func IsData(err error) bool {
	var d *DataError
	return errors.As(err, &d)
}
