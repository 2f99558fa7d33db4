package common

import (
	"errors"
	"fmt"
)

// ErrorClass is the taxonomy from the error-handling design: transient I/O errors are
// retried in place, source/data errors terminate the run, contract errors are skipped
// without creating a run-level failure, and programmer errors crash the worker.
type ErrorClass int

const (
	ClassTransient ErrorClass = iota
	ClassSource
	ClassData
	ClassContract
	ClassProgrammer
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassSource:
		return "source"
	case ClassData:
		return "data"
	case ClassContract:
		return "contract"
	case ClassProgrammer:
		return "programmer"
	default:
		return "unknown"
	}
}

// ClassifiedError tags an underlying error with its handling class so a stage worker
// can decide retry-in-place vs. run.failed vs. skip-and-log without string matching.
type ClassifiedError struct {
	Class ErrorClass
	Err   error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a transient I/O failure: DB timeout, bus publish failure,
// object-store 5xx, HTTP 5xx. Callers retry with backoff; the pipeline never aborts.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: ClassTransient, Err: err}
}

// SourceError wraps err as a source-data failure: HTTP 4xx, empty extracted content,
// decode failure. The run terminates with no next-stage event.
func SourceError(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: ClassSource, Err: err}
}

// DataError wraps err as a referential-integrity failure: a foreign key is missing,
// or the source/subscription was deleted mid-run. The run terminates for operator
// investigation.
func DataError(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: ClassData, Err: err}
}

// ContractError wraps err as a malformed-event failure: unknown event_type, missing
// run_id/trace_id, no registered handler. The consumer logs and skips the message;
// no run transition is made because none can be safely attributed.
func ContractError(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: ClassContract, Err: err}
}

// ClassOf extracts the ErrorClass of err, defaulting to ClassTransient for
// unclassified errors so unknown failures are retried rather than silently dropped.
func ClassOf(err error) ErrorClass {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return ClassTransient
}
