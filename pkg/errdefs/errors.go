// Package errdefs defines the error taxonomy shared by the scheduler loops.
//
// Every error here is scoped to a single worker or a single job. Loops match
// them with errors.As and decide whether to drop a worker for the cycle, mark
// a result unverifiable, or move on to the next job.
package errdefs

import (
	"errors"
	"fmt"
)

// TransportError means a worker could not be reached or timed out.
type TransportError struct {
	Worker string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport to worker %s failed: %v", e.Worker, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError means a worker response could not be decoded.
type ParseError struct {
	Worker string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse response from %s: %s: %v", e.Worker, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse response from %s: %s", e.Worker, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// RecomputeError means the audit recomputation itself failed, so the
// result cannot be verified.
type RecomputeError struct {
	Worker string
	TaskID string
	Err    error
}

func (e *RecomputeError) Error() string {
	return fmt.Sprintf("recompute %s for worker %s failed: %v", e.TaskID, e.Worker, e.Err)
}

func (e *RecomputeError) Unwrap() error { return e.Err }

// PersistenceError wraps a failed job store write or read.
type PersistenceError struct {
	Op    string
	JobID string
	Err   error
}

func (e *PersistenceError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("store %s job %s: %v", e.Op, e.JobID, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IntegrityViolation signals a checkpoint whose signature does not match
// what the worker declared.
type IntegrityViolation struct {
	Worker   string
	Expected string
	Actual   string
}

func (e *IntegrityViolation) Error() string {
	return fmt.Sprintf("integrity violation for worker %s: declared %s, computed %s",
		e.Worker, e.Expected, e.Actual)
}

// Persistence wraps err as a PersistenceError unless it is nil.
func Persistence(op, jobID string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, JobID: jobID, Err: err}
}

// IsIntegrityViolation reports whether err carries an IntegrityViolation.
func IsIntegrityViolation(err error) bool {
	var iv *IntegrityViolation
	return errors.As(err, &iv)
}

// IsTransport reports whether err carries a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
