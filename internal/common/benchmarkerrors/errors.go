// Package benchmarkerrors contains the error taxonomy of a throughput benchmark run.
// Callers classify errors with errors.As so that wrapping with github.com/pkg/errors keeps working.
//
// Planning-time errors (ErrInvalidArgument, ErrInvalidDistribution, ErrCapacityExceeded) abort a run
// before any job is submitted. ErrSubmission is local to one job. ErrTransport is retried at the call
// site only. ErrInsufficientData only affects reporting.
package benchmarkerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

const (
	ExitOk               = 0
	ExitUnknown          = 1
	ExitInvalidInput     = 2
	ExitInsufficientData = 3
)

// ErrInvalidArgument is returned when a configuration value is invalid.
// Message is optional and is omitted from the error message if not provided.
type ErrInvalidArgument struct {
	Name    string      // Name of the field referred to, e.g., "total_nodes"
	Value   interface{} // The invalid value that was provided
	Message string      // An optional message explaining why the value is invalid
}

func (err *ErrInvalidArgument) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %v is invalid for field %q", err.Value, err.Name)
	}
	return fmt.Sprintf("value %v is invalid for field %q; %s", err.Value, err.Name, err.Message)
}

// ErrAlreadyExists is returned when a stored resource already exists, e.g. a job record with the same key.
type ErrAlreadyExists struct {
	Type  string // Resource type, e.g., "job record"
	Value string // Resource key
}

func (err *ErrAlreadyExists) Error() string {
	return fmt.Sprintf("resource %q of type %q already exists", err.Value, err.Type)
}

// ErrNotFound is returned when a stored resource does not exist.
type ErrNotFound struct {
	Type  string
	Value string
}

func (err *ErrNotFound) Error() string {
	return fmt.Sprintf("resource %q of type %q does not exist", err.Value, err.Type)
}

// ErrInvalidDistribution is returned when a job class has a duration distribution that cannot be sampled.
type ErrInvalidDistribution struct {
	ClassId string
	Message string
}

func (err *ErrInvalidDistribution) Error() string {
	return fmt.Sprintf("invalid duration distribution for job class %s: %s", err.ClassId, err.Message)
}

// ErrCapacityExceeded is returned when a single job of a class needs more nodes than the cluster has.
type ErrCapacityExceeded struct {
	ClassId    string
	Nodes      int
	TotalNodes int
}

func (err *ErrCapacityExceeded) Error() string {
	return fmt.Sprintf("job class %s requests %d nodes but only %d nodes are available", err.ClassId, err.Nodes, err.TotalNodes)
}

// ErrSubmission is a per-job rejection from the scheduler. It is final for that job.
type ErrSubmission struct {
	Reason string
	Err    error
}

func (err *ErrSubmission) Error() string {
	if err.Err == nil {
		return fmt.Sprintf("submission rejected: %s", err.Reason)
	}
	return fmt.Sprintf("submission rejected: %s: %s", err.Reason, err.Err)
}

func (err *ErrSubmission) Unwrap() error {
	return err.Err
}

// ErrTransport is a transient failure reaching the scheduler or the job store.
type ErrTransport struct {
	Operation string
	Err       error
}

func (err *ErrTransport) Error() string {
	return fmt.Sprintf("transport failure during %s: %s", err.Operation, err.Err)
}

func (err *ErrTransport) Unwrap() error {
	return err.Err
}

// ErrInsufficientData is returned by the metrics aggregator when no meaningful rate can be computed.
type ErrInsufficientData struct {
	Message string
}

func (err *ErrInsufficientData) Error() string {
	return fmt.Sprintf("insufficient data to compute metrics: %s", err.Message)
}

// IsTransport reports whether err, or any error it wraps, is an ErrTransport.
func IsTransport(err error) bool {
	var e *ErrTransport
	return errors.As(err, &e)
}

// IsNotFound reports whether err, or any error it wraps, is an ErrNotFound.
func IsNotFound(err error) bool {
	var e *ErrNotFound
	return errors.As(err, &e)
}

// IsPlanningError reports whether err should abort a run before any submission.
func IsPlanningError(err error) bool {
	{
		var e *ErrInvalidArgument
		if errors.As(err, &e) {
			return true
		}
	}
	{
		var e *ErrInvalidDistribution
		if errors.As(err, &e) {
			return true
		}
	}
	{
		var e *ErrCapacityExceeded
		if errors.As(err, &e) {
			return true
		}
	}
	return false
}

// ExitCodeFromError maps error types to process exit codes.
// Uses errors.As to look through the chain of errors, as opposed to just considering the topmost error in the chain.
func ExitCodeFromError(err error) int {
	if err == nil {
		return ExitOk
	}
	if IsPlanningError(err) {
		return ExitInvalidInput
	}
	var e *ErrInsufficientData
	if errors.As(err, &e) {
		return ExitInsufficientData
	}
	return ExitUnknown
}
