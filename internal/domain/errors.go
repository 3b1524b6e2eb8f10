package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when a sweep is requested while another is in flight.
	ErrBusy = errors.New("sweep already in progress")

	// ErrInvalidPlan is returned for an escalation plan that is empty
	// or applies a weaker signal after a stronger one.
	ErrInvalidPlan = errors.New("invalid escalation plan")

	// ErrListenerNotRunning is returned when no listener daemon is registered.
	ErrListenerNotRunning = errors.New("listener not running")
)

// ListError reports a failed process enumeration.
// Callers treat it as an empty result for that pass.
type ListError struct {
	Source string
	Err    error
}

func (e *ListError) Error() string {
	return fmt.Sprintf("list processes (%s): %v", e.Source, e.Err)
}

func (e *ListError) Unwrap() error { return e.Err }

// PathResolutionError reports that a pid's executable path could not be read.
// Callers treat the path as unknown.
type PathResolutionError struct {
	PID int
	Err error
}

func (e *PathResolutionError) Error() string {
	return fmt.Sprintf("resolve path for pid %d: %v", e.PID, e.Err)
}

func (e *PathResolutionError) Unwrap() error { return e.Err }

// SignalReason classifies a failed signal delivery.
type SignalReason int

const (
	SignalFailed SignalReason = iota
	SignalTargetGone
	SignalDenied
)

// SignalError reports a failed signal delivery. Never fatal to a sweep.
type SignalError struct {
	PID    int
	Signal Signal
	Reason SignalReason
	Err    error
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("send %s to pid %d: %v", e.Signal, e.PID, e.Err)
}

func (e *SignalError) Unwrap() error { return e.Err }

// Gone reports whether the target had already exited.
func (e *SignalError) Gone() bool { return e.Reason == SignalTargetGone }

// Denied reports whether the caller lacked permission to signal the target.
func (e *SignalError) Denied() bool { return e.Reason == SignalDenied }
