// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"fmt"
	"time"
)

// ProcessRecord is a point-in-time view of one running process.
// A record is only meaningful for the snapshot that produced it: pids are
// reused as soon as a process exits.
type ProcessRecord struct {
	PID        int
	OwnerID    int    // OS user id
	Name       string // executable base name
	Path       string // absolute executable path, empty when unknown
	Identifier string // bundle identifier, empty when the process has none
	StartedAt  int64  // unix milliseconds, 0 when unknown
}

// IsApp reports whether the process has an application identity.
// These are the processes the fast path of a sweep targets.
func (r ProcessRecord) IsApp() bool {
	return r.Identifier != ""
}

// SameProcess reports whether other describes the same live process as r.
// Start times are compared only when both sides know them.
func (r ProcessRecord) SameProcess(other ProcessRecord) bool {
	if r.PID != other.PID || r.Name != other.Name {
		return false
	}
	if r.StartedAt != 0 && other.StartedAt != 0 {
		return r.StartedAt == other.StartedAt
	}
	return true
}

func (r ProcessRecord) String() string {
	return fmt.Sprintf("%s[%d]", r.Name, r.PID)
}

// Signal is a termination request, ordered by force.
type Signal int

const (
	// SignalTerminate asks the process to quit on its own terms
	// (an application quit event where available).
	SignalTerminate Signal = iota + 1
	// SignalTerm is SIGTERM.
	SignalTerm
	// SignalKill is SIGKILL.
	SignalKill
)

func (s Signal) String() string {
	switch s {
	case SignalTerminate:
		return "terminate"
	case SignalTerm:
		return "SIGTERM"
	case SignalKill:
		return "SIGKILL"
	default:
		return fmt.Sprintf("signal(%d)", int(s))
	}
}

// Stage is one step of an escalation plan.
type Stage struct {
	Signal Signal
	Grace  time.Duration // wait after this stage before re-checking survivors
}

// StageReport counts what happened during one escalation stage.
type StageReport struct {
	Signal   Signal
	Targeted int // processes the stage was applied to
	Sent     int
	Gone     int // process exited before the signal landed
	Failed   int
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	InitialTargetCount int
	FinalLeftoverCount int

	StartedAt     time.Time
	Duration      time.Duration
	Iterations    int // generic sweep loop passes
	SignalsSent   int
	SignalsFailed int
	Canceled      bool
}

// AddStages folds per-stage counts into the result totals.
func (r *SweepResult) AddStages(reports []StageReport) {
	for _, s := range reports {
		r.SignalsSent += s.Sent
		r.SignalsFailed += s.Failed
	}
}

// SweepRecord is a persisted sweep result.
type SweepRecord struct {
	ID     int64
	User   string
	Result SweepResult
}

// ListenerEntry describes a running listener daemon.
// Persisted so the trigger command can find it.
type ListenerEntry struct {
	PID        int    `json:"pid"`
	StartedAt  int64  `json:"started_at"`
	AppVersion string `json:"app_version,omitempty"`
}
