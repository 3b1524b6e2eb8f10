package domain

import (
	"context"
	"time"
)

// ProcessLister enumerates running processes.
// Implementations: gopsutil (default) and a `ps` reader.
type ProcessLister interface {
	// List returns every process visible to the caller.
	// Records carry pid, owner, name and start time; Path and Identifier
	// are left empty and filled by the resolvers.
	List(ctx context.Context) ([]ProcessRecord, error)
}

// PathResolver looks up a single pid's executable path.
type PathResolver interface {
	// ResolveExecutablePath returns a *PathResolutionError when the path
	// can't be read (the process may have exited since it was listed).
	ResolveExecutablePath(ctx context.Context, pid int) (string, error)
}

// IdentifierResolver maps an executable path to a stable package identifier.
type IdentifierResolver interface {
	// Resolve returns the identifier or "" when there is none.
	Resolve(path string) string
}

// Signaler delivers termination signals.
type Signaler interface {
	// Send delivers sig to the process. Failures are *SignalError.
	Send(ctx context.Context, target ProcessRecord, sig Signal) error
}

// ProtectionPolicy decides which processes are exempt from termination.
type ProtectionPolicy interface {
	// IsProtected must be pure: same inputs, same answer, no side effects.
	IsProtected(record ProcessRecord, selfPID int) bool
}

// Escalator applies an escalation plan to a set of targets.
type Escalator interface {
	Escalate(ctx context.Context, targets []ProcessRecord, stages []Stage) ([]StageReport, error)
}

// Sweeper runs one full sweep.
type Sweeper interface {
	Run(ctx context.Context) (SweepResult, error)
}

// Clock abstracts time so sweep timing can be tested without real waits.
type Clock interface {
	Now() time.Time

	// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// SweepLock serializes sweeps across processes.
type SweepLock interface {
	// TryAcquire returns ErrBusy if another holder exists.
	// The returned func releases the lock.
	TryAcquire() (release func(), err error)
}

// HistoryStore persists sweep results.
// Implementation: SQLCipher encrypted database.
type HistoryStore interface {
	Record(user string, result SweepResult) (int64, error)

	// Recent returns up to limit records, newest first.
	Recent(limit int) ([]SweepRecord, error)

	Close() error
}

// ListenerRegistry lets the trigger command find the listener daemon.
type ListenerRegistry interface {
	Register(entry ListenerEntry) error

	// Get returns ErrListenerNotRunning when no entry exists.
	Get() (*ListenerEntry, error)

	Clear() error

	GetRegistryPath() string
}
