// Package infra implements infrastructure concerns (process table, signals, storage).
package infra

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/killswitch/internal/domain"
)

// ProcessManagerImpl lists and signals processes using gopsutil.
type ProcessManagerImpl struct {
	quitter AppQuitter
	logger  *zap.Logger
}

// NewProcessManager creates a process manager. quitter may be nil, in which
// case the cooperative terminate falls back to SIGTERM.
func NewProcessManager(quitter AppQuitter, logger *zap.Logger) *ProcessManagerImpl {
	return &ProcessManagerImpl{quitter: quitter, logger: logger}
}

// List returns every process visible to the caller.
func (pm *ProcessManagerImpl) List(ctx context.Context) ([]domain.ProcessRecord, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, &domain.ListError{Source: "gopsutil", Err: err}
	}

	records := make([]domain.ProcessRecord, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue // Process may have exited
		}

		uids, err := p.UidsWithContext(ctx)
		if err != nil || len(uids) == 0 {
			continue // Owner unknown, can't be filtered safely
		}
		// Effective uid, as ps reports it
		owner := uids[0]
		if len(uids) > 1 {
			owner = uids[1]
		}

		created, _ := p.CreateTimeWithContext(ctx)

		records = append(records, domain.ProcessRecord{
			PID:       int(p.Pid),
			OwnerID:   int(owner),
			Name:      name,
			StartedAt: created,
		})
	}

	return records, nil
}

// ResolveExecutablePath returns the absolute executable path of pid.
func (pm *ProcessManagerImpl) ResolveExecutablePath(ctx context.Context, pid int) (string, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return "", &domain.PathResolutionError{PID: pid, Err: err}
	}
	exe, err := p.ExeWithContext(ctx)
	if err != nil {
		return "", &domain.PathResolutionError{PID: pid, Err: err}
	}
	if exe == "" {
		return "", &domain.PathResolutionError{PID: pid, Err: errors.New("empty executable path")}
	}
	return exe, nil
}

// Send delivers sig to target.
func (pm *ProcessManagerImpl) Send(ctx context.Context, target domain.ProcessRecord, sig domain.Signal) error {
	var sys syscall.Signal
	switch sig {
	case domain.SignalTerminate:
		if pm.quitter != nil && target.Identifier != "" {
			err := pm.quitter.Quit(target.Identifier)
			if err == nil {
				return nil
			}
			pm.logger.Debug("cooperative quit unavailable, using SIGTERM",
				zap.Int("pid", target.PID),
				zap.String("identifier", target.Identifier),
				zap.Error(err))
		}
		sys = syscall.SIGTERM
	case domain.SignalTerm:
		sys = syscall.SIGTERM
	case domain.SignalKill:
		sys = syscall.SIGKILL
	default:
		return &domain.SignalError{PID: target.PID, Signal: sig, Err: errors.New("unknown signal")}
	}

	p, err := process.NewProcessWithContext(ctx, int32(target.PID))
	if err != nil {
		return classifySignalError(target.PID, sig, err)
	}
	if err := p.SendSignalWithContext(ctx, sys); err != nil {
		return classifySignalError(target.PID, sig, err)
	}
	return nil
}

func classifySignalError(pid int, sig domain.Signal, err error) error {
	reason := domain.SignalFailed
	switch {
	case errors.Is(err, process.ErrorProcessNotRunning),
		errors.Is(err, os.ErrProcessDone),
		errors.Is(err, syscall.ESRCH):
		reason = domain.SignalTargetGone
	case errors.Is(err, syscall.EPERM), errors.Is(err, os.ErrPermission):
		reason = domain.SignalDenied
	}
	return &domain.SignalError{PID: pid, Signal: sig, Reason: reason, Err: err}
}

// Notify delivers a raw signal to pid, for control messages such as the
// listener's SIGUSR1.
func (pm *ProcessManagerImpl) Notify(ctx context.Context, pid int, sig syscall.Signal) error {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return fmt.Errorf("process %d: %w", pid, err)
	}
	if err := p.SendSignalWithContext(ctx, sig); err != nil {
		return fmt.Errorf("signal %d: %w", pid, err)
	}
	return nil
}

// IsRunning checks if a PID exists and is running.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	// Signal 0 checks existence; EPERM means it exists but isn't ours
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// GetCurrentPID returns the current process PID.
func (pm *ProcessManagerImpl) GetCurrentPID() int {
	return os.Getpid()
}

// Ensure ProcessManagerImpl implements the domain interfaces.
var (
	_ domain.ProcessLister = (*ProcessManagerImpl)(nil)
	_ domain.PathResolver  = (*ProcessManagerImpl)(nil)
	_ domain.Signaler      = (*ProcessManagerImpl)(nil)
)
