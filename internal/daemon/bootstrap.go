package daemon

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/eliteGoblin/focusd/killswitch/internal/domain"
)

// Notifier delivers a raw signal to a pid.
type Notifier interface {
	Notify(ctx context.Context, pid int, sig syscall.Signal) error
}

// Poke asks the registered listener to sweep. It returns
// domain.ErrListenerNotRunning when no live listener is registered.
func Poke(ctx context.Context, registry domain.ListenerRegistry, n Notifier) (*domain.ListenerEntry, error) {
	entry, err := registry.Get()
	if err != nil {
		return nil, err
	}
	if err := n.Notify(ctx, entry.PID, TriggerSignal); err != nil {
		return entry, fmt.Errorf("notify listener %d: %w", entry.PID, err)
	}
	return entry, nil
}

// StartDetached spawns `<self> listen <args...>` as a detached background
// process and returns its pid.
func StartDetached(args ...string) (int, error) {
	executable, err := os.Executable()
	if err != nil {
		return 0, err
	}

	cmd := exec.Command(executable, append([]string{"listen"}, args...)...)

	// New session, so the listener outlives the terminal
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	// The listener is not our child to wait on
	_ = cmd.Process.Release()
	return pid, nil
}
