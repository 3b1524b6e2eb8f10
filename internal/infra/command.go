package infra

import (
	"context"
	"os/exec"
)

// CommandRunner abstracts command execution for testing
type CommandRunner interface {
	// Output runs a command and returns its stdout.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)

	// Start launches a command without waiting for it. The child is reaped in the background.
	Start(name string, args ...string) error
}

// RealCommandRunner executes real system commands
type RealCommandRunner struct{}

// Output executes a command and returns its stdout
func (r *RealCommandRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Start executes a command in the background
func (r *RealCommandRunner) Start(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
