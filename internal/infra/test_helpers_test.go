package infra

import (
	"context"
	"strings"
)

// mockCommandRunner records invocations and returns canned output
type mockCommandRunner struct {
	output    []byte
	outputErr error
	startErr  error
	calls     []string
}

func (m *mockCommandRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.calls = append(m.calls, name+" "+strings.Join(args, " "))
	return m.output, m.outputErr
}

func (m *mockCommandRunner) Start(name string, args ...string) error {
	m.calls = append(m.calls, name+" "+strings.Join(args, " "))
	return m.startErr
}

// mockProcessChecker is a test double for ProcessChecker
type mockProcessChecker struct {
	runningPIDs map[int]bool
}

func newMockProcessChecker() *mockProcessChecker {
	return &mockProcessChecker{runningPIDs: make(map[int]bool)}
}

func (m *mockProcessChecker) IsRunning(pid int) bool {
	return m.runningPIDs[pid]
}

func (m *mockProcessChecker) SetRunning(pid int, running bool) {
	m.runningPIDs[pid] = running
}
