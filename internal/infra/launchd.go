package infra

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"howett.net/plist"
)

// LaunchAgentLabel identifies the listener's LaunchAgent.
const LaunchAgentLabel = "io.github.elitegoblin.killswitch.listener"

// launchAgentPlist is the LaunchAgent definition that keeps the listener
// running for the logged-in user.
type launchAgentPlist struct {
	Label             string          `plist:"Label"`
	ProgramArguments  []string        `plist:"ProgramArguments"`
	RunAtLoad         bool            `plist:"RunAtLoad"`
	KeepAlive         map[string]bool `plist:"KeepAlive"`
	StandardOutPath   string          `plist:"StandardOutPath"`
	StandardErrorPath string          `plist:"StandardErrorPath"`
	ProcessType       string          `plist:"ProcessType"`
	ThrottleInterval  int             `plist:"ThrottleInterval"`
}

// LaunchAgent installs the listener as a per-user launchd job.
type LaunchAgent struct {
	plistPath string
	logPath   string
	runner    CommandRunner
}

// NewLaunchAgent creates a manager for ~/Library/LaunchAgents under home.
func NewLaunchAgent(home, logPath string, runner CommandRunner) *LaunchAgent {
	return &LaunchAgent{
		plistPath: filepath.Join(home, "Library", "LaunchAgents", LaunchAgentLabel+".plist"),
		logPath:   logPath,
		runner:    runner,
	}
}

// generatePlistContent renders the job for the given command line.
func (m *LaunchAgent) generatePlistContent(args []string) ([]byte, error) {
	job := launchAgentPlist{
		Label:             LaunchAgentLabel,
		ProgramArguments:  args,
		RunAtLoad:         true,
		KeepAlive:         map[string]bool{"Crashed": true},
		StandardOutPath:   m.logPath,
		StandardErrorPath: m.logPath,
		ProcessType:       "Background",
		ThrottleInterval:  10,
	}
	content, err := plist.MarshalIndent(job, plist.XMLFormat, "\t")
	if err != nil {
		return nil, fmt.Errorf("failed to encode launch agent: %w", err)
	}
	return content, nil
}

// Install writes the plist for args (executable first) and loads it.
func (m *LaunchAgent) Install(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("launch agent needs a program")
	}
	if err := os.MkdirAll(filepath.Dir(m.plistPath), 0755); err != nil {
		return err
	}

	content, err := m.generatePlistContent(args)
	if err != nil {
		return err
	}

	// Reload if an older definition is active
	if m.IsInstalled() {
		_ = m.unload(ctx)
	}
	if err := os.WriteFile(m.plistPath, content, 0644); err != nil {
		return err
	}
	return m.load(ctx)
}

// Uninstall unloads and removes the plist.
func (m *LaunchAgent) Uninstall(ctx context.Context) error {
	_ = m.unload(ctx)
	if err := os.Remove(m.plistPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// IsInstalled checks if the plist is present.
func (m *LaunchAgent) IsInstalled() bool {
	_, err := os.Stat(m.plistPath)
	return err == nil
}

// NeedsUpdate reports whether the installed plist differs from the one
// args would produce.
func (m *LaunchAgent) NeedsUpdate(args []string) bool {
	if !m.IsInstalled() {
		return false
	}
	current, err := os.ReadFile(m.plistPath)
	if err != nil {
		return true
	}
	expected, err := m.generatePlistContent(args)
	if err != nil {
		return true
	}
	return !bytes.Equal(current, expected)
}

// GetPlistPath returns the plist file path.
func (m *LaunchAgent) GetPlistPath() string {
	return m.plistPath
}

// `launchctl load` is deprecated in favour of bootstrap gui/<uid>, but
// still works and needs no uid lookup.
func (m *LaunchAgent) load(ctx context.Context) error {
	if out, err := m.runner.Output(ctx, "launchctl", "load", m.plistPath); err != nil {
		return fmt.Errorf("launchctl load: %w: %s", err, bytes.TrimSpace(out))
	}
	return nil
}

func (m *LaunchAgent) unload(ctx context.Context) error {
	_, err := m.runner.Output(ctx, "launchctl", "unload", m.plistPath)
	return err
}
