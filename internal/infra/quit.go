package infra

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// AppQuitter asks an application to quit itself.
type AppQuitter interface {
	Quit(identifier string) error
}

// AppleScriptQuitter sends the "quit" Apple event through osascript.
// The request is fire-and-forget: apps with unsaved work may ignore it,
// which is why escalation follows.
type AppleScriptQuitter struct {
	runner    CommandRunner
	osascript string
}

// NewAppQuitter returns the quitter for this platform, or nil when the
// platform has no cooperative quit mechanism.
func NewAppQuitter() AppQuitter {
	if runtime.GOOS != "darwin" {
		return nil
	}
	path, err := exec.LookPath("osascript")
	if err != nil {
		return nil
	}
	return NewAppleScriptQuitterWithRunner(&RealCommandRunner{}, path)
}

// NewAppleScriptQuitterWithRunner creates a quitter with an injectable runner (for testing).
func NewAppleScriptQuitterWithRunner(runner CommandRunner, osascript string) *AppleScriptQuitter {
	return &AppleScriptQuitter{runner: runner, osascript: osascript}
}

// Quit requests the application with the given bundle identifier to quit.
func (q *AppleScriptQuitter) Quit(identifier string) error {
	if identifier == "" || strings.ContainsAny(identifier, "\"\\\n") {
		return fmt.Errorf("refusing to script identifier %q", identifier)
	}
	script := fmt.Sprintf(`tell application id "%s" to quit`, identifier)
	return q.runner.Start(q.osascript, "-e", script)
}
