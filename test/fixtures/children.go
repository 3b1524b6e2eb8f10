// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

// Children spawns and tracks real child processes for sweep tests.
// Every binary is a copy of sleep placed under Dir, so no child runs
// from a protected system path.
type Children struct {
	Dir string

	mu      sync.Mutex
	sleep   string
	running map[int]chan struct{}
	all     map[int]bool
	stop    chan struct{}
}

// NewChildren creates a spawner that keeps its binaries in dir.
func NewChildren(dir string) (*Children, error) {
	sleep, err := exec.LookPath("sleep")
	if err != nil {
		return nil, err
	}
	return &Children{
		Dir:     dir,
		sleep:   sleep,
		running: make(map[int]chan struct{}),
		all:     make(map[int]bool),
		stop:    make(chan struct{}),
	}, nil
}

// Spawn starts a plain worker named name that exits on SIGTERM.
func (c *Children) Spawn(name string) (int, error) {
	bin, err := c.install(filepath.Join(c.Dir, "bin", name))
	if err != nil {
		return 0, err
	}
	return c.start(exec.Command(bin, "60"))
}

// SpawnStubborn starts a worker that ignores SIGTERM.
func (c *Children) SpawnStubborn(name string) (int, error) {
	bin, err := c.install(filepath.Join(c.Dir, "bin", name))
	if err != nil {
		return 0, err
	}
	// An ignored signal stays ignored across exec
	script := fmt.Sprintf(`trap "" TERM; exec %q 60`, bin)
	return c.start(exec.Command("/bin/sh", "-c", script))
}

// SpawnApp starts a worker from inside a minimal .app bundle whose
// Info.plist declares identifier.
func (c *Children) SpawnApp(name, identifier string) (int, error) {
	contents := filepath.Join(c.Dir, "Applications", name+".app", "Contents")
	if err := os.MkdirAll(filepath.Join(contents, "MacOS"), 0755); err != nil {
		return 0, err
	}
	plist := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>CFBundleIdentifier</key>
	<string>%s</string>
	<key>CFBundleName</key>
	<string>%s</string>
</dict>
</plist>
`, identifier, name)
	if err := os.WriteFile(filepath.Join(contents, "Info.plist"), []byte(plist), 0644); err != nil {
		return 0, err
	}

	bin, err := c.install(filepath.Join(contents, "MacOS", name))
	if err != nil {
		return 0, err
	}
	return c.start(exec.Command(bin, "60"))
}

// Relaunch restarts the worker named name, after delay, each time it
// dies, up to times restarts. It mimics a session manager.
func (c *Children) Relaunch(name string, first int, delay time.Duration, times int) {
	go func() {
		pid := first
		for i := 0; i < times; i++ {
			c.mu.Lock()
			done, ok := c.running[pid]
			c.mu.Unlock()
			if !ok {
				return
			}
			select {
			case <-done:
			case <-c.stop:
				return
			}
			select {
			case <-time.After(delay):
			case <-c.stop:
				return
			}
			next, err := c.Spawn(name)
			if err != nil {
				return
			}
			pid = next
		}
	}()
}

// Owns reports whether pid was spawned by this fixture.
func (c *Children) Owns(pid int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.all[pid]
}

// Alive reports whether the child pid has not exited yet.
func (c *Children) Alive(pid int) bool {
	c.mu.Lock()
	done, ok := c.running[pid]
	c.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// AliveCount returns how many spawned children are still running.
func (c *Children) AliveCount() int {
	c.mu.Lock()
	pids := make([]int, 0, len(c.running))
	for pid := range c.running {
		pids = append(pids, pid)
	}
	c.mu.Unlock()

	n := 0
	for _, pid := range pids {
		if c.Alive(pid) {
			n++
		}
	}
	return n
}

// Cleanup stops relaunching and kills whatever is left.
func (c *Children) Cleanup() {
	c.mu.Lock()
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	pids := make([]int, 0, len(c.running))
	for pid := range c.running {
		pids = append(pids, pid)
	}
	c.mu.Unlock()

	for _, pid := range pids {
		if !c.Alive(pid) {
			continue
		}
		if p, err := os.FindProcess(pid); err == nil {
			_ = p.Kill()
		}
	}
}

func (c *Children) start(cmd *exec.Cmd) (int, error) {
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	done := make(chan struct{})

	c.mu.Lock()
	c.running[pid] = done
	c.all[pid] = true
	c.mu.Unlock()

	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	return pid, nil
}

// install copies the sleep binary to dst once.
func (c *Children) install(dst string) (string, error) {
	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", err
	}

	src, err := os.Open(c.sleep)
	if err != nil {
		return "", err
	}
	defer src.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return "", err
	}
	return dst, out.Close()
}
