package config

import (
	"os"
	"os/user"
	"path/filepath"
	"strconv"
)

const systemDataDir = "/var/lib/killswitch"

// DefaultDataDir returns where state lives: a system directory when running
// as root, otherwise a hidden directory in the real user's home.
func DefaultDataDir() string {
	if os.Geteuid() == 0 && os.Getenv("SUDO_USER") == "" {
		return systemDataDir
	}
	return filepath.Join(RealUserHome(), ".killswitch")
}

// RealUserHome returns the real user's home directory, even when running under sudo.
// Under sudo, os.UserHomeDir() returns /var/root, so we use SUDO_USER to find the real user.
func RealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}

// RealUserUID returns the uid of the user behind sudo, or the current uid.
func RealUserUID() int {
	if v := os.Getenv("SUDO_UID"); v != "" {
		if uid, err := strconv.Atoi(v); err == nil && uid >= 0 {
			return uid
		}
	}
	return os.Getuid()
}

// LogPath returns the log file inside the data directory.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "killswitch.log")
}

// LockPath returns the cross-process sweep lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, "sweep.lock")
}

// ListenerPath returns the listener registry file.
func (c *Config) ListenerPath() string {
	return filepath.Join(c.DataDir, "listener.json")
}
