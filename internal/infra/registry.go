package infra

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/eliteGoblin/focusd/killswitch/internal/domain"
)

// ProcessChecker reports whether a pid is alive.
type ProcessChecker interface {
	IsRunning(pid int) bool
}

// FileListenerRegistry implements domain.ListenerRegistry using a JSON file.
type FileListenerRegistry struct {
	path    string
	checker ProcessChecker
}

// NewFileListenerRegistry creates a registry stored at path.
func NewFileListenerRegistry(path string, checker ProcessChecker) *FileListenerRegistry {
	return &FileListenerRegistry{path: path, checker: checker}
}

// GetRegistryPath returns the registry file path.
func (r *FileListenerRegistry) GetRegistryPath() string {
	return r.path
}

// Register records the running listener.
func (r *FileListenerRegistry) Register(entry domain.ListenerEntry) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0700); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}
	return r.atomicWrite(&entry)
}

// Get returns the registered listener if it is still alive.
// A stale entry (pid gone) reads as not running.
func (r *FileListenerRegistry) Get() (*domain.ListenerEntry, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.ErrListenerNotRunning
		}
		return nil, err
	}

	var entry domain.ListenerEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("corrupt listener registry %s: %w", r.path, err)
	}

	if entry.PID <= 0 || !r.checker.IsRunning(entry.PID) {
		return nil, domain.ErrListenerNotRunning
	}
	return &entry, nil
}

// Clear removes the registry file.
func (r *FileListenerRegistry) Clear() error {
	err := os.Remove(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// atomicWrite writes registry to file atomically (write + rename).
func (r *FileListenerRegistry) atomicWrite(entry *domain.ListenerEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	// Unique per process to avoid racing another writer
	tmpPath := fmt.Sprintf("%s.%d.tmp", r.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Ensure FileListenerRegistry implements domain.ListenerRegistry.
var _ domain.ListenerRegistry = (*FileListenerRegistry)(nil)
