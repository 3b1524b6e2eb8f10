package infra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/killswitch/internal/domain"
)

func TestFileListenerRegistry(t *testing.T) {
	tests := []struct {
		name    string
		entry   *domain.ListenerEntry
		running bool
		wantErr error
	}{
		{
			name:    "no entry",
			wantErr: domain.ErrListenerNotRunning,
		},
		{
			name:    "live listener",
			entry:   &domain.ListenerEntry{PID: 1234, StartedAt: 1700000000, AppVersion: "0.1.0"},
			running: true,
		},
		{
			name:    "stale entry",
			entry:   &domain.ListenerEntry{PID: 1234, StartedAt: 1700000000},
			running: false,
			wantErr: domain.ErrListenerNotRunning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := newMockProcessChecker()
			reg := NewFileListenerRegistry(filepath.Join(t.TempDir(), "data", "listener.json"), checker)

			if tt.entry != nil {
				require.NoError(t, reg.Register(*tt.entry))
				checker.SetRunning(tt.entry.PID, tt.running)
			}

			got, err := reg.Get()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.entry, got)
		})
	}
}

func TestFileListenerRegistry_Clear(t *testing.T) {
	checker := newMockProcessChecker()
	reg := NewFileListenerRegistry(filepath.Join(t.TempDir(), "listener.json"), checker)

	// Clearing a missing file is fine
	require.NoError(t, reg.Clear())

	require.NoError(t, reg.Register(domain.ListenerEntry{PID: 99}))
	require.NoError(t, reg.Clear())

	_, err := os.Stat(reg.GetRegistryPath())
	assert.True(t, os.IsNotExist(err))
}

func TestFileListenerRegistry_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listener.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	reg := NewFileListenerRegistry(path, newMockProcessChecker())
	_, err := reg.Get()

	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrListenerNotRunning)
}
