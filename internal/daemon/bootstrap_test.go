package daemon

import (
	"context"
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/killswitch/internal/domain"
)

type sentNotify struct {
	pid int
	sig syscall.Signal
}

type mockNotifier struct {
	sent []sentNotify
	err  error
}

func (m *mockNotifier) Notify(ctx context.Context, pid int, sig syscall.Signal) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentNotify{pid: pid, sig: sig})
	return nil
}

func TestPoke_SignalsRegisteredListener(t *testing.T) {
	registry := &mockRegistry{entry: &domain.ListenerEntry{PID: 812}}
	n := &mockNotifier{}

	entry, err := Poke(context.Background(), registry, n)
	require.NoError(t, err)

	assert.Equal(t, 812, entry.PID)
	assert.Equal(t, []sentNotify{{pid: 812, sig: syscall.SIGUSR1}}, n.sent)
}

func TestPoke_NoListener(t *testing.T) {
	registry := &mockRegistry{}
	n := &mockNotifier{}

	_, err := Poke(context.Background(), registry, n)

	assert.ErrorIs(t, err, domain.ErrListenerNotRunning)
	assert.Empty(t, n.sent)
}

func TestPoke_NotifyFailure(t *testing.T) {
	registry := &mockRegistry{entry: &domain.ListenerEntry{PID: 812}}
	n := &mockNotifier{err: syscall.EPERM}

	_, err := Poke(context.Background(), registry, n)

	require.Error(t, err)
	assert.True(t, errors.Is(err, syscall.EPERM))
	assert.Contains(t, err.Error(), "812")
}
