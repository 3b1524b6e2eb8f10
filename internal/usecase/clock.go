package usecase

import (
	"context"
	"time"

	"github.com/eliteGoblin/focusd/killswitch/internal/domain"
)

// RealClock implements domain.Clock with wall-clock time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Sleep waits for d or until ctx is done.
func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ domain.Clock = RealClock{}
