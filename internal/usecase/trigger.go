package usecase

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/killswitch/internal/domain"
)

// Outcome is delivered once per fired sweep.
type Outcome struct {
	Result domain.SweepResult
	Err    error
}

// Trigger starts sweeps asynchronously and rejects overlapping requests.
type Trigger struct {
	sweeper domain.Sweeper
	lock    domain.SweepLock    // optional, serializes across processes
	history domain.HistoryStore // optional
	user    string
	logger  *zap.Logger

	busy atomic.Bool
}

// NewTrigger creates a trigger. lock and history may be nil.
func NewTrigger(
	sweeper domain.Sweeper,
	lock domain.SweepLock,
	history domain.HistoryStore,
	user string,
	logger *zap.Logger,
) *Trigger {
	return &Trigger{
		sweeper: sweeper,
		lock:    lock,
		history: history,
		user:    user,
		logger:  logger,
	}
}

// Busy reports whether a sweep is in flight.
func (t *Trigger) Busy() bool {
	return t.busy.Load()
}

// Fire starts a sweep in the background. The returned channel receives
// exactly one Outcome and is then closed. Fire returns domain.ErrBusy
// without starting anything if a sweep is already running.
func (t *Trigger) Fire(ctx context.Context) (<-chan Outcome, error) {
	if !t.busy.CompareAndSwap(false, true) {
		return nil, domain.ErrBusy
	}

	release := func() {}
	if t.lock != nil {
		r, err := t.lock.TryAcquire()
		if err != nil {
			t.busy.Store(false)
			return nil, err
		}
		release = r
	}

	out := make(chan Outcome, 1)
	go func() {
		result, err := t.sweeper.Run(ctx)
		t.record(result)

		// Idle again before the caller hears about it
		release()
		t.busy.Store(false)

		out <- Outcome{Result: result, Err: err}
		close(out)
	}()

	return out, nil
}

func (t *Trigger) record(result domain.SweepResult) {
	if t.history == nil {
		return
	}
	id, err := t.history.Record(t.user, result)
	if err != nil {
		t.logger.Warn("failed to record sweep history", zap.Error(err))
		return
	}
	t.logger.Debug("sweep recorded", zap.Int64("id", id))
}
