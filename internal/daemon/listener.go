// Package daemon implements the background listener that fires sweeps on demand.
package daemon

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/killswitch/internal/domain"
	"github.com/eliteGoblin/focusd/killswitch/internal/usecase"
)

// TriggerSignal is the signal that asks a running listener to sweep.
const TriggerSignal = syscall.SIGUSR1

// SweepTrigger starts sweeps without blocking.
type SweepTrigger interface {
	Fire(ctx context.Context) (<-chan usecase.Outcome, error)
}

// ListenerConfig holds listener daemon configuration.
type ListenerConfig struct {
	Interval time.Duration // periodic sweep; zero disables
}

// Listener waits for trigger signals and fires a sweep for each one.
// Requests that arrive while a sweep is running are dropped.
type Listener struct {
	config   ListenerConfig
	trigger  SweepTrigger
	registry domain.ListenerRegistry
	entry    domain.ListenerEntry
	logger   *zap.Logger

	// signals overrides signal.Notify, for tests
	signals <-chan os.Signal
}

// NewListener creates a listener daemon.
func NewListener(
	config ListenerConfig,
	trigger SweepTrigger,
	registry domain.ListenerRegistry,
	entry domain.ListenerEntry,
	logger *zap.Logger,
) *Listener {
	return &Listener{
		config:   config,
		trigger:  trigger,
		registry: registry,
		entry:    entry,
		logger:   logger,
	}
}

// Run registers the listener and serves trigger requests until ctx is
// canceled. A sweep in flight at shutdown is canceled and waited for.
func (l *Listener) Run(ctx context.Context) error {
	// Subscribed before registering; an unhandled SIGUSR1 is fatal
	signals := l.signals
	if signals == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, TriggerSignal)
		defer signal.Stop(ch)
		signals = ch
	}

	if err := l.registry.Register(l.entry); err != nil {
		l.logger.Error("failed to register listener", zap.Error(err))
		return err
	}
	defer func() {
		if err := l.registry.Clear(); err != nil {
			l.logger.Warn("failed to clear listener registration", zap.Error(err))
		}
	}()

	var tick <-chan time.Time
	if l.config.Interval > 0 {
		ticker := time.NewTicker(l.config.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	l.logger.Info("listener started",
		zap.Int("pid", l.entry.PID),
		zap.String("registry", l.registry.GetRegistryPath()),
		zap.Duration("interval", l.config.Interval))

	var pending <-chan usecase.Outcome
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("listener stopping")
			if pending != nil {
				l.report(<-pending)
			}
			return ctx.Err()

		case <-signals:
			pending = l.fire(ctx, "signal", pending)

		case <-tick:
			pending = l.fire(ctx, "interval", pending)

		case outcome, ok := <-pending:
			if ok {
				l.report(outcome)
			}
			pending = nil
		}
	}
}

func (l *Listener) fire(ctx context.Context, source string, pending <-chan usecase.Outcome) <-chan usecase.Outcome {
	out, err := l.trigger.Fire(ctx)
	if errors.Is(err, domain.ErrBusy) {
		l.logger.Info("sweep already running, request dropped", zap.String("source", source))
		return pending
	}
	if err != nil {
		l.logger.Error("failed to start sweep", zap.String("source", source), zap.Error(err))
		return pending
	}
	l.logger.Info("sweep triggered", zap.String("source", source))
	return out
}

func (l *Listener) report(o usecase.Outcome) {
	fields := []zap.Field{
		zap.Int("initial_targets", o.Result.InitialTargetCount),
		zap.Int("final_leftovers", o.Result.FinalLeftoverCount),
		zap.Duration("duration", o.Result.Duration),
	}
	if o.Err != nil {
		l.logger.Warn("sweep interrupted", append(fields, zap.Error(o.Err))...)
		return
	}
	l.logger.Info("sweep finished", fields...)
}
