package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/killswitch/internal/domain"
)

// EscalatorImpl implements domain.Escalator.
type EscalatorImpl struct {
	lister   domain.ProcessLister
	signaler domain.Signaler
	clock    domain.Clock
	logger   *zap.Logger
}

// NewEscalator creates an escalation engine.
func NewEscalator(
	lister domain.ProcessLister,
	signaler domain.Signaler,
	clock domain.Clock,
	logger *zap.Logger,
) *EscalatorImpl {
	return &EscalatorImpl{
		lister:   lister,
		signaler: signaler,
		clock:    clock,
		logger:   logger,
	}
}

// ValidatePlan checks that a plan has stages and never weakens.
func ValidatePlan(stages []domain.Stage) error {
	if len(stages) == 0 {
		return fmt.Errorf("%w: no stages", domain.ErrInvalidPlan)
	}
	for i, s := range stages {
		if s.Signal < domain.SignalTerminate || s.Signal > domain.SignalKill {
			return fmt.Errorf("%w: stage %d has unknown signal %s", domain.ErrInvalidPlan, i, s.Signal)
		}
		if s.Grace < 0 {
			return fmt.Errorf("%w: stage %d has negative grace", domain.ErrInvalidPlan, i)
		}
		if i > 0 && s.Signal < stages[i-1].Signal {
			return fmt.Errorf("%w: %s after %s", domain.ErrInvalidPlan, s.Signal, stages[i-1].Signal)
		}
	}
	return nil
}

// Escalate applies stages to targets in order. The first stage hits every
// target; each later stage only hits survivors, re-derived from a fresh
// enumeration so an exited pid that was reused is never signaled.
// The returned reports cover the stages that ran. The only errors are an
// invalid plan and ctx cancellation.
func (e *EscalatorImpl) Escalate(
	ctx context.Context,
	targets []domain.ProcessRecord,
	stages []domain.Stage,
) ([]domain.StageReport, error) {
	if err := ValidatePlan(stages); err != nil {
		return nil, err
	}

	reports := make([]domain.StageReport, 0, len(stages))
	survivors := targets

	for i, stage := range stages {
		if i > 0 {
			var ok bool
			survivors, ok = e.survivors(ctx, survivors)
			if !ok {
				break
			}
		}
		if len(survivors) == 0 {
			break
		}

		reports = append(reports, signalAll(ctx, e.signaler, e.logger, survivors, stage.Signal))

		if i < len(stages)-1 && stage.Grace > 0 {
			if err := e.clock.Sleep(ctx, stage.Grace); err != nil {
				return reports, err
			}
		}
	}

	return reports, ctx.Err()
}

// signalAll sends sig to every target. Failures are counted, never fatal.
func signalAll(
	ctx context.Context,
	signaler domain.Signaler,
	logger *zap.Logger,
	targets []domain.ProcessRecord,
	sig domain.Signal,
) domain.StageReport {
	report := domain.StageReport{Signal: sig, Targeted: len(targets)}

	for _, t := range targets {
		err := signaler.Send(ctx, t, sig)
		if err == nil {
			report.Sent++
			continue
		}

		var sigErr *domain.SignalError
		if errors.As(err, &sigErr) && sigErr.Gone() {
			report.Gone++
			continue
		}
		report.Failed++
		logger.Debug("signal failed",
			zap.Int("pid", t.PID),
			zap.String("name", t.Name),
			zap.Stringer("signal", sig),
			zap.Error(err))
	}

	return report
}

// survivors returns the targets still present in a fresh listing.
// ok is false when the listing failed; the pass then makes no further progress.
func (e *EscalatorImpl) survivors(ctx context.Context, targets []domain.ProcessRecord) ([]domain.ProcessRecord, bool) {
	current, err := e.lister.List(ctx)
	if err != nil {
		e.logger.Warn("failed to re-list processes, stopping escalation",
			zap.Int("pending", len(targets)),
			zap.Error(err))
		return nil, false
	}

	live := make(map[int]domain.ProcessRecord, len(current))
	for _, r := range current {
		live[r.PID] = r
	}

	var out []domain.ProcessRecord
	for _, t := range targets {
		if r, ok := live[t.PID]; ok && t.SameProcess(r) {
			out = append(out, t)
		}
	}
	return out, true
}

// Ensure EscalatorImpl implements domain.Escalator.
var _ domain.Escalator = (*EscalatorImpl)(nil)
