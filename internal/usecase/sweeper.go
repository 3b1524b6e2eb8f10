// Package usecase contains application business logic.
package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/killswitch/internal/config"
	"github.com/eliteGoblin/focusd/killswitch/internal/domain"
)

// SweeperConfig holds everything a sweep needs besides its collaborators.
type SweeperConfig struct {
	OwnerUID int
	SelfPID  int
	Timings  config.Timings
}

// SweeperImpl implements domain.Sweeper.
//
// A sweep runs four phases in order and never loops back:
//  1. snapshot application processes
//  2. escalate them: terminate, SIGTERM, SIGKILL
//  3. SIGTERM then SIGKILL every owned process repeatedly until the
//     suppression window closes, catching anything a session manager relaunches
//  4. SIGKILL whatever application processes are left
type SweeperImpl struct {
	cfg       SweeperConfig
	lister    domain.ProcessLister
	paths     domain.PathResolver
	ids       domain.IdentifierResolver
	policy    domain.ProtectionPolicy
	signaler  domain.Signaler
	escalator domain.Escalator
	clock     domain.Clock
	logger    *zap.Logger
}

// NewSweeper creates a sweep orchestrator. ids may be nil.
func NewSweeper(
	cfg SweeperConfig,
	lister domain.ProcessLister,
	paths domain.PathResolver,
	ids domain.IdentifierResolver,
	policy domain.ProtectionPolicy,
	signaler domain.Signaler,
	escalator domain.Escalator,
	clock domain.Clock,
	logger *zap.Logger,
) *SweeperImpl {
	return &SweeperImpl{
		cfg:       cfg,
		lister:    lister,
		paths:     paths,
		ids:       ids,
		policy:    policy,
		signaler:  signaler,
		escalator: escalator,
		clock:     clock,
		logger:    logger,
	}
}

// AppPlan is the fast-path escalation for application processes.
func AppPlan(t config.Timings) []domain.Stage {
	return []domain.Stage{
		{Signal: domain.SignalTerminate, Grace: t.AppTerminateGrace},
		{Signal: domain.SignalTerm, Grace: t.AppTermGrace},
		{Signal: domain.SignalKill},
	}
}

// Run executes one sweep. It always returns a result; the error is non-nil
// only when ctx was canceled, in which case the remaining phases are skipped.
func (s *SweeperImpl) Run(ctx context.Context) (domain.SweepResult, error) {
	result := domain.SweepResult{StartedAt: s.clock.Now()}

	s.logger.Info("sweep started",
		zap.Int("owner_uid", s.cfg.OwnerUID),
		zap.Duration("suppression", s.cfg.Timings.Suppression))

	if err := ctx.Err(); err != nil {
		return s.finish(result, err)
	}

	// Phase 1: application snapshot
	apps := s.Snapshot(ctx, true)
	result.InitialTargetCount = len(apps)

	// Phase 2: fast escalation
	reports, err := s.escalator.Escalate(ctx, apps, AppPlan(s.cfg.Timings))
	result.AddStages(reports)
	if err != nil {
		return s.finish(result, err)
	}

	// Phase 3: generic sweep inside the suppression window
	if err := s.suppress(ctx, &result); err != nil {
		return s.finish(result, err)
	}

	// Phase 4: last resort, no grace
	leftovers := s.Snapshot(ctx, true)
	result.FinalLeftoverCount = len(leftovers)
	result.AddStages([]domain.StageReport{
		signalAll(ctx, s.signaler, s.logger, leftovers, domain.SignalKill),
	})

	return s.finish(result, ctx.Err())
}

// suppress repeats the generic sweep until the deadline passes.
// Each pass sends SIGTERM to a fresh snapshot, waits the term grace, then
// SIGKILLs everything a second snapshot still shows, including processes
// relaunched during the grace. The loop is bounded by wall clock, not by
// convergence: a pass only starts at or before the deadline, and the last
// pass re-lists at or after it.
func (s *SweeperImpl) suppress(ctx context.Context, result *domain.SweepResult) error {
	t := s.cfg.Timings
	deadline := s.clock.Now().Add(t.Suppression)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		result.Iterations++

		targets := s.Snapshot(ctx, false)
		result.AddStages([]domain.StageReport{
			signalAll(ctx, s.signaler, s.logger, targets, domain.SignalTerm),
		})
		if err := s.clock.Sleep(ctx, t.SweepTermGrace); err != nil {
			return err
		}

		present := s.Snapshot(ctx, false)
		result.AddStages([]domain.StageReport{
			signalAll(ctx, s.signaler, s.logger, present, domain.SignalKill),
		})

		remaining := deadline.Sub(s.clock.Now())
		if remaining <= 0 {
			return nil
		}
		pause := remaining
		if t.SweepLoopPause > 0 {
			pause = min(t.SweepLoopPause, remaining)
		}
		if err := s.clock.Sleep(ctx, pause); err != nil {
			return err
		}
	}
}

// Snapshot lists the owner's processes that a sweep may terminate.
// With appsOnly, only processes with an application identity are kept.
// An enumeration failure yields an empty snapshot.
func (s *SweeperImpl) Snapshot(ctx context.Context, appsOnly bool) []domain.ProcessRecord {
	records, err := s.lister.List(ctx)
	if err != nil {
		s.logger.Warn("failed to list processes", zap.Error(err))
		return nil
	}

	var out []domain.ProcessRecord
	for _, r := range records {
		if r.OwnerID != s.cfg.OwnerUID {
			continue
		}
		// Name and pid rules need no lookups
		if s.policy.IsProtected(r, s.cfg.SelfPID) {
			continue
		}

		r = s.enrich(ctx, r)
		if appsOnly && !r.IsApp() {
			continue
		}
		if s.policy.IsProtected(r, s.cfg.SelfPID) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// enrich fills in path and identifier. Failures leave them unknown.
func (s *SweeperImpl) enrich(ctx context.Context, r domain.ProcessRecord) domain.ProcessRecord {
	if r.Path == "" && s.paths != nil {
		path, err := s.paths.ResolveExecutablePath(ctx, r.PID)
		if err == nil {
			r.Path = path
		}
	}
	if r.Identifier == "" && r.Path != "" && s.ids != nil {
		r.Identifier = s.ids.Resolve(r.Path)
	}
	return r
}

func (s *SweeperImpl) finish(result domain.SweepResult, err error) (domain.SweepResult, error) {
	result.Duration = s.clock.Now().Sub(result.StartedAt)
	result.Canceled = err != nil

	fields := []zap.Field{
		zap.Int("initial_targets", result.InitialTargetCount),
		zap.Int("final_leftovers", result.FinalLeftoverCount),
		zap.Int("iterations", result.Iterations),
		zap.Int("signals_sent", result.SignalsSent),
		zap.Int("signals_failed", result.SignalsFailed),
		zap.Duration("duration", result.Duration),
	}
	if err != nil {
		s.logger.Warn("sweep canceled", append(fields, zap.Error(err))...)
		return result, err
	}
	s.logger.Info("sweep completed", fields...)
	return result, nil
}

// Ensure SweeperImpl implements domain.Sweeper.
var _ domain.Sweeper = (*SweeperImpl)(nil)
