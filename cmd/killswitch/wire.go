package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/killswitch/internal/config"
	"github.com/eliteGoblin/focusd/killswitch/internal/domain"
	"github.com/eliteGoblin/focusd/killswitch/internal/infra"
	"github.com/eliteGoblin/focusd/killswitch/internal/policy"
	"github.com/eliteGoblin/focusd/killswitch/internal/usecase"
)

// app holds the components shared by every command.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	pm      *infra.ProcessManagerImpl
	lister  domain.ProcessLister
	ids     *infra.BundleResolver
	policy  *policy.Policy
	history *infra.EncryptedHistory
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if listerName != "" {
		cfg.Lister = listerName
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	logger := createLogger(cfg, verbose)
	pm := infra.NewProcessManager(infra.NewAppQuitter(), logger)

	var lister domain.ProcessLister = pm
	if cfg.Lister == config.ListerPS {
		lister = infra.NewPsLister()
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		pm:     pm,
		lister: lister,
		ids:    infra.NewBundleResolver(),
		policy: policy.New(cfg.ProtectionSet()),
	}, nil
}

// sweeper builds a sweep orchestrator with the given timings.
func (a *app) sweeper(t config.Timings) *usecase.SweeperImpl {
	clock := usecase.RealClock{}
	escalator := usecase.NewEscalator(a.lister, a.pm, clock, a.logger)
	return usecase.NewSweeper(
		usecase.SweeperConfig{
			OwnerUID: a.cfg.OwnerUID,
			SelfPID:  os.Getpid(),
			Timings:  t,
		},
		a.lister,
		a.pm,
		a.ids,
		a.policy,
		a.pm,
		escalator,
		clock,
		a.logger,
	)
}

// trigger wires a sweeper behind the busy flag and the cross-process lock.
// History is best effort: if it can't be opened, sweeps still run.
func (a *app) trigger(t config.Timings, withHistory bool) *usecase.Trigger {
	var store domain.HistoryStore
	if withHistory {
		h, err := infra.OpenHistory(a.cfg.DataDir)
		if err != nil {
			a.logger.Warn("sweep history unavailable", zap.Error(err))
		} else {
			a.history = h
			store = h
		}
	}
	return usecase.NewTrigger(
		a.sweeper(t),
		infra.NewFileLock(a.cfg.LockPath()),
		store,
		sweepUser(),
		a.logger,
	)
}

// enrich fills in path and bundle identifier for display.
func (a *app) enrich(ctx context.Context, r domain.ProcessRecord) domain.ProcessRecord {
	if r.Path == "" {
		if path, err := a.pm.ResolveExecutablePath(ctx, r.PID); err == nil {
			r.Path = path
		}
	}
	if r.Identifier == "" && r.Path != "" {
		r.Identifier = a.ids.Resolve(r.Path)
	}
	return r
}

func (a *app) close() {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Warn("failed to close history", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func createLogger(cfg *config.Config, verbose bool) *zap.Logger {
	if verbose {
		logger, err := zap.NewDevelopment()
		if err == nil {
			return logger
		}
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: cannot create %s: %v\n", cfg.DataDir, err)
	}

	zcfg := zap.NewProductionConfig()
	zcfg.OutputPaths = []string{cfg.LogPath()}
	zcfg.ErrorOutputPaths = []string{cfg.LogPath()}
	zcfg.EncoderConfig.TimeKey = "time"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zcfg.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}
