package infra

import (
	"context"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"

	"github.com/eliteGoblin/focusd/killswitch/internal/domain"
)

// PsLister reads the process table from `ps`.
// It reports no start times, so pid reuse is only caught by name.
type PsLister struct {
	runner CommandRunner
	args   []string
}

// NewPsLister creates a lister using the system ps.
func NewPsLister() *PsLister {
	return NewPsListerWithRunner(&RealCommandRunner{})
}

// NewPsListerWithRunner creates a lister with an injectable runner (for testing).
func NewPsListerWithRunner(runner CommandRunner) *PsLister {
	args := []string{"-eo", "pid=,uid=,comm="}
	if runtime.GOOS == "darwin" {
		// BSD ps: comm prints the full executable path
		args = []string{"-axo", "pid=,uid=,comm="}
	}
	return &PsLister{runner: runner, args: args}
}

// List runs ps and parses its output.
func (l *PsLister) List(ctx context.Context) ([]domain.ProcessRecord, error) {
	output, err := l.runner.Output(ctx, "ps", l.args...)
	if err != nil {
		return nil, &domain.ListError{Source: "ps", Err: err}
	}
	return parsePsOutput(string(output)), nil
}

// pid uid comm, where comm may contain spaces
var psLine = regexp.MustCompile(`^\s*(\d+)\s+(\d+)\s+(.+?)\s*$`)

// parsePsOutput parses `pid= uid= comm=` lines. Malformed lines are skipped.
func parsePsOutput(output string) []domain.ProcessRecord {
	var records []domain.ProcessRecord
	for _, line := range strings.Split(output, "\n") {
		m := psLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		pid, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		uid, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		records = append(records, domain.ProcessRecord{
			PID:     pid,
			OwnerID: uid,
			Name:    filepath.Base(m[3]),
		})
	}
	return records
}

// Ensure PsLister implements domain.ProcessLister.
var _ domain.ProcessLister = (*PsLister)(nil)
