package usecase

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/killswitch/internal/config"
	"github.com/eliteGoblin/focusd/killswitch/internal/domain"
)

const (
	testUID  = 501
	testSelf = 4242
)

// fakeClock advances only when slept on
type fakeClock struct {
	now     time.Time
	onSleep func(now time.Time)
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 8, 21, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.now = c.now.Add(d)
	if c.onSleep != nil {
		c.onSleep(c.now)
	}
	return ctx.Err()
}

// fakeProc is one entry in the fake process table
type fakeProc struct {
	pid        int
	uid        int
	name       string
	path       string
	startedAt  int64
	exitsOn    domain.Signal // weakest signal the process obeys; 0 means SIGKILL only
	unkillable bool          // every signal is denied
	respawns   int           // times a session manager relaunches it
	respawnIn  time.Duration
}

type sentSignal struct {
	pid    int
	name   string
	signal domain.Signal
	at     time.Time
}

type pendingSpawn struct {
	at   time.Time
	proc fakeProc
}

// fakeOS is a process table driven by a fake clock. It implements the
// lister, path resolver and signaler.
type fakeOS struct {
	clock   *fakeClock
	procs   map[int]*fakeProc
	pending []pendingSpawn
	nextPID int

	sent      []sentSignal
	listErr   error
	listCalls int
	onList    func(os *fakeOS)
}

func newFakeOS(clock *fakeClock, procs ...fakeProc) *fakeOS {
	f := &fakeOS{clock: clock, procs: make(map[int]*fakeProc), nextPID: 10000}
	for _, p := range procs {
		f.add(p)
	}
	return f
}

func (f *fakeOS) add(p fakeProc) int {
	if p.pid == 0 {
		f.nextPID++
		p.pid = f.nextPID
	}
	if p.uid == 0 {
		p.uid = testUID
	}
	if p.startedAt == 0 {
		p.startedAt = f.clock.Now().UnixMilli() + int64(p.pid)
	}
	f.procs[p.pid] = &p
	return p.pid
}

func (f *fakeOS) List(ctx context.Context) ([]domain.ProcessRecord, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, &domain.ListError{Source: "fake", Err: f.listErr}
	}
	if f.onList != nil {
		f.onList(f)
	}

	remaining := f.pending[:0]
	for _, s := range f.pending {
		if !s.at.After(f.clock.Now()) {
			f.add(s.proc)
		} else {
			remaining = append(remaining, s)
		}
	}
	f.pending = remaining

	out := make([]domain.ProcessRecord, 0, len(f.procs))
	for _, p := range f.procs {
		out = append(out, domain.ProcessRecord{PID: p.pid, OwnerID: p.uid, Name: p.name, StartedAt: p.startedAt})
	}
	return out, nil
}

func (f *fakeOS) ResolveExecutablePath(ctx context.Context, pid int) (string, error) {
	p, ok := f.procs[pid]
	if !ok || p.path == "" {
		return "", &domain.PathResolutionError{PID: pid, Err: errors.New("no such process")}
	}
	return p.path, nil
}

func (f *fakeOS) Send(ctx context.Context, target domain.ProcessRecord, sig domain.Signal) error {
	f.sent = append(f.sent, sentSignal{pid: target.PID, name: target.Name, signal: sig, at: f.clock.Now()})

	p, ok := f.procs[target.PID]
	if !ok || p.name != target.Name || (target.StartedAt != 0 && p.startedAt != target.StartedAt) {
		return &domain.SignalError{PID: target.PID, Signal: sig, Reason: domain.SignalTargetGone, Err: errors.New("no such process")}
	}
	if p.unkillable {
		return &domain.SignalError{PID: target.PID, Signal: sig, Reason: domain.SignalDenied, Err: errors.New("operation not permitted")}
	}

	exitsOn := p.exitsOn
	if exitsOn == 0 {
		exitsOn = domain.SignalKill
	}
	if sig < exitsOn {
		return nil
	}

	delete(f.procs, p.pid)
	if p.respawns > 0 {
		next := *p
		next.pid = 0
		next.startedAt = 0
		next.respawns--
		f.pending = append(f.pending, pendingSpawn{at: f.clock.Now().Add(p.respawnIn), proc: next})
	}
	return nil
}

func (f *fakeOS) alive(name string) bool {
	for _, p := range f.procs {
		if p.name == name {
			return true
		}
	}
	return false
}

func (f *fakeOS) signalsTo(name string) []domain.Signal {
	var out []domain.Signal
	for _, s := range f.sent {
		if s.name == name {
			out = append(out, s.signal)
		}
	}
	return out
}

func (f *fakeOS) signalsToPID(pid int) []domain.Signal {
	var out []domain.Signal
	for _, s := range f.sent {
		if s.pid == pid {
			out = append(out, s.signal)
		}
	}
	return out
}

// bundleIDs gives every path inside an .app bundle the identifier
// com.test.<bundle name>
type bundleIDs struct{}

func (bundleIDs) Resolve(path string) string {
	i := strings.Index(path, ".app/")
	if i < 0 {
		return ""
	}
	return "com.test." + strings.ToLower(filepath.Base(path[:i]))
}

func app(name string) fakeProc {
	return fakeProc{name: name, path: "/Applications/" + name + ".app/Contents/MacOS/" + name}
}

// fakePolicy protects by name, plus the self and pid rules
type fakePolicy struct {
	names map[string]bool
}

func (p *fakePolicy) IsProtected(r domain.ProcessRecord, selfPID int) bool {
	return r.PID == selfPID || r.PID <= 0 || p.names[r.Name]
}

func newTestSweeper(fos *fakeOS, clock *fakeClock, t config.Timings, protected ...string) *SweeperImpl {
	names := make(map[string]bool, len(protected))
	for _, n := range protected {
		names[n] = true
	}
	return newSweeperWithPolicy(fos, clock, t, &fakePolicy{names: names})
}

func newSweeperWithPolicy(fos *fakeOS, clock *fakeClock, t config.Timings, p domain.ProtectionPolicy) *SweeperImpl {
	logger := zap.NewNop()
	return NewSweeper(
		SweeperConfig{OwnerUID: testUID, SelfPID: testSelf, Timings: t},
		fos, fos, bundleIDs{}, p, fos,
		NewEscalator(fos, fos, clock, logger),
		clock, logger,
	)
}

// blockingSweeper runs until released
type blockingSweeper struct {
	mu      sync.Mutex
	runs    int
	release chan struct{}
	result  domain.SweepResult
}

func (s *blockingSweeper) Run(ctx context.Context) (domain.SweepResult, error) {
	s.mu.Lock()
	s.runs++
	s.mu.Unlock()
	select {
	case <-s.release:
		return s.result, nil
	case <-ctx.Done():
		return s.result, ctx.Err()
	}
}

// mockLock is a test double for domain.SweepLock
type mockLock struct {
	err      error
	acquired int
	released int
}

func (l *mockLock) TryAcquire() (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.acquired++
	return func() { l.released++ }, nil
}

// mockHistory is a test double for domain.HistoryStore
type mockHistory struct {
	mu      sync.Mutex
	records []domain.SweepRecord
	err     error
}

func (h *mockHistory) Record(user string, r domain.SweepResult) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return 0, h.err
	}
	h.records = append(h.records, domain.SweepRecord{ID: int64(len(h.records) + 1), User: user, Result: r})
	return int64(len(h.records)), nil
}

func (h *mockHistory) Recent(limit int) ([]domain.SweepRecord, error) { return h.records, nil }

func (h *mockHistory) Close() error { return nil }
