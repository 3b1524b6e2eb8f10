//go:build integration

package integration

import (
	"context"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/killswitch/internal/config"
	"github.com/eliteGoblin/focusd/killswitch/internal/daemon"
	"github.com/eliteGoblin/focusd/killswitch/internal/domain"
	"github.com/eliteGoblin/focusd/killswitch/internal/infra"
	"github.com/eliteGoblin/focusd/killswitch/internal/policy"
	"github.com/eliteGoblin/focusd/killswitch/internal/usecase"
	"github.com/eliteGoblin/focusd/killswitch/test/fixtures"
)

// fixtureLister hides every process the fixture did not spawn, so a
// sweep in this suite can only ever reach its own children.
type fixtureLister struct {
	inner    domain.ProcessLister
	children *fixtures.Children
}

func (l *fixtureLister) List(ctx context.Context) ([]domain.ProcessRecord, error) {
	records, err := l.inner.List(ctx)
	if err != nil {
		return nil, err
	}
	out := records[:0]
	for _, r := range records {
		if l.children.Owns(r.PID) {
			out = append(out, r)
		}
	}
	return out, nil
}

func newSweeper(lister domain.ProcessLister, pm *infra.ProcessManagerImpl, suppression time.Duration) *usecase.SweeperImpl {
	logger := zap.NewNop()
	clock := usecase.RealClock{}
	timings := config.DefaultTimings()
	timings.Suppression = suppression

	return usecase.NewSweeper(
		usecase.SweeperConfig{OwnerUID: os.Getuid(), SelfPID: os.Getpid(), Timings: timings},
		lister,
		pm,
		infra.NewBundleResolver(),
		policy.New(policy.DefaultSet()),
		pm,
		usecase.NewEscalator(lister, pm, clock, logger),
		clock,
		logger,
	)
}

var _ = Describe("Sweep", func() {
	var (
		tmpDir   string
		children *fixtures.Children
		pm       *infra.ProcessManagerImpl
		lister   *fixtureLister
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "killswitch-integration-*")
		Expect(err).NotTo(HaveOccurred())

		children, err = fixtures.NewChildren(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		// No cooperative quitter: the fixture apps are not registered with
		// any window server, so terminate falls back to SIGTERM.
		pm = infra.NewProcessManager(nil, zap.NewNop())
		lister = &fixtureLister{inner: pm, children: children}
	})

	AfterEach(func() {
		children.Cleanup()
		os.RemoveAll(tmpDir)
	})

	// Lets /bin/sh exec into the worker so names and paths are final.
	settle := func() { time.Sleep(200 * time.Millisecond) }

	Describe("Run", func() {
		It("terminates apps, workers and SIGTERM-ignoring workers", func() {
			app, err := children.SpawnApp("Notes", "com.killswitch.fixture.notes")
			Expect(err).NotTo(HaveOccurred())
			worker, err := children.Spawn("worker")
			Expect(err).NotTo(HaveOccurred())
			stubborn, err := children.SpawnStubborn("stubborn")
			Expect(err).NotTo(HaveOccurred())
			settle()

			result, err := newSweeper(lister, pm, time.Second).Run(context.Background())
			Expect(err).NotTo(HaveOccurred())

			Expect(result.InitialTargetCount).To(Equal(1))
			Expect(result.FinalLeftoverCount).To(Equal(0))
			Eventually(func() bool { return children.Alive(app) }, 2*time.Second).Should(BeFalse())
			Eventually(func() bool { return children.Alive(worker) }, 2*time.Second).Should(BeFalse())
			Eventually(func() bool { return children.Alive(stubborn) }, 2*time.Second).Should(BeFalse())
		})

		It("kills workers relaunched during the suppression window", func() {
			worker, err := children.Spawn("relauncher")
			Expect(err).NotTo(HaveOccurred())
			children.Relaunch("relauncher", worker, 300*time.Millisecond, 2)
			settle()

			result, err := newSweeper(lister, pm, 2*time.Second).Run(context.Background())
			Expect(err).NotTo(HaveOccurred())

			Expect(result.Iterations).To(BeNumerically(">", 1))
			Eventually(children.AliveCount, 2*time.Second).Should(Equal(0))
		})

		It("stays within its wall-clock budget", func() {
			_, err := children.SpawnStubborn("stubborn")
			Expect(err).NotTo(HaveOccurred())
			settle()

			start := time.Now()
			_, err = newSweeper(lister, pm, 500*time.Millisecond).Run(context.Background())
			Expect(err).NotTo(HaveOccurred())

			// app phase + suppression + one sweep grace, plus scheduling slack
			Expect(time.Since(start)).To(BeNumerically("<", 3*time.Second))
		})
	})

	Describe("Snapshot", func() {
		It("identifies the bundle and signals nothing", func() {
			app, err := children.SpawnApp("Pages", "com.killswitch.fixture.pages")
			Expect(err).NotTo(HaveOccurred())
			settle()

			targets := newSweeper(lister, pm, 0).Snapshot(context.Background(), true)

			Expect(targets).To(HaveLen(1))
			Expect(targets[0].PID).To(Equal(app))
			Expect(targets[0].Identifier).To(Equal("com.killswitch.fixture.pages"))
			Expect(children.Alive(app)).To(BeTrue())
		})
	})

	Describe("Trigger", func() {
		It("refuses to start while another process holds the sweep lock", func() {
			lockPath := tmpDir + "/sweep.lock"
			release, err := infra.NewFileLock(lockPath).TryAcquire()
			Expect(err).NotTo(HaveOccurred())
			defer release()

			trig := usecase.NewTrigger(newSweeper(lister, pm, 0), infra.NewFileLock(lockPath), nil, "tester", zap.NewNop())
			_, err = trig.Fire(context.Background())
			Expect(err).To(MatchError(domain.ErrBusy))
			Expect(trig.Busy()).To(BeFalse())
		})

		It("records completed sweeps in the encrypted history", func() {
			_, err := children.Spawn("worker")
			Expect(err).NotTo(HaveOccurred())
			settle()

			history, err := infra.OpenHistory(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			defer history.Close()

			trig := usecase.NewTrigger(newSweeper(lister, pm, 0), infra.NewFileLock(tmpDir+"/sweep.lock"), history, "tester", zap.NewNop())
			out, err := trig.Fire(context.Background())
			Expect(err).NotTo(HaveOccurred())

			var outcome usecase.Outcome
			Eventually(out, 5*time.Second).Should(Receive(&outcome))
			Expect(outcome.Err).NotTo(HaveOccurred())

			records, err := history.Recent(5)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].User).To(Equal("tester"))
			Expect(records[0].Result.Iterations).To(Equal(1))
		})
	})

	Describe("Listener", func() {
		It("runs a sweep when poked through the registry", func() {
			worker, err := children.Spawn("worker")
			Expect(err).NotTo(HaveOccurred())
			settle()

			registry := infra.NewFileListenerRegistry(tmpDir+"/listener.json", pm)
			trig := usecase.NewTrigger(newSweeper(lister, pm, 0), nil, nil, "tester", zap.NewNop())
			listener := daemon.NewListener(daemon.ListenerConfig{}, trig, registry,
				domain.ListenerEntry{PID: os.Getpid(), StartedAt: time.Now().Unix()}, zap.NewNop())

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- listener.Run(ctx) }()
			defer func() {
				cancel()
				Eventually(done, 5*time.Second).Should(Receive())
			}()

			Eventually(func() error {
				_, err := registry.Get()
				return err
			}, 2*time.Second).Should(Succeed())

			_, err = daemon.Poke(context.Background(), registry, pm)
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() bool { return children.Alive(worker) }, 5*time.Second).Should(BeFalse())
		})
	})
})
