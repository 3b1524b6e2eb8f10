// Package main is the CLI entry point for killswitch.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"runtime"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/killswitch/internal/config"
	"github.com/eliteGoblin/focusd/killswitch/internal/daemon"
	"github.com/eliteGoblin/focusd/killswitch/internal/domain"
	"github.com/eliteGoblin/focusd/killswitch/internal/infra"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "killswitch",
	Short: "Close every user application in one go",
	Long: `killswitch terminates all of the current user's applications and
background processes, escalating from a polite quit to SIGKILL, and keeps
sweeping for a few seconds so relaunched processes die too.

Session services (Finder, Dock, the window server, ...) and system
binaries are never touched.`,
	Version:      Version,
	SilenceUsage: true,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one sweep now",
	Long: `Runs a full sweep in the foreground: quit applications, escalate,
then sweep every owned process until the suppression window closes.
The sweep ignores SIGHUP so closing its terminal does not stop it.`,
	RunE: runSweep,
}

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Show what a sweep would do (signals nothing)",
	Long:  `Lists every process owned by the sweep user with the rule that protects it, if any.`,
	RunE:  runTargets,
}

var protectedCmd = &cobra.Command{
	Use:   "protected",
	Short: "Print the protection set",
	RunE:  runProtected,
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Run the background listener",
	Long: `Waits for SIGUSR1 (sent by 'killswitch trigger') and runs a sweep for
each one. Requests that arrive during a sweep are dropped.
Bind 'killswitch trigger' to a global hotkey for a one-key kill switch.`,
	RunE: runListen,
}

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Ask the running listener to sweep",
	RunE:  runTrigger,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent sweeps",
	RunE:  runHistory,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	configPath string
	listerName string
	verbose    bool

	sweepSuppression time.Duration
	noHistory        bool
	jsonOutput       bool

	listenInterval   time.Duration
	listenBackground bool
	listenInstall    bool
	listenUninstall  bool

	historyLimit int
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&listerName, "lister", "", "Process lister: gopsutil or ps")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log to stderr at debug level")

	sweepCmd.Flags().DurationVar(&sweepSuppression, "suppression", 0, "Override the suppression window (e.g. 5s)")
	sweepCmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not record this sweep")
	sweepCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the result as JSON")

	listenCmd.Flags().DurationVar(&listenInterval, "interval", 0, "Also sweep on this interval (0 disables)")
	listenCmd.Flags().BoolVar(&listenBackground, "background", false, "Detach and run in the background")
	listenCmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not record sweeps")
	listenCmd.Flags().BoolVar(&listenInstall, "install", false, "Install a LaunchAgent that starts the listener at login (macOS)")
	listenCmd.Flags().BoolVar(&listenUninstall, "uninstall", false, "Remove the listener LaunchAgent (macOS)")
	listenCmd.MarkFlagsMutuallyExclusive("background", "install", "uninstall")

	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "Number of sweeps to show")

	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(targetsCmd)
	rootCmd.AddCommand(protectedCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(triggerCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	// The sweep may kill the terminal that started it
	signal.Ignore(syscall.SIGHUP)

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	timings := a.cfg.Timings
	if cmd.Flags().Changed("suppression") {
		if sweepSuppression < 0 {
			return fmt.Errorf("--suppression must not be negative")
		}
		timings.Suppression = sweepSuppression
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	trigger := a.trigger(timings, !noHistory)
	out, err := trigger.Fire(ctx)
	if errors.Is(err, domain.ErrBusy) {
		return fmt.Errorf("another sweep is already running")
	}
	if err != nil {
		return fmt.Errorf("failed to start sweep: %w", err)
	}

	outcome := <-out
	if jsonOutput {
		if err := printJSON(newSweepJSON(outcome.Result)); err != nil {
			return err
		}
	} else {
		fmt.Printf("Targets (initial apps): %d\n", outcome.Result.InitialTargetCount)
		fmt.Printf("Final leftovers: %d\n", outcome.Result.FinalLeftoverCount)
		fmt.Println("Done.")
	}
	if outcome.Err != nil {
		return fmt.Errorf("sweep interrupted: %w", outcome.Err)
	}
	return nil
}

// sweepJSON is the --json form of a sweep result.
type sweepJSON struct {
	InitialTargetCount int       `json:"initial_target_count"`
	FinalLeftoverCount int       `json:"final_leftover_count"`
	StartedAt          time.Time `json:"started_at"`
	DurationMS         int64     `json:"duration_ms"`
	Iterations         int       `json:"iterations"`
	SignalsSent        int       `json:"signals_sent"`
	SignalsFailed      int       `json:"signals_failed"`
	Canceled           bool      `json:"canceled"`
}

func newSweepJSON(r domain.SweepResult) sweepJSON {
	return sweepJSON{
		InitialTargetCount: r.InitialTargetCount,
		FinalLeftoverCount: r.FinalLeftoverCount,
		StartedAt:          r.StartedAt,
		DurationMS:         r.Duration.Milliseconds(),
		Iterations:         r.Iterations,
		SignalsSent:        r.SignalsSent,
		SignalsFailed:      r.SignalsFailed,
		Canceled:           r.Canceled,
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runTargets(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := context.Background()
	records, err := a.lister.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list processes: %w", err)
	}

	self := os.Getpid()
	var apps, others, protected int

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PID\tKIND\tNAME\tIDENTIFIER\tACTION")
	for _, r := range records {
		if r.OwnerID != a.cfg.OwnerUID {
			continue
		}
		r = a.enrich(ctx, r)

		kind := "process"
		if r.IsApp() {
			kind = "app"
		}
		action := "sweep"
		if reason := a.policy.Classify(r, self); reason != "" {
			action = "protected (" + string(reason) + ")"
			protected++
		} else if r.IsApp() {
			apps++
		} else {
			others++
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", r.PID, kind, r.Name, dash(r.Identifier), action)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\nuid %d: %d apps and %d other processes would be swept, %d protected\n",
		a.cfg.OwnerUID, apps, others, protected)
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func runProtected(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	set := a.policy.Set()
	fmt.Println("\n=== Protection Set ===")
	printList("Names", set.Names())
	printList("Identifiers", set.Identifiers())
	printList("Path prefixes", set.PathPrefixes())
	fmt.Println("======================")
	return nil
}

func printList(title string, items []string) {
	fmt.Printf("\n%s:\n", title)
	for _, item := range items {
		fmt.Printf("  - %s\n", item)
	}
}

// listenerArgs rebuilds the foreground listener's flags for a detached
// or launchd-managed copy.
func listenerArgs() []string {
	var args []string
	if listenInterval > 0 {
		args = append(args, "--interval", listenInterval.String())
	}
	if noHistory {
		args = append(args, "--no-history")
	}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	if listerName != "" {
		args = append(args, "--lister", listerName)
	}
	return args
}

func runLaunchAgent(install bool) error {
	if runtime.GOOS != "darwin" {
		return fmt.Errorf("launch agents are only available on macOS")
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	agent := infra.NewLaunchAgent(config.RealUserHome(), a.cfg.LogPath(), &infra.RealCommandRunner{})
	ctx := context.Background()
	if !install {
		if err := agent.Uninstall(ctx); err != nil {
			return fmt.Errorf("failed to remove LaunchAgent: %w", err)
		}
		fmt.Println("LaunchAgent removed")
		return nil
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	args := append([]string{executable, "listen"}, listenerArgs()...)
	if agent.IsInstalled() && !agent.NeedsUpdate(args) {
		fmt.Println("LaunchAgent already installed")
		return nil
	}
	if err := agent.Install(ctx, args); err != nil {
		return fmt.Errorf("failed to install LaunchAgent: %w", err)
	}
	fmt.Printf("Installed LaunchAgent %s\n", agent.GetPlistPath())
	return nil
}

func runListen(cmd *cobra.Command, args []string) error {
	if listenInstall || listenUninstall {
		return runLaunchAgent(listenInstall)
	}
	if listenBackground {
		pid, err := daemon.StartDetached(listenerArgs()...)
		if err != nil {
			return fmt.Errorf("failed to start listener: %w", err)
		}
		fmt.Printf("Listener started (pid %d)\n", pid)
		return nil
	}

	// The listener outlives its terminal like a sweep does
	signal.Ignore(syscall.SIGHUP)

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	registry := infra.NewFileListenerRegistry(a.cfg.ListenerPath(), a.pm)
	if entry, err := registry.Get(); err == nil {
		return fmt.Errorf("listener already running (pid %d)", entry.PID)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener := daemon.NewListener(
		daemon.ListenerConfig{Interval: listenInterval},
		a.trigger(a.cfg.Timings, !noHistory),
		registry,
		domain.ListenerEntry{
			PID:        os.Getpid(),
			StartedAt:  time.Now().Unix(),
			AppVersion: Version,
		},
		a.logger,
	)
	if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runTrigger(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	registry := infra.NewFileListenerRegistry(a.cfg.ListenerPath(), a.pm)
	entry, err := daemon.Poke(context.Background(), registry, a.pm)
	if errors.Is(err, domain.ErrListenerNotRunning) {
		return fmt.Errorf("no listener running; start one with 'killswitch listen --background'")
	}
	if err != nil {
		return err
	}
	fmt.Printf("Sweep requested (listener pid %d)\n", entry.PID)
	return nil
}

// recentSweeps reads the history without creating one.
func recentSweeps(dataDir string, limit int) ([]domain.SweepRecord, error) {
	if !infra.HistoryExists(dataDir) {
		return nil, nil
	}
	history, err := infra.OpenHistory(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	defer history.Close()

	records, err := history.Recent(limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return records, nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	records, err := recentSweeps(a.cfg.DataDir, historyLimit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No sweeps recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tWHEN\tUSER\tTARGETS\tLEFTOVERS\tPASSES\tDURATION\tSTATUS")
	for _, r := range records {
		status := "done"
		if r.Result.Canceled {
			status = "canceled"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			r.ID,
			r.Result.StartedAt.Local().Format(time.DateTime),
			r.User,
			r.Result.InitialTargetCount,
			r.Result.FinalLeftoverCount,
			r.Result.Iterations,
			r.Result.Duration.Round(time.Millisecond),
			status)
	}
	return w.Flush()
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("killswitch %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}

// sweepUser names who a sweep ran for, in history records.
func sweepUser() string {
	if u := os.Getenv("SUDO_USER"); u != "" {
		return u
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return strconv.Itoa(os.Getuid())
}
