package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alphie-orchestrator/taskctl/internal/config"
	"github.com/alphie-orchestrator/taskctl/internal/eventlog"
	"github.com/alphie-orchestrator/taskctl/internal/git"
	"github.com/alphie-orchestrator/taskctl/internal/lifecycle"
	"github.com/alphie-orchestrator/taskctl/internal/metrics"
	"github.com/alphie-orchestrator/taskctl/internal/scheduler"
	"github.com/alphie-orchestrator/taskctl/internal/store"
	"github.com/alphie-orchestrator/taskctl/internal/tui"
	"github.com/alphie-orchestrator/taskctl/internal/worktree"
)

var (
	runMetricsAddr string
	runTUI         bool
	runStoreURL    string
	runAPIKey      string
	runOnce        bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler tick loop",
	Long: `Run drives the tick loop against the configured task store:
spawning agent instances within backpressure, sweeping zombie claims,
running before_merge hooks on provisional tasks, and handing off to the
burnout detector and rebaser for their own due work.

Exit codes:
  0    clean shutdown (--once completed, or the --tui dashboard was quit)
  1    fatal configuration or store error
  130  interrupted (SIGINT/SIGTERM) while the tick loop runs`,
	RunE: runScheduler,
}

func init() {
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Address to serve /metrics on (e.g. :9090); empty disables metrics")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Run with the interactive terminal dashboard")
	runCmd.Flags().StringVar(&runStoreURL, "store-url", "", "Task store base URL; overrides server.url from config")
	runCmd.Flags().StringVar(&runAPIKey, "api-key", "", "Task store API key; overrides server.api_key from config")
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Run a single tick and exit instead of looping")
}

func runScheduler(cmd *cobra.Command, args []string) error {
	stateDir, _ := cmd.Flags().GetString("state-dir")
	absStateDir, err := filepath.Abs(stateDir)
	if err != nil {
		return fmt.Errorf("resolve state dir: %w", err)
	}
	if err := os.MkdirAll(absStateDir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	cfg, err := config.Load(absStateDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	storeURL := runStoreURL
	if storeURL == "" {
		storeURL = cfg.Server.URL
	}
	apiKey := runAPIKey
	if apiKey == "" {
		apiKey = cfg.Server.APIKey
	}

	client, err := store.New(store.Config{BaseURL: storeURL, Scope: cfg.Scope, APIKey: apiKey})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	repoPath, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	runner := git.NewRunner(repoPath)

	wtMgr, err := worktree.New(absStateDir, cfg.BaseBranch, runner)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctrl := lifecycle.New(client, wtMgr, absStateDir)

	cache, err := store.OpenCache(filepath.Join(absStateDir, "cache.db"), 60*time.Second)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer cache.Close()

	sched := scheduler.New(cfg, client, ctrl, wtMgr, cache, absStateDir)

	events := eventlog.NewEmitter(256)
	sched.SetEventEmitter(events)
	defer events.Close()

	reg := metrics.New()
	if runMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", reg.Handler())
		srv := &http.Server{Addr: runMetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
			}
		}()
		defer srv.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	interrupted := new(bool)
	go func() {
		<-sigCh
		*interrupted = true
		cancel()
	}()

	if runOnce {
		start := time.Now()
		result, err := sched.Tick(ctx)
		reg.ObserveTick(result, time.Since(start).Seconds(), err)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return nil
	}

	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()

	var woken <-chan struct{}
	watcher, err := scheduler.WatchStateDir(absStateDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "state dir watch disabled: %v\n", err)
	} else {
		defer watcher.Close()
		woken = watcher.Woken
	}

	if !runTUI {
		go drainEventsHeadless(events.Events())
		return tickLoop(ctx, sched, reg, ticker, woken, cfg, interrupted)
	}

	ticks := make(chan tui.TickResultMsg, 16)
	go func() {
		_ = tickLoop(ctx, sched, reg, ticker, woken, cfg, interrupted, func(result scheduler.TickResult, err error) {
			select {
			case ticks <- tui.TickResultMsg{Result: result, Err: err, At: time.Now()}:
			default:
			}
		})
	}()

	if err := tui.Run(cfg.Scope, events.Events(), ticks); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	cancel()
	return nil
}

// tickLoop drives the scheduler's tick timer until ctx is cancelled,
// reporting each result to reg and, if provided, to onResult for the
// TUI. interrupted distinguishes a signal-driven cancellation (exit 130)
// from a clean one (exit 0).
func tickLoop(ctx context.Context, sched *scheduler.Scheduler, reg *metrics.Registry, ticker *time.Ticker, woken <-chan struct{}, cfg *config.Config, interrupted *bool, onResult ...func(scheduler.TickResult, error)) error {
	runTick := func() {
		start := time.Now()
		result, err := sched.Tick(ctx)
		reg.ObserveTick(result, time.Since(start).Seconds(), err)
		if err != nil {
			fmt.Fprintf(os.Stderr, "tick error: %v\n", err)
		}
		for _, f := range onResult {
			f(result, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if *interrupted {
				os.Exit(130)
			}
			return nil
		case <-ticker.C:
			runTick()
		case <-woken:
			// A write under the state dir (pause sentinel, config
			// touch) woke us early; Tick re-validates everything
			// itself so an early or spurious wake costs nothing.
			runTick()
			ticker.Reset(cfg.TickInterval)
		}
	}
}

// drainEventsHeadless prints the event stream to stdout for runs started
// without --tui, so the stream is never silently dropped.
func drainEventsHeadless(events <-chan eventlog.Event) {
	for evt := range events {
		if evt.Err != nil {
			fmt.Printf("[%s] %s: %v\n", evt.Type, evt.TaskID, evt.Err)
			continue
		}
		fmt.Printf("[%s] task=%s agent=%s %s\n", evt.Type, evt.TaskID, evt.AgentName, evt.Message)
	}
}
