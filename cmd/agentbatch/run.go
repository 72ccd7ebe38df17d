package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/agentbatch/config"
	"github.com/vinayprograms/agentbatch/errors"
	"github.com/vinayprograms/agentbatch/logging"
	"github.com/vinayprograms/agentbatch/markers"
	"github.com/vinayprograms/agentbatch/metrics"
	"github.com/vinayprograms/agentbatch/pool"
	"github.com/vinayprograms/agentbatch/ratelimit"
	"github.com/vinayprograms/agentbatch/results"
	"github.com/vinayprograms/agentbatch/runner"
	"github.com/vinayprograms/agentbatch/shutdown"
	"github.com/vinayprograms/agentbatch/tasks"
	"github.com/vinayprograms/agentbatch/telemetry"
)

type runOptions struct {
	pattern           string
	agent             string
	model             string
	sandbox           string
	approval          string
	concurrency       int
	retries           int
	launchesPerMinute int
	timeout           time.Duration
	retryDelay        time.Duration
	pacing            time.Duration
	staleAfter        time.Duration
	rerunCompleted    bool
	cleanupStale      bool
	dryRun            bool
	yes               bool
	outputJSON        string
	resultsJSONL      string
	metricsAddr       string
	otlpEndpoint      string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [paths...]",
		Short: "Run the agent over pending task files",
		Long: `Run hands every pending task file under the given paths (default: the
current directory) to the agent. Files and directories may be mixed;
directories are scanned non-recursively with --pattern.

Completed tasks are skipped unless --rerun-completed is given. Failed tasks
are attempted again. Ctrl+C stops the batch, returning unfinished tasks to
pending; a second Ctrl+C exits immediately.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if err := o.apply(cmd, cfg); err != nil {
				return err
			}
			return runBatch(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg, o, rootsOrCwd(args))
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.pattern, "pattern", "p", markers.DefaultPattern, "glob for task files inside directories")
	f.StringVarP(&o.agent, "agent", "a", "codex", "agent to run: codex or gemini")
	f.StringVarP(&o.model, "model", "m", "", "model name (default depends on the agent)")
	f.StringVar(&o.sandbox, "sandbox", string(runner.SandboxReadOnly), "codex sandbox: read-only, workspace-write, danger-full-access")
	f.StringVar(&o.approval, "approval", string(runner.ApprovalNever), "codex approval policy: untrusted, on-failure, on-request, never")
	f.IntVarP(&o.concurrency, "concurrency", "c", 1, fmt.Sprintf("parallel workers (1-%d)", pool.MaxConcurrency))
	f.IntVarP(&o.retries, "retries", "r", 0, "extra attempts after a failure")
	f.IntVar(&o.launchesPerMinute, "launches-per-minute", 0, "cap on agent launches per minute across workers (0: unlimited)")
	f.DurationVarP(&o.timeout, "timeout", "t", 0, "per-attempt timeout (0: none)")
	f.DurationVar(&o.retryDelay, "retry-delay", pool.DefaultRetryDelay, "pause between attempts")
	f.DurationVar(&o.pacing, "pacing", pool.DefaultPacing, "pause after each task")
	f.DurationVar(&o.staleAfter, "stale-after", config.DefaultStaleAfter, "age after which an orphaned claim may be reclaimed")
	f.BoolVar(&o.rerunCompleted, "rerun-completed", false, "run completed tasks again")
	f.BoolVar(&o.cleanupStale, "cleanup-stale", false, "reclaim orphaned claims before and during the batch")
	f.BoolVarP(&o.dryRun, "dry-run", "n", false, "show what would run without touching markers")
	f.BoolVarP(&o.yes, "yes", "y", false, "confirm running with danger-full-access")
	f.StringVar(&o.outputJSON, "output-json", "", "write all results to this JSON file")
	f.StringVar(&o.resultsJSONL, "results-jsonl", "", "append results to this JSON Lines file")
	f.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.StringVar(&o.otlpEndpoint, "otlp-endpoint", "", "export traces to this OTLP collector")
	return cmd
}

// apply overlays explicitly set flags onto cfg.
func (o *runOptions) apply(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	set := func(name string, fn func()) {
		if f.Changed(name) {
			fn()
		}
	}
	set("pattern", func() { cfg.Pattern = o.pattern })
	set("agent", func() { cfg.Agent = o.agent })
	set("model", func() { cfg.Model = o.model })
	set("sandbox", func() { cfg.Sandbox = o.sandbox })
	set("approval", func() { cfg.Approval = o.approval })
	set("concurrency", func() { cfg.Concurrency = o.concurrency })
	set("retries", func() { cfg.Retries = o.retries })
	set("launches-per-minute", func() { cfg.LaunchesPerMinute = o.launchesPerMinute })
	set("timeout", func() { cfg.Timeout.Duration = o.timeout })
	set("retry-delay", func() { cfg.RetryDelay.Duration = o.retryDelay })
	set("pacing", func() { cfg.Pacing.Duration = o.pacing })
	set("stale-after", func() { cfg.StaleAfter.Duration = o.staleAfter })
	set("rerun-completed", func() { cfg.SkipCompleted = !o.rerunCompleted })
	set("cleanup-stale", func() { cfg.CleanupStale = o.cleanupStale })
	set("output-json", func() { cfg.Output.JSON = o.outputJSON })
	set("results-jsonl", func() { cfg.Output.JSONL = o.resultsJSONL })
	set("metrics-addr", func() { cfg.Metrics.Addr = o.metricsAddr })
	set("otlp-endpoint", func() { cfg.Telemetry.Endpoint = o.otlpEndpoint })
	return cfg.Validate()
}

func runBatch(ctx context.Context, stdout, stderr io.Writer, cfg *config.Config, o *runOptions, roots []string) error {
	log := newLogger(cfg, stderr)

	if runner.Sandbox(cfg.Sandbox) == runner.SandboxFullAccess && !o.yes && !o.dryRun {
		return errors.New(errors.ErrCodeInvalidInput,
			"sandbox danger-full-access lets the agent change any file on this machine; pass --yes to confirm")
	}

	rc, err := cfg.RunnerConfig(o.dryRun)
	if err != nil {
		return err
	}
	r, err := runner.New(rc, runner.WithLogger(log.WithComponent("runner")))
	if err != nil {
		return err
	}
	for _, w := range r.Check(ctx) {
		log.Warn("preflight", map[string]interface{}{"warning": w})
	}

	paths, err := markers.DiscoverAll(roots, cfg.Pattern)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		fmt.Fprintf(stdout, "No task files matching %q found.\n", cfg.Pattern)
		return nil
	}

	m := metrics.New()
	if cfg.CleanupStale && !o.dryRun {
		n := reclaimRoots(roots, cfg.Pattern, cfg.StaleAfter.Duration, log)
		m.StaleReclaimed(n)
	}

	tracer := telemetry.GetTracer()
	prov, err := telemetry.InitProvider(ctx, cfg.ProviderConfig(version))
	switch {
	case err == nil:
		tracer = prov.Tracer()
	case stderrors.Is(err, telemetry.ErrNoEndpoint):
	default:
		log.Warn("tracing disabled", map[string]interface{}{"error": err.Error()})
	}

	var srv *http.Server
	if cfg.Metrics.Addr != "" {
		srv = serveMetrics(cfg.Metrics.Addr, m, log)
	}

	collector := results.NewCollector()
	defer collector.Close()
	progress, unsubscribe := collector.Subscribe(len(paths))
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printProgress(stdout, progress, len(paths))
	}()

	pc := cfg.PoolConfig(o.dryRun)
	pc.Logger = log.WithComponent("pool")
	pc.Metrics = m
	pc.Tracer = tracer
	pc.Collector = collector
	pc.Limiter = ratelimit.PerMinute(pool.LaunchResource, cfg.LaunchesPerMinute)
	defer pc.Limiter.Close()
	p := pool.New(r, pc)

	var out []results.Result
	batchDone := make(chan struct{})

	coord := shutdown.NewCoordinator(shutdown.Config{
		Timeout:         rc.KillGrace + 30*time.Second,
		ContinueOnError: true,
		OnSignal: func(sig os.Signal) {
			fmt.Fprintf(stderr, "\n%s received, stopping (again to force)...\n", sig)
		},
		OnForce: func(os.Signal) {
			fmt.Fprintln(stderr, "forced exit")
			os.Exit(shutdown.ForcedExitCode)
		},
		OnHook: func(h shutdown.HookResult) {
			fields := map[string]interface{}{"hook": h.Name, "phase": h.Phase, "duration": h.Duration.Round(time.Millisecond).String()}
			if h.Err != nil {
				fields["error"] = h.Err.Error()
			}
			log.Debug("shutdown_hook", fields)
		},
	})
	coord.RegisterFunc("pool", shutdown.PhaseStopWork, func(context.Context) error {
		p.Shutdown()
		return nil
	})
	coord.RegisterFunc("batch", shutdown.PhaseTerminateAgents, func(ctx context.Context) error {
		select {
		case <-batchDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	coord.RegisterFunc("results", shutdown.PhaseFlush, func(context.Context) error {
		select {
		case <-batchDone:
			return exportResults(cfg, out)
		default:
			return errors.New(errors.ErrCodeInterrupted, "batch still running, results not exported")
		}
	})
	if srv != nil {
		coord.RegisterFunc("metrics", shutdown.PhaseFlush, srv.Shutdown)
	}
	if prov != nil {
		coord.RegisterFunc("telemetry", shutdown.PhaseFlush, prov.Shutdown)
	}
	stopSignals := coord.HandleSignals()
	defer stopSignals()

	out = p.RunBatch(ctx, paths)
	close(batchDone)

	flushErr := coord.Shutdown("batch finished")
	unsubscribe()
	<-printed

	sum := results.Summarize(out)
	printSummary(stdout, sum, out)
	if flushErr != nil {
		log.Error("flush", map[string]interface{}{"error": flushErr.Error()})
	}

	switch {
	case sum.Interrupted > 0:
		return exitError{code: results.InterruptedExitCode}
	case !sum.OK():
		return exitError{code: 1}
	}
	return nil
}

// reclaimRoots reverts orphaned claims under every root and returns how many
// were reclaimed.
func reclaimRoots(roots []string, pattern string, maxAge time.Duration, log *logging.Logger) int {
	total := 0
	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil {
			continue
		}
		if info.IsDir() {
			n, err := tasks.CleanupStale(root, pattern, maxAge)
			if err != nil {
				log.Warn("cleanup", map[string]interface{}{"dir": root, "error": err.Error()})
			}
			total += n
			continue
		}
		t, err := tasks.New(root)
		if err != nil {
			continue
		}
		if ok, err := t.ReclaimStale(maxAge); err != nil {
			log.Warn("cleanup", map[string]interface{}{"task": root, "error": err.Error()})
		} else if ok {
			total++
		}
	}
	if total > 0 {
		log.Info("stale_reclaimed", map[string]interface{}{"count": total})
	}
	return total
}

func serveMetrics(addr string, m *metrics.Metrics, log *logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", map[string]interface{}{"addr": addr, "error": err.Error()})
		}
	}()
	log.Info("metrics", map[string]interface{}{"addr": addr, "path": "/metrics"})
	return srv
}

func exportResults(cfg *config.Config, out []results.Result) error {
	var exporters []results.Exporter
	if cfg.Output.JSON != "" {
		exporters = append(exporters, results.JSONFile(cfg.Output.JSON))
	}
	if cfg.Output.JSONL != "" {
		exporters = append(exporters, results.JSONLines(cfg.Output.JSONL))
	}
	if len(exporters) == 0 {
		return nil
	}
	return results.Multi(exporters...).Export(out)
}

func printProgress(w io.Writer, progress <-chan results.Result, total int) {
	n := 0
	for r := range progress {
		n++
		line := fmt.Sprintf("[%d/%d] %-11s %s", n, total, r.Outcome, filepath.Base(r.Task))
		switch r.Outcome {
		case results.OutcomeCompleted, results.OutcomeFailed:
			line += fmt.Sprintf(" (attempts %d, %s)", r.Attempts, r.Duration.Round(100*time.Millisecond))
		}
		if r.Outcome != results.OutcomeCompleted && r.Error != "" {
			line += ": " + r.Error
		}
		fmt.Fprintln(w, line)
	}
}

func printSummary(w io.Writer, sum results.Summary, out []results.Result) {
	fmt.Fprintf(w, "\n%d tasks: %d succeeded, %d failed, %d skipped", sum.Total, sum.Succeeded, sum.Failed, sum.Skipped)
	if sum.Interrupted > 0 {
		fmt.Fprintf(w, ", %d interrupted", sum.Interrupted)
	}
	if sum.DryRun > 0 {
		fmt.Fprintf(w, ", %d dry-run", sum.DryRun)
	}
	fmt.Fprintln(w)
	for _, r := range out {
		if r.Outcome == results.OutcomeFailed && r.LogPath != "" {
			fmt.Fprintf(w, "  failed: %s (log: %s)\n", r.Task, r.LogPath)
		}
	}
}
