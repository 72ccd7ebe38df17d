package runner

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/vinayprograms/agentbatch/errors"
	"github.com/vinayprograms/agentbatch/logging"
	"github.com/vinayprograms/agentbatch/markers"
	"github.com/vinayprograms/agentbatch/results"
	"github.com/vinayprograms/agentbatch/telemetry"
)

// Runner executes single attempts with a fixed configuration.
type Runner struct {
	cfg    Config
	logger *logging.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *logging.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l.WithComponent("runner")
		}
	}
}

// New validates cfg and returns a Runner.
func New(cfg Config, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Runner{cfg: cfg, logger: logging.Discard()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Config returns the validated configuration.
func (r *Runner) Config() Config { return r.cfg }

// AgentName returns the agent's name.
func (r *Runner) AgentName() string { return r.cfg.Agent.Name() }

// Model returns the model passed to the agent.
func (r *Runner) Model() string { return r.cfg.ModelFor(r.cfg.Agent) }

// CommandLine renders the invocation for task as a shell-like string, for
// dry-run previews.
func (r *Runner) CommandLine(task string) string {
	inv := r.cfg.Agent.Invocation(r.cfg)
	line := strings.Join(inv.Args, " ")
	if inv.Input == InputPathArg {
		return line + " " + task
	}
	return line + " < " + task
}

// Execute runs one attempt of the agent against task, writing combined
// output to the task's temp log. Outcome is completed for exit code 0 and
// failed otherwise; the caller decides about retries and finalization.
func (r *Runner) Execute(ctx context.Context, task string, reg *Registry) results.Result {
	start := time.Now()
	res := results.Result{Task: task, Attempts: 1}
	fail := func(code int, err error) results.Result {
		res.Outcome = results.OutcomeFailed
		res.ReturnCode = code
		res.Duration = time.Since(start)
		res.Error = err.Error()
		res.FinishedAt = time.Now()
		return res
	}

	set, err := markers.For(task)
	if err != nil {
		return fail(1, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "resolve task"))
	}
	res.Task = set.Task

	if r.cfg.DryRun {
		r.logger.Info("dry run", map[string]interface{}{"task": set.Task, "command": r.CommandLine(set.Task)})
		res.Outcome = results.OutcomeDryRun
		res.Success = true
		res.FinishedAt = time.Now()
		return res
	}
	if err := ctx.Err(); err != nil {
		return fail(results.InterruptedExitCode, errors.Wrap(err, "not started"))
	}
	if reg != nil && reg.Closing() {
		return fail(results.InterruptedExitCode, errors.Interrupted(set.Task))
	}

	in, err := os.Open(set.Task)
	if err != nil {
		return fail(1, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "open task"))
	}
	defer in.Close()

	out, err := os.OpenFile(set.TempLog, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fail(1, errors.MarkerIO(set.Task, "open output log", err))
	}
	defer out.Close()
	res.LogPath = set.TempLog

	inv := r.cfg.Agent.Invocation(r.cfg)
	args := inv.Args
	if inv.Input == InputPathArg {
		args = append(args, set.Task)
	}
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = set.Dir
	if env := telemetry.Environ(ctx); env != nil {
		cmd.Env = append(os.Environ(), env...)
	}
	if inv.Input == InputStdin {
		cmd.Stdin = in
	}
	cmd.Stdout = out
	cmd.Stderr = out
	isolate(cmd)

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(out, "failed to start %s: %v\n", args[0], err)
		return fail(1, errors.WrapWithCode(err, errors.ErrCodeSpawnFailed, "start "+args[0], errors.WithTaskID(set.Task)))
	}
	pid := cmd.Process.Pid
	if reg != nil {
		reg.Track(cmd.Process)
		defer reg.Untrack(pid)
	}
	r.logger.Debug("agent started", map[string]interface{}{"task": set.Name, "pid": pid})

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timeout <-chan time.Time
	if r.cfg.Timeout > 0 {
		timer := time.NewTimer(r.cfg.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err := <-done:
		if cmd.ProcessState == nil {
			return fail(1, errors.Wrap(err, "wait for agent", errors.WithTaskID(set.Task)))
		}
		code := exitCode(cmd.ProcessState)
		if code != 0 {
			return fail(code, errors.ProcessFailed(set.Task, code))
		}
	case <-timeout:
		terminate(cmd.Process)
		select {
		case <-done:
		case <-time.After(r.cfg.KillGrace):
			kill(cmd.Process)
			<-done
		}
		r.logger.Warn("agent timed out", map[string]interface{}{"task": set.Name, "pid": pid, "after": r.cfg.Timeout.String()})
		return fail(results.TimeoutExitCode, errors.Timeout(set.Task, r.cfg.Timeout))
	}

	res.Outcome = results.OutcomeCompleted
	res.Success = true
	res.Duration = time.Since(start)
	res.FinishedAt = time.Now()
	return res
}

// Check probes the agent with --version and returns human readable warnings,
// including ones about risky sandbox or approval settings. An empty slice
// means nothing to report.
func (r *Runner) Check(ctx context.Context) []string {
	var warnings []string

	if !r.cfg.DryRun {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		cmdName := r.cfg.Agent.Command()
		var stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, cmdName, "--version")
		cmd.Stderr = &stderr
		err := cmd.Run()
		switch {
		case err == nil:
		case ctx.Err() == context.DeadlineExceeded:
			warnings = append(warnings, fmt.Sprintf("command %q timed out", cmdName))
		case isNotFound(err):
			warnings = append(warnings, fmt.Sprintf("command %q not found in PATH", cmdName))
		default:
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = err.Error()
			}
			warnings = append(warnings, fmt.Sprintf("command %q returned error: %s", cmdName, msg))
		}
	}

	if r.cfg.Agent.Name() == "codex" {
		if r.cfg.Sandbox == SandboxFullAccess {
			warnings = append(warnings, "running with danger-full-access: the agent can modify any file")
		}
		if r.cfg.Approval == ApprovalNever {
			warnings = append(warnings, "approval policy is never: the agent acts autonomously")
		}
	}
	return warnings
}

func isNotFound(err error) bool {
	var execErr *exec.Error
	return stderrors.As(err, &execErr) || os.IsNotExist(err)
}
