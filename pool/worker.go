package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/vinayprograms/agentbatch/errors"
	"github.com/vinayprograms/agentbatch/metrics"
	"github.com/vinayprograms/agentbatch/results"
	"github.com/vinayprograms/agentbatch/tasks"
	"github.com/vinayprograms/agentbatch/telemetry"
)

type worker struct {
	id   string
	pool *Pool
	sess *session
}

// next handles one queued path, then paces.
func (w *worker) next(path string) results.Result {
	if w.sess.stopping() {
		return w.result(path, results.OutcomeSkipped, 0, "shutdown requested")
	}

	cfg := w.pool.cfg
	cfg.Metrics.WorkerBusy(true)
	start := time.Now()
	res := w.handle(path)
	if res.Outcome != results.OutcomeSkipped && res.Outcome != results.OutcomeDryRun {
		res.Duration = time.Since(start)
	}
	res.WorkerID = w.id
	cfg.Metrics.WorkerBusy(false)
	cfg.Metrics.TaskFinished(string(res.Outcome), res.Duration)
	if res.Outcome != results.OutcomeSkipped {
		cfg.Logger.TaskFinished(res.Task, string(res.Outcome), res.Attempts, res.Duration)
	}

	w.sess.sleep(cfg.Pacing)
	return res
}

func (w *worker) result(path string, outcome results.Outcome, rc int, msg string) results.Result {
	return results.Result{
		Task:       path,
		Outcome:    outcome,
		Success:    outcome == results.OutcomeCompleted || outcome == results.OutcomeDryRun,
		ReturnCode: rc,
		Error:      msg,
		WorkerID:   w.id,
		FinishedAt: time.Now(),
	}
}

func (w *worker) skip(path, reason string) results.Result {
	w.pool.cfg.Logger.TaskSkipped(path, w.id, reason)
	return w.result(path, results.OutcomeSkipped, 0, reason)
}

func (w *worker) markerError(path, op string, err error) results.Result {
	w.pool.cfg.Metrics.MarkerIOError(op)
	w.pool.cfg.Logger.Error("marker_io", map[string]interface{}{"task": path, "op": op, "error": err.Error()})
	return w.result(path, results.OutcomeFailed, 1, err.Error())
}

// handle takes one task from its current state to the end of this batch.
func (w *worker) handle(path string) (res results.Result) {
	cfg := w.pool.cfg

	task, err := tasks.New(path, tasks.WithLockTimeout(cfg.LockTimeout))
	if err != nil {
		return w.result(path, results.OutcomeFailed, 1, err.Error())
	}
	path = task.Path()

	status := task.Status()
	if cfg.SkipCompleted && status == tasks.StatusCompleted {
		return w.skip(path, "already completed")
	}
	// A terminal marker outranks in-progress in Status, so look at the
	// in-progress marker itself: a failed task can still carry an orphaned
	// claim from an interrupted retry.
	if task.Markers().HasInProgress() && !w.reclaim(task) {
		return w.skip(path, w.inProgressReason(task))
	}
	if status.IsTerminal() && !cfg.SkipCompleted && !cfg.DryRun {
		if _, err := task.Reopen(); err != nil {
			return w.markerError(path, "reopen", err)
		}
	}

	if cfg.DryRun {
		return w.preview(path)
	}

	ok, err := task.Claim(tasks.NewMetadata(path, w.pool.exec.AgentName(), w.pool.exec.Model(), w.id))
	if err != nil {
		return w.markerError(path, "claim", err)
	}
	cfg.Metrics.ClaimResult(ok)
	if !ok {
		return w.skip(path, "claimed by another worker")
	}
	cfg.Logger.TaskClaimed(path, w.id)

	ctx, span := cfg.Tracer.StartTaskSpan(w.sess.ctx, path, w.id)
	defer func() {
		var spanErr error
		if !res.Success && res.Error != "" {
			spanErr = errors.New(errors.ErrCodeProcessFailed, res.Error)
		}
		cfg.Tracer.EndTaskSpan(span, telemetry.TaskSpanOptions{
			Outcome:    string(res.Outcome),
			Attempts:   res.Attempts,
			ReturnCode: res.ReturnCode,
		}, spanErr)
	}()

	// A panic past this point must not leave the claim behind.
	defer func() {
		if p := recover(); p != nil {
			cfg.Logger.Error("task_panic", map[string]interface{}{"task": path, "worker": w.id, "panic": fmt.Sprint(p)})
			if _, err := task.FinalizeFailure(); err != nil {
				cfg.Metrics.MarkerIOError("finalize")
			}
			res = w.result(path, results.OutcomeFailed, 1, errors.Newf(errors.ErrCodeInternal, "panic: %v", p).Error())
			res.LogPath = task.Markers().Failed
			res.Attempts = 1
		}
	}()

	return w.attempts(ctx, task)
}

// reclaim reverts an orphaned claim when stale reclamation is enabled.
func (w *worker) reclaim(task *tasks.Task) bool {
	cfg := w.pool.cfg
	if cfg.StaleAfter <= 0 || cfg.DryRun {
		return false
	}
	meta := task.Metadata()
	ok, err := task.ReclaimStale(cfg.StaleAfter)
	if err != nil {
		cfg.Metrics.MarkerIOError("reclaim")
		cfg.Logger.Warn("reclaim_failed", map[string]interface{}{"task": task.Path(), "error": err.Error()})
		return false
	}
	if ok {
		pid := 0
		if meta != nil && meta.PID != nil {
			pid = *meta.PID
		}
		cfg.Metrics.StaleReclaimed(1)
		cfg.Logger.StaleReclaimed(task.Path(), w.id, pid)
	}
	return ok
}

func (w *worker) inProgressReason(task *tasks.Task) string {
	if meta := task.Metadata(); meta != nil && meta.WorkerID != "" {
		return "in progress by worker " + meta.WorkerID
	}
	return "in progress"
}

func (w *worker) preview(path string) results.Result {
	fields := map[string]interface{}{"task": path, "agent": w.pool.exec.AgentName(), "model": w.pool.exec.Model()}
	if pv, ok := w.pool.exec.(previewer); ok {
		fields["command"] = pv.CommandLine(path)
	}
	w.pool.cfg.Logger.Info("dry_run", fields)
	return w.result(path, results.OutcomeDryRun, 0, "")
}

// attempts runs the retry loop for a claimed task and finalizes it.
func (w *worker) attempts(ctx context.Context, task *tasks.Task) results.Result {
	cfg := w.pool.cfg
	path := task.Path()
	agent, model := w.pool.exec.AgentName(), w.pool.exec.Model()
	maxAttempts := cfg.MaxAttempts()
	meta := tasks.NewMetadata(path, agent, model, w.id)

	var last results.Result
	attempt := 0
	for attempt < maxAttempts {
		if w.sess.stopping() {
			return w.interrupt(task, attempt)
		}
		if err := cfg.Limiter.Acquire(w.sess.ctx, LaunchResource); err != nil {
			if w.sess.stopping() {
				return w.interrupt(task, attempt)
			}
			cfg.Logger.Warn("launch_limiter", map[string]interface{}{"task": path, "error": err.Error()})
		}

		attempt++
		if attempt > 1 {
			meta.Attempt = attempt
			if _, err := task.Update(meta); err != nil {
				cfg.Metrics.MarkerIOError("update")
			}
		}

		cfg.Logger.AttemptStart(path, w.id, attempt, maxAttempts)
		actx, span := cfg.Tracer.StartAttemptSpan(ctx, agent, model, attempt, maxAttempts)
		cfg.Metrics.AttemptStarted()
		last = w.pool.exec.Execute(actx, path, w.sess.procs)
		interrupted := !last.Success && w.sess.stopping()
		cfg.Metrics.AttemptFinished(agent, metrics.AttemptResult(last.ReturnCode, interrupted), last.Duration)
		var attemptErr error
		if !last.Success {
			attemptErr = errors.New(errors.ErrCodeProcessFailed, last.Error)
		}
		cfg.Tracer.EndAttemptSpan(span, telemetry.AttemptSpanOptions{
			ReturnCode: last.ReturnCode,
			Duration:   last.Duration,
			LogPath:    last.LogPath,
		}, attemptErr)

		if last.Success {
			return w.finalize(task, true, last, attempt)
		}
		if interrupted {
			return w.interrupt(task, attempt)
		}
		cfg.Logger.AttemptFailed(path, attempt, last.ReturnCode, last.Duration, last.Error)
		if attempt < maxAttempts && !w.sess.sleep(cfg.RetryDelay) {
			return w.interrupt(task, attempt)
		}
	}
	return w.finalize(task, false, last, attempt)
}

func (w *worker) finalize(task *tasks.Task, success bool, last results.Result, attempts int) results.Result {
	path := task.Path()
	set := task.Markers()

	var ok bool
	var err error
	res := last
	res.Task = path
	res.Attempts = attempts
	res.WorkerID = w.id
	if success {
		ok, err = task.FinalizeSuccess()
		res.Outcome, res.LogPath = results.OutcomeCompleted, set.Completed
	} else {
		ok, err = task.FinalizeFailure()
		res.Outcome, res.LogPath = results.OutcomeFailed, set.Failed
	}
	if err != nil {
		failed := w.markerError(path, "finalize", err)
		failed.Attempts = attempts
		failed.LogPath = last.LogPath
		return failed
	}
	if !ok {
		// Someone removed our claim, most likely a stale cleanup.
		w.pool.cfg.Logger.Warn("claim_lost", map[string]interface{}{"task": path, "worker": w.id})
		// The agent's exit status no longer counts: the task is not ours.
		res.Outcome, res.Success = results.OutcomeSkipped, false
		res.Error = errors.FromCode(errors.ErrCodeClaimLost, errors.WithTaskID(path)).Error()
		res.LogPath = ""
	}
	res.FinishedAt = time.Now()
	return res
}

// interrupt hands the task back to pending after shutdown.
func (w *worker) interrupt(task *tasks.Task, attempts int) results.Result {
	path := task.Path()
	if _, err := task.Release(); err != nil {
		w.pool.cfg.Metrics.MarkerIOError("release")
		w.pool.cfg.Logger.Error("release_failed", map[string]interface{}{"task": path, "error": err.Error()})
	}
	res := w.result(path, results.OutcomeInterrupted, results.InterruptedExitCode, errors.Interrupted(path).Error())
	res.Attempts = attempts
	return res
}
