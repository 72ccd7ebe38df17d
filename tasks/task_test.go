package tasks

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTask(t *testing.T, opts ...Option) *Task {
	t.Helper()
	path := filepath.Join(t.TempDir(), "task.md")
	if err := os.WriteFile(path, []byte("do the thing\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	task, err := New(path, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return task
}

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func read(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func mustClaim(t *testing.T, task *Task, meta Metadata) {
	t.Helper()
	ok, err := task.Claim(meta)
	if err != nil || !ok {
		t.Fatalf("Claim = %v, %v", ok, err)
	}
}

func TestStatusPrecedence(t *testing.T) {
	tests := []struct {
		name    string
		markers func(task *Task) []string
		want    Status
	}{
		{"none", func(*Task) []string { return nil }, StatusPending},
		{"in progress", func(k *Task) []string { return []string{k.set.InProgress} }, StatusInProgress},
		{"failed over in progress", func(k *Task) []string { return []string{k.set.InProgress, k.set.Failed} }, StatusFailed},
		{"completed over failed", func(k *Task) []string { return []string{k.set.Failed, k.set.Completed} }, StatusCompleted},
		{"legacy completed", func(k *Task) []string { return []string{k.set.LegacyCompleted, k.set.InProgress} }, StatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := newTask(t)
			for _, p := range tt.markers(task) {
				write(t, p, "")
			}
			if got := task.Status(); got != tt.want {
				t.Errorf("Status() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStatusIsTerminal(t *testing.T) {
	if StatusPending.IsTerminal() || StatusInProgress.IsTerminal() {
		t.Error("pending and in_progress are not terminal")
	}
	if !StatusCompleted.IsTerminal() || !StatusFailed.IsTerminal() {
		t.Error("completed and failed are terminal")
	}
}

func TestClaim(t *testing.T) {
	task := newTask(t)
	meta := NewMetadata(task.Path(), "codex", "o4-mini", "w1")

	mustClaim(t, task, meta)

	if task.Status() != StatusInProgress {
		t.Fatalf("Status() = %s, want in_progress", task.Status())
	}
	got := task.Metadata()
	if got == nil {
		t.Fatal("Metadata() = nil after claim")
	}
	if got.WorkerID != "w1" || got.Engine != "codex" || got.Attempt != 1 {
		t.Errorf("Metadata() = %+v", got)
	}
	if task.set.HasLock() {
		t.Error("lock marker left behind")
	}

	entries, _ := os.ReadDir(task.set.Dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp_marker_") {
			t.Errorf("scratch file %s left behind", e.Name())
		}
	}

	ok, err := task.Claim(NewMetadata(task.Path(), "codex", "o4-mini", "w2"))
	if ok || err != nil {
		t.Errorf("second Claim = %v, %v; want false, nil", ok, err)
	}
	if task.Metadata().WorkerID != "w1" {
		t.Error("second claim overwrote metadata")
	}
}

func TestClaimRefusesCompleted(t *testing.T) {
	task := newTask(t)
	write(t, task.set.Completed, "log")

	ok, err := task.Claim(NewMetadata(task.Path(), "codex", "m", "w1"))
	if ok || err != nil {
		t.Errorf("Claim = %v, %v; want false, nil", ok, err)
	}
	if task.set.HasInProgress() {
		t.Error("in-progress marker created for completed task")
	}
}

func TestClaimAllowsFailed(t *testing.T) {
	task := newTask(t)
	write(t, task.set.Failed, "old log")

	mustClaim(t, task, NewMetadata(task.Path(), "codex", "m", "w1"))
}

func TestClaimGivesUpWhenLocked(t *testing.T) {
	task := newTask(t, WithLockTimeout(150*time.Millisecond))
	write(t, task.set.Lock, "")

	start := time.Now()
	ok, err := task.Claim(NewMetadata(task.Path(), "codex", "m", "w1"))
	if ok || err != nil {
		t.Errorf("Claim = %v, %v; want false, nil", ok, err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Claim ignored the lock timeout")
	}
	if task.set.HasInProgress() {
		t.Error("in-progress created without the lock")
	}
	if !task.set.HasLock() {
		t.Error("foreign lock was removed")
	}
}

func TestClaimMutualExclusion(t *testing.T) {
	base := newTask(t)

	const racers = 16
	var (
		wg    sync.WaitGroup
		wins  atomic.Int32
		start = make(chan struct{})
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			task, err := New(base.Path())
			if err != nil {
				t.Error(err)
				return
			}
			<-start
			ok, err := task.Claim(NewMetadata(task.Path(), "codex", "m", "w"+string(rune('a'+i))))
			if err != nil {
				t.Errorf("Claim: %v", err)
			}
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Fatalf("%d claims succeeded, want exactly 1", got)
	}
	if base.Status() != StatusInProgress {
		t.Errorf("Status() = %s", base.Status())
	}
}

func TestFinalizeSuccess(t *testing.T) {
	task := newTask(t)
	write(t, task.set.Failed, "previous failure")
	mustClaim(t, task, NewMetadata(task.Path(), "codex", "m", "w1"))
	write(t, task.set.TempLog, "agent output")

	ok, err := task.FinalizeSuccess()
	if !ok || err != nil {
		t.Fatalf("FinalizeSuccess = %v, %v", ok, err)
	}
	if got := read(t, task.set.Completed); got != "agent output" {
		t.Errorf("completed marker = %q", got)
	}
	if task.set.HasInProgress() || task.set.HasTempLog() || task.set.HasFailed() {
		t.Error("in-progress, temp log and failed markers should all be gone")
	}
	if task.Status() != StatusCompleted {
		t.Errorf("Status() = %s", task.Status())
	}

	ok, err = task.FinalizeSuccess()
	if ok || err != nil {
		t.Errorf("second FinalizeSuccess = %v, %v; want false, nil", ok, err)
	}
	ok, _ = task.FinalizeFailure()
	if ok {
		t.Error("FinalizeFailure after success should be a no-op")
	}
}

func TestFinalizeWithoutLogCreatesEmptyMarker(t *testing.T) {
	task := newTask(t)
	mustClaim(t, task, NewMetadata(task.Path(), "codex", "m", "w1"))

	ok, err := task.FinalizeSuccess()
	if !ok || err != nil {
		t.Fatalf("FinalizeSuccess = %v, %v", ok, err)
	}
	if got := read(t, task.set.Completed); got != "" {
		t.Errorf("completed marker = %q, want empty", got)
	}
}

func TestFinalizeFailure(t *testing.T) {
	task := newTask(t)
	mustClaim(t, task, NewMetadata(task.Path(), "codex", "m", "w1"))
	write(t, task.set.TempLog, "last attempt output")

	ok, err := task.FinalizeFailure()
	if !ok || err != nil {
		t.Fatalf("FinalizeFailure = %v, %v", ok, err)
	}
	if got := read(t, task.set.Failed); got != "last attempt output" {
		t.Errorf("failed marker = %q", got)
	}
	if task.set.HasInProgress() {
		t.Error("in-progress marker still present")
	}
	if task.Status() != StatusFailed {
		t.Errorf("Status() = %s", task.Status())
	}

	if ok, _ := task.FinalizeFailure(); ok {
		t.Error("second FinalizeFailure should return false")
	}
}

func TestFinalizeRequiresInProgress(t *testing.T) {
	task := newTask(t)
	write(t, task.set.TempLog, "orphan")

	if ok, err := task.FinalizeSuccess(); ok || err != nil {
		t.Errorf("FinalizeSuccess on pending = %v, %v", ok, err)
	}
	if task.set.IsCompleted() {
		t.Error("completed marker created for pending task")
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	pid := 4242
	tests := []struct {
		name string
		meta Metadata
	}{
		{"with pid", Metadata{File: "/t/a.md", Engine: "gemini", Model: "gemini-2.5-pro",
			StartedAt: "2025-01-02T03:04:05Z", PID: &pid, WorkerID: "abcd1234", Attempt: 3}},
		{"nil pid", Metadata{File: "/t/a.md", Engine: "codex", Model: "o4-mini",
			StartedAt: "2025-01-02T03:04:05Z", WorkerID: "abcd1234", Attempt: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := newTask(t)
			mustClaim(t, task, tt.meta)

			got := task.Metadata()
			if got == nil {
				t.Fatal("Metadata() = nil")
			}
			if got.File != tt.meta.File || got.Engine != tt.meta.Engine || got.Model != tt.meta.Model ||
				got.StartedAt != tt.meta.StartedAt || got.WorkerID != tt.meta.WorkerID || got.Attempt != tt.meta.Attempt {
				t.Errorf("Metadata() = %+v, want %+v", got, tt.meta)
			}
			switch {
			case tt.meta.PID == nil && got.PID != nil:
				t.Errorf("PID = %d, want nil", *got.PID)
			case tt.meta.PID != nil && (got.PID == nil || *got.PID != *tt.meta.PID):
				t.Errorf("PID = %v, want %d", got.PID, *tt.meta.PID)
			}
		})
	}
}

func TestMetadataNullPIDOnDisk(t *testing.T) {
	task := newTask(t)
	mustClaim(t, task, Metadata{File: task.Path(), Engine: "codex"})

	if !strings.Contains(read(t, task.set.InProgress), `"pid":null`) {
		t.Errorf("marker content = %s, want explicit null pid", read(t, task.set.InProgress))
	}
}

func TestMetadataTolerant(t *testing.T) {
	task := newTask(t)

	if task.Metadata() != nil {
		t.Error("Metadata() without marker should be nil")
	}

	write(t, task.set.InProgress, `{"file": "x.md", "engine": "codex"}`)
	m := task.Metadata()
	if m == nil {
		t.Fatal("partial metadata should parse")
	}
	if m.Attempt != 1 || m.PID != nil || m.WorkerID != "" {
		t.Errorf("defaults = %+v", m)
	}

	write(t, task.set.InProgress, `{"file": "x.md", "eng`)
	if task.Metadata() != nil {
		t.Error("truncated metadata should read as nil")
	}
}

func TestMetadataStarted(t *testing.T) {
	m := NewMetadata("a.md", "codex", "m", "w")
	if _, ok := m.Started(); !ok {
		t.Errorf("Started() failed for %q", m.StartedAt)
	}
	if m.PID == nil || *m.PID != os.Getpid() {
		t.Error("NewMetadata should record this process id")
	}
	if _, ok := (Metadata{StartedAt: "yesterday"}).Started(); ok {
		t.Error("Started() accepted garbage")
	}
}

func TestRelease(t *testing.T) {
	task := newTask(t)
	if ok, _ := task.Release(); ok {
		t.Error("Release on pending should return false")
	}

	mustClaim(t, task, NewMetadata(task.Path(), "codex", "m", "w1"))
	write(t, task.set.TempLog, "partial")

	ok, err := task.Release()
	if !ok || err != nil {
		t.Fatalf("Release = %v, %v", ok, err)
	}
	if task.Status() != StatusPending || task.set.HasTempLog() {
		t.Errorf("after Release: status %s, temp log %v", task.Status(), task.set.HasTempLog())
	}
	mustClaim(t, task, NewMetadata(task.Path(), "codex", "m", "w2"))
}

func TestUpdate(t *testing.T) {
	task := newTask(t)
	meta := NewMetadata(task.Path(), "codex", "m", "w1")
	if ok, _ := task.Update(meta); ok {
		t.Error("Update on pending should return false")
	}

	mustClaim(t, task, meta)
	meta.Attempt = 3
	ok, err := task.Update(meta)
	if !ok || err != nil {
		t.Fatalf("Update = %v, %v", ok, err)
	}
	got := task.Metadata()
	if got == nil || got.Attempt != 3 || got.WorkerID != "w1" {
		t.Errorf("Metadata after Update = %+v", got)
	}
}

func TestReopen(t *testing.T) {
	task := newTask(t)
	if ok, _ := task.Reopen(); ok {
		t.Error("Reopen on pending should return false")
	}

	write(t, task.set.Completed, "log")
	write(t, task.set.LegacyCompleted, "old log")
	ok, err := task.Reopen()
	if !ok || err != nil {
		t.Fatalf("Reopen = %v, %v", ok, err)
	}
	if task.Status() != StatusPending {
		t.Errorf("Status() = %s", task.Status())
	}

	write(t, task.set.Failed, "log")
	write(t, task.set.InProgress, "{}")
	if ok, _ := task.Reopen(); ok {
		t.Error("Reopen must refuse while in progress")
	}
	if !task.set.HasFailed() {
		t.Error("failed marker removed despite refusal")
	}
}

func TestLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".lock-a.md")
	a, b := NewLock(path), NewLock(path)

	if _, ok := a.Age(); ok {
		t.Error("Age() reported a missing lock")
	}
	if !a.Acquire(time.Second) {
		t.Fatal("first Acquire failed")
	}
	if _, ok := a.Age(); !ok {
		t.Error("Age() missed a held lock")
	}

	start := time.Now()
	if b.Acquire(250 * time.Millisecond) {
		t.Fatal("second Acquire succeeded while held")
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("Acquire returned after %v, expected it to poll", elapsed)
	}

	a.Release()
	a.Release()
	if !b.Acquire(0) {
		t.Error("Acquire after release failed")
	}
	b.Release()
}

func TestLockWaitsForRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".lock-a.md")
	holder := NewLock(path)
	if !holder.Acquire(0) {
		t.Fatal("Acquire failed")
	}
	go func() {
		time.Sleep(200 * time.Millisecond)
		holder.Release()
	}()
	if !NewLock(path).Acquire(3 * time.Second) {
		t.Error("waiter never acquired the released lock")
	}
}

func TestLockFailsFastOnIOError(t *testing.T) {
	l := NewLock(filepath.Join(t.TempDir(), "missing", ".lock-a.md"))
	start := time.Now()
	if l.Acquire(5 * time.Second) {
		t.Fatal("Acquire in a missing directory succeeded")
	}
	if time.Since(start) > time.Second {
		t.Error("Acquire kept polling on a non-exist error")
	}
}
