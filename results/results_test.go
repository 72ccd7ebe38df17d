package results

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func sample() []Result {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return []Result{
		{Task: "/t/a.md", Outcome: OutcomeCompleted, Success: true, Duration: 1500 * time.Millisecond,
			LogPath: "/t/done_exec_log-a.md.txt", Attempts: 1, WorkerID: "w1", FinishedAt: at},
		{Task: "/t/b.md", Outcome: OutcomeFailed, ReturnCode: TimeoutExitCode, Duration: 2 * time.Second,
			Error: "agent timed out after 1s", Attempts: 2, WorkerID: "w2", FinishedAt: at},
		{Task: "/t/c.md", Outcome: OutcomeSkipped, Success: true, Error: "already completed", FinishedAt: at},
		{Task: "/u/d.md", Outcome: OutcomeInterrupted, ReturnCode: InterruptedExitCode, Attempts: 1, FinishedAt: at},
		{Task: "/u/e.md", Outcome: OutcomeDryRun, Success: true, FinishedAt: at},
	}
}

func TestOutcomeValid(t *testing.T) {
	for _, o := range []Outcome{OutcomeCompleted, OutcomeFailed, OutcomeSkipped, OutcomeInterrupted, OutcomeDryRun} {
		if !o.Valid() {
			t.Errorf("%q should be valid", o)
		}
	}
	if Outcome("done").Valid() || Outcome("").Valid() {
		t.Error("unknown outcomes should be invalid")
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(sample())
	want := Summary{Total: 5, Succeeded: 1, Failed: 1, Skipped: 1, Interrupted: 1, DryRun: 1, Duration: 3500 * time.Millisecond}
	if s != want {
		t.Errorf("Summarize = %+v, want %+v", s, want)
	}
	if s.OK() {
		t.Error("OK() with a failure")
	}
	if !Summarize(nil).OK() {
		t.Error("empty summary should be OK")
	}
}

func TestResultJSON(t *testing.T) {
	r := sample()[1]
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["file"] != "/t/b.md" || raw["return_code"] != float64(124) || raw["duration"] != float64(2) {
		t.Errorf("wire form = %s", data)
	}
	if _, ok := raw["log"]; ok {
		t.Error("empty log should be omitted")
	}

	var back Result
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back != r {
		t.Errorf("decoded %+v, want %+v", back, r)
	}
}

func TestCollectorOrderAndFilter(t *testing.T) {
	c := NewCollector()
	for _, r := range sample() {
		if err := c.Add(r); err != nil {
			t.Fatal(err)
		}
	}

	all := c.Results()
	if len(all) != 5 || c.Len() != 5 {
		t.Fatalf("Results() = %d entries", len(all))
	}
	for i, r := range sample() {
		if all[i].Task != r.Task {
			t.Errorf("order[%d] = %s, want %s", i, all[i].Task, r.Task)
		}
	}

	if got := c.List(Filter{Outcome: OutcomeFailed}); len(got) != 1 || got[0].Task != "/t/b.md" {
		t.Errorf("List(failed) = %v", got)
	}
	if got := c.List(Filter{TaskPrefix: "/u/"}); len(got) != 2 {
		t.Errorf("List(prefix) = %v", got)
	}
	if got := c.List(Filter{Limit: 2}); len(got) != 2 {
		t.Errorf("List(limit) = %d entries", len(got))
	}
}

func TestCollectorStampsFinishTime(t *testing.T) {
	c := NewCollector()
	c.Add(Result{Task: "x"})
	if c.Results()[0].FinishedAt.IsZero() {
		t.Error("FinishedAt not set")
	}
}

func TestCollectorSubscribe(t *testing.T) {
	c := NewCollector()
	ch, cancel := c.Subscribe(8)

	c.Add(Result{Task: "a", Outcome: OutcomeCompleted})
	select {
	case r := <-ch:
		if r.Task != "a" {
			t.Errorf("got %s", r.Task)
		}
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel open after cancel")
	}
	c.Add(Result{Task: "b"})
}

func TestCollectorClose(t *testing.T) {
	c := NewCollector()
	ch, _ := c.Subscribe(1)
	c.Add(Result{Task: "a"})
	c.Close()

	if err := c.Add(Result{Task: "b"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Add after Close = %v", err)
	}
	<-ch
	if _, ok := <-ch; ok {
		t.Error("subscription not closed")
	}
	if c.Len() != 1 {
		t.Error("results lost on Close")
	}

	late, _ := c.Subscribe(1)
	if _, ok := <-late; ok {
		t.Error("subscribe after Close should return a closed channel")
	}
}

func TestCollectorConcurrentAdd(t *testing.T) {
	c := NewCollector()
	ch, cancel := c.Subscribe(1)
	defer cancel()
	go func() {
		for range ch {
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Add(Result{Task: "t"})
		}()
	}
	wg.Wait()
	if c.Len() != 50 {
		t.Errorf("Len() = %d, want 50", c.Len())
	}
}

func TestJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	if err := JSONFile(path).Export(sample()); err != nil {
		t.Fatalf("Export: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var back []Result
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(back) != 5 || back[0].Task != "/t/a.md" {
		t.Errorf("decoded %v", back)
	}

	if err := JSONFile(path).Export(nil); err != nil {
		t.Fatal(err)
	}
	data, _ = os.ReadFile(path)
	if strings.TrimSpace(string(data)) != "[]" {
		t.Errorf("empty export = %q", data)
	}
}

func TestJSONLinesAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.jsonl")
	exp := JSONLines(path)
	if err := exp.Export(sample()[:2]); err != nil {
		t.Fatal(err)
	}
	if err := exp.Export(sample()[2:3]); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r Result
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Errorf("line %d: %v", lines, err)
		}
		lines++
	}
	if lines != 3 {
		t.Errorf("%d lines, want 3", lines)
	}
}

func TestMulti(t *testing.T) {
	var calls int
	ok := ExporterFunc(func(rs []Result) error { calls++; return nil })
	bad := ExporterFunc(func(rs []Result) error { calls++; return errors.New("disk full") })

	err := Multi(ok, bad, ok).Export(sample())
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("err = %v", err)
	}
}
