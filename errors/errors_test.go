package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name         string
		code         ErrorCode
		wantCategory ErrorCategory
		wantRetry    bool
	}{
		{"claim_lost", ErrCodeClaimLost, CategoryTransient, true},
		{"process_failed", ErrCodeProcessFailed, CategoryTransient, true},
		{"timeout", ErrCodeTimeout, CategoryTransient, true},
		{"interrupted", ErrCodeInterrupted, CategoryPermanent, false},
		{"spawn_failed", ErrCodeSpawnFailed, CategoryPermanent, false},
		{"marker_io", ErrCodeMarkerIO, CategoryInternal, false},
		{"unknown", ErrorCode("BOGUS"), CategoryInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "msg")
			if err.Code() != tt.code {
				t.Errorf("Code() = %v, want %v", err.Code(), tt.code)
			}
			if err.Category() != tt.wantCategory {
				t.Errorf("Category() = %v, want %v", err.Category(), tt.wantCategory)
			}
			if err.Retryable() != tt.wantRetry {
				t.Errorf("Retryable() = %v, want %v", err.Retryable(), tt.wantRetry)
			}
			if err.Timestamp().IsZero() {
				t.Error("Timestamp() should not be zero")
			}
		})
	}
}

func TestFromCode(t *testing.T) {
	err := FromCode(ErrCodeInterrupted, WithTaskID("/tmp/a.md"))
	if err.Error() != "shutdown requested" {
		t.Errorf("Error() = %q", err.Error())
	}
	if err.TaskID() != "/tmp/a.md" {
		t.Errorf("TaskID() = %q", err.TaskID())
	}
}

func TestWithRetryableOverride(t *testing.T) {
	err := New(ErrCodeTimeout, "no more", WithRetryable(false))
	if err.Retryable() {
		t.Error("expected override to make error non-retryable")
	}
}

func TestMetadataIsCopied(t *testing.T) {
	err := New(ErrCodeMarkerIO, "x", WithMetadata("op", "rename"))
	meta := err.Metadata()
	meta["op"] = "changed"
	if err.Metadata()["op"] != "rename" {
		t.Error("Metadata() should return a copy")
	}
	if New(ErrCodeInternal, "x").Metadata() == nil {
		t.Error("Metadata() should never be nil")
	}
}

func TestHelpers(t *testing.T) {
	pf := ProcessFailed("/t.md", 3)
	if pf.Code() != ErrCodeProcessFailed || pf.Metadata()["exit_code"] != "3" {
		t.Errorf("ProcessFailed = %v %v", pf.Code(), pf.Metadata())
	}

	to := Timeout("/t.md", 2*time.Second)
	if to.Error() != "agent timed out after 2s" {
		t.Errorf("Timeout().Error() = %q", to.Error())
	}

	cause := fmt.Errorf("disk full")
	mio := MarkerIO("/t.md", "write metadata", cause)
	if mio.Unwrap() != cause {
		t.Error("MarkerIO should wrap its cause")
	}
	if mio.Error() != "write metadata: disk full" {
		t.Errorf("MarkerIO().Error() = %q", mio.Error())
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "x") != nil {
		t.Error("Wrap(nil) should be nil")
	}

	plain := Wrap(fmt.Errorf("boom"), "context")
	if plain.Code() != ErrCodeInternal {
		t.Errorf("plain error code = %v, want INTERNAL", plain.Code())
	}

	coded := Wrap(ProcessFailed("/t.md", 1), "attempt 2")
	if coded.Code() != ErrCodeProcessFailed {
		t.Errorf("wrapped code = %v, want PROCESS_FAILED", coded.Code())
	}
	if coded.TaskID() != "/t.md" {
		t.Errorf("wrapped task id = %q", coded.TaskID())
	}

	if Wrap(context.DeadlineExceeded, "x").Code() != ErrCodeTimeout {
		t.Error("deadline exceeded should map to TIMEOUT")
	}
	if Wrap(context.Canceled, "x").Code() != ErrCodeInterrupted {
		t.Error("canceled should map to INTERRUPTED")
	}
}

func TestIsAndCode(t *testing.T) {
	inner := New(ErrCodeTimeout, "slow")
	outer := WrapWithCode(inner, ErrCodeMarkerIO, "then the rename failed")

	if !Is(outer, ErrCodeMarkerIO) {
		t.Error("Is should match the outer code")
	}
	if !Is(outer, ErrCodeTimeout) {
		t.Error("Is should match a code deeper in the chain")
	}
	if Is(outer, ErrCodeClaimLost) {
		t.Error("Is should not match an absent code")
	}
	if Code(outer) != ErrCodeMarkerIO {
		t.Errorf("Code() = %v", Code(outer))
	}
	if Code(fmt.Errorf("plain")) != "" {
		t.Error("Code of plain error should be empty")
	}
	if IsRetryable(fmt.Errorf("plain")) {
		t.Error("plain errors are not retryable")
	}
	if !IsRetryable(fmt.Errorf("wrapped: %w", inner)) {
		t.Error("fmt-wrapped timeout should be retryable")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	orig := New(ErrCodeProcessFailed, "agent exited with code 2",
		WithTaskID("/x/task.md"),
		WithMetadata("exit_code", "2"),
		WithCause(fmt.Errorf("exit status 2")),
	)

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got Error
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Code() != orig.Code() || got.TaskID() != orig.TaskID() {
		t.Errorf("got %v/%v, want %v/%v", got.Code(), got.TaskID(), orig.Code(), orig.TaskID())
	}
	if got.Error() != orig.Error() {
		t.Errorf("Error() = %q, want %q", got.Error(), orig.Error())
	}
	if !got.Retryable() {
		t.Error("retryable flag should survive the round trip")
	}
	if !got.Timestamp().Equal(orig.Timestamp()) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp(), orig.Timestamp())
	}
}
