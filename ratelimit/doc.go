// Package ratelimit bounds how often agents are launched.
//
// External agent CLIs usually sit in front of a metered API. Pacing between
// tasks spreads load per worker; a Limiter caps launches across all workers
// of a process, per resource (the pool uses the agent name):
//
//	limiter := ratelimit.New()
//	limiter.SetCapacity("codex", 30, time.Minute) // 30 launches per minute
//
//	// Block until a launch is allowed
//	if err := limiter.Acquire(ctx, "codex"); err != nil {
//	    return err // context cancelled
//	}
//
// Resources without a configured capacity are not limited. A nil *Limiter
// allows everything, so callers can hold one unconditionally.
//
// Tokens refill continuously at capacity/window and the bucket holds at most
// Burst tokens (1 unless set), which spreads launches evenly rather than
// letting a full window's worth start at once.
package ratelimit
