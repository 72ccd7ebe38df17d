// Package runner launches the external agent for one attempt at one task.
//
// An Agent knows how to turn configuration into an argument vector and how
// the task reaches the process (stdin or a trailing path argument). Codex
// and Gemini are provided; AgentByName selects one.
//
// Runner.Execute opens the task file as input and the task's temp log as
// combined stdout/stderr, starts the agent in its own process group,
// registers it in a Registry, and waits. When the timeout expires the group
// gets SIGTERM, then SIGKILL after the kill grace, and the attempt reports
// return code 124. Retries, claims and finalization belong to the caller.
//
// The Registry is how shutdown reaches running agents: TerminateAll signals
// everything currently tracked. Execute's context is only checked before the
// launch; it never interrupts a running agent on its own.
package runner
