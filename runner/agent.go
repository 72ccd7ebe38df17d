package runner

import (
	"fmt"
	"os"
	"strings"

	"github.com/vinayprograms/agentbatch/errors"
)

// InputMode says how the task reaches the agent.
type InputMode int

const (
	// InputStdin streams the task file to the agent's standard input.
	InputStdin InputMode = iota

	// InputPathArg appends the task path as the last argument.
	InputPathArg
)

// Invocation is the argument vector for one launch. Args[0] is the executable.
type Invocation struct {
	Args  []string
	Input InputMode
}

// Agent builds invocations for one external CLI.
type Agent interface {
	// Name identifies the agent in metadata and logs.
	Name() string

	// DefaultModel is used when the configuration names none.
	DefaultModel() string

	// Command is the executable that will be launched.
	Command() string

	// Invocation builds the argument vector from cfg.
	Invocation(cfg Config) Invocation
}

// Sandbox is the access level granted to the agent.
type Sandbox string

const (
	SandboxReadOnly       Sandbox = "read-only"
	SandboxWorkspaceWrite Sandbox = "workspace-write"
	SandboxFullAccess     Sandbox = "danger-full-access"
)

// Valid returns true if the sandbox is a known value.
func (s Sandbox) Valid() bool {
	switch s {
	case SandboxReadOnly, SandboxWorkspaceWrite, SandboxFullAccess:
		return true
	}
	return false
}

// Approval is the agent's approval policy.
type Approval string

const (
	ApprovalUntrusted Approval = "untrusted"
	ApprovalOnFailure Approval = "on-failure"
	ApprovalOnRequest Approval = "on-request"
	ApprovalNever     Approval = "never"
)

// Valid returns true if the approval policy is a known value.
func (a Approval) Valid() bool {
	switch a {
	case ApprovalUntrusted, ApprovalOnFailure, ApprovalOnRequest, ApprovalNever:
		return true
	}
	return false
}

// Environment variables overriding the agent executables.
const (
	EnvCodexCmd  = "CODEX_CMD"
	EnvGeminiCmd = "GEMINI_CMD"
)

// Codex runs `codex exec` with the task on stdin.
type Codex struct {
	Cmd string
}

// NewCodex uses $CODEX_CMD, falling back to "codex".
func NewCodex() *Codex {
	return &Codex{Cmd: envOr(EnvCodexCmd, "codex")}
}

func (c *Codex) Name() string         { return "codex" }
func (c *Codex) DefaultModel() string { return "o4-mini" }
func (c *Codex) Command() string      { return c.Cmd }

// Invocation builds `<cmd> --model M --ask-for-approval A --sandbox S exec
// [--skip-git-repo-check]`.
func (c *Codex) Invocation(cfg Config) Invocation {
	args := []string{
		c.Cmd,
		"--model", cfg.ModelFor(c),
		"--ask-for-approval", string(cfg.Approval),
		"--sandbox", string(cfg.Sandbox),
		"exec",
	}
	if cfg.SkipGitCheck {
		args = append(args, "--skip-git-repo-check")
	}
	return Invocation{Args: args, Input: InputStdin}
}

// Gemini runs the gemini CLI one-shot with the task on stdin. It has no
// sandbox or approval flags.
type Gemini struct {
	Cmd string
}

// NewGemini uses $GEMINI_CMD, falling back to "gemini".
func NewGemini() *Gemini {
	return &Gemini{Cmd: envOr(EnvGeminiCmd, "gemini")}
}

func (g *Gemini) Name() string         { return "gemini" }
func (g *Gemini) DefaultModel() string { return "gemini-2.5-pro" }
func (g *Gemini) Command() string      { return g.Cmd }

// Invocation builds `<cmd> -m M`.
func (g *Gemini) Invocation(cfg Config) Invocation {
	return Invocation{Args: []string{g.Cmd, "-m", cfg.ModelFor(g)}, Input: InputStdin}
}

// Agents lists the supported agent names.
var Agents = []string{"codex", "gemini"}

// AgentByName returns the agent with the given name, reading its command
// override from the environment.
func AgentByName(name string) (Agent, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "codex":
		return NewCodex(), nil
	case "gemini":
		return NewGemini(), nil
	}
	return nil, errors.New(errors.ErrCodeInvalidInput,
		fmt.Sprintf("unknown agent %q (want one of %s)", name, strings.Join(Agents, ", ")))
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
