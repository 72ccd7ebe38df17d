package runner

import (
	"fmt"
	"time"

	"github.com/vinayprograms/agentbatch/errors"
)

// DefaultKillGrace is the wait between SIGTERM and SIGKILL.
const DefaultKillGrace = 5 * time.Second

// Config controls how the agent is launched.
type Config struct {
	Agent        Agent
	Model        string
	Approval     Approval
	Sandbox      Sandbox
	SkipGitCheck bool

	// DryRun reports success without launching anything.
	DryRun bool

	// Timeout bounds one attempt. Zero means no limit.
	Timeout time.Duration

	// KillGrace is how long a terminated agent gets before SIGKILL.
	KillGrace time.Duration
}

// DefaultConfig returns Codex, read-only, approval never, skipping the git
// repository check.
func DefaultConfig() Config {
	return Config{
		Agent:        NewCodex(),
		Approval:     ApprovalNever,
		Sandbox:      SandboxReadOnly,
		SkipGitCheck: true,
		KillGrace:    DefaultKillGrace,
	}
}

// ModelFor returns the configured model or the agent's default.
func (c Config) ModelFor(a Agent) string {
	if c.Model != "" {
		return c.Model
	}
	return a.DefaultModel()
}

// Validate fills defaults and rejects unknown values.
func (c *Config) Validate() error {
	if c.Agent == nil {
		c.Agent = NewCodex()
	}
	if c.Approval == "" {
		c.Approval = ApprovalNever
	}
	if c.Sandbox == "" {
		c.Sandbox = SandboxReadOnly
	}
	if c.KillGrace <= 0 {
		c.KillGrace = DefaultKillGrace
	}
	if !c.Sandbox.Valid() {
		return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("unknown sandbox %q", c.Sandbox))
	}
	if !c.Approval.Valid() {
		return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("unknown approval policy %q", c.Approval))
	}
	if c.Timeout < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "timeout must not be negative")
	}
	return nil
}
