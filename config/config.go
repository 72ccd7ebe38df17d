// Package config loads agentbatch settings from a TOML file, an optional
// .env file and AGENTBATCH_* environment variables, in that order of
// increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/agentbatch/errors"
	"github.com/vinayprograms/agentbatch/logging"
	"github.com/vinayprograms/agentbatch/markers"
	"github.com/vinayprograms/agentbatch/pool"
	"github.com/vinayprograms/agentbatch/runner"
	"github.com/vinayprograms/agentbatch/telemetry"
)

// DefaultStaleAfter is the age past which an orphaned claim may be reclaimed.
const DefaultStaleAfter = time.Hour

// Duration is a time.Duration written as a Go duration string ("90s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config holds every setting of a run.
type Config struct {
	Agent     string `toml:"agent"`
	Model     string `toml:"model"`
	Sandbox   string `toml:"sandbox"`
	Approval  string `toml:"approval"`
	CodexCmd  string `toml:"codex_cmd"`
	GeminiCmd string `toml:"gemini_cmd"`

	Pattern       string   `toml:"pattern"`
	Concurrency   int      `toml:"concurrency"`
	Retries       int      `toml:"retries"`
	RetryDelay    Duration `toml:"retry_delay"`
	Pacing        Duration `toml:"pacing"`
	Timeout       Duration `toml:"timeout"`
	KillGrace     Duration `toml:"kill_grace"`
	StaleAfter    Duration `toml:"stale_after"`
	SkipGitCheck  bool     `toml:"skip_git_check"`
	SkipCompleted bool     `toml:"skip_completed"`

	// CleanupStale reclaims orphaned claims older than StaleAfter, both
	// before the batch and when a worker meets one.
	CleanupStale bool `toml:"cleanup_stale"`

	// LaunchesPerMinute caps agent launches across all workers. Zero is unlimited.
	LaunchesPerMinute int `toml:"launches_per_minute"`

	LogLevel string `toml:"log_level"`

	Metrics   MetricsConfig   `toml:"metrics"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Output    OutputConfig    `toml:"output"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address, e.g. ":9090". Empty disables the endpoint.
	Addr string `toml:"addr"`
}

// TelemetryConfig controls OTLP trace export.
type TelemetryConfig struct {
	Endpoint    string `toml:"endpoint"`
	Protocol    string `toml:"protocol"`
	Insecure    bool   `toml:"insecure"`
	ServiceName string `toml:"service_name"`
	Debug       bool   `toml:"debug"`
}

// OutputConfig names result export files.
type OutputConfig struct {
	JSON  string `toml:"json"`
	JSONL string `toml:"jsonl"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Agent:         "codex",
		Sandbox:       string(runner.SandboxReadOnly),
		Approval:      string(runner.ApprovalNever),
		Pattern:       markers.DefaultPattern,
		Concurrency:   1,
		RetryDelay:    Duration{pool.DefaultRetryDelay},
		Pacing:        Duration{pool.DefaultPacing},
		KillGrace:     Duration{runner.DefaultKillGrace},
		StaleAfter:    Duration{DefaultStaleAfter},
		SkipGitCheck:  true,
		SkipCompleted: true,
		LogLevel:      "info",
		Telemetry:     TelemetryConfig{Protocol: "grpc"},
	}
}

// StandardPaths returns the config file locations tried when none is given.
func StandardPaths() []string {
	paths := []string{"agentbatch.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "agentbatch", "config.toml"))
	}
	return paths
}

// Load builds a Config from defaults, then the TOML file at path, then .env,
// then the environment. An empty path tries StandardPaths and tolerates
// finding none; an explicit path must exist. The returned string is the
// file that was read, if any.
func Load(path string) (*Config, string, error) {
	cfg := Default()

	file := path
	if file == "" {
		for _, p := range StandardPaths() {
			if _, err := os.Stat(p); err == nil {
				file = p
				break
			}
		}
	}
	if file != "" {
		if err := cfg.LoadFile(file); err != nil {
			return nil, file, err
		}
	}

	if err := LoadDotEnv(""); err != nil {
		return nil, file, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, file, err
	}
	return cfg, file, cfg.Validate()
}

// LoadFile overlays the TOML file at path onto c.
func (c *Config) LoadFile(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "read config "+path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("config %s: unknown keys: %s", path, strings.Join(keys, ", ")))
	}
	return nil
}

// Validate rejects settings no run could use.
func (c *Config) Validate() error {
	if _, err := runner.AgentByName(c.Agent); err != nil {
		return err
	}
	if !runner.Sandbox(c.Sandbox).Valid() {
		return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("unknown sandbox %q", c.Sandbox))
	}
	if !runner.Approval(c.Approval).Valid() {
		return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("unknown approval policy %q", c.Approval))
	}
	if c.Concurrency < 1 || c.Concurrency > pool.MaxConcurrency {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("concurrency must be between 1 and %d", pool.MaxConcurrency))
	}
	if c.Retries < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "retries must not be negative")
	}
	for name, d := range map[string]time.Duration{
		"retry_delay": c.RetryDelay.Duration,
		"pacing":      c.Pacing.Duration,
		"timeout":     c.Timeout.Duration,
		"kill_grace":  c.KillGrace.Duration,
		"stale_after": c.StaleAfter.Duration,
	} {
		if d < 0 {
			return errors.New(errors.ErrCodeInvalidInput, name+" must not be negative")
		}
	}
	if c.LaunchesPerMinute < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "launches_per_minute must not be negative")
	}
	if _, ok := logging.ParseLevel(c.LogLevel); !ok {
		return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("unknown log level %q", c.LogLevel))
	}
	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("unknown telemetry protocol %q", c.Telemetry.Protocol))
	}
	return nil
}

// AgentRunner builds the selected agent, honoring command overrides.
func (c *Config) AgentRunner() (runner.Agent, error) {
	agent, err := runner.AgentByName(c.Agent)
	if err != nil {
		return nil, err
	}
	switch a := agent.(type) {
	case *runner.Codex:
		if c.CodexCmd != "" {
			a.Cmd = c.CodexCmd
		}
	case *runner.Gemini:
		if c.GeminiCmd != "" {
			a.Cmd = c.GeminiCmd
		}
	}
	return agent, nil
}

// RunnerConfig returns the process runner settings. dryRun comes from the
// command line.
func (c *Config) RunnerConfig(dryRun bool) (runner.Config, error) {
	agent, err := c.AgentRunner()
	if err != nil {
		return runner.Config{}, err
	}
	rc := runner.Config{
		Agent:        agent,
		Model:        c.Model,
		Approval:     runner.Approval(c.Approval),
		Sandbox:      runner.Sandbox(c.Sandbox),
		SkipGitCheck: c.SkipGitCheck,
		DryRun:       dryRun,
		Timeout:      c.Timeout.Duration,
		KillGrace:    c.KillGrace.Duration,
	}
	return rc, rc.Validate()
}

// PoolConfig returns the worker pool settings. Logger, metrics, tracer,
// limiter and result sinks are left for the caller to attach.
func (c *Config) PoolConfig(dryRun bool) pool.Config {
	pc := pool.DefaultConfig()
	pc.Concurrency = c.Concurrency
	pc.Retries = c.Retries
	pc.RetryDelay = c.RetryDelay.Duration
	pc.Pacing = c.Pacing.Duration
	pc.SkipCompleted = c.SkipCompleted
	pc.DryRun = dryRun
	pc.KillGrace = c.KillGrace.Duration
	if c.CleanupStale {
		pc.StaleAfter = c.StaleAfter.Duration
	}
	return pc
}

// ProviderConfig returns the OTLP exporter settings.
func (c *Config) ProviderConfig(version string) telemetry.ProviderConfig {
	return telemetry.ProviderConfig{
		ServiceName:    c.Telemetry.ServiceName,
		ServiceVersion: version,
		Endpoint:       c.Telemetry.Endpoint,
		Protocol:       c.Telemetry.Protocol,
		Insecure:       c.Telemetry.Insecure,
		Debug:          c.Telemetry.Debug,
	}
}
