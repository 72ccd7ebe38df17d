package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vinayprograms/agentbatch/errors"
	"github.com/vinayprograms/agentbatch/runner"
)

// EnvPrefix prefixes every agentbatch environment variable.
const EnvPrefix = "AGENTBATCH_"

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadDotEnv loads variables from path (".env" when empty) without
// overriding ones already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "read "+path)
	}
	return nil
}

// ApplyEnv overlays AGENTBATCH_* variables plus CODEX_CMD and GEMINI_CMD.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var firstErr error
	fail := func(key, v string, err error) {
		if firstErr == nil {
			firstErr = errors.WrapWithCode(err, errors.ErrCodeInvalidInput, fmt.Sprintf("%s=%q", key, v))
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				fail(key, v, err)
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				fail(key, v, err)
				return
			}
			*dst = b
		}
	}
	dur := func(key string, dst *Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				fail(key, v, err)
				return
			}
			dst.Duration = d
		}
	}

	str(EnvPrefix+"AGENT", &c.Agent)
	str(EnvPrefix+"MODEL", &c.Model)
	str(EnvPrefix+"SANDBOX", &c.Sandbox)
	str(EnvPrefix+"APPROVAL", &c.Approval)
	str(EnvPrefix+"PATTERN", &c.Pattern)
	str(EnvPrefix+"LOG_LEVEL", &c.LogLevel)
	str(EnvPrefix+"METRICS_ADDR", &c.Metrics.Addr)
	str(EnvPrefix+"OTLP_ENDPOINT", &c.Telemetry.Endpoint)
	str(EnvPrefix+"OTLP_PROTOCOL", &c.Telemetry.Protocol)
	str(runner.EnvCodexCmd, &c.CodexCmd)
	str(runner.EnvGeminiCmd, &c.GeminiCmd)

	num(EnvPrefix+"CONCURRENCY", &c.Concurrency)
	num(EnvPrefix+"RETRIES", &c.Retries)
	num(EnvPrefix+"LAUNCHES_PER_MINUTE", &c.LaunchesPerMinute)

	flag(EnvPrefix+"SKIP_GIT_CHECK", &c.SkipGitCheck)
	flag(EnvPrefix+"SKIP_COMPLETED", &c.SkipCompleted)
	flag(EnvPrefix+"CLEANUP_STALE", &c.CleanupStale)
	flag(EnvPrefix+"OTLP_INSECURE", &c.Telemetry.Insecure)

	dur(EnvPrefix+"RETRY_DELAY", &c.RetryDelay)
	dur(EnvPrefix+"PACING", &c.Pacing)
	dur(EnvPrefix+"TIMEOUT", &c.Timeout)
	dur(EnvPrefix+"KILL_GRACE", &c.KillGrace)
	dur(EnvPrefix+"STALE_AFTER", &c.StaleAfter)

	return firstErr
}
