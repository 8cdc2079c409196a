// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package trigger

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/juju/errors"
)

// Environment variables the runner is configured through.
const (
	SecretEnvKey        = "TRIGGER_SECRET"
	MaxConcurrentEnvKey = "MAX_CONCURRENT"
	RunTimeoutEnvKey    = "RUN_TIMEOUT_MS"
	IdleTimeoutEnvKey   = "IDLE_TIMEOUT_MS"
	PortEnvKey          = "PORT"
)

const (
	defaultMaxConcurrent = 1
	defaultRunTimeout    = 2 * time.Hour
	defaultIdleTimeout   = 20 * time.Minute
	defaultPort          = 8377
)

// Config holds the runner's settings.
type Config struct {
	// Secret authenticates POST /trigger callers.
	Secret string

	// Script is the workflow cycle script.
	Script string

	// Workdir is the script's working directory; empty means the
	// script's parent directory.
	Workdir string

	MaxConcurrent int
	RunTimeout    time.Duration
	IdleTimeout   time.Duration
	Port          int

	// LogDir receives one stdio log per run; empty means the system
	// temp directory.
	LogDir string
}

func durationMSEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 {
		return 0, errors.NotValidf("%s=%q", key, raw)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// ConfigFromEnv builds the runner config for the given script path.
func ConfigFromEnv(script string) (Config, error) {
	cfg := Config{
		Secret:        os.Getenv(SecretEnvKey),
		Script:        script,
		MaxConcurrent: defaultMaxConcurrent,
		Port:          defaultPort,
	}
	if cfg.Secret == "" {
		return Config{}, errors.NotValidf("empty %s", SecretEnvKey)
	}
	if script == "" {
		return Config{}, errors.NotValidf("empty script path")
	}
	abs, err := filepath.Abs(script)
	if err != nil {
		return Config{}, errors.Trace(err)
	}
	cfg.Script = abs
	cfg.Workdir = filepath.Dir(abs)

	if raw := os.Getenv(MaxConcurrentEnvKey); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return Config{}, errors.NotValidf("%s=%q", MaxConcurrentEnvKey, raw)
		}
		cfg.MaxConcurrent = n
	}
	if cfg.RunTimeout, err = durationMSEnv(RunTimeoutEnvKey, defaultRunTimeout); err != nil {
		return Config{}, errors.Trace(err)
	}
	if cfg.IdleTimeout, err = durationMSEnv(IdleTimeoutEnvKey, defaultIdleTimeout); err != nil {
		return Config{}, errors.Trace(err)
	}
	if raw := os.Getenv(PortEnvKey); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil || p < 1 || p > 65535 {
			return Config{}, errors.NotValidf("%s=%q", PortEnvKey, raw)
		}
		cfg.Port = p
	}
	return cfg, nil
}
