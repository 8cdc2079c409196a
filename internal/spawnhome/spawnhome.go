// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package spawnhome resolves the on-disk locations and environment
// knobs used by the rest of spawn. The data directory defaults to
// ~/.spawn and may be overridden with SPAWN_HOME; credential bundles
// live separately under ~/.config/spawn.
package spawnhome

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/juju/errors"
)

// Environment variables recognised by spawn.
const (
	HomeEnvKey           = "SPAWN_HOME"
	NameEnvKey           = "SPAWN_NAME"
	NameKebabEnvKey      = "SPAWN_NAME_KEBAB"
	NameDisplayEnvKey    = "SPAWN_NAME_DISPLAY"
	NonInteractiveEnvKey = "SPAWN_NON_INTERACTIVE"
	HeadlessEnvKey       = "SPAWN_HEADLESS"
	ModeEnvKey           = "SPAWN_MODE"
	DebugEnvKey          = "SPAWN_DEBUG"
	CustomEnvKey         = "SPAWN_CUSTOM"
	NoUpdateCheckEnvKey  = "SPAWN_NO_UPDATE_CHECK"
	NoUnicodeEnvKey      = "SPAWN_NO_UNICODE"
	UnicodeEnvKey        = "SPAWN_UNICODE"
	CLIDirEnvKey         = "SPAWN_CLI_DIR"
	PromptEnvKey         = "SPAWN_PROMPT"
	OpenRouterKeyEnvKey  = "OPENROUTER_API_KEY"
)

var (
	mu   sync.Mutex
	home string
)

// Home returns the spawn data directory, creating nothing.
func Home() string {
	mu.Lock()
	defer mu.Unlock()
	if home != "" {
		return home
	}
	if h := os.Getenv(HomeEnvKey); h != "" {
		home = h
		return home
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		// Fall back to the working directory rather than guessing
		// at a path we cannot expand.
		userHome = "."
	}
	home = filepath.Join(userHome, ".spawn")
	return home
}

// SetHome overrides the data directory for the lifetime of the
// process. Used by tests and by --home style plumbing.
func SetHome(dir string) {
	mu.Lock()
	defer mu.Unlock()
	home = dir
}

// EnsureHome creates the data directory if it is missing.
func EnsureHome() (string, error) {
	dir := Home()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", errors.Trace(err)
	}
	return dir, nil
}

// CredentialDir returns the directory holding per-cloud credential
// bundles (~/.config/spawn).
func CredentialDir() string {
	if base := os.Getenv("XDG_CONFIG_HOME"); base != "" {
		return filepath.Join(base, "spawn")
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		userHome = "."
	}
	return filepath.Join(userHome, ".config", "spawn")
}

// HistoryPath returns the location of the spawn record registry.
func HistoryPath() string {
	return filepath.Join(Home(), "history.json")
}

// LastConnectionPath returns the location of the most recent
// connection details, consumed by the headless bridge and reconnect.
func LastConnectionPath() string {
	return filepath.Join(Home(), "last-connection.json")
}

// ManifestCachePath returns the location of the cached manifest.
func ManifestCachePath() string {
	return filepath.Join(Home(), "manifest.json")
}

func boolEnv(key string) bool {
	switch os.Getenv(key) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// Debug reports whether SPAWN_DEBUG diagnostics are requested.
func Debug() bool { return boolEnv(DebugEnvKey) }

// NonInteractive reports whether prompting is forbidden.
func NonInteractive() bool {
	return boolEnv(NonInteractiveEnvKey) || boolEnv(HeadlessEnvKey)
}

// Headless reports whether the headless bridge set SPAWN_HEADLESS.
func Headless() bool { return boolEnv(HeadlessEnvKey) }

// Custom reports whether interactive size/region pickers are enabled.
func Custom() bool { return boolEnv(CustomEnvKey) }

// NoUpdateCheck reports whether the startup update probe is skipped.
func NoUpdateCheck() bool { return boolEnv(NoUpdateCheckEnvKey) }

// PresetName returns a pre-set instance name, if any. SPAWN_NAME_KEBAB
// wins over SPAWN_NAME since it has already been normalised.
func PresetName() string {
	if v := os.Getenv(NameKebabEnvKey); v != "" {
		return v
	}
	return os.Getenv(NameEnvKey)
}

// PresetPrompt returns the prompt text passed through the environment.
func PresetPrompt() string { return os.Getenv(PromptEnvKey) }

// OpenRouterKey returns the OpenRouter API key from the environment.
func OpenRouterKey() string { return os.Getenv(OpenRouterKeyEnvKey) }
