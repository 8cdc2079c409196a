// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package agents defines the installer for each supported AI coding
// agent: the cloud-init tier it needs, its remote install steps, the
// environment it derives from the user's OpenRouter key, optional
// configure and pre-launch hooks, and the command that becomes the
// interactive session. Like cloud providers, agents register
// themselves and are looked up by key only.
package agents

import (
	"sort"

	"github.com/juju/errors"

	"github.com/spawn-sh/spawn/internal/manifest"
)

// Agent is one installable coding agent.
type Agent struct {
	// Key matches the manifest agent key.
	Key string

	// Tier is the cloud-init package set the agent needs.
	Tier manifest.Tier

	// InstallSteps are run sequentially on the instance; each is a
	// single shell invocation and any non-zero exit aborts the
	// launch.
	InstallSteps []string

	// Models is an optional whitelist the user picks from before the
	// VM is created. The first entry is the default; empty means the
	// agent takes no model choice.
	Models []string

	// Env builds the environment injected into ~/.spawnrc from the
	// OpenRouter API key and the chosen model (empty when Models is
	// empty).
	Env func(openRouterKey, model string) map[string]string

	// ConfigureCmds are run remotely after environment injection,
	// e.g. to write a settings file.
	ConfigureCmds func(model string) []string

	// PreLaunchCmd, when set, is started on the instance as a
	// detached background process just before the interactive
	// session, output to a log under /tmp.
	PreLaunchCmd string

	// LaunchCmd builds the foreground command for the session.
	LaunchCmd func(model string) string
}

// DefaultModel returns the whitelist default, or empty.
func (a *Agent) DefaultModel() string {
	if len(a.Models) == 0 {
		return ""
	}
	return a.Models[0]
}

// ValidModel reports whether model is permitted for this agent.
func (a *Agent) ValidModel(model string) bool {
	if len(a.Models) == 0 {
		return model == ""
	}
	for _, m := range a.Models {
		if m == model {
			return true
		}
	}
	return false
}

var registry = map[string]*Agent{}

// Register adds an agent to the registry, panicking on duplicates;
// it is called from package init only.
func Register(a *Agent) {
	if _, ok := registry[a.Key]; ok {
		panic(errors.Errorf("duplicate agent %q", a.Key))
	}
	registry[a.Key] = a
}

// Get returns the agent registered under key.
func Get(key string) (*Agent, error) {
	a, ok := registry[key]
	if !ok {
		return nil, errors.NotFoundf("agent %q", key)
	}
	return a, nil
}

// Keys returns the sorted registered agent keys.
func Keys() []string {
	keys := make([]string, 0, len(registry))
	for key := range registry {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
