// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package manifest holds the read-only catalog of agents, clouds and
// the implementation matrix that drives what combinations spawn can
// launch. The catalog is fetched from a well-known URL on every run,
// with a TTL-bounded local cache and a baked-in fallback for offline
// use.
package manifest

import (
	"regexp"
	"strings"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
)

// ErrManifest is returned when the catalog cannot be parsed or fails
// validation.
const ErrManifest = errors.ConstError("manifest error")

// Tier names the cloud-init package set an agent needs on first boot.
type Tier string

const (
	TierMinimal Tier = "minimal"
	TierFull    Tier = "full"
	TierHeavy   Tier = "heavy"
)

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierMinimal, TierFull, TierHeavy:
		return true
	}
	return false
}

// Status is the implementation state of one cloud/agent pair.
type Status string

const (
	StatusImplemented Status = "implemented"
	StatusMissing     Status = "missing"
)

var (
	keyPattern     = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
	authVarPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]{2,}$`)
)

// ValidKey reports whether s is a well-formed agent or cloud key:
// lowercase kebab-case, 2-32 characters.
func ValidKey(s string) bool {
	return len(s) >= 2 && len(s) <= 32 && keyPattern.MatchString(s)
}

// AgentDef describes one installable AI coding agent.
type AgentDef struct {
	Key            string            `json:"-"`
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	Homepage       string            `json:"homepage,omitempty"`
	InstallHint    string            `json:"install_hint,omitempty"`
	LaunchCmd      string            `json:"launch_cmd"`
	EnvTemplate    map[string]string `json:"env,omitempty"`
	FeaturedClouds []string          `json:"featured_clouds,omitempty"`
	Tier           Tier              `json:"tier"`
}

// CloudDef describes one compute provider.
type CloudDef struct {
	Key         string `json:"-"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Homepage    string `json:"homepage"`
	Auth        string `json:"auth"`
}

// AuthVars returns the environment variable names required to
// authenticate against the cloud. "none", the empty string and any
// entry that is not an upper-case variable name yield no entries.
func (c CloudDef) AuthVars() []string {
	return ParseAuth(c.Auth)
}

// ParseAuth splits a manifest auth string. The format is either
// "none" or a "+"-joined list of environment variable names.
func ParseAuth(auth string) []string {
	auth = strings.TrimSpace(auth)
	if auth == "" || auth == "none" {
		return nil
	}
	var vars []string
	for _, part := range strings.Split(auth, "+") {
		part = strings.TrimSpace(part)
		if authVarPattern.MatchString(part) {
			vars = append(vars, part)
		}
	}
	return vars
}

// Manifest is the full catalog.
type Manifest struct {
	Agents map[string]AgentDef `json:"agents"`
	Clouds map[string]CloudDef `json:"clouds"`
	Matrix map[string]Status   `json:"matrix"`
}

// Validate checks the internal consistency of the catalog: key
// formats, tier values, and that every matrix entry references a
// known cloud and agent.
func (m *Manifest) Validate() error {
	for key, agent := range m.Agents {
		if !ValidKey(key) {
			return errors.WithType(errors.Errorf("invalid agent key %q", key), ErrManifest)
		}
		if !agent.Tier.Valid() {
			return errors.WithType(errors.Errorf("agent %q: invalid tier %q", key, agent.Tier), ErrManifest)
		}
	}
	for key := range m.Clouds {
		if !ValidKey(key) {
			return errors.WithType(errors.Errorf("invalid cloud key %q", key), ErrManifest)
		}
	}
	for pair, status := range m.Matrix {
		cloud, agent, ok := strings.Cut(pair, "/")
		if !ok {
			return errors.WithType(errors.Errorf("invalid matrix key %q", pair), ErrManifest)
		}
		if _, known := m.Clouds[cloud]; !known {
			return errors.WithType(errors.Errorf("matrix key %q references unknown cloud %q", pair, cloud), ErrManifest)
		}
		if _, known := m.Agents[agent]; !known {
			return errors.WithType(errors.Errorf("matrix key %q references unknown agent %q", pair, agent), ErrManifest)
		}
		if status != StatusImplemented && status != StatusMissing {
			return errors.WithType(errors.Errorf("matrix key %q has unknown status %q", pair, status), ErrManifest)
		}
	}
	return nil
}

// fillKeys copies map keys into the Key field of each definition so
// callers can pass definitions around without carrying the key
// separately.
func (m *Manifest) fillKeys() {
	for key, agent := range m.Agents {
		agent.Key = key
		m.Agents[key] = agent
	}
	for key, cloud := range m.Clouds {
		cloud.Key = key
		m.Clouds[key] = cloud
	}
}

// Implemented reports whether the given cloud/agent pair is launchable.
func (m *Manifest) Implemented(cloud, agent string) bool {
	return m.Matrix[cloud+"/"+agent] == StatusImplemented
}

// CloudsForAgent returns the sorted keys of every cloud on which the
// agent is implemented.
func (m *Manifest) CloudsForAgent(agent string) []string {
	clouds := set.NewStrings()
	for pair, status := range m.Matrix {
		cloud, a, ok := strings.Cut(pair, "/")
		if ok && a == agent && status == StatusImplemented {
			clouds.Add(cloud)
		}
	}
	return clouds.SortedValues()
}

// AgentKeys returns the sorted agent keys.
func (m *Manifest) AgentKeys() []string {
	keys := set.NewStrings()
	for key := range m.Agents {
		keys.Add(key)
	}
	return keys.SortedValues()
}

// CloudKeys returns the sorted cloud keys.
func (m *Manifest) CloudKeys() []string {
	keys := set.NewStrings()
	for key := range m.Clouds {
		keys.Add(key)
	}
	return keys.SortedValues()
}
