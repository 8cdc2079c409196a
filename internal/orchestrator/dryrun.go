// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package orchestrator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gosuri/uitable"

	"github.com/spawn-sh/spawn/internal/agents"
	"github.com/spawn-sh/spawn/internal/cloudconfig"
	"github.com/spawn-sh/spawn/internal/manifest"
	"github.com/spawn-sh/spawn/internal/spawnhome"
)

func cloudUserData(tier manifest.Tier) string {
	return cloudconfig.Render(tier)
}

const previewPromptLen = 120

// dryRun prints what a launch would do without touching any provider
// API: the pair's metadata, the environment template, and credential
// readiness per required variable.
func (o *Orchestrator) dryRun(p Params, agent *agents.Agent) error {
	cloud := o.Manifest.Clouds[p.CloudKey]
	agentDef := o.Manifest.Agents[p.AgentKey]

	table := uitable.New()
	table.MaxColWidth = 72
	table.AddRow("AGENT", fmt.Sprintf("%s (%s)", agentDef.Name, agent.Key))
	table.AddRow("CLOUD", fmt.Sprintf("%s (%s)", cloud.Name, p.CloudKey))
	table.AddRow("TIER", string(agent.Tier))
	table.AddRow("INSTALL STEPS", fmt.Sprintf("%d", len(agent.InstallSteps)))

	env := agent.Env("<OPENROUTER_API_KEY>", agent.DefaultModel())
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	table.AddRow("ENVIRONMENT", strings.Join(keys, ", "))

	required := append(cloud.AuthVars(), spawnhome.OpenRouterKeyEnvKey)
	for _, name := range required {
		state := "set"
		if name == spawnhome.OpenRouterKeyEnvKey {
			if spawnhome.OpenRouterKey() == "" {
				state = "missing (https://openrouter.ai/keys)"
			}
		} else if value, _ := o.Creds.Lookup(p.CloudKey, name); value == "" {
			state = "missing"
			if cloud.Homepage != "" {
				state = fmt.Sprintf("missing (%s)", cloud.Homepage)
			}
		}
		table.AddRow("CREDENTIAL "+name, state)
	}

	if p.Prompt != "" {
		preview := p.Prompt
		if len(preview) > previewPromptLen {
			preview = preview[:previewPromptLen] + "..."
		}
		table.AddRow("PROMPT", preview)
	}

	fmt.Fprintln(o.stderr(), "Dry run; nothing will be created.")
	fmt.Fprintln(o.stderr(), table.String())
	return nil
}
