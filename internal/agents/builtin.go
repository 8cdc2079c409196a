// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package agents

import (
	"fmt"

	"github.com/spawn-sh/spawn/internal/manifest"
)

// The OpenRouter endpoints the agents are pointed at. Every agent is
// driven through OpenRouter regardless of which lab's models it
// speaks to.
const (
	openRouterBase   = "https://openrouter.ai/api"
	openRouterBaseV1 = "https://openrouter.ai/api/v1"
)

func init() {
	Register(&Agent{
		Key:  "claude",
		Tier: manifest.TierHeavy,
		InstallSteps: []string{
			"npm install -g @anthropic-ai/claude-code",
			"claude --version",
		},
		Models: []string{
			"anthropic/claude-sonnet-4.5",
			"anthropic/claude-opus-4.1",
			"anthropic/claude-haiku-4.5",
		},
		Env: func(key, model string) map[string]string {
			return map[string]string{
				"ANTHROPIC_BASE_URL":   openRouterBase,
				"ANTHROPIC_AUTH_TOKEN": key,
				"ANTHROPIC_MODEL":      model,
			}
		},
		LaunchCmd: func(model string) string { return "claude" },
	})

	Register(&Agent{
		Key:  "codex",
		Tier: manifest.TierHeavy,
		InstallSteps: []string{
			"npm install -g @openai/codex",
			"codex --version",
		},
		Models: []string{
			"openai/gpt-5.1-codex",
			"openai/gpt-5.1",
		},
		Env: func(key, model string) map[string]string {
			return map[string]string{
				"OPENAI_BASE_URL": openRouterBaseV1,
				"OPENAI_API_KEY":  key,
			}
		},
		ConfigureCmds: func(model string) []string {
			return []string{
				"mkdir -p ~/.codex",
				fmt.Sprintf("printf 'model = %s\\n' > ~/.codex/config.toml", shellSafe(model)),
			}
		},
		LaunchCmd: func(model string) string { return "codex" },
	})

	Register(&Agent{
		Key:  "opencode",
		Tier: manifest.TierFull,
		InstallSteps: []string{
			"curl -fsSL https://opencode.ai/install | bash",
			"~/.opencode/bin/opencode --version",
		},
		Env: func(key, model string) map[string]string {
			return map[string]string{
				"OPENROUTER_API_KEY": key,
			}
		},
		LaunchCmd: func(model string) string { return "~/.opencode/bin/opencode" },
	})

	Register(&Agent{
		Key:  "aider",
		Tier: manifest.TierFull,
		InstallSteps: []string{
			"python3 -m pip install --user --break-system-packages aider-install",
			"python3 -m aider_install",
		},
		Models: []string{
			"openrouter/anthropic/claude-sonnet-4.5",
			"openrouter/openai/gpt-5.1",
			"openrouter/deepseek/deepseek-v3.2",
		},
		Env: func(key, model string) map[string]string {
			return map[string]string{
				"OPENROUTER_API_KEY": key,
			}
		},
		LaunchCmd: func(model string) string {
			if model == "" {
				return "~/.local/bin/aider"
			}
			return "~/.local/bin/aider --model " + shellSafe(model)
		},
	})

	Register(&Agent{
		Key:  "goose",
		Tier: manifest.TierFull,
		InstallSteps: []string{
			"curl -fsSL https://github.com/block/goose/releases/download/stable/download_cli.sh | CONFIGURE=false bash",
		},
		Models: []string{
			"anthropic/claude-sonnet-4.5",
			"openai/gpt-5.1",
		},
		Env: func(key, model string) map[string]string {
			return map[string]string{
				"GOOSE_PROVIDER":     "openrouter",
				"GOOSE_MODEL":        model,
				"OPENROUTER_API_KEY": key,
			}
		},
		LaunchCmd: func(model string) string { return "~/.local/bin/goose session" },
	})
}

// shellSafe strips anything outside the model-identifier charset so a
// value interpolated into a remote command cannot smuggle shell
// syntax. Model names come from our own whitelists, so this is a
// backstop, not a parser.
func shellSafe(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.', r == '/', r == ':':
			out = append(out, r)
		}
	}
	return string(out)
}
