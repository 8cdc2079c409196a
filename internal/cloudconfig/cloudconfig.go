// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package cloudconfig renders the first-boot userdata script for a
// fresh instance. The script installs the package set implied by the
// agent's cloud-init tier and finishes by touching a marker file that
// WaitReady polls for.
package cloudconfig

import (
	"strings"

	"github.com/spawn-sh/spawn/internal/manifest"
)

// ReadyMarker is touched as the script's final act. Its presence
// means the base system is fully prepared.
const ReadyMarker = "/var/run/spawn.ready"

// ReadyProbe is the remote command WaitReady runs until it succeeds.
const ReadyProbe = "test -f " + ReadyMarker

var tierPackages = map[manifest.Tier][]string{
	manifest.TierMinimal: {"curl", "unzip", "git"},
	manifest.TierFull: {
		"curl", "unzip", "git",
		"build-essential", "python3", "python3-pip", "python3-venv",
		"ripgrep", "jq", "tmux",
	},
	manifest.TierHeavy: {
		"curl", "unzip", "git",
		"build-essential", "python3", "python3-pip", "python3-venv",
		"ripgrep", "jq", "tmux",
	},
}

// Render produces the userdata bash script for the given tier. An
// unknown tier renders as minimal.
func Render(tier manifest.Tier) string {
	packages, ok := tierPackages[tier]
	if !ok {
		packages = tierPackages[manifest.TierMinimal]
	}

	var b strings.Builder
	b.WriteString("#!/bin/bash\n")
	b.WriteString("set -ux\n\n")
	b.WriteString("export DEBIAN_FRONTEND=noninteractive\n")
	// Boot-time apt can hold the lock for a while on first boot.
	b.WriteString("for i in $(seq 1 30); do apt-get update -y && break || sleep 5; done\n")
	b.WriteString("apt-get install -y " + strings.Join(packages, " ") + "\n")

	if tier == manifest.TierHeavy {
		b.WriteString("\n# Node and Bun for agents distributed through npm.\n")
		b.WriteString("curl -fsSL https://deb.nodesource.com/setup_22.x | bash -\n")
		b.WriteString("apt-get install -y nodejs\n")
		b.WriteString("curl -fsSL https://bun.sh/install | HOME=/root bash\n")
		b.WriteString("ln -sf /root/.bun/bin/bun /usr/local/bin/bun\n")
	}

	b.WriteString("\ntouch " + ReadyMarker + "\n")
	return b.String()
}
