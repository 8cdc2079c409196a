// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package all registers every provider driver. Importing it is the
// only way providers enter a build.
package all

import (
	_ "github.com/spawn-sh/spawn/internal/provider/digitalocean"
	_ "github.com/spawn-sh/spawn/internal/provider/ec2"
	_ "github.com/spawn-sh/spawn/internal/provider/hcloud"
	_ "github.com/spawn-sh/spawn/internal/provider/sprite"
)
