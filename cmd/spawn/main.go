// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/juju/cmd/v4"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/spawn-sh/spawn/internal/manifest"
	_ "github.com/spawn-sh/spawn/internal/provider/all"
	"github.com/spawn-sh/spawn/internal/spawnhome"
)

var logger = loggo.GetLogger("spawn.cmd")

var spawnDoc = `
spawn provisions a cloud server, installs an AI coding agent on it and
hands you an interactive session, with credentials routed through
OpenRouter. Run it bare for a guided picker, or name the agent and
cloud directly:

    spawn claude hetzner
`

// Main is the testable entry point: it registers the subcommands and
// hands control to the cmd package.
func Main(args []string) int {
	ctx, err := cmd.DefaultContext()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	setupLogging()
	if _, err := spawnhome.EnsureHome(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	// Bare invocation is the guided picker, not help.
	if len(args) == 1 {
		return cmd.Main(newLaunchCommand(), ctx, nil)
	}
	return cmd.Main(newSpawnCommand(), ctx, args[1:])
}

func newSpawnCommand() cmd.Command {
	scmd := cmd.NewSuperCommand(cmd.SuperCommandParams{
		Name:            "spawn",
		Doc:             spawnDoc,
		Purpose:         "launch AI coding agents on cloud servers",
		MissingCallback: runAsLaunch,
	})
	scmd.Register(newLaunchCommand())
	scmd.Register(newListCommand())
	scmd.Register(newDeleteCommand())
	scmd.Register(newLastCommand())
	scmd.Register(newReconnectCommand())
	scmd.Register(newMatrixCommand())
	scmd.Register(newAgentsCommand())
	scmd.Register(newCloudsCommand())
	scmd.Register(newPickCommand())
	scmd.Register(newTriggerCommand())
	scmd.Register(newKeyserviceCommand())
	scmd.Register(newUpdateCommand())
	scmd.Register(newVersionCommand())
	return scmd
}

// runAsLaunch routes "spawn claude hetzner" through the launch
// command: any unregistered first word is taken as an agent name.
func runAsLaunch(ctx *cmd.Context, subcommand string, args []string) error {
	launch := newLaunchCommand()
	if err := launch.Init(append([]string{subcommand}, args...)); err != nil {
		return errors.Trace(err)
	}
	return launch.Run(ctx)
}

func setupLogging() {
	level := loggo.WARNING
	if spawnhome.Debug() {
		level = loggo.DEBUG
	}
	loggo.GetLogger("spawn").SetLogLevel(level)
}

// loadManifest loads the catalog using the on-disk cache under the
// spawn home.
func loadManifest(ctx context.Context) (*manifest.Manifest, error) {
	m, err := manifest.NewSource(spawnhome.ManifestCachePath()).Load(ctx)
	return m, errors.Trace(err)
}

func main() {
	os.Exit(Main(os.Args))
}
