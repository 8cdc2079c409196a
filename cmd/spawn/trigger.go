// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/clock"
	"github.com/juju/cmd/v4"
	"github.com/juju/errors"
	"github.com/juju/utils/v4"

	"github.com/spawn-sh/spawn/internal/trigger"
)

const triggerDoc = `
Run the HTTP trigger runner: POST /trigger starts one cycle of the
given workflow script, GET /health reports the running count. The
runner is configured through the environment:

    TRIGGER_SECRET     bearer token required on /trigger (required)
    MAX_CONCURRENT     concurrent cycle ceiling (default 1)
    RUN_TIMEOUT_MS     wall-clock ceiling per cycle
    IDLE_TIMEOUT_MS    kill a cycle whose log stops growing
    PORT               listen port (default 8377)

SIGTERM or SIGINT drains outstanding cycles before exiting; survivors
of the drain window are killed and the exit status is non-zero.
`

type triggerCommand struct {
	cmd.CommandBase

	script string
}

func newTriggerCommand() cmd.Command {
	return &triggerCommand{}
}

func (c *triggerCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "trigger",
		Args:    "serve <script>",
		Purpose: "serve HTTP triggers for a workflow script",
		Doc:     triggerDoc,
	}
}

func (c *triggerCommand) Init(args []string) error {
	if len(args) != 2 || args[0] != "serve" {
		return errors.New("usage: spawn trigger serve <script>")
	}
	c.script = args[1]
	return nil
}

func (c *triggerCommand) Run(ctx *cmd.Context) error {
	cfg, err := trigger.ConfigFromEnv(c.script)
	if err != nil {
		return errors.Trace(err)
	}
	runner := trigger.NewRunner(cfg, clock.WallClock)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	killed := make(chan int, 1)
	go func() {
		<-sigs
		fmt.Fprintln(ctx.Stderr, "shutting down; draining outstanding cycles")
		killed <- runner.Shutdown()
	}()

	if err := runner.Serve(); err != nil {
		return errors.Trace(err)
	}
	select {
	case n := <-killed:
		if n > 0 {
			return utils.NewRcPassthroughError(1)
		}
	default:
	}
	return nil
}
