// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/clock"
	"github.com/juju/cmd/v4"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/utils/v4"

	"github.com/spawn-sh/spawn/internal/creds"
	"github.com/spawn-sh/spawn/internal/headless"
	"github.com/spawn-sh/spawn/internal/history"
	"github.com/spawn-sh/spawn/internal/interact"
	"github.com/spawn-sh/spawn/internal/reconnect"
	"github.com/spawn-sh/spawn/internal/spawnhome"
)

const reconnectDoc = `
Reopen an interactive session on a spawned server. With no arguments
the newest active record is used; a name argument or the filter flags
pick a specific one. SSH, provider consoles and recorded tunnel
commands are all supported, and every persisted identifier is
re-validated before it reaches a command line.
`

type reconnectCommand struct {
	cmd.CommandBase

	name  string
	agent string
	cloud string
}

func newReconnectCommand() cmd.Command {
	return &reconnectCommand{}
}

func (c *reconnectCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "reconnect",
		Args:    "[<name>]",
		Purpose: "reattach to a spawned server",
		Doc:     reconnectDoc,
	}
}

func (c *reconnectCommand) SetFlags(f *gnuflag.FlagSet) {
	f.StringVar(&c.agent, "agent", "", "only consider this agent's servers")
	f.StringVar(&c.cloud, "cloud", "", "only consider this cloud's servers")
}

func (c *reconnectCommand) Init(args []string) error {
	switch len(args) {
	case 0:
	case 1:
		c.name = args[0]
	default:
		return errors.Errorf("unrecognized args: %v", args[1:])
	}
	return nil
}

func (c *reconnectCommand) Run(ctx *cmd.Context) error {
	sctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m, err := loadManifest(sctx)
	if err != nil {
		return errors.Trace(err)
	}
	agent, cloud, err := resolveFilters(m, c.agent, c.cloud)
	if err != nil {
		return errors.Trace(err)
	}
	store := history.NewStore(spawnhome.HistoryPath())
	rec, err := findTarget(store, c.name, agent, cloud)
	if errors.Is(err, errors.NotFound) {
		if rec, err = c.lastConnectionRecord(ctx, cloud); err != nil {
			return errors.Trace(err)
		}
	} else if err != nil {
		return errors.Trace(err)
	}
	session := &reconnect.Session{
		Manifest:   m,
		Creds:      creds.NewStore(spawnhome.CredentialDir()),
		History:    store,
		Interactor: interact.New(spawnhome.NonInteractive()),
		Clock:      clock.WallClock,
	}
	code, err := session.Reattach(sctx, rec)
	if err != nil {
		return errors.Trace(err)
	}
	if code != 0 {
		return utils.NewRcPassthroughError(code)
	}
	return nil
}

// lastConnectionRecord falls back to the connection details the last
// launch persisted, covering registries wiped by 'spawn list --clear'.
// The file does not record the agent, so an --agent filter cannot be
// honored and keeps the not-found result.
func (c *reconnectCommand) lastConnectionRecord(ctx *cmd.Context, cloud string) (*history.Record, error) {
	if c.agent != "" {
		return nil, errors.NotFoundf("active server")
	}
	conn, err := headless.ReadLastConnection(spawnhome.LastConnectionPath())
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return nil, errors.NotFoundf("active server")
		}
		return nil, errors.Trace(err)
	}
	if conn.Deleted {
		return nil, errors.NotFoundf("active server")
	}
	if c.name != "" && conn.ServerName != c.name {
		return nil, errors.NotFoundf("active server %q", c.name)
	}
	if cloud != "" && conn.Cloud != cloud {
		return nil, errors.NotFoundf("active server")
	}
	fmt.Fprintln(ctx.Stderr, "No matching history record; using the last saved connection.")
	return &history.Record{Cloud: conn.Cloud, Connection: conn}, nil
}
