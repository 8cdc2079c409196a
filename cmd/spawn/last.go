// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/juju/cmd/v4"
	"github.com/juju/errors"

	"github.com/spawn-sh/spawn/internal/history"
	"github.com/spawn-sh/spawn/internal/spawnhome"
)

type lastCommand struct {
	cmd.CommandBase
}

func newLastCommand() cmd.Command {
	return &lastCommand{}
}

func (c *lastCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "last",
		Purpose: "show the most recent launch",
		Doc:     "Print the newest spawn record and a ready-to-run reconnect command.",
	}
}

func (c *lastCommand) Init(args []string) error {
	if len(args) != 0 {
		return errors.Errorf("unrecognized args: %v", args)
	}
	return nil
}

func (c *lastCommand) Run(ctx *cmd.Context) error {
	store := history.NewStore(spawnhome.HistoryPath())
	rec, err := store.Latest()
	if err != nil {
		return errors.Trace(err)
	}
	fmt.Fprintf(ctx.Stdout, "%s on %s, %s\n", rec.Agent, rec.Cloud, humanize.Time(rec.Timestamp))
	conn := rec.Connection
	if conn == nil {
		fmt.Fprintln(ctx.Stdout, "No server was created.")
		return nil
	}
	fmt.Fprintf(ctx.Stdout, "  name: %s\n", conn.ServerName)
	fmt.Fprintf(ctx.Stdout, "  ip:   %s\n", conn.IP)
	if conn.Deleted {
		fmt.Fprintln(ctx.Stdout, "  status: deleted")
		return nil
	}
	fmt.Fprintln(ctx.Stdout, "\nReconnect with:")
	fmt.Fprintln(ctx.Stdout, "  spawn reconnect")
	return nil
}
