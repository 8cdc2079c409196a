// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"
	"github.com/juju/cmd/v4"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/spawn-sh/spawn/internal/history"
	"github.com/spawn-sh/spawn/internal/spawnhome"
)

const listDoc = `
Show past launches, newest first. Filters narrow by agent or cloud;
--clear wipes the whole history file.
`

type listCommand struct {
	cmd.CommandBase

	agent string
	cloud string
	clear bool
}

func newListCommand() cmd.Command {
	return &listCommand{}
}

func (c *listCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "list",
		Purpose: "show launch history",
		Doc:     listDoc,
	}
}

func (c *listCommand) SetFlags(f *gnuflag.FlagSet) {
	f.StringVar(&c.agent, "agent", "", "only records for this agent")
	f.StringVar(&c.cloud, "cloud", "", "only records for this cloud")
	f.BoolVar(&c.clear, "clear", false, "delete the launch history")
}

func (c *listCommand) Init(args []string) error {
	if len(args) != 0 {
		return errors.Errorf("unrecognized args: %v", args)
	}
	return nil
}

func (c *listCommand) Run(ctx *cmd.Context) error {
	store := history.NewStore(spawnhome.HistoryPath())
	if c.clear {
		if err := store.Clear(); err != nil {
			return errors.Trace(err)
		}
		fmt.Fprintln(ctx.Stderr, "History cleared.")
		return nil
	}
	agent, cloud := c.agent, c.cloud
	if agent != "" || cloud != "" {
		m, err := loadManifest(context.Background())
		if err != nil {
			return errors.Trace(err)
		}
		if agent, cloud, err = resolveFilters(m, agent, cloud); err != nil {
			return errors.Trace(err)
		}
	}
	records, err := store.Filter(agent, cloud)
	if err != nil {
		return errors.Trace(err)
	}
	if len(records) == 0 {
		fmt.Fprintln(ctx.Stderr, "No launches recorded.")
		return nil
	}
	fmt.Fprint(ctx.Stdout, renderRecords(records))
	return nil
}

func renderRecords(records []history.Record) string {
	table := uitable.New()
	table.MaxColWidth = 40
	table.AddRow("", "AGENT", "CLOUD", "NAME", "IP", "AGE", "STATUS")
	for i, rec := range records {
		name, ip, status := "-", "-", "no server"
		if conn := rec.Connection; conn != nil {
			name, ip = conn.ServerName, conn.IP
			if conn.Deleted {
				status = "deleted"
			} else {
				status = "active"
			}
		}
		table.AddRow(fmt.Sprintf("%d", i), rec.Agent, rec.Cloud, name, ip,
			humanize.Time(rec.Timestamp), status)
	}
	return table.String() + "\n"
}
