// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"fmt"

	"github.com/gosuri/uitable"
	"github.com/juju/cmd/v4"
	"github.com/juju/errors"

	"github.com/spawn-sh/spawn/internal/manifest"
)

type agentsCommand struct {
	cmd.CommandBase
}

func newAgentsCommand() cmd.Command {
	return &agentsCommand{}
}

func (c *agentsCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "agents",
		Purpose: "list the available agents",
		Doc:     "Print the agents from the catalog.",
	}
}

func (c *agentsCommand) Init(args []string) error {
	if len(args) != 0 {
		return errors.Errorf("unrecognized args: %v", args)
	}
	return nil
}

func (c *agentsCommand) Run(ctx *cmd.Context) error {
	m, err := loadManifest(context.Background())
	if err != nil {
		return errors.Trace(err)
	}
	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow("KEY", "NAME", "DESCRIPTION")
	for _, key := range m.AgentKeys() {
		def := m.Agents[key]
		table.AddRow(key, def.Name, def.Description)
	}
	fmt.Fprintln(ctx.Stdout, table.String())
	return nil
}

type cloudsCommand struct {
	cmd.CommandBase
}

func newCloudsCommand() cmd.Command {
	return &cloudsCommand{}
}

func (c *cloudsCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "clouds",
		Purpose: "list the available clouds",
		Doc:     "Print the clouds from the catalog with their credential variables.",
	}
}

func (c *cloudsCommand) Init(args []string) error {
	if len(args) != 0 {
		return errors.Errorf("unrecognized args: %v", args)
	}
	return nil
}

func (c *cloudsCommand) Run(ctx *cmd.Context) error {
	m, err := loadManifest(context.Background())
	if err != nil {
		return errors.Trace(err)
	}
	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow("KEY", "NAME", "TYPE", "AUTH")
	for _, key := range m.CloudKeys() {
		def := m.Clouds[key]
		auth := def.Auth
		if len(manifest.ParseAuth(auth)) == 0 {
			auth = "none"
		}
		table.AddRow(key, def.Name, def.Type, auth)
	}
	fmt.Fprintln(ctx.Stdout, table.String())
	return nil
}
