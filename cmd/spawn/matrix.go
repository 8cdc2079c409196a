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

type matrixCommand struct {
	cmd.CommandBase
}

func newMatrixCommand() cmd.Command {
	return &matrixCommand{}
}

func (c *matrixCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "matrix",
		Purpose: "show which agent runs on which cloud",
		Doc:     "Print the cloud/agent support matrix from the catalog.",
	}
}

func (c *matrixCommand) Init(args []string) error {
	if len(args) != 0 {
		return errors.Errorf("unrecognized args: %v", args)
	}
	return nil
}

func (c *matrixCommand) Run(ctx *cmd.Context) error {
	m, err := loadManifest(context.Background())
	if err != nil {
		return errors.Trace(err)
	}
	fmt.Fprint(ctx.Stdout, renderMatrix(m))
	return nil
}

func renderMatrix(m *manifest.Manifest) string {
	agents := m.AgentKeys()
	table := uitable.New()
	header := []interface{}{"CLOUD"}
	for _, agent := range agents {
		header = append(header, agent)
	}
	table.AddRow(header...)
	for _, cloud := range m.CloudKeys() {
		row := []interface{}{cloud}
		for _, agent := range agents {
			cell := string(m.Matrix[cloud+"/"+agent])
			if cell == "" {
				cell = "-"
			}
			row = append(row, cell)
		}
		table.AddRow(row...)
	}
	return table.String() + "\n"
}
