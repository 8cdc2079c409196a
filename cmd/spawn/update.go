// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"fmt"

	"github.com/juju/cmd/v4"
	"github.com/juju/errors"
)

const installURL = "https://spawn.sh/install.sh"

type updateCommand struct {
	cmd.CommandBase
}

func newUpdateCommand() cmd.Command {
	return &updateCommand{}
}

func (c *updateCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "update",
		Purpose: "show how to update spawn",
		Doc:     "Print the command that reinstalls the latest release.",
	}
}

func (c *updateCommand) Init(args []string) error {
	if len(args) != 0 {
		return errors.Errorf("unrecognized args: %v", args)
	}
	return nil
}

func (c *updateCommand) Run(ctx *cmd.Context) error {
	fmt.Fprintf(ctx.Stdout, "Update spawn with:\n\n    curl -fsSL %s | bash\n", installURL)
	return nil
}
