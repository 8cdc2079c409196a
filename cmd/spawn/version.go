// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"fmt"

	"github.com/juju/cmd/v4"
	"github.com/juju/errors"
)

// Version is the release string, overridden at build time with
// -ldflags "-X main.Version=...".
var Version = "0.9.0"

type versionCommand struct {
	cmd.CommandBase
}

func newVersionCommand() cmd.Command {
	return &versionCommand{}
}

func (c *versionCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "version",
		Purpose: "print the spawn version",
	}
}

func (c *versionCommand) Init(args []string) error {
	if len(args) != 0 {
		return errors.Errorf("unrecognized args: %v", args)
	}
	return nil
}

func (c *versionCommand) Run(ctx *cmd.Context) error {
	fmt.Fprintln(ctx.Stdout, Version)
	return nil
}
