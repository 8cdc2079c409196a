// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"fmt"

	"github.com/juju/cmd/v4"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/spawn-sh/spawn/internal/interact"
	"github.com/spawn-sh/spawn/internal/spawnhome"
)

const pickDoc = `
Read tab-separated "value<TAB>label<TAB>hint" lines on stdin, let the
user choose one and write the chosen value on stdout. All chrome goes
to stderr so the output can be captured by shell scripts; --default
wins when no interactive choice is possible.
`

type pickCommand struct {
	cmd.CommandBase

	prompt string
	def    string
}

func newPickCommand() cmd.Command {
	return &pickCommand{}
}

func (c *pickCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "pick",
		Purpose: "choose one value from stdin options",
		Doc:     pickDoc,
	}
}

func (c *pickCommand) SetFlags(f *gnuflag.FlagSet) {
	f.StringVar(&c.prompt, "prompt", "Pick one", "question shown above the options")
	f.StringVar(&c.def, "default", "", "value used when prompting is not possible")
}

func (c *pickCommand) Init(args []string) error {
	if len(args) != 0 {
		return errors.Errorf("unrecognized args: %v", args)
	}
	return nil
}

func (c *pickCommand) Run(ctx *cmd.Context) error {
	options, err := interact.ParseTSV(ctx.Stdin)
	if err != nil {
		return errors.Trace(err)
	}
	if len(options) == 0 {
		return errors.New("no options on stdin")
	}
	interactor := interact.New(spawnhome.NonInteractive())
	value, err := interactor.Pick(c.prompt, options, c.def)
	if err != nil {
		return errors.Trace(err)
	}
	fmt.Fprintln(ctx.Stdout, value)
	return nil
}
