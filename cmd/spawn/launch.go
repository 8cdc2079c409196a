// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
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
	"github.com/spawn-sh/spawn/internal/manifest"
	"github.com/spawn-sh/spawn/internal/orchestrator"
	"github.com/spawn-sh/spawn/internal/spawnhome"
)

const launchDoc = `
Provision a server on the named cloud, install the named agent on it
and attach an interactive session. With no arguments an interactive
picker narrows the choice; with one argument the picker is restricted
to that agent's implemented clouds.

Examples:

    spawn launch claude hetzner
    spawn launch claude hetzner --name demo-1 --prompt "fix the tests"
    spawn launch codex aws --headless --output json
`

type launchCommand struct {
	cmd.CommandBase

	agent string
	cloud string

	name         string
	prompt       string
	promptFile   string
	dryRun       bool
	custom       bool
	headlessFlag bool
	output       string
	debug        bool
}

func newLaunchCommand() cmd.Command {
	return &launchCommand{}
}

func (c *launchCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "launch",
		Args:    "[<agent> [<cloud>]]",
		Purpose: "provision a server and start an agent on it",
		Doc:     launchDoc,
	}
}

func (c *launchCommand) SetFlags(f *gnuflag.FlagSet) {
	f.StringVar(&c.name, "name", "", "instance name (prompted or generated when empty)")
	f.StringVar(&c.prompt, "prompt", "", "task text handed to the agent")
	f.StringVar(&c.promptFile, "prompt-file", "", "read the task text from a file")
	f.BoolVar(&c.dryRun, "dry-run", false, "show what would happen without creating anything")
	f.BoolVar(&c.custom, "custom", false, "pick the server size and region interactively")
	f.BoolVar(&c.headlessFlag, "headless", false, "non-interactive mode with a structured result on stdout")
	f.StringVar(&c.output, "output", "plain", "headless result format (plain|json)")
	f.BoolVar(&c.debug, "debug", false, "emit extra diagnostics on stderr")
}

func (c *launchCommand) Init(args []string) error {
	switch len(args) {
	case 0:
	case 1:
		c.agent = args[0]
	case 2:
		c.agent, c.cloud = args[0], args[1]
	default:
		return errors.Errorf("unrecognized args: %v", args[2:])
	}
	if c.prompt != "" && c.promptFile != "" {
		return errors.New("--prompt and --prompt-file are mutually exclusive")
	}
	if c.output == "" {
		c.output = "plain"
	}
	if c.output != "plain" && c.output != "json" {
		return errors.Errorf("unknown output format %q", c.output)
	}
	return nil
}

func (c *launchCommand) headless() bool {
	return c.headlessFlag || spawnhome.Headless()
}

func (c *launchCommand) Run(ctx *cmd.Context) error {
	if c.debug {
		os.Setenv(spawnhome.DebugEnvKey, "1")
		setupLogging()
	}
	sctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := c.launch(sctx, ctx)
	if c.dryRun && err == nil {
		return nil
	}
	if c.headless() {
		return c.finishHeadless(ctx, sctx, res, err)
	}
	if err != nil {
		return c.finish(ctx, sctx, err)
	}
	if res != nil && res.ExitCode != 0 {
		return utils.NewRcPassthroughError(res.ExitCode)
	}
	return nil
}

// finish reports an interactive-mode failure, mapping it to the
// documented exit code and adding actionable hints where we have
// them.
func (c *launchCommand) finish(ctx *cmd.Context, sctx context.Context, err error) error {
	if sctx.Err() != nil {
		fmt.Fprintln(ctx.Stderr, "Interrupted. The server may still be running; check your provider dashboard.")
		return utils.NewRcPassthroughError(headless.ExitInterrupted)
	}
	if ni, ok := orchestrator.IsNotImplemented(err); ok {
		fmt.Fprintf(ctx.Stderr, "ERROR %v\n", err)
		if len(ni.Alternatives) > 0 {
			fmt.Fprintln(ctx.Stderr, "Try one of:")
			for _, cloud := range ni.Alternatives {
				fmt.Fprintf(ctx.Stderr, "  spawn %s %s\n", ni.Agent, cloud)
			}
		}
		return utils.NewRcPassthroughError(headless.ExitValidation)
	}
	if _, exit := headless.Classify(err); exit != headless.ExitExecution {
		fmt.Fprintf(ctx.Stderr, "ERROR %v\n", err)
		return utils.NewRcPassthroughError(exit)
	}
	return errors.Trace(err)
}

// finishHeadless emits exactly one envelope on stdout and exits with
// the documented code; all other output has already gone to stderr.
func (c *launchCommand) finishHeadless(ctx *cmd.Context, sctx context.Context, res *orchestrator.Result, err error) error {
	if err == nil {
		env := headless.Success(c.agent, c.cloud, res.Server)
		if werr := env.Write(ctx.Stdout, c.output); werr != nil {
			return errors.Trace(werr)
		}
		if res.ExitCode != 0 {
			return utils.NewRcPassthroughError(res.ExitCode)
		}
		return nil
	}
	code, exit := headless.Classify(err)
	if sctx.Err() != nil {
		exit = headless.ExitInterrupted
	}
	env := headless.Failure(c.agent, c.cloud, code, err.Error())
	if werr := env.Write(ctx.Stdout, c.output); werr != nil {
		return errors.Trace(werr)
	}
	return utils.NewRcPassthroughError(exit)
}

func (c *launchCommand) launch(sctx context.Context, ctx *cmd.Context) (*orchestrator.Result, error) {
	m, err := loadManifest(sctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	store := creds.NewStore(spawnhome.CredentialDir())
	interactor := interact.New(c.headless() || spawnhome.NonInteractive())

	if err := c.settleTargets(m, store, interactor); err != nil {
		return nil, errors.Trace(err)
	}
	prompt, err := c.settlePrompt()
	if err != nil {
		return nil, errors.Trace(err)
	}

	orch := &orchestrator.Orchestrator{
		Manifest:           m,
		Creds:              store,
		History:            history.NewStore(spawnhome.HistoryPath()),
		Interactor:         interactor,
		Clock:              clock.WallClock,
		Stderr:             ctx.Stderr,
		LastConnectionPath: spawnhome.LastConnectionPath(),
	}
	res, err := orch.Launch(sctx, orchestrator.Params{
		AgentKey: c.agent,
		CloudKey: c.cloud,
		Name:     c.name,
		Prompt:   prompt,
		DryRun:   c.dryRun,
		Custom:   c.custom || spawnhome.Custom(),
		Headless: c.headless(),
	})
	return res, errors.Trace(err)
}

// settleTargets resolves the agent and cloud arguments, prompting for
// whichever is missing and correcting swapped arguments.
func (c *launchCommand) settleTargets(m *manifest.Manifest, store *creds.Store, interactor *interact.Interactor) error {
	if c.agent == "" {
		agent, err := pickAgent(m, interactor)
		if err != nil {
			return errors.Trace(err)
		}
		c.agent = agent
	}
	agentKey, aerr := m.ResolveAgent(c.agent)
	if aerr != nil && c.cloud != "" {
		// "spawn hetzner claude" is a swap, not two errors.
		if wk, ok := manifest.IsWrongKind(aerr); ok && wk.Got == manifest.KindCloud {
			if swapped, err := m.ResolveAgent(c.cloud); err == nil {
				agentKey, aerr = swapped, nil
				c.cloud = wk.Key
				fmt.Fprintf(os.Stderr,
					"It looks like you swapped the agent and cloud arguments. Running: `spawn %s %s`\n",
					agentKey, c.cloud)
			}
		}
	}
	if aerr != nil {
		return errors.Trace(aerr)
	}
	c.agent = agentKey

	if c.cloud == "" {
		cloud, err := pickCloud(m, store, interactor, c.agent)
		if err != nil {
			return errors.Trace(err)
		}
		c.cloud = cloud
	}
	cloudKey, err := m.ResolveCloud(c.cloud)
	if err != nil {
		return errors.Trace(err)
	}
	c.cloud = cloudKey
	return nil
}

func (c *launchCommand) settlePrompt() (string, error) {
	prompt := c.prompt
	if c.promptFile != "" {
		data, err := os.ReadFile(c.promptFile)
		if err != nil {
			return "", errors.Annotate(err, "reading prompt file")
		}
		prompt = string(data)
	}
	if prompt == "" {
		prompt = spawnhome.PresetPrompt()
	}
	return history.SanitizePrompt(prompt), nil
}

func pickAgent(m *manifest.Manifest, interactor *interact.Interactor) (string, error) {
	var options []interact.Option
	for _, key := range m.AgentKeys() {
		def := m.Agents[key]
		options = append(options, interact.Option{
			Value: key,
			Label: def.Name,
			Hint:  def.Description,
		})
	}
	return interactor.Pick("Which agent?", options, "")
}

// pickCloud offers the agent's implemented clouds, credentialed
// clouds first.
func pickCloud(m *manifest.Manifest, store *creds.Store, interactor *interact.Interactor, agent string) (string, error) {
	clouds := m.CloudsForAgent(agent)
	if len(clouds) == 0 {
		return "", errors.NotFoundf("implemented cloud for agent %q", agent)
	}
	credentialed := func(key string) bool {
		return len(store.Missing(key, m.Clouds[key].AuthVars())) == 0
	}
	sort.SliceStable(clouds, func(i, j int) bool {
		return credentialed(clouds[i]) && !credentialed(clouds[j])
	})
	var options []interact.Option
	for _, key := range clouds {
		def := m.Clouds[key]
		hint := def.Description
		if credentialed(key) {
			hint = "credentials ready"
		}
		options = append(options, interact.Option{Value: key, Label: def.Name, Hint: hint})
	}
	return interactor.Pick("Which cloud?", options, clouds[0])
}
