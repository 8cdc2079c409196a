// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/juju/clock"
	"github.com/juju/cmd/v4"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/spawn-sh/spawn/internal/creds"
	"github.com/spawn-sh/spawn/internal/history"
	"github.com/spawn-sh/spawn/internal/interact"
	"github.com/spawn-sh/spawn/internal/manifest"
	"github.com/spawn-sh/spawn/internal/orchestrator"
	"github.com/spawn-sh/spawn/internal/spawnhome"
)

const deleteDoc = `
Destroy a spawned server and mark its record deleted. With no flags
the newest active record is targeted; --name, --agent and --cloud
narrow the choice. A server the provider no longer knows about still
counts as deleted.

--forget drops the matching history record without touching the
server, for servers destroyed out of band.
`

type deleteCommand struct {
	cmd.CommandBase

	name   string
	agent  string
	cloud  string
	yes    bool
	forget bool
}

func newDeleteCommand() cmd.Command {
	return &deleteCommand{}
}

func (c *deleteCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "delete",
		Purpose: "destroy a spawned server",
		Doc:     deleteDoc,
	}
}

func (c *deleteCommand) SetFlags(f *gnuflag.FlagSet) {
	f.StringVar(&c.name, "name", "", "server name to delete")
	f.StringVar(&c.agent, "agent", "", "only consider this agent's servers")
	f.StringVar(&c.cloud, "cloud", "", "only consider this cloud's servers")
	f.BoolVar(&c.yes, "yes", false, "skip the confirmation prompt")
	f.BoolVar(&c.forget, "forget", false, "drop the history record without destroying the server")
}

func (c *deleteCommand) Init(args []string) error {
	if len(args) != 0 {
		return errors.Errorf("unrecognized args: %v", args)
	}
	return nil
}

func (c *deleteCommand) Run(ctx *cmd.Context) error {
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
	if c.forget {
		return errors.Trace(c.runForget(ctx, store, agent, cloud))
	}
	rec, err := findTarget(store, c.name, agent, cloud)
	if err != nil {
		return errors.Trace(err)
	}

	interactor := interact.New(spawnhome.NonInteractive())
	if !c.yes {
		ok, err := interactor.Confirm(fmt.Sprintf("Destroy %s (%s on %s)?",
			rec.Connection.ServerName, rec.Agent, rec.Cloud), false)
		if err != nil {
			return errors.Trace(err)
		}
		if !ok {
			return nil
		}
	}

	orch := &orchestrator.Orchestrator{
		Manifest:   m,
		Creds:      creds.NewStore(spawnhome.CredentialDir()),
		History:    store,
		Interactor: interactor,
		Clock:      clock.WallClock,
		Stderr:     ctx.Stderr,
	}
	if err := orch.Destroy(sctx, rec); err != nil {
		return errors.Trace(err)
	}
	fmt.Fprintf(ctx.Stderr, "Deleted %s.\n", rec.Connection.ServerName)
	return nil
}

// runForget drops the newest matching record from the registry,
// deleted or not, leaving any server alone.
func (c *deleteCommand) runForget(ctx *cmd.Context, store *history.Store, agent, cloud string) error {
	records, err := store.All()
	if err != nil {
		return errors.Trace(err)
	}
	for i, rec := range records {
		if c.name != "" && (rec.Connection == nil || rec.Connection.ServerName != c.name) {
			continue
		}
		if agent != "" && rec.Agent != agent {
			continue
		}
		if cloud != "" && rec.Cloud != cloud {
			continue
		}
		if !c.yes {
			interactor := interact.New(spawnhome.NonInteractive())
			ok, err := interactor.Confirm(fmt.Sprintf("Forget the %s/%s record from %s?",
				rec.Agent, rec.Cloud, rec.Timestamp.Format("2006-01-02")), false)
			if err != nil {
				return errors.Trace(err)
			}
			if !ok {
				return nil
			}
		}
		if err := store.Remove(i); err != nil {
			return errors.Trace(err)
		}
		fmt.Fprintln(ctx.Stderr, "Record forgotten; no server was touched.")
		return nil
	}
	return errors.NotFoundf("history record")
}

// resolveFilters runs non-empty --agent/--cloud filter values through
// the same fuzzy matching as launch arguments, so "claud" narrows to
// claude instead of silently matching nothing.
func resolveFilters(m *manifest.Manifest, agent, cloud string) (string, string, error) {
	if agent != "" {
		key, err := m.ResolveAgent(agent)
		if err != nil {
			return "", "", errors.Trace(err)
		}
		agent = key
	}
	if cloud != "" {
		key, err := m.ResolveCloud(cloud)
		if err != nil {
			return "", "", errors.Trace(err)
		}
		cloud = key
	}
	return agent, cloud, nil
}

// findTarget returns the newest active record matching the given
// filters; empty filters match everything.
func findTarget(store *history.Store, name, agent, cloud string) (*history.Record, error) {
	records, err := store.ActiveServers()
	if err != nil {
		return nil, errors.Trace(err)
	}
	for i, rec := range records {
		if name != "" && rec.Connection.ServerName != name {
			continue
		}
		if agent != "" && rec.Agent != agent {
			continue
		}
		if cloud != "" && rec.Cloud != cloud {
			continue
		}
		return &records[i], nil
	}
	return nil, errors.NotFoundf("active server")
}
