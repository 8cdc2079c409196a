// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package orchestrator runs the launch pipeline: resolve, preflight,
// provision, install, inject, hand off. Steps run in strict order and
// no step that may have allocated a cloud resource is ever retried.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/utils/v4"
	"github.com/kballard/go-shellquote"

	"github.com/spawn-sh/spawn/internal/agents"
	"github.com/spawn-sh/spawn/internal/creds"
	"github.com/spawn-sh/spawn/internal/driver"
	"github.com/spawn-sh/spawn/internal/history"
	"github.com/spawn-sh/spawn/internal/interact"
	"github.com/spawn-sh/spawn/internal/manifest"
	"github.com/spawn-sh/spawn/internal/spawnhome"
)

var logger = loggo.GetLogger("spawn.orchestrator")

const installStepTimeout = 10 * time.Minute

// Params are the settled inputs of one launch.
type Params struct {
	// AgentKey and CloudKey are resolved manifest keys.
	AgentKey string
	CloudKey string

	// Name is the requested instance name; empty means prompt or
	// generate.
	Name string

	// Prompt is optional task text appended to the launch command.
	Prompt string

	// Model overrides the agent's default model choice.
	Model string

	DryRun   bool
	Custom   bool
	Headless bool
}

// Result is what a completed pipeline hands back to the CLI.
type Result struct {
	Server    *driver.Server
	LaunchCmd string

	// ExitCode is the interactive child's exit status.
	ExitCode int
}

// Orchestrator wires the launch pipeline's collaborators together.
type Orchestrator struct {
	Manifest   *manifest.Manifest
	Creds      *creds.Store
	History    *history.Store
	Interactor *interact.Interactor
	Clock      clock.Clock
	Stderr     io.Writer

	// LastConnectionPath is where the most recent connection details
	// are dropped for the headless bridge and reconnect.
	LastConnectionPath string

	// NewDriver defaults to driver.New.
	NewDriver func(driver.Config) (driver.Driver, error)
}

func (o *Orchestrator) newDriver(cfg driver.Config) (driver.Driver, error) {
	if o.NewDriver != nil {
		return o.NewDriver(cfg)
	}
	return driver.New(cfg)
}

func (o *Orchestrator) stderr() io.Writer {
	if o.Stderr != nil {
		return o.Stderr
	}
	return os.Stderr
}

// alternatives lists up to three implemented clouds for the agent,
// credentialed clouds first.
func (o *Orchestrator) alternatives(agentKey string) []string {
	clouds := o.Manifest.CloudsForAgent(agentKey)
	var ready, rest []string
	for _, key := range clouds {
		def := o.Manifest.Clouds[key]
		if len(o.Creds.Missing(key, def.AuthVars())) == 0 {
			ready = append(ready, key)
		} else {
			rest = append(rest, key)
		}
	}
	out := append(ready, rest...)
	if len(out) > 3 {
		out = out[:3]
	}
	return out
}

// Preflight checks the (agent, cloud) pair is launchable and that
// every required credential is present: the cloud's auth list plus
// the OpenRouter key. In interactive mode the user may choose to
// proceed anyway; otherwise missing credentials are fatal.
func (o *Orchestrator) Preflight(agentKey, cloudKey string) error {
	if !o.Manifest.Implemented(cloudKey, agentKey) {
		return &NotImplementedError{
			Agent:        agentKey,
			Cloud:        cloudKey,
			Alternatives: o.alternatives(agentKey),
		}
	}
	def, ok := o.Manifest.Clouds[cloudKey]
	if !ok {
		return errors.NotFoundf("cloud %q", cloudKey)
	}
	missing := o.Creds.Missing(cloudKey, def.AuthVars())
	if spawnhome.OpenRouterKey() == "" {
		missing = append(missing, spawnhome.OpenRouterKeyEnvKey)
	}
	if len(missing) == 0 {
		return nil
	}
	credErr := &MissingCredsError{Cloud: cloudKey, Vars: missing}
	if o.Interactor.NonInteractive {
		return credErr
	}
	ok, err := o.Interactor.Confirm(fmt.Sprintf("%s. Proceed anyway?", credErr.Error()), false)
	if err != nil || !ok {
		return credErr
	}
	return nil
}

// settleName resolves the instance name from params, the environment,
// a prompt, or generation, and applies the duplicate-name guard.
func (o *Orchestrator) settleName(p *Params) (string, error) {
	name := p.Name
	if name == "" {
		name = spawnhome.PresetName()
	}
	if name == "" && !o.Interactor.NonInteractive {
		suggestion := GenerateName(p.AgentKey)
		answer, err := o.Interactor.ReadLine(fmt.Sprintf("Instance name [%s]: ", suggestion))
		if err == nil && answer != "" {
			name = answer
		} else {
			name = suggestion
		}
	}
	if name == "" {
		name = GenerateName(p.AgentKey)
	}
	normalized, err := NormalizeName(name)
	if err != nil {
		return "", errors.Trace(err)
	}
	existing, err := o.History.FindActive(normalized, p.AgentKey, p.CloudKey)
	if err != nil {
		return "", errors.Trace(err)
	}
	if existing != nil {
		return "", &DuplicateNameError{Name: normalized, Agent: p.AgentKey, Cloud: p.CloudKey}
	}
	return normalized, nil
}

// settleModel settles the model choice before any resource exists.
func (o *Orchestrator) settleModel(agent *agents.Agent, requested string) (string, error) {
	if len(agent.Models) == 0 {
		return "", nil
	}
	if requested != "" {
		if !agent.ValidModel(requested) {
			return "", errors.NotValidf("model %q for %s", requested, agent.Key)
		}
		return requested, nil
	}
	if o.Interactor.NonInteractive {
		return agent.DefaultModel(), nil
	}
	options := make([]interact.Option, len(agent.Models))
	for i, m := range agent.Models {
		options[i] = interact.Option{Value: m}
	}
	model, err := o.Interactor.Pick("Model", options, agent.DefaultModel())
	if err != nil {
		return agent.DefaultModel(), nil
	}
	return model, nil
}

func (o *Orchestrator) saveLastConnection(conn *history.Connection) {
	if o.LastConnectionPath == "" {
		return
	}
	data, err := json.MarshalIndent(conn, "", "  ")
	if err != nil {
		return
	}
	if err := utils.AtomicWriteFile(o.LastConnectionPath, data, 0600); err != nil {
		logger.Warningf("could not write %s: %v", o.LastConnectionPath, err)
	}
}

// Launch runs the pipeline end to end and blocks in the interactive
// session until the agent exits.
func (o *Orchestrator) Launch(ctx context.Context, p Params) (*Result, error) {
	agent, err := agents.Get(p.AgentKey)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := o.Preflight(p.AgentKey, p.CloudKey); err != nil {
		return nil, errors.Trace(err)
	}
	if p.DryRun {
		return &Result{}, errors.Trace(o.dryRun(p, agent))
	}

	model, err := o.settleModel(agent, p.Model)
	if err != nil {
		return nil, errors.Trace(err)
	}
	name, err := o.settleName(&p)
	if err != nil {
		return nil, errors.Trace(err)
	}

	d, err := o.newDriver(driver.Config{
		CloudDef:   o.Manifest.Clouds[p.CloudKey],
		Creds:      o.Creds,
		Clock:      o.Clock,
		Interactor: o.Interactor,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := d.Authenticate(ctx); err != nil {
		return nil, errors.Trace(err)
	}

	spec := &driver.LaunchSpec{
		Name:     name,
		Tier:     agent.Tier,
		UserData: cloudUserData(agent.Tier),
		Custom:   p.Custom || spawnhome.Custom(),
	}
	if err := d.PromptSize(ctx, spec); err != nil {
		// Selection trouble is non-fatal; the provider default holds.
		logger.Warningf("size selection failed, using defaults: %v", err)
	}

	fmt.Fprintf(o.stderr(), "Creating %s server %q on %s...\n", agent.Key, name, p.CloudKey)
	srv, err := d.CreateServer(ctx, spec)
	if err != nil {
		return nil, errors.Trace(err)
	}

	// Persist before anything else can fail so a crash never strands
	// the instance invisibly.
	conn := &history.Connection{
		IP:         srv.IP,
		User:       srv.User,
		ServerID:   srv.ID,
		ServerName: srv.Name,
		Cloud:      srv.Cloud,
		Metadata:   srv.Metadata,
	}
	if err := o.History.Add(history.Record{
		Agent:      p.AgentKey,
		Cloud:      p.CloudKey,
		Name:       name,
		Prompt:     p.Prompt,
		Connection: conn,
	}); err != nil {
		return nil, errors.Annotate(err, "recording launch")
	}
	o.saveLastConnection(conn)

	fmt.Fprintf(o.stderr(), "Waiting for %s to become ready...\n", srv.IP)
	if err := d.WaitReady(ctx, srv); err != nil {
		return nil, errors.Trace(err)
	}

	for _, step := range agent.InstallSteps {
		logger.Debugf("install: %s", step)
		if err := d.Run(ctx, srv, step, installStepTimeout); err != nil {
			return nil, &InstallError{Step: step, Err: err}
		}
	}

	env := agent.Env(spawnhome.OpenRouterKey(), model)
	if err := injectEnv(ctx, d, srv, env); err != nil {
		return nil, errors.Trace(err)
	}
	if agent.ConfigureCmds != nil {
		for _, cmd := range agent.ConfigureCmds(model) {
			if err := d.Run(ctx, srv, cmd, 0); err != nil {
				return nil, errors.Annotate(err, "configuring agent")
			}
		}
	}
	if agent.PreLaunchCmd != "" {
		cmd := fmt.Sprintf("nohup %s >/tmp/spawn-prelaunch.log 2>&1 &", agent.PreLaunchCmd)
		if err := d.Run(ctx, srv, cmd, 0); err != nil {
			return nil, errors.Annotate(err, "starting pre-launch process")
		}
	}

	launchCmd := agent.LaunchCmd(model)
	if p.Prompt != "" {
		launchCmd = launchCmd + " " + shellquote.Join(p.Prompt)
	}
	if history.ValidLaunchCmd(launchCmd) {
		if err := o.History.SetLaunchCmd(srv.ID, launchCmd); err != nil {
			logger.Warningf("could not record launch command: %v", err)
		}
		conn.LaunchCmd = launchCmd
		o.saveLastConnection(conn)
	}

	if p.Headless {
		return &Result{Server: srv, LaunchCmd: launchCmd}, nil
	}
	// The shell must source ~/.spawnrc before the agent starts, so
	// the session goes through a login shell.
	session := fmt.Sprintf("bash -lc %s", shellquote.Join(launchCmd))
	code, err := d.Interactive(ctx, srv, session)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Result{Server: srv, LaunchCmd: launchCmd, ExitCode: code}, nil
}

// Destroy tears an instance down and marks its record deleted. A
// provider that no longer knows the id counts as success.
func (o *Orchestrator) Destroy(ctx context.Context, rec *history.Record) error {
	if rec.Connection == nil {
		return errors.NotValidf("record without connection")
	}
	d, err := o.newDriver(driver.Config{
		CloudDef:   o.Manifest.Clouds[rec.Cloud],
		Creds:      o.Creds,
		Clock:      o.Clock,
		Interactor: o.Interactor,
	})
	if err != nil {
		return errors.Trace(err)
	}
	if err := d.Authenticate(ctx); err != nil {
		return errors.Trace(err)
	}
	if err := d.Destroy(ctx, rec.Connection.ServerID); err != nil {
		if !driver.IsGone(err) {
			return errors.Annotatef(err,
				"destroying %s (you may need to remove it manually in the %s dashboard)",
				rec.Connection.ServerID, rec.Cloud)
		}
	}
	return errors.Trace(o.History.MarkDeleted(rec.Connection.ServerID))
}
