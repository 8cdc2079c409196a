// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"encoding/json"
	"os"
	"strings"
	stdtesting "testing"
	"time"

	"github.com/juju/cmd/v4/cmdtesting"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/spawn-sh/spawn/internal/creds"
	"github.com/spawn-sh/spawn/internal/history"
	"github.com/spawn-sh/spawn/internal/interact"
	"github.com/spawn-sh/spawn/internal/manifest"
	"github.com/spawn-sh/spawn/internal/spawnhome"
)

func Test(t *stdtesting.T) { gc.TestingT(t) }

type cmdSuite struct {
	testing.IsolationSuite

	home string
}

var _ = gc.Suite(&cmdSuite{})

func (s *cmdSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.home = c.MkDir()
	s.PatchEnvironment(spawnhome.HomeEnvKey, s.home)
	s.PatchEnvironment(spawnhome.NonInteractiveEnvKey, "1")
	spawnhome.SetHome(s.home)
	s.AddCleanup(func(*gc.C) { spawnhome.SetHome("") })
}

func cmdManifest() *manifest.Manifest {
	m := &manifest.Manifest{
		Agents: map[string]manifest.AgentDef{
			"claude": {Name: "Claude Code", Tier: manifest.TierHeavy},
		},
		Clouds: map[string]manifest.CloudDef{
			"hetzner": {Name: "Hetzner", Type: "vm", Auth: "HCLOUD_TOKEN"},
			"aws":     {Name: "AWS", Type: "vm", Auth: "AWS_ACCESS_KEY_ID + AWS_SECRET_ACCESS_KEY"},
		},
		Matrix: map[string]manifest.Status{
			"hetzner/claude": manifest.StatusImplemented,
			"aws/claude":     manifest.StatusImplemented,
		},
	}
	if err := m.Validate(); err != nil {
		panic(err)
	}
	return m
}

func (s *cmdSuite) TestLaunchInit(c *gc.C) {
	launch := &launchCommand{}
	c.Assert(launch.Init([]string{"claude", "hetzner"}), jc.ErrorIsNil)
	c.Check(launch.agent, gc.Equals, "claude")
	c.Check(launch.cloud, gc.Equals, "hetzner")

	launch = &launchCommand{}
	c.Check(launch.Init([]string{"a", "b", "c"}), gc.ErrorMatches, `unrecognized args: \[c\]`)

	launch = &launchCommand{prompt: "p", promptFile: "f"}
	c.Check(launch.Init(nil), gc.ErrorMatches, "--prompt and --prompt-file are mutually exclusive")

	launch = &launchCommand{output: "yaml"}
	c.Check(launch.Init(nil), gc.ErrorMatches, `unknown output format "yaml"`)
}

func (s *cmdSuite) TestSettleTargetsSwapCorrection(c *gc.C) {
	launch := &launchCommand{agent: "hetzner", cloud: "claude", output: "plain"}
	store := creds.NewStore(c.MkDir())
	err := launch.settleTargets(cmdManifest(), store, interact.New(true))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(launch.agent, gc.Equals, "claude")
	c.Check(launch.cloud, gc.Equals, "hetzner")
}

func (s *cmdSuite) TestSettleTargetsUnknownAgent(c *gc.C) {
	launch := &launchCommand{agent: "clod", cloud: "hetzner"}
	store := creds.NewStore(c.MkDir())
	err := launch.settleTargets(cmdManifest(), store, interact.New(true))
	c.Assert(err, gc.NotNil)
	c.Check(err, gc.ErrorMatches, ".*unknown agent clod.*")
}

func (s *cmdSuite) TestResolveFilters(c *gc.C) {
	m := cmdManifest()

	agent, cloud, err := resolveFilters(m, "Claude Code", "HeTzNeR")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(agent, gc.Equals, "claude")
	c.Check(cloud, gc.Equals, "hetzner")

	agent, cloud, err = resolveFilters(m, "", "")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(agent, gc.Equals, "")
	c.Check(cloud, gc.Equals, "")

	// A near miss surfaces a suggestion instead of silently matching
	// nothing.
	_, _, err = resolveFilters(m, "claud", "")
	c.Check(err, gc.ErrorMatches, `.*unknown agent claud \(did you mean claude\?\).*`)

	_, _, err = resolveFilters(m, "qwertyui", "")
	c.Check(err, gc.ErrorMatches, ".*unknown agent qwertyui.*")
}

func (s *cmdSuite) TestDeleteForget(c *gc.C) {
	store := history.NewStore(spawnhome.HistoryPath())
	for _, name := range []string{"demo-1", "demo-2"} {
		err := store.Add(history.Record{
			Agent:     "claude",
			Cloud:     "hetzner",
			Timestamp: time.Now(),
			Connection: &history.Connection{
				IP: "203.0.113.9", User: "root",
				ServerID: "77-" + name, ServerName: name, Cloud: "hetzner",
			},
		})
		c.Assert(err, jc.ErrorIsNil)
	}

	del := &deleteCommand{name: "demo-1", yes: true, forget: true}
	ctx := cmdtesting.Context(c)
	err := del.runForget(ctx, store, "", "")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cmdtesting.Stderr(ctx), jc.Contains, "Record forgotten")

	records, err := store.All()
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(records, gc.HasLen, 1)
	c.Check(records[0].Connection.ServerName, gc.Equals, "demo-2")
}

func (s *cmdSuite) TestDeleteForgetNoMatch(c *gc.C) {
	store := history.NewStore(spawnhome.HistoryPath())
	del := &deleteCommand{name: "nope", yes: true, forget: true}
	err := del.runForget(cmdtesting.Context(c), store, "", "")
	c.Assert(err, jc.ErrorIs, errors.NotFound)
}

func (s *cmdSuite) TestReconnectFallsBackToLastConnection(c *gc.C) {
	conn := history.Connection{
		IP: "203.0.113.9", User: "root",
		ServerID: "77", ServerName: "demo-1", Cloud: "hetzner",
	}
	data, err := json.Marshal(conn)
	c.Assert(err, jc.ErrorIsNil)
	err = os.WriteFile(spawnhome.LastConnectionPath(), data, 0600)
	c.Assert(err, jc.ErrorIsNil)

	rc := &reconnectCommand{}
	ctx := cmdtesting.Context(c)
	rec, err := rc.lastConnectionRecord(ctx, "")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(rec.Cloud, gc.Equals, "hetzner")
	c.Check(rec.Connection.ServerName, gc.Equals, "demo-1")
	c.Check(cmdtesting.Stderr(ctx), jc.Contains, "last saved connection")

	// Filters the file cannot satisfy keep the not-found result.
	rc = &reconnectCommand{name: "other"}
	_, err = rc.lastConnectionRecord(cmdtesting.Context(c), "")
	c.Check(err, jc.ErrorIs, errors.NotFound)
	rc = &reconnectCommand{agent: "claude"}
	_, err = rc.lastConnectionRecord(cmdtesting.Context(c), "")
	c.Check(err, jc.ErrorIs, errors.NotFound)
	rc = &reconnectCommand{}
	_, err = rc.lastConnectionRecord(cmdtesting.Context(c), "aws")
	c.Check(err, jc.ErrorIs, errors.NotFound)
}

func (s *cmdSuite) TestReconnectFallbackMissingFile(c *gc.C) {
	rc := &reconnectCommand{}
	_, err := rc.lastConnectionRecord(cmdtesting.Context(c), "")
	c.Check(err, jc.ErrorIs, errors.NotFound)
}

func (s *cmdSuite) TestListEmpty(c *gc.C) {
	ctx, err := cmdtesting.RunCommand(c, newListCommand())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cmdtesting.Stderr(ctx), jc.Contains, "No launches recorded.")
}

func (s *cmdSuite) TestListShowsRecords(c *gc.C) {
	store := history.NewStore(spawnhome.HistoryPath())
	err := store.Add(history.Record{
		Agent:     "claude",
		Cloud:     "hetzner",
		Timestamp: time.Now(),
		Connection: &history.Connection{
			IP: "203.0.113.9", User: "root",
			ServerID: "77", ServerName: "demo-1", Cloud: "hetzner",
		},
	})
	c.Assert(err, jc.ErrorIsNil)

	ctx, err := cmdtesting.RunCommand(c, newListCommand())
	c.Assert(err, jc.ErrorIsNil)
	out := cmdtesting.Stdout(ctx)
	c.Check(out, jc.Contains, "demo-1")
	c.Check(out, jc.Contains, "203.0.113.9")
	c.Check(out, jc.Contains, "active")
}

func (s *cmdSuite) TestListClear(c *gc.C) {
	store := history.NewStore(spawnhome.HistoryPath())
	c.Assert(store.Add(history.Record{Agent: "claude", Cloud: "aws", Timestamp: time.Now()}), jc.ErrorIsNil)

	_, err := cmdtesting.RunCommand(c, newListCommand(), "--clear")
	c.Assert(err, jc.ErrorIsNil)
	records, err := store.All()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(records, gc.HasLen, 0)
}

func (s *cmdSuite) TestRenderMatrix(c *gc.C) {
	out := renderMatrix(cmdManifest())
	c.Check(out, jc.Contains, "CLOUD")
	c.Check(out, jc.Contains, "claude")
	c.Check(out, jc.Contains, "hetzner")
	c.Check(out, jc.Contains, "implemented")
}

func (s *cmdSuite) TestPickDefaultNonInteractive(c *gc.C) {
	pick := newPickCommand()
	ctx := cmdtesting.Context(c)
	ctx.Stdin = strings.NewReader("small\tSmall box\tcheap\nbig\tBig box\tfast\n")
	err := cmdtesting.InitCommand(pick, []string{"--prompt", "Size?", "--default", "big"})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(pick.Run(ctx), jc.ErrorIsNil)
	c.Check(cmdtesting.Stdout(ctx), gc.Equals, "big\n")
}

func (s *cmdSuite) TestPickNoOptions(c *gc.C) {
	pick := newPickCommand()
	ctx := cmdtesting.Context(c)
	ctx.Stdin = strings.NewReader("")
	c.Assert(cmdtesting.InitCommand(pick, nil), jc.ErrorIsNil)
	c.Check(pick.Run(ctx), gc.ErrorMatches, "no options on stdin")
}

func (s *cmdSuite) TestVersion(c *gc.C) {
	ctx, err := cmdtesting.RunCommand(c, newVersionCommand())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cmdtesting.Stdout(ctx), gc.Equals, Version+"\n")
}

func (s *cmdSuite) TestUpdateHint(c *gc.C) {
	ctx, err := cmdtesting.RunCommand(c, newUpdateCommand())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cmdtesting.Stdout(ctx), jc.Contains, "curl -fsSL https://spawn.sh/install.sh | bash")
}

func (s *cmdSuite) TestTriggerInit(c *gc.C) {
	trig := newTriggerCommand()
	c.Check(trig.Init([]string{"serve"}), gc.ErrorMatches, "usage: spawn trigger serve <script>")
	c.Check(trig.Init([]string{"serve", "/tmp/cycle.sh"}), jc.ErrorIsNil)
}

func (s *cmdSuite) TestLastNoHistory(c *gc.C) {
	_, err := cmdtesting.RunCommand(c, newLastCommand())
	c.Check(err, gc.ErrorMatches, ".*spawn history not found.*")
}
