// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package history_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	stdtesting "testing"
	"time"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/spawn-sh/spawn/internal/history"
)

func Test(t *stdtesting.T) { gc.TestingT(t) }

type historySuite struct {
	testing.IsolationSuite

	store *history.Store
}

var _ = gc.Suite(&historySuite{})

func (s *historySuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.store = history.NewStore(filepath.Join(c.MkDir(), "history.json"))
}

func record(name string) history.Record {
	return history.Record{
		Agent:     "claude",
		Cloud:     "hetzner",
		Timestamp: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Name:      name,
		Connection: &history.Connection{
			IP:         "192.0.2.10",
			User:       "root",
			ServerID:   "12345",
			ServerName: name,
			Cloud:      "hetzner",
			LaunchCmd:  "claude",
		},
	}
}

func (s *historySuite) TestAddRoundTrip(c *gc.C) {
	rec := record("demo-1")
	rec.Prompt = "fix the tests"
	c.Assert(s.store.Add(rec), jc.ErrorIsNil)

	records, err := s.store.All()
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(records, gc.HasLen, 1)
	c.Check(records[0], gc.DeepEquals, rec)
}

func (s *historySuite) TestNewestFirst(c *gc.C) {
	first := record("demo-1")
	second := record("demo-2")
	second.Timestamp = first.Timestamp.Add(time.Hour)
	c.Assert(s.store.Add(first), jc.ErrorIsNil)
	c.Assert(s.store.Add(second), jc.ErrorIsNil)

	records, err := s.store.All()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(records[0].Name, gc.Equals, "demo-2")
	c.Check(records[1].Name, gc.Equals, "demo-1")
}

func (s *historySuite) TestFileMode(c *gc.C) {
	c.Assert(s.store.Add(record("demo-1")), jc.ErrorIsNil)
	info, err := os.Stat(s.store.Path)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info.Mode().Perm(), gc.Equals, os.FileMode(0600))
}

func (s *historySuite) TestPromptSanitised(c *gc.C) {
	rec := record("demo-1")
	rec.Prompt = "line1\nline2\ttabbed\x07bell\x1b[31mred"
	c.Assert(s.store.Add(rec), jc.ErrorIsNil)

	records, err := s.store.All()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(records[0].Prompt, gc.Equals, "line1\nline2\ttabbedbell[31mred")
}

func (s *historySuite) TestAddRefusesInvalid(c *gc.C) {
	rec := record("demo-1")
	rec.Connection.User = "Root"
	err := s.store.Add(rec)
	_, ok := history.IsTamper(err)
	c.Assert(ok, jc.IsTrue)

	_, statErr := os.Stat(s.store.Path)
	c.Check(os.IsNotExist(statErr), jc.IsTrue)
}

func (s *historySuite) TestTamperedFileRefused(c *gc.C) {
	c.Assert(s.store.Add(record("demo-1")), jc.ErrorIsNil)

	data, err := os.ReadFile(s.store.Path)
	c.Assert(err, jc.ErrorIsNil)
	var records []history.Record
	c.Assert(json.Unmarshal(data, &records), jc.ErrorIsNil)
	records[0].Connection.ServerID = "123; rm -rf /"
	data, err = json.Marshal(records)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(os.WriteFile(s.store.Path, data, 0600), jc.ErrorIsNil)

	_, err = s.store.All()
	tamper, ok := history.IsTamper(err)
	c.Assert(ok, jc.IsTrue)
	c.Check(tamper.Field, gc.Equals, "connection.server_id")
	c.Check(err, gc.ErrorMatches, ".*corrupted or tampered.*")
}

func (s *historySuite) TestFilter(c *gc.C) {
	other := record("demo-2")
	other.Agent = "codex"
	c.Assert(s.store.Add(record("demo-1")), jc.ErrorIsNil)
	c.Assert(s.store.Add(other), jc.ErrorIsNil)

	records, err := s.store.Filter("codex", "")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(records, gc.HasLen, 1)
	c.Check(records[0].Name, gc.Equals, "demo-2")

	records, err = s.store.Filter("", "hetzner")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(records, gc.HasLen, 2)
}

func (s *historySuite) TestActiveServersExcludesDeleted(c *gc.C) {
	rec := record("demo-1")
	c.Assert(s.store.Add(rec), jc.ErrorIsNil)
	gone := record("demo-2")
	gone.Connection.ServerID = "99999"
	gone.Connection.Deleted = true
	c.Assert(s.store.Add(gone), jc.ErrorIsNil)
	bare := history.Record{Agent: "claude", Cloud: "hetzner", Timestamp: time.Now()}
	c.Assert(s.store.Add(bare), jc.ErrorIsNil)

	active, err := s.store.ActiveServers()
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(active, gc.HasLen, 1)
	c.Check(active[0].Name, gc.Equals, "demo-1")
}

func (s *historySuite) TestMarkDeleted(c *gc.C) {
	c.Assert(s.store.Add(record("demo-1")), jc.ErrorIsNil)
	c.Assert(s.store.MarkDeleted("12345"), jc.ErrorIsNil)

	records, err := s.store.All()
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(records, gc.HasLen, 1)
	c.Check(records[0].Connection.Deleted, jc.IsTrue)

	err = s.store.MarkDeleted("12345")
	c.Assert(err, jc.ErrorIs, errors.NotFound)
}

func (s *historySuite) TestFindActive(c *gc.C) {
	c.Assert(s.store.Add(record("demo-1")), jc.ErrorIsNil)

	found, err := s.store.FindActive("demo-1", "claude", "hetzner")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(found, gc.NotNil)

	found, err = s.store.FindActive("demo-1", "codex", "hetzner")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(found, gc.IsNil)
}

func (s *historySuite) TestRemoveAndClear(c *gc.C) {
	c.Assert(s.store.Add(record("demo-1")), jc.ErrorIsNil)
	c.Assert(s.store.Add(record("demo-2")), jc.ErrorIsNil)

	c.Assert(s.store.Remove(0), jc.ErrorIsNil)
	records, err := s.store.All()
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(records, gc.HasLen, 1)
	c.Check(records[0].Name, gc.Equals, "demo-1")

	c.Assert(s.store.Remove(5), jc.ErrorIs, errors.NotFound)

	c.Assert(s.store.Clear(), jc.ErrorIsNil)
	records, err = s.store.All()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(records, gc.HasLen, 0)
	c.Assert(s.store.Clear(), jc.ErrorIsNil)
}

func (s *historySuite) TestLatest(c *gc.C) {
	_, err := s.store.Latest()
	c.Assert(err, jc.ErrorIs, errors.NotFound)

	c.Assert(s.store.Add(record("demo-1")), jc.ErrorIsNil)
	latest, err := s.store.Latest()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(latest.Name, gc.Equals, "demo-1")
}
