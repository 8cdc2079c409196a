// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package manifest_test

import (
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/spawn-sh/spawn/internal/manifest"
)

type resolveSuite struct {
	m *manifest.Manifest
}

var _ = gc.Suite(&resolveSuite{})

func (s *resolveSuite) SetUpTest(c *gc.C) {
	m, err := manifest.Fallback()
	c.Assert(err, jc.ErrorIsNil)
	s.m = m
}

func (s *resolveSuite) TestExactKey(c *gc.C) {
	key, err := s.m.ResolveAgent("claude")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(key, gc.Equals, "claude")
}

func (s *resolveSuite) TestCaseInsensitiveKey(c *gc.C) {
	key, err := s.m.ResolveCloud("HeTzNeR")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(key, gc.Equals, "hetzner")
}

func (s *resolveSuite) TestDisplayName(c *gc.C) {
	key, err := s.m.ResolveAgent("claude code")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(key, gc.Equals, "claude")

	key, err = s.m.ResolveCloud("Amazon EC2")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(key, gc.Equals, "aws")
}

func (s *resolveSuite) TestFuzzySuggestion(c *gc.C) {
	_, err := s.m.ResolveAgent("Clod")
	nf, ok := err.(*manifest.NotFoundError)
	c.Assert(ok, jc.IsTrue)
	c.Check(nf.Suggestion, gc.Equals, "claude")
}

func (s *resolveSuite) TestNoSuggestionBeyondDistance(c *gc.C) {
	_, err := s.m.ResolveAgent("qwertyui")
	nf, ok := err.(*manifest.NotFoundError)
	c.Assert(ok, jc.IsTrue)
	c.Check(nf.Suggestion, gc.Equals, "")
}

func (s *resolveSuite) TestSwappedArguments(c *gc.C) {
	_, err := s.m.ResolveAgent("hetzner")
	wk, ok := manifest.IsWrongKind(err)
	c.Assert(ok, jc.IsTrue)
	c.Check(wk.Got, gc.Equals, manifest.KindCloud)
	c.Check(wk.Key, gc.Equals, "hetzner")

	_, err = s.m.ResolveCloud("claude")
	wk, ok = manifest.IsWrongKind(err)
	c.Assert(ok, jc.IsTrue)
	c.Check(wk.Got, gc.Equals, manifest.KindAgent)
	c.Check(wk.Key, gc.Equals, "claude")
}

func (s *resolveSuite) TestFuzzyWrongKind(c *gc.C) {
	// A near-miss on a cloud name while resolving an agent points at
	// the swap rather than suggesting a bogus agent.
	_, err := s.m.ResolveAgent("hetznr")
	wk, ok := manifest.IsWrongKind(err)
	c.Assert(ok, jc.IsTrue)
	c.Check(wk.Key, gc.Equals, "hetzner")
}
