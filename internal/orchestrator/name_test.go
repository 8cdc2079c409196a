// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package orchestrator_test

import (
	"strings"

	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/spawn-sh/spawn/internal/orchestrator"
)

type nameSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&nameSuite{})

func (s *nameSuite) TestNormalizeName(c *gc.C) {
	for _, t := range []struct {
		in   string
		want string
	}{
		{"demo-1", "demo-1"},
		{"A-Z", "a-z"},
		{"My Cool Box", "my-cool-box"},
		{"under_score", "under-score"},
		{"trailing-", "trailing"},
		{"  padded  ", "padded"},
		{"we!rd ch@rs", "werd-chrs"},
	} {
		got, err := orchestrator.NormalizeName(t.in)
		c.Assert(err, jc.ErrorIsNil, gc.Commentf("input %q", t.in))
		c.Check(got, gc.Equals, t.want)
	}
}

func (s *nameSuite) TestNormalizeNameRejects(c *gc.C) {
	for _, in := range []string{"", "a", "1abc", "---", strings.Repeat("x", 65)} {
		_, err := orchestrator.NormalizeName(in)
		c.Check(err, gc.NotNil, gc.Commentf("input %q", in))
	}
}

func (s *nameSuite) TestValidName(c *gc.C) {
	c.Check(orchestrator.ValidName("ab"), jc.IsTrue)
	c.Check(orchestrator.ValidName(strings.Repeat("x", 64)), jc.IsTrue)
	c.Check(orchestrator.ValidName(strings.Repeat("x", 65)), jc.IsFalse)
	c.Check(orchestrator.ValidName("a"), jc.IsFalse)
	c.Check(orchestrator.ValidName("Caps"), jc.IsFalse)
}

func (s *nameSuite) TestGenerateName(c *gc.C) {
	name := orchestrator.GenerateName("claude")
	c.Check(orchestrator.ValidName(name), jc.IsTrue)
	c.Check(strings.HasPrefix(name, "claude-"), jc.IsTrue)
	c.Check(name, gc.Not(gc.Equals), orchestrator.GenerateName("claude"))
}

func (s *nameSuite) TestRenderEnvFile(c *gc.C) {
	content, err := orchestrator.RenderEnvFile(map[string]string{
		"B_KEY": "two words",
		"A_KEY": "https://openrouter.ai/api",
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(content, gc.Equals,
		"export A_KEY=\"https://openrouter.ai/api\"\nexport B_KEY=\"two words\"\n")
}

func (s *nameSuite) TestRenderEnvFileRejectsQuoting(c *gc.C) {
	for _, v := range []string{`ha"ha`, "tick`tock", "a$b", "multi\nline", "semi;colon"} {
		_, err := orchestrator.RenderEnvFile(map[string]string{"KEY": v})
		c.Check(err, gc.NotNil, gc.Commentf("value %q", v))
	}
}
