// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package manifest_test

import (
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/spawn-sh/spawn/internal/manifest"
)

type manifestSuite struct{}

var _ = gc.Suite(&manifestSuite{})

func (s *manifestSuite) TestParseAuth(c *gc.C) {
	for _, test := range []struct {
		auth string
		want []string
	}{
		{"none", nil},
		{"", nil},
		{"foo", nil},
		{"HCLOUD_TOKEN", []string{"HCLOUD_TOKEN"}},
		{"FOO + BAR", []string{"FOO", "BAR"}},
		{"ab + CD", nil},
		{"AWS_ACCESS_KEY_ID + AWS_SECRET_ACCESS_KEY", []string{"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY"}},
		{"DIGITALOCEAN_TOKEN+SPARE_TOKEN", []string{"DIGITALOCEAN_TOKEN", "SPARE_TOKEN"}},
	} {
		c.Check(manifest.ParseAuth(test.auth), gc.DeepEquals, test.want,
			gc.Commentf("ParseAuth(%q)", test.auth))
	}
}

func (s *manifestSuite) TestValidKey(c *gc.C) {
	c.Check(manifest.ValidKey("claude"), jc.IsTrue)
	c.Check(manifest.ValidKey("a"), jc.IsFalse)
	c.Check(manifest.ValidKey("my-cloud-2"), jc.IsTrue)
	c.Check(manifest.ValidKey("Claude"), jc.IsFalse)
	c.Check(manifest.ValidKey("2fast"), jc.IsFalse)
	c.Check(manifest.ValidKey("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), jc.IsFalse)
}

func (s *manifestSuite) TestFallbackValidates(c *gc.C) {
	m, err := manifest.Fallback()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(m.Agents["claude"].Key, gc.Equals, "claude")
	c.Check(m.Clouds["hetzner"].AuthVars(), gc.DeepEquals, []string{"HCLOUD_TOKEN"})
	c.Check(m.Implemented("hetzner", "claude"), jc.IsTrue)
	c.Check(m.Implemented("sprite", "goose"), jc.IsFalse)
	c.Check(m.Implemented("nosuch", "claude"), jc.IsFalse)
}

func (s *manifestSuite) TestValidateRejectsDanglingMatrix(c *gc.C) {
	m := &manifest.Manifest{
		Agents: map[string]manifest.AgentDef{"claude": {Tier: manifest.TierHeavy}},
		Clouds: map[string]manifest.CloudDef{"hetzner": {}},
		Matrix: map[string]manifest.Status{"hetzner/codex": manifest.StatusImplemented},
	}
	err := m.Validate()
	c.Assert(err, gc.ErrorMatches, `.*unknown agent "codex".*`)
	c.Check(err, jc.ErrorIs, manifest.ErrManifest)
}

func (s *manifestSuite) TestValidateRejectsBadStatus(c *gc.C) {
	m := &manifest.Manifest{
		Agents: map[string]manifest.AgentDef{"claude": {Tier: manifest.TierHeavy}},
		Clouds: map[string]manifest.CloudDef{"hetzner": {}},
		Matrix: map[string]manifest.Status{"hetzner/claude": "maybe"},
	}
	c.Assert(m.Validate(), gc.ErrorMatches, `.*unknown status "maybe".*`)
}

func (s *manifestSuite) TestCloudsForAgent(c *gc.C) {
	m, err := manifest.Fallback()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(m.CloudsForAgent("claude"), gc.DeepEquals,
		[]string{"aws", "digitalocean", "hetzner", "sprite"})
	c.Check(m.CloudsForAgent("goose"), gc.DeepEquals,
		[]string{"aws", "digitalocean", "hetzner"})
}
