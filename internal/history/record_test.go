// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package history_test

import (
	"strings"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/spawn-sh/spawn/internal/history"
)

type recordSuite struct{}

var _ = gc.Suite(&recordSuite{})

func (s *recordSuite) TestValidIP(c *gc.C) {
	for ip, want := range map[string]bool{
		"192.0.2.10":      true,
		"1.2.3.4":         true,
		"256.1.1.1":       false,
		"01.2.3.4":        false,
		"sprite-console":  true,
		"daytona-sandbox": true,
		"host.example":    true,
		"demo-1":          true,
		"-bad":            false,
		"Bad.Host":        false,
		"a b":             false,
		"":                false,
	} {
		c.Check(history.ValidIP(ip), gc.Equals, want, gc.Commentf("ValidIP(%q)", ip))
	}
}

func (s *recordSuite) TestValidUser(c *gc.C) {
	c.Check(history.ValidUser("root"), jc.IsTrue)
	c.Check(history.ValidUser("_svc"), jc.IsTrue)
	c.Check(history.ValidUser("ubuntu-2"), jc.IsTrue)
	c.Check(history.ValidUser("Root"), jc.IsFalse)
	c.Check(history.ValidUser("1st"), jc.IsFalse)
	c.Check(history.ValidUser(strings.Repeat("a", 33)), jc.IsFalse)
	c.Check(history.ValidUser(strings.Repeat("a", 32)), jc.IsTrue)
}

func (s *recordSuite) TestValidID(c *gc.C) {
	c.Check(history.ValidID("12345"), jc.IsTrue)
	c.Check(history.ValidID("srv_demo-1.a"), jc.IsTrue)
	c.Check(history.ValidID(""), jc.IsFalse)
	c.Check(history.ValidID("id with space"), jc.IsFalse)
	c.Check(history.ValidID(strings.Repeat("x", 65)), jc.IsFalse)
}

func (s *recordSuite) TestValidLaunchCmd(c *gc.C) {
	c.Check(history.ValidLaunchCmd("claude"), jc.IsTrue)
	c.Check(history.ValidLaunchCmd("ssh -L 8080:localhost:8080 root@host"), jc.IsTrue)
	c.Check(history.ValidLaunchCmd("claude; rm -rf /"), jc.IsFalse)
	c.Check(history.ValidLaunchCmd("echo $(id)"), jc.IsFalse)
	c.Check(history.ValidLaunchCmd("a|b"), jc.IsFalse)
	c.Check(history.ValidLaunchCmd(strings.Repeat("x", 513)), jc.IsFalse)
}

func (s *recordSuite) TestSanitizePrompt(c *gc.C) {
	c.Check(history.SanitizePrompt("ok\nline\ttab\x00\x07\x1b"), gc.Equals, "ok\nline\ttab")
	long := strings.Repeat("p", 10000)
	c.Check(len(history.SanitizePrompt(long)), gc.Equals, 8192)
}
