// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package trigger

import (
	"path/filepath"
	"time"

	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"
)

type configSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&configSuite{})

func (s *configSuite) TestDefaults(c *gc.C) {
	s.PatchEnvironment(SecretEnvKey, "tok")
	s.PatchEnvironment(MaxConcurrentEnvKey, "")
	s.PatchEnvironment(RunTimeoutEnvKey, "")
	s.PatchEnvironment(IdleTimeoutEnvKey, "")
	s.PatchEnvironment(PortEnvKey, "")

	cfg, err := ConfigFromEnv("/opt/flow/cycle.sh")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cfg.Secret, gc.Equals, "tok")
	c.Check(cfg.Script, gc.Equals, "/opt/flow/cycle.sh")
	c.Check(cfg.Workdir, gc.Equals, "/opt/flow")
	c.Check(cfg.MaxConcurrent, gc.Equals, 1)
	c.Check(cfg.RunTimeout, gc.Equals, 2*time.Hour)
	c.Check(cfg.Port, gc.Equals, defaultPort)
}

func (s *configSuite) TestOverrides(c *gc.C) {
	s.PatchEnvironment(SecretEnvKey, "tok")
	s.PatchEnvironment(MaxConcurrentEnvKey, "3")
	s.PatchEnvironment(RunTimeoutEnvKey, "60000")
	s.PatchEnvironment(IdleTimeoutEnvKey, "5000")
	s.PatchEnvironment(PortEnvKey, "9000")

	cfg, err := ConfigFromEnv("cycle.sh")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cfg.MaxConcurrent, gc.Equals, 3)
	c.Check(cfg.RunTimeout, gc.Equals, time.Minute)
	c.Check(cfg.IdleTimeout, gc.Equals, 5*time.Second)
	c.Check(cfg.Port, gc.Equals, 9000)
	c.Check(filepath.IsAbs(cfg.Script), jc.IsTrue)
}

func (s *configSuite) TestMissingSecret(c *gc.C) {
	s.PatchEnvironment(SecretEnvKey, "")
	_, err := ConfigFromEnv("cycle.sh")
	c.Check(err, gc.NotNil)
}

func (s *configSuite) TestBadValues(c *gc.C) {
	s.PatchEnvironment(SecretEnvKey, "tok")
	for key, bad := range map[string]string{
		MaxConcurrentEnvKey: "0",
		RunTimeoutEnvKey:    "-5",
		IdleTimeoutEnvKey:   "ms",
		PortEnvKey:          "70000",
	} {
		s.PatchEnvironment(MaxConcurrentEnvKey, "")
		s.PatchEnvironment(RunTimeoutEnvKey, "")
		s.PatchEnvironment(IdleTimeoutEnvKey, "")
		s.PatchEnvironment(PortEnvKey, "")
		s.PatchEnvironment(key, bad)
		_, err := ConfigFromEnv("cycle.sh")
		c.Check(err, gc.NotNil, gc.Commentf("%s=%s", key, bad))
	}
}
