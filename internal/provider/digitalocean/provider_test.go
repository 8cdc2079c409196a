// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package digitalocean

import (
	"net/http"
	"os"
	"path/filepath"
	stdtesting "testing"

	"github.com/digitalocean/godo"
	"github.com/juju/collections/set"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/spawn-sh/spawn/internal/driver"
)

func Test(t *stdtesting.T) { gc.TestingT(t) }

type providerSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&providerSuite{})

func (s *providerSuite) TestRegistered(c *gc.C) {
	c.Check(set.NewStrings(driver.Registered()...).Contains("digitalocean"), jc.IsTrue)
}

func (s *providerSuite) TestFamily(c *gc.C) {
	c.Check(family("s-2vcpu-4gb"), gc.Equals, "s")
	c.Check(family("c-4"), gc.Equals, "c")
	c.Check(family("gd-8vcpu-32gb"), gc.Equals, "gd")
	c.Check(family("512mb"), gc.Equals, "512mb")
}

func (s *providerSuite) TestIsNotFound(c *gc.C) {
	c.Check(isNotFound(nil), jc.IsFalse)
	c.Check(isNotFound(os.ErrNotExist), jc.IsFalse)
	c.Check(isNotFound(&godo.ErrorResponse{
		Response: &http.Response{StatusCode: 404},
	}), jc.IsTrue)
	c.Check(isNotFound(&godo.ErrorResponse{
		Response: &http.Response{StatusCode: 403},
	}), jc.IsFalse)
}

func (s *providerSuite) TestDoctlTokenMissing(c *gc.C) {
	home := c.MkDir()
	s.PatchEnvironment("HOME", home)
	c.Check(doctlToken(), gc.Equals, "")
}

func (s *providerSuite) TestDoctlToken(c *gc.C) {
	home := c.MkDir()
	s.PatchEnvironment("HOME", home)
	dir := filepath.Join(home, ".config", "doctl")
	c.Assert(os.MkdirAll(dir, 0700), jc.ErrorIsNil)
	err := os.WriteFile(filepath.Join(dir, "config.yaml"),
		[]byte("access-token: dop_v1_abc123\ncontext: default\n"), 0600)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(doctlToken(), gc.Equals, "dop_v1_abc123")
}
