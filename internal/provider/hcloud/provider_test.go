// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package hcloud

import (
	stdtesting "testing"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
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
	c.Check(set.NewStrings(driver.Registered()...).Contains("hetzner"), jc.IsTrue)
}

func (s *providerSuite) TestFamily(c *gc.C) {
	c.Check(family("cx32"), gc.Equals, "cx")
	c.Check(family("cpx31"), gc.Equals, "cpx")
	c.Check(family("cax21"), gc.Equals, "cax")
	c.Check(family("ccx13"), gc.Equals, "ccx")
}

func (s *providerSuite) TestHourlyPrice(c *gc.C) {
	t := &hcloud.ServerType{
		Pricings: []hcloud.ServerTypeLocationPricing{{
			Hourly: hcloud.Price{Gross: "0.0119"},
		}},
	}
	c.Check(hourlyPrice(t), gc.Equals, 0.0119)
	c.Check(hourlyPrice(&hcloud.ServerType{}), gc.Equals, 0.0)
}

func (s *providerSuite) TestFactoryValidatesConfig(c *gc.C) {
	_, err := newDriver(driver.Config{})
	c.Check(err, gc.NotNil)
}
