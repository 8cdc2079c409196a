// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package driver_test

import (
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/spawn-sh/spawn/internal/driver"
)

type sizingSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&sizingSuite{})

var catalog = []driver.Offering{
	{Name: "cx22", Family: "x86", Cores: 2, MemoryGB: 4, HourlyPrice: 0.006, Available: false},
	{Name: "cx32", Family: "x86", Cores: 4, MemoryGB: 8, HourlyPrice: 0.011, Available: true},
	{Name: "cx42", Family: "x86", Cores: 8, MemoryGB: 16, HourlyPrice: 0.025, Available: true},
	{Name: "cax21", Family: "arm", Cores: 4, MemoryGB: 8, HourlyPrice: 0.008, Available: true},
}

func (s *sizingSuite) TestSameFamilyCheapestWins(c *gc.C) {
	got, err := driver.Substitute(driver.Requirements{Family: "x86", Cores: 2, MemoryGB: 4}, catalog)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got.Name, gc.Equals, "cx32")
}

func (s *sizingSuite) TestCrossFamilyFallback(c *gc.C) {
	only := []driver.Offering{
		{Name: "cax21", Family: "arm", Cores: 4, MemoryGB: 8, HourlyPrice: 0.008, Available: true},
	}
	got, err := driver.Substitute(driver.Requirements{Family: "x86", Cores: 2, MemoryGB: 4}, only)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got.Name, gc.Equals, "cax21")
}

func (s *sizingSuite) TestNeverDownsizes(c *gc.C) {
	_, err := driver.Substitute(driver.Requirements{Family: "x86", Cores: 16, MemoryGB: 64}, catalog)
	c.Assert(err, jc.ErrorIs, errors.NotFound)
}

func (s *sizingSuite) TestUnavailableSkipped(c *gc.C) {
	got, err := driver.Substitute(driver.Requirements{Family: "x86", Cores: 1, MemoryGB: 2}, catalog)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got.Name, gc.Not(gc.Equals), "cx22")
}
