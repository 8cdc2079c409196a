// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package ec2

import (
	stdtesting "testing"

	"github.com/aws/smithy-go"
	"github.com/juju/collections/set"
	"github.com/juju/errors"
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
	c.Check(set.NewStrings(driver.Registered()...).Contains("aws"), jc.IsTrue)
}

func (s *providerSuite) TestFamily(c *gc.C) {
	c.Check(family("t3.medium"), gc.Equals, "t3")
	c.Check(family("m7i.2xlarge"), gc.Equals, "m7i")
	c.Check(family("weird"), gc.Equals, "weird")
}

func (s *providerSuite) TestErrorCode(c *gc.C) {
	c.Check(errorCode(nil), gc.Equals, "")
	c.Check(errorCode(errors.New("plain")), gc.Equals, "")
	apiErr := &smithy.GenericAPIError{Code: "InvalidInstanceID.NotFound", Message: "gone"}
	c.Check(errorCode(apiErr), gc.Equals, "InvalidInstanceID.NotFound")
	c.Check(errorCode(errors.Annotate(apiErr, "terminating")), gc.Equals, "InvalidInstanceID.NotFound")
}
