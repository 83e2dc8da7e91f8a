// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package accessrule_test

import (
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/cloudacademy/dbrefresh/core/accessrule"
)

type ruleSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&ruleSuite{})

func (s *ruleSuite) TestRuleFormatting(c *gc.C) {
	r1 := accessrule.NewRule(5432)
	c.Assert(r1.SourceCIDRs, gc.HasLen, 0)
	c.Assert(r1.String(), gc.Equals, "5432/tcp")

	r2 := accessrule.NewRule(5432, "10.0.0.0/16", "192.168.1.0/24", "10.0.0.0/16")
	c.Assert(r2.SourceCIDRs, gc.HasLen, 2, gc.Commentf("expected duplicate CIDRs to be discarded"))
	c.Assert(r2.String(), gc.Equals, "5432/tcp from 10.0.0.0/16,192.168.1.0/24")
}

func (s *ruleSuite) TestRuleValidation(c *gc.C) {
	c.Assert(accessrule.NewRule(0, "10.0.0.0/16").Validate(), gc.ErrorMatches, "port 0 not valid")
	c.Assert(accessrule.NewRule(70000, "10.0.0.0/16").Validate(), gc.ErrorMatches, "port 70000 not valid")
	c.Assert(accessrule.NewRule(5432, "bogus").Validate(), gc.ErrorMatches, ".*invalid CIDR address: bogus")
	c.Assert(accessrule.NewRule(5432, "10.0.0.0/16").Validate(), jc.ErrorIsNil)
}

func (s *ruleSuite) TestRulesValidation(c *gc.C) {
	rules := accessrule.Rules{
		accessrule.NewRule(5432, "10.0.0.0/16"),
		accessrule.NewRule(3306, "bogus"),
	}
	c.Assert(rules.Validate(), gc.ErrorMatches, ".*invalid CIDR address: bogus")
}

func (s *ruleSuite) TestSort(c *gc.C) {
	rules := accessrule.Rules{
		accessrule.NewRule(5432, "192.168.1.0/24"),
		accessrule.NewRule(5432, "10.0.0.0/16"),
		accessrule.NewRule(3306, "10.0.0.0/16"),
	}
	rules.Sort()
	c.Assert(rules, gc.DeepEquals, accessrule.Rules{
		accessrule.NewRule(3306, "10.0.0.0/16"),
		accessrule.NewRule(5432, "10.0.0.0/16"),
		accessrule.NewRule(5432, "192.168.1.0/24"),
	})
}

func (s *ruleSuite) TestDiffFromEmpty(c *gc.C) {
	wanted := accessrule.Rules{
		accessrule.NewRule(5432, "10.0.0.0/16", "192.168.1.0/24"),
	}
	toOpen, toClose := accessrule.Rules{}.Diff(wanted)
	c.Assert(toClose, gc.HasLen, 0)
	c.Assert(toOpen, gc.DeepEquals, accessrule.Rules{
		accessrule.NewRule(5432, "10.0.0.0/16", "192.168.1.0/24"),
	})
}

func (s *ruleSuite) TestDiffConverged(c *gc.C) {
	current := accessrule.Rules{
		accessrule.NewRule(5432, "192.168.1.0/24", "10.0.0.0/16"),
	}
	wanted := accessrule.Rules{
		accessrule.NewRule(5432, "10.0.0.0/16"),
		accessrule.NewRule(5432, "192.168.1.0/24"),
	}
	toOpen, toClose := current.Diff(wanted)
	c.Assert(toOpen, gc.HasLen, 0)
	c.Assert(toClose, gc.HasLen, 0)
	c.Assert(current.EqualTo(wanted), jc.IsTrue)
}

func (s *ruleSuite) TestDiffMixed(c *gc.C) {
	current := accessrule.Rules{
		accessrule.NewRule(5432, "10.0.0.0/16", "172.16.0.0/12"),
		accessrule.NewRule(3306, "10.0.0.0/16"),
	}
	wanted := accessrule.Rules{
		accessrule.NewRule(5432, "10.0.0.0/16", "192.168.1.0/24"),
	}
	toOpen, toClose := current.Diff(wanted)
	c.Assert(toOpen, gc.DeepEquals, accessrule.Rules{
		accessrule.NewRule(5432, "192.168.1.0/24"),
	})
	c.Assert(toClose, gc.DeepEquals, accessrule.Rules{
		accessrule.NewRule(3306, "10.0.0.0/16"),
		accessrule.NewRule(5432, "172.16.0.0/12"),
	})
	c.Assert(current.EqualTo(wanted), jc.IsFalse)
}
