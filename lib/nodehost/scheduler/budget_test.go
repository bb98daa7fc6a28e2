// Copyright (C) The Candela Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scheduler

import (
	"git.candela.io/candela.git/sdk/go/candela"
	check "gopkg.in/check.v1"
)

var _ = check.Suite(&BudgetSuite{})

type BudgetSuite struct{}

// With the stock config (2GiB total, 200MiB overhead, 64MiB per node,
// 2 buffer slots) the host fits 28 nodes under the hard limit and
// starts evicting proactively above 26.
func (*BudgetSuite) TestDefaultFigures(c *check.C) {
	b := newMemoryBudget(candela.NodeHostConfig{
		TotalMemory:        2 << 30,
		MemoryOverhead:     200 << 20,
		NodeMemoryEstimate: 64 << 20,
		BufferSlots:        2,
	})
	c.Check(b.hardLimit, check.Equals, int64(2<<30)-int64(200<<20))
	c.Check(b.softLimit, check.Equals, b.hardLimit-2*int64(64<<20))
	c.Check(b.hardSlots(), check.Equals, 28)
	c.Check(b.softSlots(), check.Equals, 26)
}

func (*BudgetSuite) TestFits(c *check.C) {
	b := newMemoryBudget(candela.NodeHostConfig{
		TotalMemory:        10,
		MemoryOverhead:     1,
		NodeMemoryEstimate: 3,
		BufferSlots:        1,
	})
	// hard limit 9 = three nodes, soft limit 6 = two
	c.Check(b.fits(1), check.Equals, true)
	c.Check(b.fits(3), check.Equals, true)
	c.Check(b.fits(4), check.Equals, false)
	c.Check(b.overSoft(2), check.Equals, false)
	c.Check(b.overSoft(3), check.Equals, true)

	b.acquire()
	b.acquire()
	c.Check(b.admitted, check.Equals, 2)
	c.Check(b.fits(1), check.Equals, true)
	c.Check(b.fits(2), check.Equals, false)
	c.Check(b.overSoft(1), check.Equals, true)
	b.release()
	c.Check(b.fits(2), check.Equals, true)
	c.Check(b.overSoft(1), check.Equals, false)
}

func (*BudgetSuite) TestOversizedBuffer(c *check.C) {
	// A buffer bigger than the whole budget leaves no soft slots
	// but still admits up to the hard limit.
	b := newMemoryBudget(candela.NodeHostConfig{
		TotalMemory:        10,
		MemoryOverhead:     1,
		NodeMemoryEstimate: 3,
		BufferSlots:        10,
	})
	c.Check(b.softSlots(), check.Equals, 0)
	c.Check(b.hardSlots(), check.Equals, 3)
	c.Check(b.overSoft(1), check.Equals, true)
	c.Check(b.fits(3), check.Equals, true)
}
