// Copyright (C) The Candela Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scheduler

import "git.candela.io/candela.git/sdk/go/candela"

// A memoryBudget accounts admitted node memory against the host's
// planning limits. The hard limit is total memory minus the host's
// own overhead; the soft limit leaves BufferSlots nodes' worth of
// headroom below that for bursts, in-flight starts, and evicted nodes
// that have not released their memory yet. A tenant occupies a slot
// from admission until its eviction begins, not until its node exits.
//
// Owned by the scheduler goroutine; not safe for concurrent use.
type memoryBudget struct {
	hardLimit int64
	softLimit int64
	estimate  int64
	admitted  int
}

func newMemoryBudget(conf candela.NodeHostConfig) *memoryBudget {
	hard := int64(conf.TotalMemory) - int64(conf.MemoryOverhead)
	soft := hard - int64(conf.BufferSlots)*int64(conf.NodeMemoryEstimate)
	if soft < 0 {
		soft = 0
	}
	return &memoryBudget{
		hardLimit: hard,
		softLimit: soft,
		estimate:  int64(conf.NodeMemoryEstimate),
	}
}

// fits reports whether n more nodes fit under the hard limit.
func (b *memoryBudget) fits(n int) bool {
	return int64(b.admitted+n)*b.estimate <= b.hardLimit
}

// overSoft reports whether admitting n more nodes would eat into the
// buffer headroom.
func (b *memoryBudget) overSoft(n int) bool {
	return int64(b.admitted+n)*b.estimate > b.softLimit
}

func (b *memoryBudget) acquire() {
	b.admitted++
}

func (b *memoryBudget) release() {
	b.admitted--
}

// hardSlots returns the maximum admissible node count.
func (b *memoryBudget) hardSlots() int {
	return int(b.hardLimit / b.estimate)
}

// softSlots returns the node count above which admissions trigger a
// proactive eviction.
func (b *memoryBudget) softSlots() int {
	return int(b.softLimit / b.estimate)
}
