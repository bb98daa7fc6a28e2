// Copyright (C) The Candela Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scheduler

import (
	"time"

	"git.candela.io/candela.git/lib/nodehost/supervisor"
	"git.candela.io/candela.git/sdk/go/candela"
	check "gopkg.in/check.v1"
)

// An idle Running tenant is swept out after TenantInactivityTimeout.
// A tenant that is stale but still starting is left alone: its caller
// is still waiting for it.
func (s *SchedulerSuite) TestIdleSweep(c *check.C) {
	s.runTenant("aa", 1)
	s.nodeReady("aa", 4040, 4041)
	s.now = s.now.Add(30 * time.Minute)
	s.runTenant("bb", 2)

	// Nothing is stale yet.
	s.sch.sweepIdleTenants(s.now.Add(20 * time.Minute))
	s.sch.checkInvariants()
	c.Check(s.pool.stoppedIDs(), check.IsNil)

	// 95 minutes after "aa" was last active both tenants are past
	// the 1h timeout, but only the Running one is evicted.
	s.now = s.now.Add(65 * time.Minute)
	s.sch.sweepIdleTenants(s.now)
	s.sch.checkInvariants()
	c.Check(s.sch.entries["aa"].state, check.Equals, stateEvicting)
	c.Check(s.sch.entries["aa"].evictReason, check.Equals, evictReasonIdle)
	c.Check(s.sch.entries["bb"].state, check.Equals, stateStarting)
	c.Check(s.pool.stoppedIDs(), check.DeepEquals, []candela.TenantID{"aa"})
}

// Renewals and activity reports keep a tenant out of the idle sweep.
func (s *SchedulerSuite) TestIdleSweepSpared(c *check.C) {
	s.runTenant("aa", 1)
	s.nodeReady("aa", 4040, 4041)
	for i := 0; i < 4; i++ {
		s.now = s.now.Add(45 * time.Minute)
		s.sch.sweepIdleTenants(s.now)
		s.sch.checkInvariants()
		s.reportActivity("aa")
	}
	c.Check(s.sch.entries["aa"].state, check.Equals, stateRunning)
	c.Check(s.pool.stoppedIDs(), check.IsNil)
}

// A zero TenantInactivityTimeout disables the idle sweep entirely.
func (s *SchedulerSuite) TestIdleSweepDisabled(c *check.C) {
	cluster := smallCluster()
	cluster.NodeHost.TenantInactivityTimeout = 0
	pool := newStubPool()
	sch := newTestScheduler(c, cluster, pool)
	now := time.Date(2026, 1, 20, 15, 0, 0, 0, time.UTC)

	ready := make(chan runResult, 1)
	sch.handleCommand(schedCmd{run: &runCmd{RunRequest: candela.RunRequest{TenantID: "aa", LeaseID: 1, HostID: 7}, ready: ready}}, now)
	sch.handleEvent(supervisor.Event{
		Kind:     supervisor.Ready,
		TenantID: "aa",
		Ports:    candela.RunPorts{TenantID: "aa", AppPort: 4040, APIPort: 4041},
	}, now)

	sch.sweepIdleTenants(now.Add(24 * time.Hour))
	sch.checkInvariants()
	c.Check(sch.entries["aa"].state, check.Equals, stateRunning)
	c.Check(pool.stoppedIDs(), check.IsNil)
}

// The host asks to shut down only after it has been empty and idle
// for HostInactivityTimeout, and only once.
func (s *SchedulerSuite) TestHostShutdownSignal(c *check.C) {
	s.runTenant("aa", 1)
	s.nodeReady("aa", 4040, 4041)

	// Occupied: no shutdown no matter how long.
	s.sch.maybeShutdownHost(s.now.Add(24 * time.Hour))
	c.Check(s.sch.doneFired, check.Equals, false)

	s.evictTenant("aa")
	s.nodeFinished("aa", nil)

	// Empty but recently active: still up.
	s.sch.maybeShutdownHost(s.now.Add(time.Hour))
	c.Check(s.sch.doneFired, check.Equals, false)

	// Empty and long idle: the one-shot signal fires.
	s.sch.maybeShutdownHost(s.now.Add(3 * time.Hour))
	c.Check(s.sch.doneFired, check.Equals, true)
	select {
	case <-s.sch.Done():
	default:
		c.Error("done channel not closed")
	}

	// Firing again must not close the channel twice.
	s.sch.maybeShutdownHost(s.now.Add(4 * time.Hour))
}

// A zero HostInactivityTimeout keeps the host up forever.
func (s *SchedulerSuite) TestHostShutdownDisabled(c *check.C) {
	cluster := smallCluster()
	cluster.NodeHost.HostInactivityTimeout = 0
	sch := newTestScheduler(c, cluster, newStubPool())
	sch.maybeShutdownHost(time.Now().Add(1000 * time.Hour))
	c.Check(sch.doneFired, check.Equals, false)
}
