// Copyright (C) The Candela Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scheduler

import (
	"errors"
	"math/rand"
	"time"

	"git.candela.io/candela.git/lib/nodehost/supervisor"
	"git.candela.io/candela.git/sdk/go/candela"
	check "gopkg.in/check.v1"
)

func drainNotices(sch *Scheduler) {
	for {
		select {
		case <-sch.Notices():
		default:
			return
		}
	}
}

// Drive the scheduler with a long random mix of commands, node
// events, and sweeps, and let the strict accounting checks vet the
// books after every step. At the end, every notifier handed out along
// the way must have resolved exactly once.
func (s *SchedulerSuite) TestRandomizedSequence(c *check.C) {
	seed := time.Now().UnixNano()
	c.Logf("random seed %d", seed)
	rnd := rand.New(rand.NewSource(seed))

	ids := []candela.TenantID{"t0", "t1", "t2", "t3", "t4", "t5", "t6", "t7"}
	var readyChans []chan runResult
	var stoppedChans []chan struct{}

	// Tenants whose node task has started and not yet finished. The
	// real pool delivers exactly one finish per start, so ready and
	// finish events are only injected for these.
	liveTasks := func() (r []candela.TenantID) {
		for _, id := range ids {
			if s.pool.running[id] {
				r = append(r, id)
			}
		}
		return
	}

	for i := 0; i < 2000; i++ {
		s.now = s.now.Add(time.Duration(rnd.Intn(600)) * time.Second)
		id := ids[rnd.Intn(len(ids))]
		switch n := rnd.Intn(100); {
		case n < 30:
			ready := make(chan runResult, 1)
			s.sch.handleCommand(schedCmd{run: &runCmd{RunRequest: candela.RunRequest{
				TenantID:          id,
				LeaseID:           candela.LeaseID(i + 1),
				HostID:            7,
				ShutdownAfterSync: rnd.Intn(10) == 0,
			}, ready: ready}}, s.now)
			readyChans = append(readyChans, ready)
		case n < 45:
			hostID := candela.HostID(7)
			if rnd.Intn(10) == 0 {
				hostID = 9
			}
			stopped := make(chan struct{})
			s.sch.handleCommand(schedCmd{evict: &evictCmd{EvictRequest: candela.EvictRequest{TenantID: id, HostID: hostID}, stopped: stopped}}, s.now)
			stoppedChans = append(stoppedChans, stopped)
		case n < 55:
			s.sch.handleCommand(schedCmd{activity: &activityCmd{ActivityReport: candela.ActivityReport{TenantID: id}}}, s.now)
		case n < 70:
			if live := liveTasks(); len(live) > 0 {
				pick := live[rnd.Intn(len(live))]
				s.sch.handleEvent(supervisor.Event{
					Kind:     supervisor.Ready,
					TenantID: pick,
					Ports:    candela.RunPorts{TenantID: pick, AppPort: 4040, APIPort: 4041},
				}, s.now)
			}
		case n < 88:
			if live := liveTasks(); len(live) > 0 {
				pick := live[rnd.Intn(len(live))]
				delete(s.pool.running, pick)
				var err error
				if rnd.Intn(4) == 0 {
					err = errors.New("node crashed")
				}
				s.sch.handleEvent(supervisor.Event{Kind: supervisor.Finished, TenantID: pick, Err: err}, s.now)
			}
		case n < 95:
			s.sch.sweepIdleTenants(s.now)
			s.sch.maybeShutdownHost(s.now)
			s.sch.checkInvariants()
		default:
			ready := make(chan runResult, 1)
			s.sch.handleCommand(schedCmd{run: &runCmd{RunRequest: candela.RunRequest{TenantID: id, LeaseID: 1, HostID: 9}, ready: ready}}, s.now)
			readyChans = append(readyChans, ready)
		}
		drainNotices(s.sch)
	}

	// Wind down whatever is still live, then check the books are
	// clear and nobody was left waiting.
	for _, id := range liveTasks() {
		delete(s.pool.running, id)
		s.sch.handleEvent(supervisor.Event{Kind: supervisor.Finished, TenantID: id}, s.now)
		drainNotices(s.sch)
	}
	c.Check(s.sch.entries, check.HasLen, 0)
	c.Check(s.sch.budget.admitted, check.Equals, 0)
	c.Check(s.sch.recency.len(), check.Equals, 0)

	for i, ready := range readyChans {
		select {
		case <-ready:
		default:
			c.Errorf("run notifier %d never resolved", i)
		}
	}
	for i, stopped := range stoppedChans {
		select {
		case <-stopped:
		default:
			c.Errorf("evict notifier %d never resolved", i)
		}
	}
}
