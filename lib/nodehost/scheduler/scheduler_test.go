// Copyright (C) The Candela Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"git.candela.io/candela.git/lib/config"
	"git.candela.io/candela.git/lib/nodehost/supervisor"
	"git.candela.io/candela.git/sdk/go/candela"
	"git.candela.io/candela.git/sdk/go/ctxlog"
	"github.com/prometheus/client_golang/prometheus"
	check "gopkg.in/check.v1"
)

type stubPool struct {
	events     chan supervisor.Event
	autoReady  bool // report ready as soon as Start is called
	autoFinish bool // report finished as soon as Stop is called
	startErr   error
	starts     []candela.NodeSpec
	stops      []candela.TenantID
	running    map[candela.TenantID]bool
	sync.Mutex
}

func newStubPool() *stubPool {
	return &stubPool{
		events:  make(chan supervisor.Event, 64),
		running: map[candela.TenantID]bool{},
	}
}

func (p *stubPool) Start(spec candela.NodeSpec) error {
	p.Lock()
	defer p.Unlock()
	if p.startErr != nil {
		return p.startErr
	}
	p.starts = append(p.starts, spec)
	p.running[spec.TenantID] = true
	if p.autoReady && !spec.ShutdownAfterSync {
		p.events <- supervisor.Event{
			Kind:     supervisor.Ready,
			TenantID: spec.TenantID,
			Ports:    candela.RunPorts{TenantID: spec.TenantID, AppPort: 4040, APIPort: 4041},
		}
	}
	return nil
}

func (p *stubPool) Stop(tenantID candela.TenantID) {
	p.Lock()
	defer p.Unlock()
	p.stops = append(p.stops, tenantID)
	if p.autoFinish && p.running[tenantID] {
		delete(p.running, tenantID)
		p.events <- supervisor.Event{Kind: supervisor.Finished, TenantID: tenantID}
	}
}

func (p *stubPool) Events() <-chan supervisor.Event { return p.events }

func (p *stubPool) Len() int {
	p.Lock()
	defer p.Unlock()
	return len(p.running)
}

func (p *stubPool) startedIDs() (r []candela.TenantID) {
	p.Lock()
	defer p.Unlock()
	for _, spec := range p.starts {
		r = append(r, spec.TenantID)
	}
	return
}

func (p *stubPool) stoppedIDs() (r []candela.TenantID) {
	p.Lock()
	defer p.Unlock()
	return append(r, p.stops...)
}

// smallCluster returns a config whose budget has easy figures: hard
// limit 9 = three 3-byte nodes, soft limit 6 = two.
func smallCluster() *candela.Cluster {
	return &candela.Cluster{
		NodeHost: candela.NodeHostConfig{
			HostID:                  7,
			TotalMemory:             10,
			MemoryOverhead:          1,
			NodeMemoryEstimate:      3,
			BufferSlots:             1,
			TenantInactivityTimeout: candela.Duration(time.Hour),
			HostInactivityTimeout:   candela.Duration(2 * time.Hour),
			SweepInterval:           candela.Duration(10 * time.Second),
			ShutdownGrace:           candela.Duration(5 * time.Second),
			StrictAccounting:        true,
		},
	}
}

func newTestScheduler(c *check.C, cluster *candela.Cluster, pool *stubPool) *Scheduler {
	ctx := ctxlog.Context(context.Background(), ctxlog.TestLogger(c))
	return New(ctx, cluster, pool, prometheus.NewRegistry())
}

var _ = check.Suite(&SchedulerSuite{})

// SchedulerSuite drives the handlers directly, with an injected clock
// and without starting the loop, so every test is deterministic. Loop
// behavior gets its own tests in loop_test.go.
type SchedulerSuite struct {
	pool *stubPool
	sch  *Scheduler
	now  time.Time
}

func (s *SchedulerSuite) SetUpTest(c *check.C) {
	s.pool = newStubPool()
	s.sch = newTestScheduler(c, smallCluster(), s.pool)
	s.now = time.Date(2026, 1, 20, 15, 0, 0, 0, time.UTC)
}

func (s *SchedulerSuite) runTenant(id candela.TenantID, lease candela.LeaseID) chan runResult {
	return s.runRequest(candela.RunRequest{TenantID: id, LeaseID: lease, HostID: s.sch.hostID})
}

func (s *SchedulerSuite) runRequest(req candela.RunRequest) chan runResult {
	ready := make(chan runResult, 1)
	s.sch.handleCommand(schedCmd{run: &runCmd{RunRequest: req, ready: ready}}, s.now)
	return ready
}

func (s *SchedulerSuite) evictTenant(id candela.TenantID) chan struct{} {
	return s.evictRequest(candela.EvictRequest{TenantID: id, HostID: s.sch.hostID})
}

func (s *SchedulerSuite) evictRequest(req candela.EvictRequest) chan struct{} {
	stopped := make(chan struct{})
	s.sch.handleCommand(schedCmd{evict: &evictCmd{EvictRequest: req, stopped: stopped}}, s.now)
	return stopped
}

func (s *SchedulerSuite) reportActivity(id candela.TenantID) {
	s.sch.handleCommand(schedCmd{activity: &activityCmd{ActivityReport: candela.ActivityReport{TenantID: id}}}, s.now)
}

func (s *SchedulerSuite) nodeReady(id candela.TenantID, app, api int) {
	s.sch.handleEvent(supervisor.Event{
		Kind:     supervisor.Ready,
		TenantID: id,
		Ports:    candela.RunPorts{TenantID: id, AppPort: app, APIPort: api},
	}, s.now)
}

func (s *SchedulerSuite) nodeFinished(id candela.TenantID, err error) {
	s.sch.handleEvent(supervisor.Event{Kind: supervisor.Finished, TenantID: id, Err: err}, s.now)
}

// recvResult returns the already-delivered resolution of a ready
// notifier, or fails the test if it is still pending.
func (s *SchedulerSuite) recvResult(c *check.C, ready chan runResult) (runResult, bool) {
	select {
	case res, ok := <-ready:
		return res, ok
	default:
		c.Fatal("run notifier was not resolved")
		return runResult{}, false
	}
}

func (s *SchedulerSuite) checkPending(c *check.C, ready chan runResult) {
	select {
	case res, ok := <-ready:
		c.Fatalf("run notifier resolved early: %+v, %v", res, ok)
	default:
	}
}

func resolved(stopped chan struct{}) bool {
	select {
	case <-stopped:
		return true
	default:
		return false
	}
}

// Admit a new tenant, then let its node report ready: the caller's
// notifier resolves with the node's ports and the tenant is Running.
func (s *SchedulerSuite) TestAdmitAndReady(c *check.C) {
	ready := s.runTenant("aa", 1)
	c.Check(s.pool.starts, check.DeepEquals, []candela.NodeSpec{{TenantID: "aa", LeaseID: 1, HostID: 7}})
	ent := s.sch.entries["aa"]
	c.Assert(ent, check.NotNil)
	c.Check(ent.state, check.Equals, stateStarting)
	c.Check(s.sch.budget.admitted, check.Equals, 1)
	c.Check(s.sch.recency.contains("aa"), check.Equals, true)
	s.checkPending(c, ready)

	s.now = s.now.Add(time.Second)
	s.nodeReady("aa", 18080, 18081)
	c.Check(ent.state, check.Equals, stateRunning)
	c.Check(ent.lastActiveAt, check.Equals, s.now)
	res, ok := s.recvResult(c, ready)
	c.Assert(ok, check.Equals, true)
	c.Check(res.err, check.IsNil)
	c.Check(res.ports, check.DeepEquals, candela.RunPorts{TenantID: "aa", AppPort: 18080, APIPort: 18081})

	// A renewal for a Running tenant resolves immediately and
	// refreshes the lease.
	res, ok = s.recvResult(c, s.runTenant("aa", 2))
	c.Assert(ok, check.Equals, true)
	c.Check(res.ports.AppPort, check.Equals, 18080)
	c.Check(ent.leaseID, check.Equals, candela.LeaseID(2))
	c.Check(s.sch.budget.admitted, check.Equals, 1)
}

// A request addressed to another host is answered by closing the
// notifier without a value, and nothing else happens.
func (s *SchedulerSuite) TestMisdirectedRun(c *check.C) {
	ready := s.runRequest(candela.RunRequest{TenantID: "aa", LeaseID: 1, HostID: 8})
	_, ok := <-ready
	c.Check(ok, check.Equals, false)
	c.Check(s.sch.entries, check.HasLen, 0)
	c.Check(s.sch.budget.admitted, check.Equals, 0)
	c.Check(s.pool.startedIDs(), check.IsNil)
}

// Renewals that arrive while the node is still starting all resolve
// together when it reports ready, and only the one node is started.
func (s *SchedulerSuite) TestRenewalsWhileStarting(c *check.C) {
	first := s.runTenant("aa", 1)
	second := s.runTenant("aa", 2)
	c.Check(s.pool.startedIDs(), check.HasLen, 1)
	c.Check(s.sch.entries["aa"].leaseID, check.Equals, candela.LeaseID(2))
	s.checkPending(c, first)
	s.checkPending(c, second)

	s.nodeReady("aa", 4040, 4041)
	for _, ready := range []chan runResult{first, second} {
		res, ok := s.recvResult(c, ready)
		c.Assert(ok, check.Equals, true)
		c.Check(res.err, check.IsNil)
		c.Check(res.ports.AppPort, check.Equals, 4040)
	}
}

func (s *SchedulerSuite) TestRenewalWhileEvicting(c *check.C) {
	s.runTenant("aa", 1)
	s.nodeReady("aa", 4040, 4041)
	s.evictTenant("aa")
	res, ok := s.recvResult(c, s.runTenant("aa", 2))
	c.Assert(ok, check.Equals, true)
	c.Check(res.err, check.Equals, candela.ErrTenantEvicting)
	// The old lease stands; the rejected renewal must not touch it.
	c.Check(s.sch.entries["aa"].leaseID, check.Equals, candela.LeaseID(1))
}

// Evicting a Starting tenant is legal: the slot frees up right away,
// but all stopped notifiers wait for the node to actually exit, and
// callers still waiting for ready are told the node exited.
func (s *SchedulerSuite) TestEvictWhileStarting(c *check.C) {
	ready := s.runTenant("aa", 1)
	stopped1 := s.evictTenant("aa")
	ent := s.sch.entries["aa"]
	c.Assert(ent, check.NotNil)
	c.Check(ent.state, check.Equals, stateEvicting)
	c.Check(ent.evictReason, check.Equals, evictReasonRequested)
	c.Check(s.sch.recency.contains("aa"), check.Equals, false)
	c.Check(s.sch.budget.admitted, check.Equals, 0)
	c.Check(s.pool.stoppedIDs(), check.DeepEquals, []candela.TenantID{"aa"})
	c.Check(resolved(stopped1), check.Equals, false)

	// The freed slot is usable while the old node winds down.
	s.runTenant("bb", 2)
	c.Check(s.sch.budget.admitted, check.Equals, 1)

	// A second eviction just queues another notifier.
	stopped2 := s.evictTenant("aa")
	c.Check(s.pool.stoppedIDs(), check.HasLen, 1)

	s.nodeFinished("aa", nil)
	c.Check(resolved(stopped1), check.Equals, true)
	c.Check(resolved(stopped2), check.Equals, true)
	res, ok := s.recvResult(c, ready)
	c.Assert(ok, check.Equals, true)
	c.Check(res.err, check.Equals, candela.ErrNodeExited)
	c.Check(s.sch.entries["aa"], check.IsNil)
}

// Evicting a tenant that is not here is already a success: the
// notifier resolves immediately and nothing changes.
func (s *SchedulerSuite) TestEvictUnknownOrMisdirected(c *check.C) {
	c.Check(resolved(s.evictTenant("nn")), check.Equals, true)

	s.runTenant("aa", 1)
	stopped := s.evictRequest(candela.EvictRequest{TenantID: "aa", HostID: 8})
	c.Check(resolved(stopped), check.Equals, true)
	c.Check(s.sch.entries["aa"].state, check.Equals, stateStarting)
	c.Check(s.pool.stoppedIDs(), check.IsNil)
}

// A shutdown-after-sync node syncs in the background: the notifier
// resolves immediately with no ports, and the node's own exit cleans
// up the slot.
func (s *SchedulerSuite) TestShutdownAfterSync(c *check.C) {
	res, ok := s.recvResult(c, s.runRequest(candela.RunRequest{TenantID: "aa", LeaseID: 1, HostID: 7, ShutdownAfterSync: true}))
	c.Assert(ok, check.Equals, true)
	c.Check(res.err, check.IsNil)
	c.Check(res.ports, check.DeepEquals, candela.RunPorts{TenantID: "aa"})
	ent := s.sch.entries["aa"]
	c.Assert(ent, check.NotNil)
	c.Check(ent.state, check.Equals, stateStarting)
	c.Check(s.pool.starts[0].ShutdownAfterSync, check.Equals, true)

	// A renewal during the background sync resolves right away too.
	res, ok = s.recvResult(c, s.runTenant("aa", 2))
	c.Assert(ok, check.Equals, true)
	c.Check(res.ports, check.DeepEquals, candela.RunPorts{TenantID: "aa"})

	s.nodeFinished("aa", nil)
	c.Check(s.sch.entries["aa"], check.IsNil)
	c.Check(s.sch.budget.admitted, check.Equals, 0)
}

// If the node task cannot even start, the admission is unwound and
// the caller gets the error.
func (s *SchedulerSuite) TestStartFailure(c *check.C) {
	s.pool.startErr = errors.New("no more ptys")
	res, ok := s.recvResult(c, s.runTenant("aa", 1))
	c.Assert(ok, check.Equals, true)
	c.Check(res.err, check.ErrorMatches, `no more ptys`)
	c.Check(s.sch.entries, check.HasLen, 0)
	c.Check(s.sch.budget.admitted, check.Equals, 0)
	c.Check(s.sch.recency.len(), check.Equals, 0)

	s.pool.startErr = nil
	s.runTenant("aa", 2)
	c.Check(s.sch.entries["aa"].state, check.Equals, stateStarting)
}

// Once admissions pass the soft limit, each new one retires the least
// recently active Running tenant to win back buffer headroom.
func (s *SchedulerSuite) TestProactiveEviction(c *check.C) {
	s.runTenant("aa", 1)
	s.nodeReady("aa", 4040, 4041)
	s.now = s.now.Add(time.Minute)
	s.runTenant("bb", 2)
	s.nodeReady("bb", 4042, 4043)
	c.Check(s.sch.budget.admitted, check.Equals, 2)

	// "aa" would be the victim, but it reports activity and "bb"
	// becomes the oldest.
	s.now = s.now.Add(time.Minute)
	s.reportActivity("aa")

	s.now = s.now.Add(time.Minute)
	s.runTenant("cc", 3)
	c.Check(s.sch.entries["aa"].state, check.Equals, stateRunning)
	c.Check(s.sch.entries["bb"].state, check.Equals, stateEvicting)
	c.Check(s.sch.entries["bb"].evictReason, check.Equals, evictReasonHeadroom)
	c.Check(s.sch.entries["cc"].state, check.Equals, stateStarting)
	c.Check(s.sch.budget.admitted, check.Equals, 2)
	c.Check(s.pool.stoppedIDs(), check.DeepEquals, []candela.TenantID{"bb"})
}

// When the hard limit is hit, an admission evicts as many Running
// tenants as it takes to fit, oldest first.
func (s *SchedulerSuite) TestMemoryPressureEviction(c *check.C) {
	for i, id := range []candela.TenantID{"aa", "bb", "cc"} {
		s.runTenant(id, candela.LeaseID(i+1))
		s.now = s.now.Add(time.Minute)
	}
	// All three are still Starting, so the third admission had no
	// Running victim and was allowed to pass the soft limit.
	c.Check(s.sch.budget.admitted, check.Equals, 3)
	for _, id := range []candela.TenantID{"aa", "bb", "cc"} {
		s.nodeReady(id, 4040, 4041)
	}

	s.now = s.now.Add(time.Minute)
	s.runTenant("dd", 4)
	c.Check(s.sch.entries["aa"].evictReason, check.Equals, evictReasonPressure)
	c.Check(s.sch.entries["bb"].evictReason, check.Equals, evictReasonHeadroom)
	c.Check(s.sch.entries["cc"].state, check.Equals, stateRunning)
	c.Check(s.sch.entries["dd"].state, check.Equals, stateStarting)
	c.Check(s.sch.budget.admitted, check.Equals, 2)
}

// With every slot held by tenants that are starting or already
// evicting there is nothing safe to evict, so a further admission is
// denied.
func (s *SchedulerSuite) TestAdmissionDenied(c *check.C) {
	for i, id := range []candela.TenantID{"aa", "bb", "cc"} {
		s.runTenant(id, candela.LeaseID(i+1))
	}
	c.Check(s.sch.budget.admitted, check.Equals, 3)

	res, ok := s.recvResult(c, s.runTenant("dd", 4))
	c.Assert(ok, check.Equals, true)
	c.Check(res.err, check.Equals, candela.ErrAtCapacity)
	c.Check(s.sch.entries["dd"], check.IsNil)
	c.Check(s.sch.budget.admitted, check.Equals, 3)
	c.Check(s.pool.stoppedIDs(), check.IsNil)
}

// A node that exits on its own releases its slot, and the finish
// notice for the fleet manager carries the failure.
func (s *SchedulerSuite) TestNodeFailureNotice(c *check.C) {
	s.runTenant("aa", 1)
	s.nodeReady("aa", 4040, 4041)
	s.nodeFinished("aa", errors.New("node driver panicked: oom"))
	c.Check(s.sch.entries["aa"], check.IsNil)
	c.Check(s.sch.budget.admitted, check.Equals, 0)
	c.Check(s.sch.recency.len(), check.Equals, 0)
	select {
	case notice := <-s.sch.Notices():
		c.Check(notice, check.DeepEquals, candela.TenantFinishedNotice{
			TenantID: "aa",
			LeaseID:  1,
			HostID:   7,
			Failure:  "node driver panicked: oom",
		})
	default:
		c.Error("no tenant-finished notice")
	}
}

// Stray ready reports (unknown tenant, duplicate, already evicting)
// don't disturb the table.
func (s *SchedulerSuite) TestStrayReports(c *check.C) {
	s.nodeReady("nn", 1, 2)
	c.Check(s.sch.entries, check.HasLen, 0)

	s.runTenant("aa", 1)
	s.nodeReady("aa", 4040, 4041)
	s.nodeReady("aa", 5050, 5051)
	c.Check(s.sch.entries["aa"].ports.AppPort, check.Equals, 4040)

	s.evictTenant("aa")
	s.nodeReady("aa", 6060, 6061)
	c.Check(s.sch.entries["aa"].state, check.Equals, stateEvicting)
}

// Activity reports bump recency so victim choice follows real use;
// reports for unknown or evicting tenants change nothing.
func (s *SchedulerSuite) TestActivity(c *check.C) {
	s.runTenant("aa", 1)
	s.nodeReady("aa", 4040, 4041)
	s.runTenant("bb", 2)
	s.nodeReady("bb", 4042, 4043)
	c.Check(s.sch.recency.oldestFirst(), check.DeepEquals, []candela.TenantID{"aa", "bb"})

	s.now = s.now.Add(time.Minute)
	s.reportActivity("aa")
	c.Check(s.sch.recency.oldestFirst(), check.DeepEquals, []candela.TenantID{"bb", "aa"})
	c.Check(s.sch.entries["aa"].lastActiveAt, check.Equals, s.now)

	s.reportActivity("nn")
	c.Check(s.sch.recency.len(), check.Equals, 2)

	s.evictTenant("bb")
	wasActive := s.sch.entries["bb"].lastActiveAt
	s.now = s.now.Add(time.Minute)
	s.reportActivity("bb")
	c.Check(s.sch.entries["bb"].lastActiveAt, check.Equals, wasActive)
	c.Check(s.sch.recency.contains("bb"), check.Equals, false)
}

// Views and status reflect the table without consulting the pool.
func (s *SchedulerSuite) TestViewsAndStatus(c *check.C) {
	s.runTenant("bb", 2)
	s.nodeReady("bb", 4040, 4041)
	s.now = s.now.Add(time.Minute)
	s.runTenant("aa", 1)

	views := s.sch.tenantViews()
	c.Assert(views, check.HasLen, 2)
	c.Check(views[0].TenantID, check.Equals, candela.TenantID("aa"))
	c.Check(views[0].State, check.Equals, "Starting")
	c.Check(views[0].AppPort, check.Equals, 0)
	c.Check(views[1].TenantID, check.Equals, candela.TenantID("bb"))
	c.Check(views[1].State, check.Equals, "Running")
	c.Check(views[1].AppPort, check.Equals, 4040)
	c.Check(views[1].LeaseID, check.Equals, candela.LeaseID(2))
	c.Check(views[1].MemoryEstimate, check.Equals, candela.ByteSize(3))

	st := s.sch.hostStatus(s.now)
	c.Check(st.HostID, check.Equals, candela.HostID(7))
	c.Check(st.TenantsStarting, check.Equals, 1)
	c.Check(st.TenantsRunning, check.Equals, 1)
	c.Check(st.SlotsUsed, check.Equals, 2)
	c.Check(st.SlotsSoft, check.Equals, 2)
	c.Check(st.SlotsHard, check.Equals, 3)
	c.Check(st.MemoryAdmitted, check.Equals, candela.ByteSize(6))
	c.Check(st.Memory, check.Equals, "6 B admitted of 9 B budget")
}

// While draining, run requests are turned away but evictions still
// resolve.
func (s *SchedulerSuite) TestDrainingCommands(c *check.C) {
	s.runTenant("aa", 1)

	ready := make(chan runResult, 1)
	s.sch.handleDrainingCommand(schedCmd{run: &runCmd{RunRequest: candela.RunRequest{TenantID: "bb", LeaseID: 2, HostID: 7}, ready: ready}}, s.now)
	res, ok := s.recvResult(c, ready)
	c.Assert(ok, check.Equals, true)
	c.Check(res.err, check.Equals, candela.ErrShuttingDown)
	c.Check(s.sch.entries["bb"], check.IsNil)

	stopped := make(chan struct{})
	s.sch.handleDrainingCommand(schedCmd{evict: &evictCmd{EvictRequest: candela.EvictRequest{TenantID: "aa", HostID: 7}, stopped: stopped}}, s.now)
	c.Check(s.sch.entries["aa"].state, check.Equals, stateEvicting)
	s.nodeFinished("aa", nil)
	c.Check(resolved(stopped), check.Equals, true)
}

// Walk the whole lifecycle with the stock memory figures: 2GiB total
// minus 200MiB overhead gives 28 hard slots of 64MiB each, and 2
// buffer slots put the soft limit at 26.
func (s *SchedulerSuite) TestStockBudgetLifecycle(c *check.C) {
	cluster, err := config.DefaultCluster()
	c.Assert(err, check.IsNil)
	cluster.NodeHost.HostID = 1
	pool := newStubPool()
	sch := newTestScheduler(c, cluster, pool)
	c.Assert(sch.budget.hardSlots(), check.Equals, 28)
	c.Assert(sch.budget.softSlots(), check.Equals, 26)
	now := time.Date(2026, 1, 20, 15, 0, 0, 0, time.UTC)

	tenant := func(i int) candela.TenantID {
		return candela.TenantID(fmt.Sprintf("tenant%02d", i))
	}
	run := func(i int) chan runResult {
		ready := make(chan runResult, 1)
		sch.handleCommand(schedCmd{run: &runCmd{RunRequest: candela.RunRequest{
			TenantID: tenant(i),
			LeaseID:  candela.LeaseID(i + 1),
			HostID:   1,
		}, ready: ready}}, now)
		return ready
	}

	// 26 tenants fit without touching the buffer headroom.
	for i := 0; i < 26; i++ {
		run(i)
		sch.handleEvent(supervisor.Event{
			Kind:     supervisor.Ready,
			TenantID: tenant(i),
			Ports:    candela.RunPorts{TenantID: tenant(i), AppPort: 10000 + i, APIPort: 20000 + i},
		}, now)
		now = now.Add(time.Second)
	}
	c.Check(sch.budget.admitted, check.Equals, 26)
	c.Check(pool.stoppedIDs(), check.IsNil)

	// The 27th still fits under the hard limit but eats into the
	// headroom, so the least recently active tenant is retired to
	// make room for it.
	ready := run(26)
	c.Check(sch.budget.admitted, check.Equals, 26)
	c.Check(pool.stoppedIDs(), check.DeepEquals, []candela.TenantID{"tenant00"})
	c.Check(sch.entries["tenant00"].state, check.Equals, stateEvicting)
	c.Check(sch.entries["tenant00"].evictReason, check.Equals, evictReasonHeadroom)
	c.Check(sch.entries["tenant26"].state, check.Equals, stateStarting)

	// Evicting the newcomer while it is still starting is legal and
	// frees its slot immediately.
	stopped := make(chan struct{})
	sch.handleCommand(schedCmd{evict: &evictCmd{EvictRequest: candela.EvictRequest{TenantID: "tenant26", HostID: 1}, stopped: stopped}}, now)
	c.Check(sch.entries["tenant26"].state, check.Equals, stateEvicting)
	c.Check(sch.budget.admitted, check.Equals, 25)

	// Both evicted nodes wind down; their waiters are told.
	sch.handleEvent(supervisor.Event{Kind: supervisor.Finished, TenantID: "tenant26"}, now)
	c.Check(resolved(stopped), check.Equals, true)
	select {
	case res, ok := <-ready:
		c.Assert(ok, check.Equals, true)
		c.Check(res.err, check.Equals, candela.ErrNodeExited)
	default:
		c.Error("run notifier was not resolved")
	}
	sch.handleEvent(supervisor.Event{Kind: supervisor.Finished, TenantID: "tenant00"}, now)
	c.Check(sch.budget.admitted, check.Equals, 25)
	c.Check(sch.entries, check.HasLen, 25)

	// A request addressed to another host changes nothing.
	misdirected := make(chan runResult, 1)
	sch.handleCommand(schedCmd{run: &runCmd{RunRequest: candela.RunRequest{TenantID: "tenant99", LeaseID: 99, HostID: 2}, ready: misdirected}}, now)
	_, ok := <-misdirected
	c.Check(ok, check.Equals, false)
	c.Check(sch.budget.admitted, check.Equals, 25)
}
