// Copyright (C) The Candela Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package scheduler decides which tenants' nodes run on this host.
//
// A single goroutine owns all scheduling state: it admits tenants
// within the host's memory budget, evicts the least recently active
// nodes to make room, sweeps out idle nodes on a timer, and asks for
// the whole host to shut down once nothing has happened for long
// enough. Node tasks run concurrently in a supervisor pool and talk
// back only through the pool's event stream.
package scheduler

import (
	"context"
	"sync"
	"time"

	"git.candela.io/candela.git/lib/nodehost/supervisor"
	"git.candela.io/candela.git/sdk/go/candela"
	"git.candela.io/candela.git/sdk/go/ctxlog"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// A Scheduler admits, tracks, and evicts tenant nodes. Callers submit
// work with RunTenant, EvictTenant, and ReportActivity; the node pool
// reports back through its event stream. All decisions are made on
// one goroutine, so the budget, the recency tracker, and the tenant
// table have exactly one mutator and need no locks.
type Scheduler struct {
	logger logrus.FieldLogger
	hostID candela.HostID
	pool   NodePool

	tenantInactivityTimeout time.Duration
	hostInactivityTimeout   time.Duration
	sweepInterval           time.Duration
	shutdownGrace           time.Duration
	strict                  bool

	budget  *memoryBudget
	recency *recencyTracker
	entries map[candela.TenantID]*tenantEntry

	commands chan schedCmd
	notices  chan candela.TenantFinishedNotice

	startedAt    time.Time
	lastActivity time.Time
	doneFired    bool

	runOnce  sync.Once
	stopOnce sync.Once
	stop     chan struct{}
	stopped  chan struct{}
	done     chan struct{}

	mTenants             *prometheus.GaugeVec
	mMemoryAdmitted      prometheus.Gauge
	mAdmissions          prometheus.Counter
	mAdmissionsDenied    prometheus.Counter
	mEvictions           *prometheus.CounterVec
	mNodeFailures        prometheus.Counter
	mInvariantViolations prometheus.Counter
}

// New returns a new unstarted Scheduler for the given host config.
//
// Any given pool should not be used by more than one scheduler at a
// time.
func New(ctx context.Context, cluster *candela.Cluster, pool NodePool, reg *prometheus.Registry) *Scheduler {
	conf := cluster.NodeHost
	sch := &Scheduler{
		logger:                  ctxlog.FromContext(ctx),
		hostID:                  conf.HostID,
		pool:                    pool,
		tenantInactivityTimeout: conf.TenantInactivityTimeout.Duration(),
		hostInactivityTimeout:   conf.HostInactivityTimeout.Duration(),
		sweepInterval:           conf.SweepInterval.Duration(),
		shutdownGrace:           conf.ShutdownGrace.Duration(),
		strict:                  conf.StrictAccounting,
		budget:                  newMemoryBudget(conf),
		entries:                 map[candela.TenantID]*tenantEntry{},
		commands:                make(chan schedCmd),
		startedAt:               time.Now(),
		stop:                    make(chan struct{}),
		stopped:                 make(chan struct{}),
		done:                    make(chan struct{}),
	}
	sch.lastActivity = sch.startedAt
	// Capacity above the admissible maximum: the tracker must never
	// evict on its own account (see checkInvariants).
	sch.recency = newRecencyTracker(sch.budget.hardSlots() + 1)
	sch.notices = make(chan candela.TenantFinishedNotice, sch.budget.hardSlots())
	sch.registerMetrics(reg)
	sch.logger.WithFields(logrus.Fields{
		"HostID":    sch.hostID,
		"HardLimit": humanize.IBytes(uint64(sch.budget.hardLimit)),
		"SoftLimit": humanize.IBytes(uint64(sch.budget.softLimit)),
		"Estimate":  humanize.IBytes(uint64(sch.budget.estimate)),
		"HardSlots": sch.budget.hardSlots(),
		"SoftSlots": sch.budget.softSlots(),
	}).Info("memory budget computed")
	return sch
}

func (sch *Scheduler) registerMetrics(reg *prometheus.Registry) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	sch.mTenants = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "candela",
		Subsystem: "nodehost",
		Name:      "tenants",
		Help:      "Number of tenant nodes on this host, by state.",
	}, []string{"state"})
	reg.MustRegister(sch.mTenants)
	sch.mMemoryAdmitted = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "candela",
		Subsystem: "nodehost",
		Name:      "memory_admitted_bytes",
		Help:      "Estimated memory committed to admitted tenant nodes.",
	})
	reg.MustRegister(sch.mMemoryAdmitted)
	mMemoryHardLimit := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "candela",
		Subsystem: "nodehost",
		Name:      "memory_hard_limit_bytes",
		Help:      "Memory available for tenant nodes after the host overhead reservation.",
	})
	reg.MustRegister(mMemoryHardLimit)
	mMemoryHardLimit.Set(float64(sch.budget.hardLimit))
	mMemorySoftLimit := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "candela",
		Subsystem: "nodehost",
		Name:      "memory_soft_limit_bytes",
		Help:      "Admission level above which idle tenants are evicted to keep buffer headroom.",
	})
	reg.MustRegister(mMemorySoftLimit)
	mMemorySoftLimit.Set(float64(sch.budget.softLimit))
	sch.mAdmissions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "candela",
		Subsystem: "nodehost",
		Name:      "admissions_total",
		Help:      "Number of tenant nodes admitted.",
	})
	reg.MustRegister(sch.mAdmissions)
	sch.mAdmissionsDenied = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "candela",
		Subsystem: "nodehost",
		Name:      "admissions_denied_total",
		Help:      "Number of run requests denied because the memory budget was exhausted.",
	})
	reg.MustRegister(sch.mAdmissionsDenied)
	sch.mEvictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "candela",
		Subsystem: "nodehost",
		Name:      "evictions_total",
		Help:      "Number of evictions begun, by reason.",
	}, []string{"reason"})
	reg.MustRegister(sch.mEvictions)
	sch.mNodeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "candela",
		Subsystem: "nodehost",
		Name:      "node_failures_total",
		Help:      "Number of tenant nodes that exited with an error.",
	})
	reg.MustRegister(sch.mNodeFailures)
	sch.mInvariantViolations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "candela",
		Subsystem: "nodehost",
		Name:      "invariant_violations_total",
		Help:      "Number of internal accounting errors tolerated because StrictAccounting is off.",
	})
	reg.MustRegister(sch.mInvariantViolations)
}

func (sch *Scheduler) updateMetrics() {
	starting, running, evicting := 0, 0, 0
	for _, ent := range sch.entries {
		switch ent.state {
		case stateStarting:
			starting++
		case stateRunning:
			running++
		case stateEvicting:
			evicting++
		}
	}
	sch.mTenants.WithLabelValues(string(stateStarting)).Set(float64(starting))
	sch.mTenants.WithLabelValues(string(stateRunning)).Set(float64(running))
	sch.mTenants.WithLabelValues(string(stateEvicting)).Set(float64(evicting))
	sch.mMemoryAdmitted.Set(float64(int64(sch.budget.admitted) * sch.budget.estimate))
}

// Start starts the scheduler loop.
func (sch *Scheduler) Start() {
	go sch.runOnce.Do(sch.run)
}

// Stop evicts every remaining tenant, waits for their nodes to wind
// down (bounded by ShutdownGrace), and stops the loop. Stop returns
// after the loop has exited; afterward RunTenant reports
// ErrShuttingDown and evictions succeed immediately. Stop must not be
// called before Start.
func (sch *Scheduler) Stop() {
	sch.stopOnce.Do(func() { close(sch.stop) })
	<-sch.stopped
}

// Done returns a channel that closes when the host has sat empty and
// idle for HostInactivityTimeout and wants the surrounding process to
// exit. It fires at most once.
func (sch *Scheduler) Done() <-chan struct{} {
	return sch.done
}

// Notices returns the stream of tenant-finished notices for delivery
// to the fleet manager. The scheduler never blocks here: a notice is
// dropped with a warning if the reader falls behind. The channel
// closes when the scheduler stops.
func (sch *Scheduler) Notices() <-chan candela.TenantFinishedNotice {
	return sch.notices
}

func (sch *Scheduler) run() {
	defer close(sch.stopped)
	defer close(sch.notices)
	sweep := time.NewTicker(sch.sweepInterval)
	defer sweep.Stop()
	for {
		select {
		case <-sch.stop:
			sch.drain()
			return
		default:
		}
		select {
		case <-sch.stop:
			sch.drain()
			return
		case cmd := <-sch.commands:
			sch.handleCommand(cmd, time.Now())
		case ev := <-sch.pool.Events():
			sch.handleEvent(ev, time.Now())
		case now := <-sweep.C:
			sch.sweepIdleTenants(now)
			sch.maybeShutdownHost(now)
			sch.checkInvariants()
		}
		sch.updateMetrics()
	}
}

func (sch *Scheduler) handleCommand(cmd schedCmd, now time.Time) {
	switch {
	case cmd.run != nil:
		sch.handleRunRequest(cmd.run, now)
	case cmd.evict != nil:
		sch.handleEvictRequest(cmd.evict, now)
	case cmd.activity != nil:
		sch.handleActivity(cmd.activity, now)
	case cmd.views != nil:
		cmd.views.reply <- sch.tenantViews()
	case cmd.status != nil:
		cmd.status.reply <- sch.hostStatus(now)
	}
	sch.checkInvariants()
}

func (sch *Scheduler) handleEvent(ev supervisor.Event, now time.Time) {
	sch.lastActivity = now
	switch ev.Kind {
	case supervisor.Ready:
		sch.handleReady(ev, now)
	case supervisor.Finished:
		sch.handleNodeFinished(ev, now)
	}
	sch.checkInvariants()
}

// drain begins eviction of every live tenant and keeps consuming
// events, bounded by ShutdownGrace, until their nodes have wound
// down. Commands are still answered on the way out: run requests get
// a shutting-down rejection, evictions proceed normally, activity is
// dropped.
func (sch *Scheduler) drain() {
	for _, ent := range sch.entries {
		if ent.state != stateEvicting {
			sch.beginEviction(ent, evictReasonShutdown)
		}
	}
	sch.checkInvariants()
	sch.updateMetrics()
	if sch.shutdownGrace == 0 {
		if n := len(sch.entries); n > 0 {
			sch.logger.WithField("Tenants", n).Warn("exiting without waiting for nodes to stop")
		}
		return
	}
	timeout := time.NewTimer(sch.shutdownGrace)
	defer timeout.Stop()
	for len(sch.entries) > 0 {
		select {
		case cmd := <-sch.commands:
			sch.handleDrainingCommand(cmd, time.Now())
		case ev := <-sch.pool.Events():
			sch.handleEvent(ev, time.Now())
		case <-timeout.C:
			sch.logger.WithField("Tenants", len(sch.entries)).Warn("shutdown grace expired with nodes still running")
			return
		}
		sch.updateMetrics()
	}
	sch.logger.Info("all tenant nodes stopped")
}

func (sch *Scheduler) handleDrainingCommand(cmd schedCmd, now time.Time) {
	switch {
	case cmd.run != nil:
		cmd.run.ready <- runResult{err: candela.ErrShuttingDown}
	case cmd.evict != nil:
		sch.handleEvictRequest(cmd.evict, now)
	case cmd.activity != nil:
	case cmd.views != nil:
		cmd.views.reply <- sch.tenantViews()
	case cmd.status != nil:
		cmd.status.reply <- sch.hostStatus(now)
	}
	sch.checkInvariants()
}
