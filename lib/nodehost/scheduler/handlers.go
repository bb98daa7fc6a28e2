// Copyright (C) The Candela Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scheduler

import (
	"time"

	"git.candela.io/candela.git/lib/nodehost/supervisor"
	"git.candela.io/candela.git/sdk/go/candela"
	"github.com/sirupsen/logrus"
)

func (sch *Scheduler) handleRunRequest(cmd *runCmd, now time.Time) {
	logger := sch.logger.WithFields(logrus.Fields{
		"TenantID": cmd.TenantID,
		"LeaseID":  cmd.LeaseID,
	})
	if cmd.HostID != sch.hostID {
		logger.WithField("HostID", cmd.HostID).Debug("dropping misdirected run request")
		close(cmd.ready)
		return
	}
	sch.lastActivity = now

	if ent, ok := sch.entries[cmd.TenantID]; ok {
		// Renewal heartbeat for a tenant that is already here.
		if ent.state == stateEvicting {
			logger.Debug("run request for evicting tenant")
			cmd.ready <- runResult{err: candela.ErrTenantEvicting}
			return
		}
		ent.leaseID = cmd.LeaseID
		ent.lastActiveAt = now
		sch.touch(ent.tenantID)
		switch {
		case ent.state == stateRunning:
			cmd.ready <- runResult{ports: ent.ports}
		case ent.shutdownAfterSync:
			cmd.ready <- runResult{ports: candela.RunPorts{TenantID: ent.tenantID}}
		default:
			ent.ready = append(ent.ready, cmd.ready)
		}
		return
	}

	// Make room under the hard limit before admitting.
	for !sch.budget.fits(1) {
		if !sch.evictVictim(evictReasonPressure) {
			logger.WithField("Admitted", sch.budget.admitted).Info("admission denied, nothing left to evict")
			sch.mAdmissionsDenied.Inc()
			cmd.ready <- runResult{err: candela.ErrAtCapacity}
			return
		}
	}
	// Keep the buffer headroom free by retiring one idle node early.
	if sch.budget.overSoft(1) {
		sch.evictVictim(evictReasonHeadroom)
	}

	ent := &tenantEntry{
		tenantID:          cmd.TenantID,
		leaseID:           cmd.LeaseID,
		state:             stateStarting,
		startedAt:         now,
		lastActiveAt:      now,
		shutdownAfterSync: cmd.ShutdownAfterSync,
	}
	sch.entries[ent.tenantID] = ent
	sch.budget.acquire()
	sch.touch(ent.tenantID)
	err := sch.pool.Start(candela.NodeSpec{
		TenantID:          cmd.TenantID,
		LeaseID:           cmd.LeaseID,
		HostID:            sch.hostID,
		ShutdownAfterSync: cmd.ShutdownAfterSync,
	})
	if err != nil {
		logger.WithError(err).Warn("node task failed to start")
		delete(sch.entries, ent.tenantID)
		sch.budget.release()
		sch.recency.remove(ent.tenantID)
		cmd.ready <- runResult{err: err}
		return
	}
	sch.mAdmissions.Inc()
	logger.WithField("Admitted", sch.budget.admitted).Info("tenant admitted")
	if cmd.ShutdownAfterSync {
		// The node exits on its own after syncing and never
		// reports ports.
		cmd.ready <- runResult{ports: candela.RunPorts{TenantID: ent.tenantID}}
	} else {
		ent.ready = append(ent.ready, cmd.ready)
	}
}

func (sch *Scheduler) handleEvictRequest(cmd *evictCmd, now time.Time) {
	logger := sch.logger.WithField("TenantID", cmd.TenantID)
	if cmd.HostID != sch.hostID {
		logger.WithField("HostID", cmd.HostID).Debug("misdirected evict request, tenant is not running here")
		close(cmd.stopped)
		return
	}
	sch.lastActivity = now
	ent, ok := sch.entries[cmd.TenantID]
	if !ok {
		logger.Debug("evict request for unknown tenant, already stopped")
		close(cmd.stopped)
		return
	}
	if ent.state != stateEvicting {
		sch.beginEviction(ent, evictReasonRequested)
	}
	ent.stopped = append(ent.stopped, cmd.stopped)
}

func (sch *Scheduler) handleActivity(cmd *activityCmd, now time.Time) {
	sch.lastActivity = now
	if ent, ok := sch.entries[cmd.TenantID]; ok && ent.state != stateEvicting {
		ent.lastActiveAt = now
		sch.touch(ent.tenantID)
	}
}

// evictVictim begins eviction of the least recently active Running
// tenant, freeing one admission slot. It reports false if no tenant
// is in a state to be evicted.
func (sch *Scheduler) evictVictim(reason string) bool {
	for _, id := range sch.recency.oldestFirst() {
		if ent := sch.entries[id]; ent != nil && ent.state == stateRunning {
			sch.beginEviction(ent, reason)
			return true
		}
	}
	return false
}

// beginEviction moves an entry to Evicting: out of the recency index
// so it cannot be chosen again, out of the admission count, and its
// node told to stop. The entry itself stays until the node's finish
// is observed; any notifiers it holds resolve then.
func (sch *Scheduler) beginEviction(ent *tenantEntry, reason string) {
	sch.logger.WithFields(logrus.Fields{
		"TenantID": ent.tenantID,
		"LeaseID":  ent.leaseID,
		"State":    ent.state,
		"Reason":   reason,
	}).Info("evicting tenant")
	ent.state = stateEvicting
	ent.evictReason = reason
	sch.recency.remove(ent.tenantID)
	sch.budget.release()
	sch.pool.Stop(ent.tenantID)
	sch.mEvictions.WithLabelValues(reason).Inc()
}

func (sch *Scheduler) handleReady(ev supervisor.Event, now time.Time) {
	logger := sch.logger.WithFields(logrus.Fields{
		"TenantID": ev.TenantID,
		"AppPort":  ev.Ports.AppPort,
		"APIPort":  ev.Ports.APIPort,
	})
	ent, ok := sch.entries[ev.TenantID]
	if !ok {
		logger.Info("ready report for unknown tenant, ignoring")
		return
	}
	if ent.state != stateStarting {
		logger.WithField("State", ent.state).Info("ready report for tenant not in Starting, ignoring")
		return
	}
	ent.state = stateRunning
	ent.ports = ev.Ports
	ent.lastActiveAt = now
	sch.touch(ent.tenantID)
	for _, ch := range ent.ready {
		ch <- runResult{ports: ent.ports}
	}
	ent.ready = nil
	logger.Info("tenant node ready")
}

func (sch *Scheduler) handleNodeFinished(ev supervisor.Event, now time.Time) {
	logger := sch.logger.WithField("TenantID", ev.TenantID)
	ent, ok := sch.entries[ev.TenantID]
	if !ok {
		// Every finish should match an entry; a stray one means
		// the pool and the table have drifted apart.
		logger.WithError(ev.Err).Error("finish report for unknown tenant")
		return
	}
	if ent.state != stateEvicting {
		// Self-exit or crash: do the bookkeeping an eviction
		// would have done.
		sch.recency.remove(ent.tenantID)
		sch.budget.release()
	}
	delete(sch.entries, ent.tenantID)
	if ent.evictReason != "" {
		logger = logger.WithField("Reason", ent.evictReason)
	}
	if ev.Err != nil {
		logger.WithError(ev.Err).Warn("tenant node failed")
		sch.mNodeFailures.Inc()
	} else {
		logger.Info("tenant node finished")
	}
	for _, ch := range ent.stopped {
		close(ch)
	}
	for _, ch := range ent.ready {
		ch <- runResult{err: candela.ErrNodeExited}
	}
	ent.stopped, ent.ready = nil, nil
	notice := candela.TenantFinishedNotice{
		TenantID: ent.tenantID,
		LeaseID:  ent.leaseID,
		HostID:   sch.hostID,
	}
	if ev.Err != nil {
		notice.Failure = ev.Err.Error()
	}
	select {
	case sch.notices <- notice:
	default:
		logger.Warn("notice reader is behind, dropping tenant-finished notice")
	}
}

// touch bumps a tenant in the recency tracker, reporting drift if the
// tracker overflowed.
func (sch *Scheduler) touch(id candela.TenantID) {
	if sch.recency.touch(id) {
		sch.accountingError("recency tracker overflowed and dropped a tenant while tracking %s", id)
	}
}
