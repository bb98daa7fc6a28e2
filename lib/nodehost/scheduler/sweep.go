// Copyright (C) The Candela Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scheduler

import (
	"time"

	"git.candela.io/candela.git/sdk/go/stats"
)

// sweepIdleTenants evicts nodes whose tenants have gone longer than
// TenantInactivityTimeout without a run, renewal, or activity report.
// The recency tracker orders entries by last activity, so the walk
// stops at the first fresh one. A zero timeout disables the sweep.
func (sch *Scheduler) sweepIdleTenants(now time.Time) {
	if sch.tenantInactivityTimeout == 0 {
		return
	}
	for _, id := range sch.recency.oldestFirst() {
		ent := sch.entries[id]
		if ent == nil {
			continue
		}
		if now.Sub(ent.lastActiveAt) <= sch.tenantInactivityTimeout {
			break
		}
		if ent.state == stateRunning {
			sch.beginEviction(ent, evictReasonIdle)
		}
	}
}

// maybeShutdownHost fires the one-shot host shutdown signal once no
// tenant is left in any state and nothing has happened for
// HostInactivityTimeout. A zero timeout keeps the host up forever.
func (sch *Scheduler) maybeShutdownHost(now time.Time) {
	if sch.hostInactivityTimeout == 0 || sch.doneFired {
		return
	}
	if len(sch.entries) > 0 || now.Sub(sch.lastActivity) <= sch.hostInactivityTimeout {
		return
	}
	sch.logger.WithField("IdleFor", stats.Duration(now.Sub(sch.lastActivity))).Info("host idle, requesting shutdown")
	sch.doneFired = true
	close(sch.done)
}
