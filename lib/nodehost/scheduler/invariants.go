// Copyright (C) The Candela Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scheduler

import "fmt"

// checkInvariants cross-checks the tenant table, the budget, and the
// recency tracker after every command, event, and sweep. The checks
// are cheap relative to the work that triggers them, and scheduling
// on drifted accounting would be unsafe.
func (sch *Scheduler) checkInvariants() {
	admitted := 0
	for id, ent := range sch.entries {
		if ent.tenantID != id {
			sch.accountingError("entry for tenant %s is recorded under key %s", ent.tenantID, id)
		}
		switch ent.state {
		case stateStarting, stateRunning:
			admitted++
			if !sch.recency.contains(id) {
				sch.accountingError("tenant %s is %s but missing from the recency tracker", id, ent.state)
			}
		case stateEvicting:
			if sch.recency.contains(id) {
				sch.accountingError("tenant %s is evicting but still in the recency tracker", id)
			}
		default:
			sch.accountingError("tenant %s has illegal state %q", id, ent.state)
		}
	}
	if sch.budget.admitted != admitted {
		sch.accountingError("budget counts %d admitted tenants, the table has %d", sch.budget.admitted, admitted)
	}
	if int64(admitted)*sch.budget.estimate > sch.budget.hardLimit {
		sch.accountingError("%d admitted tenants exceed the memory budget", admitted)
	}
	if n := sch.recency.len(); n != admitted {
		sch.accountingError("recency tracker holds %d tenants, the table has %d in Starting or Running", n, admitted)
	}
}

// accountingError reports internal bookkeeping drift. The default is
// to panic; with StrictAccounting off it logs, counts, and keeps
// going on the drifted books.
func (sch *Scheduler) accountingError(format string, args ...interface{}) {
	if sch.strict {
		panic(fmt.Sprintf(format, args...))
	}
	sch.logger.Errorf("invariant violated: "+format, args...)
	sch.mInvariantViolations.Inc()
}
