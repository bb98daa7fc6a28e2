// Copyright (C) The Candela Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scheduler

import (
	"time"

	"git.candela.io/candela.git/sdk/go/candela"
)

type tenantState string

const (
	stateStarting tenantState = "Starting"
	stateRunning  tenantState = "Running"
	stateEvicting tenantState = "Evicting"
)

const (
	evictReasonRequested = "requested"
	evictReasonPressure  = "memory pressure"
	evictReasonHeadroom  = "headroom"
	evictReasonIdle      = "idle"
	evictReasonShutdown  = "shutdown"
)

// A tenantEntry is the scheduler's record of one admitted tenant. The
// entry holds its own pending notifiers, so resolving them never
// needs a lookup in the other direction.
type tenantEntry struct {
	tenantID          candela.TenantID
	leaseID           candela.LeaseID
	state             tenantState
	startedAt         time.Time
	lastActiveAt      time.Time
	shutdownAfterSync bool
	ports             candela.RunPorts
	evictReason       string

	// pending notifiers; each resolves exactly once
	ready   []chan<- runResult
	stopped []chan<- struct{}
}
