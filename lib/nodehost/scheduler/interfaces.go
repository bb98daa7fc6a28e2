// Copyright (C) The Candela Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scheduler

import (
	"git.candela.io/candela.git/lib/nodehost/supervisor"
	"git.candela.io/candela.git/sdk/go/candela"
)

// A NodePool runs tenant node tasks and reports their lifecycle.
// Implemented by supervisor.Pool; the tests provide a stub.
type NodePool interface {
	// Start spawns the node task for one tenant. Starting a tenant
	// that already has a live task is an error.
	Start(candela.NodeSpec) error
	// Stop signals a tenant's node task to wind down; it is a no-op
	// for a tenant with no task.
	Stop(candela.TenantID)
	// Events reports node readiness and completion. Every started
	// task yields exactly one Finished event.
	Events() <-chan supervisor.Event
	// Len is the number of node tasks that have not finished.
	Len() int
}
