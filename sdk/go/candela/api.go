// Copyright (C) The Candela Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package candela

import "time"

// RunRequest asks a nodehost to run a tenant's node, or renews the
// lease on a node that is already running. The fleet manager re-sends
// RunRequests on the lease renewal interval as a heartbeat.
type RunRequest struct {
	TenantID TenantID `json:"tenant_id"`
	LeaseID  LeaseID  `json:"lease_id"`
	HostID   HostID   `json:"host_id"`
	// ShutdownAfterSync tells the node to exit on its own after
	// completing one sync cycle, instead of serving indefinitely.
	ShutdownAfterSync bool `json:"shutdown_after_sync"`
}

// EvictRequest asks a nodehost to stop a tenant's node. Eviction is
// idempotent: evicting an unknown tenant succeeds immediately.
type EvictRequest struct {
	TenantID TenantID `json:"tenant_id"`
	HostID   HostID   `json:"host_id"`
}

// ActivityReport marks a tenant as recently active. Fire-and-forget;
// reports for unknown or evicting tenants are dropped.
type ActivityReport struct {
	TenantID TenantID `json:"tenant_id"`
}

// RunPorts is the answer to a successful RunRequest: the ports the
// tenant's node is serving on. AppPort carries the wallet app's
// traffic, APIPort the backend's maintenance traffic. Both are zero
// for a node started with ShutdownAfterSync, which never serves.
type RunPorts struct {
	TenantID TenantID `json:"tenant_id"`
	AppPort  int      `json:"app_port"`
	APIPort  int      `json:"api_port"`
}

// A TenantView shows an admitted tenant's current state and recent
// activity.
type TenantView struct {
	TenantID       TenantID  `json:"tenant_id"`
	LeaseID        LeaseID   `json:"lease_id"`
	State          string    `json:"state"`
	StartedAt      time.Time `json:"started_at"`
	LastActiveAt   time.Time `json:"last_active_at"`
	AppPort        int       `json:"app_port"`
	APIPort        int       `json:"api_port"`
	MemoryEstimate ByteSize  `json:"memory_estimate"`
}

// NodeSpec carries everything a node driver needs to run one
// tenant's node.
type NodeSpec struct {
	TenantID          TenantID `json:"tenant_id"`
	LeaseID           LeaseID  `json:"lease_id"`
	HostID            HostID   `json:"host_id"`
	ShutdownAfterSync bool     `json:"shutdown_after_sync"`
}

// HostReadyNotice announces a nodehost to the fleet manager once it
// is listening for commands.
type HostReadyNotice struct {
	HostID HostID `json:"host_id"`
	URL    string `json:"url"`
}

// TenantFinishedNotice tells the fleet manager that a tenant's node
// has terminated, so the lease can be released. Failure is the node's
// exit error, or empty for a clean exit.
type TenantFinishedNotice struct {
	TenantID TenantID `json:"tenant_id"`
	LeaseID  LeaseID  `json:"lease_id"`
	HostID   HostID   `json:"host_id"`
	Failure  string   `json:"failure,omitempty"`
}
