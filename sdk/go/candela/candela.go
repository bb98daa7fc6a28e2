// Copyright (C) The Candela Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package candela provides the API types and client shared by Candela
// services: the fleet manager, which places tenants' Lightning nodes
// across hosts, and the nodehost, which runs the node workers for the
// tenants admitted to one memory-constrained host process.
package candela

import "errors"

// TenantID identifies a tenant (one customer's wallet) by the hex
// encoding of their 256-bit public key. It is opaque to services
// other than the fleet manager and is only ever compared for
// equality.
type TenantID string

// LeaseID is a capability token issued by the fleet manager, scoping
// one admission to one host. Services store and echo lease ids; they
// never validate them cryptographically.
type LeaseID int64

// HostID identifies one nodehost process. Requests carry the id of
// the host they were routed to, so a host can detect requests that
// were meant for a sibling.
type HostID uint16

var (
	// ErrAtCapacity is reported when a run request is denied
	// because the host's memory budget is exhausted even after
	// evicting every eligible tenant.
	ErrAtCapacity = errors.New("admission denied: memory budget exhausted")

	// ErrTenantEvicting is reported when a run request arrives
	// for a tenant whose node is still winding down. The caller
	// retries after the eviction completes.
	ErrTenantEvicting = errors.New("tenant node is evicting")

	// ErrNodeExited is reported when a tenant node terminates
	// before ever reporting readiness.
	ErrNodeExited = errors.New("tenant node exited before becoming ready")

	// ErrShuttingDown is reported for run requests that arrive
	// while the host is draining.
	ErrShuttingDown = errors.New("host is shutting down")

	// ErrMisdirected is reported when a request carries a HostID
	// that does not match the receiving host.
	ErrMisdirected = errors.New("request addressed to a different host")
)
