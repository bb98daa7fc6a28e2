// Copyright (C) The Candela Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scheduler

import (
	"context"

	"git.candela.io/candela.git/sdk/go/candela"
)

// A schedCmd carries one inbound command to the scheduler loop.
// Exactly one field is set. One channel for all commands keeps
// arrival order: a renewal submitted before an eviction of the same
// tenant is always handled first.
type schedCmd struct {
	run      *runCmd
	evict    *evictCmd
	activity *activityCmd
	views    *viewsCmd
	status   *statusCmd
}

type runCmd struct {
	candela.RunRequest
	ready chan<- runResult
}

// A runResult resolves one ready notifier. The loop sends exactly one
// result per notifier, except for misdirected requests, whose
// notifier is closed without a value.
type runResult struct {
	ports candela.RunPorts
	err   error
}

type evictCmd struct {
	candela.EvictRequest
	stopped chan<- struct{}
}

type activityCmd struct {
	candela.ActivityReport
}

type viewsCmd struct {
	reply chan<- []candela.TenantView
}

type statusCmd struct {
	reply chan<- HostStatus
}

// RunTenant admits a tenant's node, or renews the lease on one that
// is already admitted, and waits for the node to report the ports it
// serves on. A caller that gives up waiting abandons only its own
// wait: the admission itself stands, and the node keeps starting.
func (sch *Scheduler) RunTenant(ctx context.Context, req candela.RunRequest) (candela.RunPorts, error) {
	ready := make(chan runResult, 1)
	select {
	case sch.commands <- schedCmd{run: &runCmd{RunRequest: req, ready: ready}}:
	case <-sch.stopped:
		return candela.RunPorts{}, candela.ErrShuttingDown
	case <-ctx.Done():
		return candela.RunPorts{}, ctx.Err()
	}
	select {
	case res, ok := <-ready:
		return runReply(res, ok)
	case <-sch.stopped:
		// Prefer a result that arrived just before the loop
		// exited.
		select {
		case res, ok := <-ready:
			return runReply(res, ok)
		default:
			return candela.RunPorts{}, candela.ErrShuttingDown
		}
	case <-ctx.Done():
		return candela.RunPorts{}, ctx.Err()
	}
}

func runReply(res runResult, ok bool) (candela.RunPorts, error) {
	if !ok {
		return candela.RunPorts{}, candela.ErrMisdirected
	}
	return res.ports, res.err
}

// EvictTenant stops a tenant's node and waits until it has wound
// down. Eviction is idempotent: a tenant that is not running here,
// including one whose request was addressed to another host, is
// reported stopped immediately.
func (sch *Scheduler) EvictTenant(ctx context.Context, req candela.EvictRequest) error {
	stopped := make(chan struct{})
	select {
	case sch.commands <- schedCmd{evict: &evictCmd{EvictRequest: req, stopped: stopped}}:
	case <-sch.stopped:
		// Host drain already stopped every node.
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-stopped:
		return nil
	case <-sch.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReportActivity marks a tenant as recently active. Reports are
// dropped once the scheduler stops.
func (sch *Scheduler) ReportActivity(ctx context.Context, report candela.ActivityReport) {
	select {
	case sch.commands <- schedCmd{activity: &activityCmd{ActivityReport: report}}:
	case <-sch.stopped:
	case <-ctx.Done():
	}
}

// TenantViews reports a snapshot of all admitted tenants, sorted by
// tenant id.
func (sch *Scheduler) TenantViews(ctx context.Context) ([]candela.TenantView, error) {
	reply := make(chan []candela.TenantView, 1)
	select {
	case sch.commands <- schedCmd{views: &viewsCmd{reply: reply}}:
	case <-sch.stopped:
		return nil, candela.ErrShuttingDown
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	// The loop answers synchronously once it has accepted the
	// command.
	return <-reply, nil
}

// Status reports the host's admission state.
func (sch *Scheduler) Status(ctx context.Context) (HostStatus, error) {
	reply := make(chan HostStatus, 1)
	select {
	case sch.commands <- schedCmd{status: &statusCmd{reply: reply}}:
	case <-sch.stopped:
		return HostStatus{}, candela.ErrShuttingDown
	case <-ctx.Done():
		return HostStatus{}, ctx.Err()
	}
	return <-reply, nil
}
