// Copyright (C) The Candela Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package supervisor runs one goroutine per admitted tenant node and
// merges every node's lifecycle into a single event stream for the
// scheduler.
package supervisor

import (
	"context"
	"fmt"
	"sync"

	"git.candela.io/candela.git/sdk/go/candela"
	"git.candela.io/candela.git/sdk/go/ctxlog"
	"github.com/sirupsen/logrus"
)

// A Driver runs one tenant's node. It must call ready at most once,
// honor stop by returning in bounded time, and return the node's exit
// error, nil for a clean exit. A driver may report ready and then
// return right away (a shutdown-after-sync node does exactly that).
type Driver interface {
	RunNode(ctx context.Context, spec candela.NodeSpec, ready func(candela.RunPorts), stop <-chan struct{}) error
}

// EventKind distinguishes the two node lifecycle events.
type EventKind string

const (
	// Ready reports the ports a node has started serving on.
	Ready EventKind = "ready"
	// Finished reports that a node's task has terminated.
	Finished EventKind = "finished"
)

// An Event reports one node lifecycle change.
type Event struct {
	Kind     EventKind
	TenantID candela.TenantID
	Ports    candela.RunPorts // Ready events only
	Err      error            // Finished events only, nil for a clean exit
}

// A Pool owns the node task goroutines. Start spawns at most one task
// per tenant; Stop signals a task to wind down cooperatively. Every
// started task produces exactly one Finished event, even if the
// driver panics.
type Pool struct {
	logger logrus.FieldLogger
	driver Driver
	ctx    context.Context
	events chan Event

	mtx   sync.Mutex
	tasks map[candela.TenantID]*task
}

type task struct {
	stop     chan struct{}
	stopOnce sync.Once
}

// NewPool returns a Pool that runs nodes with the given driver. The
// pool stops delivering events when ctx is canceled.
func NewPool(ctx context.Context, driver Driver) *Pool {
	return &Pool{
		logger: ctxlog.FromContext(ctx),
		driver: driver,
		ctx:    ctx,
		events: make(chan Event),
		tasks:  map[candela.TenantID]*task{},
	}
}

// Events returns the merged stream of node lifecycle events. Events
// for one node arrive in order; the channel is never closed.
func (p *Pool) Events() <-chan Event {
	return p.events
}

// Len returns the number of node tasks that have not finished yet.
func (p *Pool) Len() int {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return len(p.tasks)
}

// Start spawns the node task for one tenant. Two live tasks for the
// same tenant would make the event stream ambiguous, so a second
// Start for a tenant whose task has not finished is an error.
func (p *Pool) Start(spec candela.NodeSpec) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if _, ok := p.tasks[spec.TenantID]; ok {
		return fmt.Errorf("node task for tenant %s is already running", spec.TenantID)
	}
	t := &task{stop: make(chan struct{})}
	p.tasks[spec.TenantID] = t
	go p.runTask(spec, t)
	return nil
}

// Stop signals a tenant's node task to wind down. Stopping a tenant
// with no task, or one that was already told to stop, is a no-op.
func (p *Pool) Stop(tenantID candela.TenantID) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if t, ok := p.tasks[tenantID]; ok {
		t.stopOnce.Do(func() { close(t.stop) })
	}
}

func (p *Pool) runTask(spec candela.NodeSpec, t *task) {
	var once sync.Once
	ready := func(ports candela.RunPorts) {
		once.Do(func() {
			ports.TenantID = spec.TenantID
			p.send(Event{Kind: Ready, TenantID: spec.TenantID, Ports: ports})
		})
	}
	err := p.runDriver(spec, ready, t.stop)
	// Consume the once so a straggling ready call from a goroutine
	// the driver leaked cannot emit an event after Finished.
	once.Do(func() {})
	p.mtx.Lock()
	delete(p.tasks, spec.TenantID)
	p.mtx.Unlock()
	p.send(Event{Kind: Finished, TenantID: spec.TenantID, Err: err})
}

func (p *Pool) runDriver(spec candela.NodeSpec, ready func(candela.RunPorts), stop <-chan struct{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithField("TenantID", spec.TenantID).WithField("PanicValue", r).Error("node driver panicked")
			err = fmt.Errorf("node driver panicked: %v", r)
		}
	}()
	return p.driver.RunNode(p.ctx, spec, ready, stop)
}

func (p *Pool) send(ev Event) {
	select {
	case p.events <- ev:
	case <-p.ctx.Done():
	}
}
