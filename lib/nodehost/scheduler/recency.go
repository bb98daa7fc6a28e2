// Copyright (C) The Candela Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scheduler

import (
	"git.candela.io/candela.git/sdk/go/candela"
	"github.com/hashicorp/golang-lru/simplelru"
)

// A recencyTracker orders admitted tenants by last observed activity.
// Oldest-first order drives victim selection under memory pressure
// and the idle sweep's early exit. Ties follow insertion order.
//
// Owned by the scheduler goroutine; not safe for concurrent use.
type recencyTracker struct {
	lru *simplelru.LRU
}

// newRecencyTracker returns a tracker for up to capacity tenants.
// capacity must exceed the admissible maximum: the tracker itself
// never chooses evictions, it only orders candidates.
func newRecencyTracker(capacity int) *recencyTracker {
	lru, err := simplelru.NewLRU(capacity, nil)
	if err != nil {
		panic(err)
	}
	return &recencyTracker{lru: lru}
}

// touch marks a tenant as most recently active, inserting it if
// absent. The return value reports that the insert overflowed the
// tracker's capacity and silently dropped the oldest tenant, which
// the caller treats as accounting drift.
func (rt *recencyTracker) touch(id candela.TenantID) (overflowed bool) {
	return rt.lru.Add(id, nil)
}

func (rt *recencyTracker) remove(id candela.TenantID) {
	rt.lru.Remove(id)
}

func (rt *recencyTracker) contains(id candela.TenantID) bool {
	return rt.lru.Contains(id)
}

func (rt *recencyTracker) len() int {
	return rt.lru.Len()
}

// oldestFirst returns all tracked tenants, least recently active
// first.
func (rt *recencyTracker) oldestFirst() []candela.TenantID {
	keys := rt.lru.Keys()
	ids := make([]candela.TenantID, len(keys))
	for i, key := range keys {
		ids[i] = key.(candela.TenantID)
	}
	return ids
}
