// Copyright (C) The Candela Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scheduler

import (
	"fmt"
	"sort"
	"time"

	"git.candela.io/candela.git/sdk/go/candela"
	"git.candela.io/candela.git/sdk/go/stats"
	"github.com/dustin/go-humanize"
)

// HostStatus is a point-in-time summary of the host's admission
// state, served on the management API.
type HostStatus struct {
	HostID          candela.HostID   `json:"host_id"`
	Uptime          stats.Duration   `json:"uptime"`
	TenantsStarting int              `json:"tenants_starting"`
	TenantsRunning  int              `json:"tenants_running"`
	TenantsEvicting int              `json:"tenants_evicting"`
	SlotsUsed       int              `json:"slots_used"`
	SlotsSoft       int              `json:"slots_soft"`
	SlotsHard       int              `json:"slots_hard"`
	MemoryAdmitted  candela.ByteSize `json:"memory_admitted"`
	MemorySoftLimit candela.ByteSize `json:"memory_soft_limit"`
	MemoryHardLimit candela.ByteSize `json:"memory_hard_limit"`
	Memory          string           `json:"memory"`
}

func (sch *Scheduler) hostStatus(now time.Time) HostStatus {
	st := HostStatus{
		HostID:          sch.hostID,
		Uptime:          stats.Duration(now.Sub(sch.startedAt)),
		SlotsUsed:       sch.budget.admitted,
		SlotsSoft:       sch.budget.softSlots(),
		SlotsHard:       sch.budget.hardSlots(),
		MemoryAdmitted:  candela.ByteSize(int64(sch.budget.admitted) * sch.budget.estimate),
		MemorySoftLimit: candela.ByteSize(sch.budget.softLimit),
		MemoryHardLimit: candela.ByteSize(sch.budget.hardLimit),
	}
	for _, ent := range sch.entries {
		switch ent.state {
		case stateStarting:
			st.TenantsStarting++
		case stateRunning:
			st.TenantsRunning++
		case stateEvicting:
			st.TenantsEvicting++
		}
	}
	st.Memory = fmt.Sprintf("%s admitted of %s budget", humanize.IBytes(uint64(st.MemoryAdmitted)), humanize.IBytes(uint64(st.MemoryHardLimit)))
	return st
}

func (sch *Scheduler) tenantViews() []candela.TenantView {
	views := make([]candela.TenantView, 0, len(sch.entries))
	for _, ent := range sch.entries {
		views = append(views, candela.TenantView{
			TenantID:       ent.tenantID,
			LeaseID:        ent.leaseID,
			State:          string(ent.state),
			StartedAt:      ent.startedAt,
			LastActiveAt:   ent.lastActiveAt,
			AppPort:        ent.ports.AppPort,
			APIPort:        ent.ports.APIPort,
			MemoryEstimate: candela.ByteSize(sch.budget.estimate),
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].TenantID < views[j].TenantID })
	return views
}
