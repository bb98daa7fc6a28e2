// Copyright (C) The Candela Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package candela

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// DefaultConfigFile is the path loaded when no -config argument is
// given.
const DefaultConfigFile = "/etc/candela/config.yml"

// Config is the top level of a site configuration file: a set of
// clusters keyed by cluster ID. A deployment normally defines exactly
// one cluster.
//
// SourceTimestamp and SourceSHA256 are filled in by the loader. They
// appear in a config-dump, but are not expected in a config file.
type Config struct {
	Clusters        map[string]Cluster
	SourceTimestamp time.Time
	SourceSHA256    string
}

// GetCluster returns the given cluster's config, or the only
// configured cluster if clusterID is "".
func (sc *Config) GetCluster(clusterID string) (*Cluster, error) {
	if clusterID == "" {
		if len(sc.Clusters) == 0 {
			return nil, fmt.Errorf("no clusters configured")
		} else if len(sc.Clusters) > 1 {
			return nil, fmt.Errorf("multiple clusters configured, cannot choose")
		} else {
			for id, cc := range sc.Clusters {
				cc.ClusterID = id
				return &cc, nil
			}
		}
	}
	cc, ok := sc.Clusters[clusterID]
	if !ok {
		return nil, fmt.Errorf("cluster %q is not configured", clusterID)
	}
	cc.ClusterID = clusterID
	return &cc, nil
}

type Cluster struct {
	ClusterID string `json:"-"`

	// SystemRootToken authenticates service-to-service calls: the
	// fleet manager presents it on nodehost command requests, and
	// nodehosts present it on fleet-manager notices.
	SystemRootToken string

	// ManagementToken authenticates monitoring requests
	// (/_health/...).
	ManagementToken string

	// ExitOnConfigChange makes services exit gracefully when the
	// loaded config file changes on disk, relying on the process
	// supervisor to restart them with the new file.
	ExitOnConfigChange bool

	API        API
	Services   Services
	SystemLogs SystemLogs
	NodeHost   NodeHostConfig
}

type API struct {
	// MaxConcurrentRequests is the number of requests served at
	// once; beyond that, requests queue briefly and then get 503s.
	MaxConcurrentRequests int

	// RequestTimeout bounds how long a single inbound request may
	// take, including the time spent waiting for a node to become
	// ready or stop.
	RequestTimeout Duration
}

type Services struct {
	FleetManager Service
	NodeHost     Service
}

type Service struct {
	InternalURLs map[URL]ServiceInstance `json:",omitempty"`
	ExternalURL  URL
}

type ServiceInstance struct{}

// ServiceName identifies a Candela service program.
type ServiceName string

const (
	ServiceNameNodeHost     ServiceName = "candela-nodehost"
	ServiceNameFleetManager ServiceName = "candela-fleet"
)

// Map returns all services as a map, suitable for iterating over all
// services or looking up a service by name.
func (svcs Services) Map() map[ServiceName]Service {
	return map[ServiceName]Service{
		ServiceNameNodeHost:     svcs.NodeHost,
		ServiceNameFleetManager: svcs.FleetManager,
	}
}

type SystemLogs struct {
	LogLevel string
	Format   string
}

// NodeHostConfig configures one nodehost process: its identity, its
// memory budget, and its eviction policy.
type NodeHostConfig struct {
	// HostID is this process's identity. Requests addressed to a
	// different host id are not acted on.
	HostID HostID

	// TotalMemory is the memory ceiling for the whole process
	// (for an enclave deployment, the enclave heap size).
	TotalMemory ByteSize

	// MemoryOverhead is reserved for the host's own runtime and
	// shared services; the remainder is the node budget.
	MemoryOverhead ByteSize

	// NodeMemoryEstimate is the per-node planning figure used for
	// admission decisions.
	NodeMemoryEstimate ByteSize

	// BufferSlots is how many nodes' worth of headroom to keep
	// free by evicting proactively: space for bursts, in-flight
	// starts, and evicted nodes that have not released their
	// memory yet.
	BufferSlots int

	// TenantInactivityTimeout is how long a running node may go
	// without activity before it is evicted.
	TenantInactivityTimeout Duration

	// HostInactivityTimeout is how long the whole process may sit
	// empty and idle before shutting itself down.
	HostInactivityTimeout Duration

	// LeaseLifetime and LeaseRenewalInterval describe the fleet
	// manager's heartbeat cadence. They bound how stale a
	// tenant's recency can be; leases themselves are advisory and
	// expiry never triggers eviction directly.
	LeaseLifetime        Duration
	LeaseRenewalInterval Duration

	// SweepInterval is the cadence of the inactivity sweeps.
	SweepInterval Duration

	// ShutdownGrace bounds how long a draining host waits for its
	// remaining nodes to wind down.
	ShutdownGrace Duration

	// StrictAccounting makes internal accounting drift fatal. Set
	// false to log-and-continue instead, at the cost of running
	// on unsafe bookkeeping.
	StrictAccounting bool

	// Driver selects the node driver ("fake" or "exec").
	// DriverParameters is passed through to the driver.
	Driver           string
	DriverParameters json.RawMessage
}

// URL is a url.URL that is usable as a JSON/YAML string and as a map
// key.
type URL url.URL

// UnmarshalText implements encoding.TextUnmarshaler.
func (su *URL) UnmarshalText(text []byte) error {
	u, err := url.Parse(string(text))
	if err == nil {
		*su = URL(*u)
		if su.Path == "" && su.Host != "" {
			// http://example → http://example/
			su.Path = "/"
		}
	}
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (su URL) MarshalText() ([]byte, error) {
	return []byte(su.String()), nil
}

func (su URL) String() string {
	pu := url.URL(su)
	return pu.String()
}
