// Copyright (C) The Candela Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package fakenode runs make-believe tenant nodes. It is the
// development and test driver: a node "syncs" for a configurable
// delay, reports fixed ports, and idles until it is stopped.
package fakenode

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"git.candela.io/candela.git/sdk/go/candela"
	"github.com/sirupsen/logrus"
)

// Params is the fake driver's DriverParameters blob.
type Params struct {
	// SyncDelay is how long a node spends syncing before it reports
	// ready (or, for a shutdown-after-sync node, exits).
	SyncDelay candela.Duration
	// FailTenants lists tenants whose nodes fail after the sync
	// instead of becoming ready.
	FailTenants []candela.TenantID
	// AppPort and APIPort are reported by every node.
	AppPort int
	APIPort int
}

// Driver implements supervisor.Driver with simulated nodes.
type Driver struct {
	params Params
	logger logrus.FieldLogger
}

func New(config json.RawMessage, logger logrus.FieldLogger) (*Driver, error) {
	params := Params{AppPort: 19735, APIPort: 19736}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &params); err != nil {
			return nil, fmt.Errorf("error decoding DriverParameters: %s", err)
		}
	}
	return &Driver{params: params, logger: logger}, nil
}

// RunNode simulates one tenant node until stop closes or ctx ends.
func (drv *Driver) RunNode(ctx context.Context, spec candela.NodeSpec, ready func(candela.RunPorts), stop <-chan struct{}) error {
	logger := drv.logger.WithField("TenantID", spec.TenantID)
	if delay := drv.params.SyncDelay.Duration(); delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-stop:
			logger.Debug("fake node stopped while syncing")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for _, id := range drv.params.FailTenants {
		if id == spec.TenantID {
			return fmt.Errorf("simulated node failure for tenant %s", spec.TenantID)
		}
	}
	if spec.ShutdownAfterSync {
		logger.Debug("fake node synced, shutting down")
		return nil
	}
	ready(candela.RunPorts{AppPort: drv.params.AppPort, APIPort: drv.params.APIPort})
	logger.Debug("fake node ready")
	select {
	case <-stop:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
