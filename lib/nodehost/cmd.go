// Copyright (C) The Candela Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package nodehost

import (
	"context"
	"fmt"

	"git.candela.io/candela.git/lib/cmd"
	"git.candela.io/candela.git/lib/service"
	"git.candela.io/candela.git/sdk/go/candela"
	"github.com/prometheus/client_golang/prometheus"
)

var Command cmd.Handler = service.Command(candela.ServiceNameNodeHost, newHandler)

func newHandler(ctx context.Context, cluster *candela.Cluster, token string, reg *prometheus.Registry) service.Handler {
	nh := &nodeHost{
		Cluster:   cluster,
		Context:   ctx,
		AuthToken: token,
		Registry:  reg,
	}
	if cluster.Services.FleetManager.ExternalURL.Host != "" {
		client, err := candela.NewClientFromConfig(cluster)
		if err != nil {
			return service.ErrorHandler(ctx, cluster, fmt.Errorf("error initializing fleet manager client: %s", err))
		}
		nh.FleetClient = client
	}
	go nh.Start()
	return nh
}
