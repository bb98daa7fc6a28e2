// Copyright (C) The Candela Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package nodehost

import (
	"encoding/json"
	"fmt"

	"git.candela.io/candela.git/lib/nodehost/execnode"
	"git.candela.io/candela.git/lib/nodehost/fakenode"
	"git.candela.io/candela.git/lib/nodehost/supervisor"
	"git.candela.io/candela.git/sdk/go/candela"
	"github.com/sirupsen/logrus"
)

// Drivers lists the node driver implementations by the name used in
// the NodeHost.Driver config entry. Tests can add their own.
var Drivers = map[string]func(params json.RawMessage, logger logrus.FieldLogger) (supervisor.Driver, error){
	"exec": func(params json.RawMessage, logger logrus.FieldLogger) (supervisor.Driver, error) {
		return execnode.New(params, logger)
	},
	"fake": func(params json.RawMessage, logger logrus.FieldLogger) (supervisor.Driver, error) {
		return fakenode.New(params, logger)
	},
}

func newDriver(cluster *candela.Cluster, logger logrus.FieldLogger) (supervisor.Driver, error) {
	newfn, ok := Drivers[cluster.NodeHost.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported node driver %q", cluster.NodeHost.Driver)
	}
	return newfn(cluster.NodeHost.DriverParameters, logger)
}
