// Copyright (C) The Candela Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package config

import (
	"bytes"
	"io"

	"git.candela.io/candela.git/sdk/go/candela"
	"git.candela.io/candela.git/sdk/go/ctxlog"
)

// DefaultCluster returns the compiled-in default configuration for a
// cluster with ID "zzzzz". It is mainly useful as a starting point
// for tests.
func DefaultCluster() (*candela.Cluster, error) {
	loader := NewLoader(bytes.NewBuffer([]byte(`Clusters: {zzzzz: {}}`)), ctxlog.New(io.Discard, "text", "error"))
	loader.Path = "-"
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	return cfg.GetCluster("zzzzz")
}
