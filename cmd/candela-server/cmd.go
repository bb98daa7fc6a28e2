// Copyright (C) The Candela Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package main

import (
	"os"

	"git.candela.io/candela.git/lib/cmd"
	"git.candela.io/candela.git/lib/config"
	"git.candela.io/candela.git/lib/nodehost"
)

var (
	handler = cmd.Multi(map[string]cmd.Handler{
		"version":   cmd.Version,
		"-version":  cmd.Version,
		"--version": cmd.Version,

		"config-check":    config.CheckCommand,
		"config-defaults": config.DumpDefaultsCommand,
		"config-dump":     config.DumpCommand,
		"nodehost":        nodehost.Command,
	})
)

func main() {
	os.Exit(handler.RunCommand(os.Args[0], os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
