// Copyright (C) The Candela Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package config

import (
	"bytes"
	"flag"
	"fmt"
	"io"

	"git.candela.io/candela.git/lib/cmd"
	"git.candela.io/candela.git/sdk/go/ctxlog"
	"github.com/ghodss/yaml"
)

var DumpCommand dumpCommand

type dumpCommand struct{}

func (dumpCommand) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	loader := NewLoader(stdin, ctxlog.New(stderr, "plain", "info"))

	flags := flag.NewFlagSet("", flag.ContinueOnError)
	loader.SetupFlags(flags)

	if ok, code := cmd.ParseFlags(flags, prog, args, "", stderr); !ok {
		return code
	}

	cfg, err := loader.Load()
	if err != nil {
		return 1
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return 1
	}
	_, err = stdout.Write(out)
	if err != nil {
		return 1
	}
	return 0
}

var CheckCommand checkCommand

type checkCommand struct{}

func (checkCommand) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	var logbuf bytes.Buffer
	loader := NewLoader(stdin, ctxlog.New(io.MultiWriter(stderr, &logbuf), "plain", "info"))

	flags := flag.NewFlagSet("", flag.ContinueOnError)
	loader.SetupFlags(flags)

	if ok, code := cmd.ParseFlags(flags, prog, args, "", stderr); !ok {
		return code
	}

	_, err = loader.Load()
	if err != nil {
		return 1
	}
	if logbuf.Len() > 0 {
		// A config that loads with warnings does not check out.
		return 1
	}
	return 0
}

var DumpDefaultsCommand defaultsCommand

type defaultsCommand struct{}

func (defaultsCommand) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	_, err := stdout.Write(DefaultYAML)
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}
