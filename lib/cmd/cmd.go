// Copyright (C) The Candela Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package cmd defines a Handler interface, representing a process
// that can be invoked from a command line.
package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"

	"git.candela.io/candela.git/sdk/go/version"
)

// A Handler is a process that can be invoked from a command line. It
// runs with the given args, and returns an exit code.
type Handler interface {
	RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int
}

// HandlerFunc makes a plain function usable as a Handler.
type HandlerFunc func(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int

// RunCommand calls f itself.
func (f HandlerFunc) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	return f(prog, args, stdin, stdout, stderr)
}

// Version is a Handler that prints the program version (assigned at
// build time via -ldflags, "dev" otherwise) and the Go version.
var Version versionCommand

type versionCommand struct{}

func (versionCommand) String() string {
	return fmt.Sprintf("%s (%s)", version.GetVersion(), runtime.Version())
}

func (versionCommand) RunCommand(prog string, args []string, _ io.Reader, stdout, _ io.Writer) int {
	prog = regexp.MustCompile(` -*version$`).ReplaceAllLiteralString(prog, "")
	fmt.Fprintf(stdout, "%s %s (%s)\n", prog, version.GetVersion(), runtime.Version())
	return 0
}

// Multi returns a Handler that looks up its first argument in m, and
// invokes the resulting Handler with the remaining args.
//
// If the program name itself (after stripping any directory part and
// "candela-" prefix) matches a key in m, that Handler is invoked
// without consuming an argument, so a symlink named candela-nodehost
// runs the "nodehost" command directly.
//
// Example:
//
//	os.Exit(Multi(map[string]Handler{
//	        "foobar": HandlerFunc(func(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
//	                fmt.Println(args[0])
//	                return 2
//	        }),
//	}).RunCommand("/usr/bin/multi", []string{"foobar", "baz"}, os.Stdin, os.Stdout, os.Stderr))
//
// ...prints "baz" and exits 2.
func Multi(m map[string]Handler) Handler {
	return HandlerFunc(func(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
		_, basename := filepath.Split(prog)
		basename = strings.TrimSuffix(basename, ".exe")
		if cmd, ok := m[basename]; ok {
			return cmd.RunCommand(prog, args, stdin, stdout, stderr)
		} else if cmd, ok = m[strings.TrimPrefix(basename, "candela-")]; ok {
			return cmd.RunCommand(prog, args, stdin, stdout, stderr)
		} else if len(args) < 1 {
			fmt.Fprintf(stderr, "usage: %s command [args]\n", prog)
			multiUsage(stderr, m)
			return 2
		} else if cmd, ok = m[args[0]]; ok {
			return cmd.RunCommand(prog+" "+args[0], args[1:], stdin, stdout, stderr)
		} else {
			fmt.Fprintf(stderr, "%s: unrecognized command %q\n", prog, args[0])
			multiUsage(stderr, m)
			return 2
		}
	})
}

func multiUsage(stderr io.Writer, m map[string]Handler) {
	var subcommands []string
	for sc := range m {
		if strings.HasPrefix(sc, "-") {
			// Some subcommands have alternate versions
			// like "--version" for compatibility. Don't
			// clutter the subcommand summary with those.
			continue
		}
		subcommands = append(subcommands, sc)
	}
	sort.Strings(subcommands)
	fmt.Fprintf(stderr, "\nAvailable commands:\n")
	for _, sc := range subcommands {
		fmt.Fprintf(stderr, "    %s\n", sc)
	}
}
