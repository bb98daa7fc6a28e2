// Copyright (C) The Candela Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package config

import (
	"bytes"
	"strings"

	check "gopkg.in/check.v1"
)

var _ = check.Suite(&CommandSuite{})

type CommandSuite struct{}

func (s *CommandSuite) TestDumpBadArg(c *check.C) {
	var stderr bytes.Buffer
	code := DumpCommand.RunCommand("candela config-dump", []string{"-badarg"}, bytes.NewBuffer(nil), bytes.NewBuffer(nil), &stderr)
	c.Check(code, check.Equals, 2)
	c.Check(stderr.String(), check.Matches, `(?ms)error parsing command line arguments: flag provided but not defined: -badarg.*`)
}

func (s *CommandSuite) TestDumpEmptyInput(c *check.C) {
	var stdout, stderr bytes.Buffer
	code := DumpCommand.RunCommand("candela config-dump", []string{"-config", "-"}, &bytes.Buffer{}, &stdout, &stderr)
	c.Check(code, check.Equals, 1)
	c.Check(stderr.String(), check.Matches, `config does not define any clusters\n`)
}

func (s *CommandSuite) TestDumpUnknownKey(c *check.C) {
	var stdout, stderr bytes.Buffer
	in := `
Clusters:
 z1234:
  UnknownKey: foobar
  ManagementToken: xyzzy
`
	code := DumpCommand.RunCommand("candela config-dump", []string{"-config", "-"}, strings.NewReader(in), &stdout, &stderr)
	c.Check(code, check.Equals, 0)
	c.Check(stderr.String(), check.Matches, `(?ms).*deprecated or unknown config entry: Clusters.z1234.UnknownKey.*`)
	c.Check(stdout.String(), check.Matches, `(?ms)Clusters:\n  z1234:\n.*`)
	c.Check(stdout.String(), check.Matches, `(?ms).*\n *ManagementToken: xyzzy\n.*`)
	c.Check(stdout.String(), check.Not(check.Matches), `(?ms).*UnknownKey.*`)
}

func (s *CommandSuite) TestCheckNoWarnings(c *check.C) {
	var stdout, stderr bytes.Buffer
	in := `
Clusters:
 z1234:
  ManagementToken: aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa
  SystemRootToken: aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa
  Services:
   NodeHost:
    InternalURLs:
     "http://localhost:9640": {}
`
	code := CheckCommand.RunCommand("candela config-check", []string{"-config", "-"}, strings.NewReader(in), &stdout, &stderr)
	c.Check(code, check.Equals, 0)
	c.Check(stderr.String(), check.Equals, "")
}

func (s *CommandSuite) TestCheckUnknownKey(c *check.C) {
	var stdout, stderr bytes.Buffer
	in := `
Clusters:
 z1234:
  ManagementToken: aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa
  SystemRootToken: aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa
  UnknownKey: foobar
`
	code := CheckCommand.RunCommand("candela config-check", []string{"-config", "-"}, strings.NewReader(in), &stdout, &stderr)
	c.Check(code, check.Equals, 1)
	c.Check(stderr.String(), check.Matches, `(?ms).*deprecated or unknown config entry: Clusters.z1234.UnknownKey.*`)
}

func (s *CommandSuite) TestCheckBadValue(c *check.C) {
	var stdout, stderr bytes.Buffer
	in := `
Clusters:
 z1234:
  ManagementToken: aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa
  SystemRootToken: aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa
  NodeHost:
   TotalMemory: 100MiB
   MemoryOverhead: 200MiB
`
	code := CheckCommand.RunCommand("candela config-check", []string{"-config", "-"}, strings.NewReader(in), &stdout, &stderr)
	c.Check(code, check.Equals, 1)
	c.Check(stderr.String(), check.Matches, `(?ms).*MemoryOverhead: must be less than TotalMemory\n.*`)
}

func (s *CommandSuite) TestDumpDefaults(c *check.C) {
	var stdout, stderr bytes.Buffer
	code := DumpDefaultsCommand.RunCommand("candela config-defaults", nil, &bytes.Buffer{}, &stdout, &stderr)
	c.Check(code, check.Equals, 0)
	c.Check(stdout.String(), check.Matches, `(?ms).*\n +NodeMemoryEstimate: 64MiB\n.*`)
}
