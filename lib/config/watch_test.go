// Copyright (C) The Candela Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package config

import (
	"context"
	"os"
	"time"

	"git.candela.io/candela.git/sdk/go/ctxlog"
	check "gopkg.in/check.v1"
)

var _ = check.Suite(&WatchSuite{})

type WatchSuite struct{}

func (s *WatchSuite) TestWatchFile(c *check.C) {
	path := c.MkDir() + "/config.yml"
	err := os.WriteFile(path, []byte("Clusters: {zzzzz: {}}\n"), 0666)
	c.Assert(err, check.IsNil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		WatchFile(ctx, ctxlog.TestLogger(c), path, func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		})
	}()

	// There is no way to tell when the watcher is actually
	// installed, so keep modifying the file until the notification
	// arrives.
	deadline := time.After(10 * time.Second)
	for {
		err := os.WriteFile(path, []byte("Clusters: {zzzzz: {}} # changed\n"), 0666)
		c.Assert(err, check.IsNil)
		select {
		case <-changed:
		case <-deadline:
			c.Fatal("timed out waiting for change notification")
		case <-time.After(time.Second / 10):
			continue
		}
		break
	}

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		c.Fatal("watcher did not stop after context cancel")
	}
}
