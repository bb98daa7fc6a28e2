// Copyright (C) The Candela Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package config

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// WatchFile watches the file at path and calls fn after each burst of
// change events, until ctx is done or the watcher breaks. A process
// supervisor restarting the service is expected to be the usual way
// of acting on a change, so fn typically initiates a graceful exit.
func WatchFile(ctx context.Context, logger logrus.FieldLogger, path string, fn func()) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.WithError(err).Error("config fsnotify setup failed")
		return
	}
	defer watcher.Close()

	err = watcher.Add(path)
	if err != nil {
		logger.WithError(err).Error("config file watcher failed")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.WithError(err).Warn("config file watcher error")
		case _, ok := <-watcher.Events:
			if !ok {
				return
			}
			for len(watcher.Events) > 0 {
				<-watcher.Events
			}
			fn()
		}
	}
}
