// Copyright (C) The Candela Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package execnode runs each tenant node as a child process. The
// configured command gets the tenant's identity as flags, prints one
// JSON line with its ports once it is serving, and is stopped with
// SIGTERM.
package execnode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"git.candela.io/candela.git/sdk/go/candela"
	"github.com/sirupsen/logrus"
)

// Params is the exec driver's DriverParameters blob.
type Params struct {
	// Command is the node program and its leading arguments. The
	// driver appends -tenant-id, -lease-id, and -host-id flags,
	// plus -shutdown-after-sync when the node spec asks for it.
	Command []string
	// Dir is the child's working directory.
	Dir string
	// Env entries are appended to the host process environment.
	Env []string
}

// Driver implements supervisor.Driver by running one child process
// per tenant node.
type Driver struct {
	params Params
	logger logrus.FieldLogger
}

func New(config json.RawMessage, logger logrus.FieldLogger) (*Driver, error) {
	var params Params
	if len(config) > 0 {
		if err := json.Unmarshal(config, &params); err != nil {
			return nil, fmt.Errorf("error decoding DriverParameters: %s", err)
		}
	}
	if len(params.Command) == 0 {
		return nil, errors.New("exec driver requires a non-empty Command")
	}
	return &Driver{params: params, logger: logger}, nil
}

// RunNode starts the node process and waits for it to exit. The stop
// signal is forwarded as SIGTERM; a node that dies from that signal
// after a stop was requested counts as a clean exit.
func (drv *Driver) RunNode(ctx context.Context, spec candela.NodeSpec, ready func(candela.RunPorts), stop <-chan struct{}) error {
	logger := drv.logger.WithField("TenantID", spec.TenantID)
	args := append([]string(nil), drv.params.Command[1:]...)
	args = append(args,
		"-tenant-id", string(spec.TenantID),
		"-lease-id", strconv.FormatInt(int64(spec.LeaseID), 10),
		"-host-id", strconv.FormatUint(uint64(spec.HostID), 10))
	if spec.ShutdownAfterSync {
		args = append(args, "-shutdown-after-sync")
	}
	cmd := exec.Command(drv.params.Command[0], args...)
	cmd.Dir = drv.params.Dir
	cmd.Env = append(os.Environ(), drv.params.Env...)
	cmd.Stdout = &readyScanner{
		ready: ready,
		log:   &lineWriter{logger: logger.WithField("stream", "stdout")},
	}
	cmd.Stderr = &lineWriter{logger: logger.WithField("stream", "stderr")}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%s: %s", drv.params.Command[0], err)
	}
	logger.WithField("PID", cmd.Process.Pid).Info("node process started")

	exited := make(chan struct{})
	defer close(exited)
	go func() {
		select {
		case <-stop:
		case <-ctx.Done():
		case <-exited:
			return
		}
		logger.WithField("PID", cmd.Process.Pid).Debug("sending SIGTERM to node process")
		cmd.Process.Signal(syscall.SIGTERM)
	}()

	err := cmd.Wait()
	if err == nil {
		logger.Info("node process exited")
		return nil
	}
	stopRequested := false
	select {
	case <-stop:
		stopRequested = true
	case <-ctx.Done():
		stopRequested = true
	default:
	}
	if stopRequested {
		if ee, ok := err.(*exec.ExitError); ok {
			if status, ok := ee.Sys().(syscall.WaitStatus); ok && status.Signaled() && status.Signal() == syscall.SIGTERM {
				logger.Info("node process terminated by stop signal")
				return nil
			}
		}
	}
	return fmt.Errorf("node process: %s", err)
}

// A readyScanner watches the child's stdout for its ready line, a
// JSON object carrying the ports the node serves on. Lines that are
// not the ready line pass through to the log untouched.
type readyScanner struct {
	ready func(candela.RunPorts)
	log   io.Writer
	buf   bytes.Buffer
	done  bool
}

func (rs *readyScanner) Write(p []byte) (int, error) {
	rs.log.Write(p)
	if rs.done {
		return len(p), nil
	}
	rs.buf.Write(p)
	for !rs.done {
		line, err := rs.buf.ReadString('\n')
		if err != nil {
			// Partial line: the buffer is empty now, put it back
			// for the next write.
			rs.buf.WriteString(line)
			break
		}
		var ports candela.RunPorts
		if json.Unmarshal([]byte(line), &ports) == nil && (ports.AppPort != 0 || ports.APIPort != 0) {
			rs.done = true
			rs.buf.Reset()
			rs.ready(ports)
		}
	}
	return len(p), nil
}

// A lineWriter forwards each complete line the child writes to the
// logger.
type lineWriter struct {
	logger logrus.FieldLogger
	buf    bytes.Buffer
}

func (lw *lineWriter) Write(p []byte) (int, error) {
	lw.buf.Write(p)
	for {
		line, err := lw.buf.ReadString('\n')
		if err != nil {
			lw.buf.WriteString(line)
			return len(p), nil
		}
		lw.logger.Info(strings.TrimRight(line, "\n"))
	}
}
