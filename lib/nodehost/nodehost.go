// Copyright (C) The Candela Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package nodehost runs tenant nodes on one host, under a memory
// budget, on behalf of the fleet manager.
package nodehost

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"git.candela.io/candela.git/lib/nodehost/scheduler"
	"git.candela.io/candela.git/lib/nodehost/supervisor"
	"git.candela.io/candela.git/lib/service"
	"git.candela.io/candela.git/sdk/go/auth"
	"git.candela.io/candela.git/sdk/go/candela"
	"git.candela.io/candela.git/sdk/go/ctxlog"
	"git.candela.io/candela.git/sdk/go/health"
	"git.candela.io/candela.git/sdk/go/httpserver"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type nodeHost struct {
	Cluster     *candela.Cluster
	Context     context.Context
	FleetClient *candela.Client
	AuthToken   string
	Registry    *prometheus.Registry

	logger      logrus.FieldLogger
	pool        *supervisor.Pool
	sched       *scheduler.Scheduler
	httpHandler http.Handler

	setupOnce sync.Once
	stop      chan struct{}
	stopped   chan struct{}
}

// Start starts the node host. Start can be called multiple times with
// no ill effect.
func (nh *nodeHost) Start() {
	nh.setupOnce.Do(nh.setup)
}

// ServeHTTP implements service.Handler.
func (nh *nodeHost) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	nh.Start()
	nh.httpHandler.ServeHTTP(w, r)
}

// CheckHealth implements service.Handler. The host is healthy as long
// as the scheduler loop answers.
func (nh *nodeHost) CheckHealth() error {
	nh.Start()
	_, err := nh.sched.Status(nh.Context)
	return err
}

// Done implements service.Handler. It closes when the host has shut
// itself down after sitting empty and idle for HostInactivityTimeout.
func (nh *nodeHost) Done() <-chan struct{} {
	return nh.stopped
}

// Stop running nodes and release resources. Typically used in tests.
func (nh *nodeHost) Close() {
	nh.Start()
	select {
	case nh.stop <- struct{}{}:
	default:
	}
	<-nh.stopped
}

func (nh *nodeHost) setup() {
	nh.initialize()
	go nh.run()
}

func (nh *nodeHost) initialize() {
	nh.logger = ctxlog.FromContext(nh.Context)

	if nh.FleetClient != nil {
		nh.FleetClient.AuthToken = nh.AuthToken
	}
	nh.stop = make(chan struct{}, 1)
	nh.stopped = make(chan struct{})

	driver, err := newDriver(nh.Cluster, nh.logger)
	if err != nil {
		nh.logger.Fatalf("error initializing node driver: %s", err)
	}
	nh.pool = supervisor.NewPool(nh.Context, driver)
	nh.sched = scheduler.New(nh.Context, nh.Cluster, nh.pool, nh.Registry)

	var apiHandler http.Handler
	if nh.AuthToken == "" {
		apiHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Command API authentication is not configured", http.StatusForbidden)
		})
	} else {
		mux := httprouter.New()
		mux.HandlerFunc("POST", "/candela/v1/tenants/run", nh.apiRunTenant)
		mux.HandlerFunc("POST", "/candela/v1/tenants/evict", nh.apiEvictTenant)
		mux.HandlerFunc("POST", "/candela/v1/tenants/activity", nh.apiReportActivity)
		mux.HandlerFunc("GET", "/candela/v1/tenants", nh.apiTenants)
		mux.HandlerFunc("GET", "/candela/v1/status", nh.apiStatus)
		metricsH := promhttp.HandlerFor(nh.Registry, promhttp.HandlerOpts{
			ErrorLog: nh.logger,
		})
		mux.Handler("GET", "/metrics", metricsH)
		mux.Handler("GET", "/metrics.json", metricsH)
		apiHandler = auth.RequireLiteralToken(nh.AuthToken, mux)
	}
	// Monitoring authenticates with the management token, not the
	// system root token, so the health routes sit outside the
	// command API's auth wrapper.
	top := httprouter.New()
	top.Handler("GET", "/_health/:check", &health.Handler{
		Token:  nh.Cluster.ManagementToken,
		Prefix: "/_health/",
		Routes: health.Routes{"ping": nh.CheckHealth},
	})
	top.NotFound = apiHandler
	nh.httpHandler = top
}

func (nh *nodeHost) run() {
	defer close(nh.stopped)

	nh.sched.Start()
	defer nh.sched.Stop()

	go nh.deliverNotices()
	go nh.announceReady()

	select {
	case <-nh.stop:
	case <-nh.sched.Done():
		nh.logger.Info("host idle, shutting down")
	}
}

// Tell the fleet manager this host is up and where to send commands.
// The fleet manager routes run requests here only after the
// announcement lands, so failure just means staying out of rotation.
func (nh *nodeHost) announceReady() {
	if nh.FleetClient == nil {
		return
	}
	url, ok := service.URLFromContext(nh.Context)
	if !ok {
		nh.logger.Warn("not announcing host to fleet manager: listen URL not known")
		return
	}
	notice := candela.HostReadyNotice{
		HostID: nh.Cluster.NodeHost.HostID,
		URL:    url.String(),
	}
	if err := nh.FleetClient.HostReady(nh.Context, notice); err != nil {
		nh.logger.WithError(err).Warn("error announcing host to fleet manager")
	} else {
		nh.logger.WithField("URL", notice.URL).Info("announced host to fleet manager")
	}
}

// Forward tenant-finished notices to the fleet manager so it can
// release the leases. A notice that fails after the client's retries
// is dropped; the fleet manager finds out anyway when the tenant's
// next renewal lands somewhere else.
func (nh *nodeHost) deliverNotices() {
	for notice := range nh.sched.Notices() {
		if nh.FleetClient == nil {
			continue
		}
		err := nh.FleetClient.TenantFinished(nh.Context, notice)
		if err != nil {
			nh.logger.WithFields(logrus.Fields{
				"TenantID": notice.TenantID,
				"LeaseID":  notice.LeaseID,
			}).WithError(err).Warn("error reporting finished tenant to fleet manager")
		}
	}
}

// Command API: start a tenant's node, or renew the lease on one that
// is already here, and report the ports it serves on. Blocks until
// the node is ready (or the request context gives up).
func (nh *nodeHost) apiRunTenant(w http.ResponseWriter, r *http.Request) {
	var req candela.RunRequest
	if !loadRequest(w, r, &req) {
		return
	}
	ports, err := nh.sched.RunTenant(r.Context(), req)
	if err != nil {
		httpserver.Error(w, err.Error(), errorStatus(err))
		return
	}
	json.NewEncoder(w).Encode(ports)
}

// Command API: stop a tenant's node. Blocks until the node has wound
// down. Evicting a tenant that is not here reports success right
// away, so the fleet manager can treat eviction as idempotent.
func (nh *nodeHost) apiEvictTenant(w http.ResponseWriter, r *http.Request) {
	var req candela.EvictRequest
	if !loadRequest(w, r, &req) {
		return
	}
	err := nh.sched.EvictTenant(r.Context(), req)
	if err != nil {
		httpserver.Error(w, err.Error(), errorStatus(err))
		return
	}
	json.NewEncoder(w).Encode(struct{}{})
}

// Command API: mark a tenant as recently active.
func (nh *nodeHost) apiReportActivity(w http.ResponseWriter, r *http.Request) {
	var report candela.ActivityReport
	if !loadRequest(w, r, &report) {
		return
	}
	nh.sched.ReportActivity(r.Context(), report)
	w.WriteHeader(http.StatusAccepted)
}

// Command API: all admitted tenants.
func (nh *nodeHost) apiTenants(w http.ResponseWriter, r *http.Request) {
	var resp struct {
		Items []candela.TenantView `json:"items"`
	}
	views, err := nh.sched.TenantViews(r.Context())
	if err != nil {
		httpserver.Error(w, err.Error(), errorStatus(err))
		return
	}
	resp.Items = views
	json.NewEncoder(w).Encode(resp)
}

// Command API: memory budget and tenant counts.
func (nh *nodeHost) apiStatus(w http.ResponseWriter, r *http.Request) {
	st, err := nh.sched.Status(r.Context())
	if err != nil {
		httpserver.Error(w, err.Error(), errorStatus(err))
		return
	}
	json.NewEncoder(w).Encode(st)
}

func loadRequest(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err != nil {
		httpserver.Error(w, "error decoding request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, candela.ErrAtCapacity),
		errors.Is(err, candela.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, candela.ErrTenantEvicting):
		return http.StatusConflict
	case errors.Is(err, candela.ErrMisdirected):
		return http.StatusMisdirectedRequest
	case errors.Is(err, candela.ErrNodeExited):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		// The caller stopped waiting; the admission itself
		// stands.
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
