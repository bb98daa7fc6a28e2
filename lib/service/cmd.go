// Copyright (C) The Candela Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package service provides a cmd.Handler that brings up a system service.
package service

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	_ "net/http/pprof"
	"net/url"
	"os"
	"strings"

	"git.candela.io/candela.git/lib/cmd"
	"git.candela.io/candela.git/lib/config"
	"git.candela.io/candela.git/sdk/go/candela"
	"git.candela.io/candela.git/sdk/go/ctxlog"
	"git.candela.io/candela.git/sdk/go/health"
	"git.candela.io/candela.git/sdk/go/httpserver"
	"github.com/coreos/go-systemd/daemon"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

type Handler interface {
	http.Handler
	CheckHealth() error
	// Done returns a channel that closes when the handler shuts
	// itself down, or nil if this never happens.
	Done() <-chan struct{}
}

type NewHandlerFunc func(_ context.Context, _ *candela.Cluster, token string, registry *prometheus.Registry) Handler

type command struct {
	newHandler NewHandlerFunc
	svcName    candela.ServiceName
	ctx        context.Context // enables tests to shutdown service; no public API yet
}

// Command returns a cmd.Handler that loads site config, calls
// newHandler with the current cluster config, and brings up an http
// server with the returned handler.
//
// The handler is wrapped with server middleware (adding X-Request-ID
// headers, logging requests/responses, etc).
func Command(svcName candela.ServiceName, newHandler NewHandlerFunc) cmd.Handler {
	return &command{
		newHandler: newHandler,
		svcName:    svcName,
		ctx:        context.Background(),
	}
}

func (c *command) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	log := ctxlog.New(stderr, "json", "info")

	var err error
	defer func() {
		if err != nil {
			log.WithError(err).Error("exiting")
		}
	}()

	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)

	loader := config.NewLoader(stdin, log)
	loader.SetupFlags(flags)

	versionFlag := flags.Bool("version", false, "Write version information to stdout and exit 0")
	pprofAddr := flags.String("pprof", "", "Serve Go profile data at `[addr]:port`")
	if ok, code := cmd.ParseFlags(flags, prog, args, "", stderr); !ok {
		return code
	} else if *versionFlag {
		return cmd.Version.RunCommand(prog, args, stdin, stdout, stderr)
	}

	if *pprofAddr != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	cfg, err := loader.Load()
	if err != nil {
		return 1
	}
	cluster, err := cfg.GetCluster("")
	if err != nil {
		return 1
	}

	// Now that we've read the config, replace the bootstrap logger
	// with a new one according to the logging config.
	log = ctxlog.New(stderr, cluster.SystemLogs.Format, cluster.SystemLogs.LogLevel)
	logger := log.WithFields(logrus.Fields{
		"PID":       os.Getpid(),
		"ClusterID": cluster.ClusterID,
	})
	ctx := ctxlog.Context(c.ctx, logger)

	listenURL, err := getListenAddr(cluster.Services, c.svcName, log)
	if err != nil {
		return 1
	}
	if listenURL.Scheme == "https" {
		// TLS terminates at the load balancer or enclave
		// front end, not here.
		err = fmt.Errorf("cannot listen on %s: https InternalURLs are not supported, use a TLS-terminating proxy", listenURL.String())
		return 1
	}
	ctx = ContextWithURL(ctx, listenURL)

	reg := prometheus.NewRegistry()
	loader.RegisterMetrics(reg)

	// candela_version_running{version="1.2.3 (go1.21.10)"} 1
	mVersion := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "candela",
		Name:      "version_running",
		Help:      "Indicated version is running.",
	}, []string{"version"})
	mVersion.WithLabelValues(cmd.Version.String()).Set(1)
	reg.MustRegister(mVersion)

	handler := c.newHandler(ctx, cluster, cluster.SystemRootToken, reg)
	if err = handler.CheckHealth(); err != nil {
		return 1
	}

	instrumented := httpserver.Instrument(reg, log,
		httpserver.HandlerWithDeadline(cluster.API.RequestTimeout.Duration(),
			httpserver.AddRequestIDs(
				httpserver.Inspect(reg, cluster.ManagementToken,
					httpserver.LogRequests(
						interceptHealthReqs(cluster.ManagementToken, handler.CheckHealth,
							httpserver.NewRequestLimiter(cluster.API.MaxConcurrentRequests, handler, reg)))))))
	srv := &httpserver.Server{
		Server: http.Server{
			Handler:     instrumented.ServeAPI(cluster.ManagementToken, instrumented),
			BaseContext: func(net.Listener) context.Context { return ctx },
		},
		Addr: listenURL.Host,
	}
	err = srv.Start()
	if err != nil {
		return 1
	}
	logger.WithFields(logrus.Fields{
		"URL":     listenURL,
		"Listen":  srv.Addr,
		"Service": c.svcName,
		"Version": cmd.Version.String(),
	}).Info("listening")
	if _, err := daemon.SdNotify(false, "READY=1"); err != nil {
		logger.WithError(err).Errorf("error notifying init daemon")
	}
	if cluster.ExitOnConfigChange && loader.Path != "-" {
		go config.WatchFile(ctx, logger, loader.Path, func() {
			logger.Info("restarting, config changed")
			srv.Close()
		})
	}
	go func() {
		// Shut down server if caller cancels context
		<-ctx.Done()
		srv.Close()
	}()
	go func() {
		// Shut down server if handler dies
		<-handler.Done()
		srv.Close()
	}()
	err = srv.Wait()
	if err != nil {
		return 1
	}
	return 0
}

func interceptHealthReqs(mgtToken string, checkHealth func() error, next http.Handler) http.Handler {
	mux := httprouter.New()
	mux.Handler("GET", "/_health/ping", &health.Handler{
		Token:  mgtToken,
		Prefix: "/_health/",
		Routes: health.Routes{"ping": checkHealth},
	})
	mux.NotFound = next
	return mux
}

func getListenAddr(svcs candela.Services, prog candela.ServiceName, log logrus.FieldLogger) (candela.URL, error) {
	svc, ok := svcs.Map()[prog]
	if !ok {
		return candela.URL{}, fmt.Errorf("unknown service name %q", prog)
	}

	if want := os.Getenv("CANDELA_SERVICE_INTERNAL_URL"); want == "" {
	} else if url, err := url.Parse(want); err != nil {
		return candela.URL{}, fmt.Errorf("$CANDELA_SERVICE_INTERNAL_URL (%q): %s", want, err)
	} else {
		if url.Path == "" {
			url.Path = "/"
		}
		return candela.URL(*url), nil
	}

	errors := []string{}
	for url := range svc.InternalURLs {
		listener, err := net.Listen("tcp", url.Host)
		if err == nil {
			listener.Close()
			return url, nil
		} else if strings.Contains(err.Error(), "cannot assign requested address") {
			// If 'Host' specifies a different server than
			// the current one, it'll resolve the hostname
			// to IP address, and then fail because it
			// can't bind an IP address it doesn't own.
			continue
		} else {
			errors = append(errors, fmt.Sprintf("tried %v, got %v", url, err))
		}
	}
	if len(errors) > 0 {
		return candela.URL{}, fmt.Errorf("could not enable the %q service on this host: %s", prog, strings.Join(errors, "; "))
	}
	return candela.URL{}, fmt.Errorf("configuration does not enable the %q service on this host", prog)
}

type contextKeyURL struct{}

// ContextWithURL returns a child context with the given listen URL
// attached, for retrieval with URLFromContext.
func ContextWithURL(ctx context.Context, u candela.URL) context.Context {
	return context.WithValue(ctx, contextKeyURL{}, u)
}

// URLFromContext returns the URL the service is listening on, as
// placed in the service handler's context by Command. The nodehost
// uses it to identify itself when reporting to the fleet manager.
func URLFromContext(ctx context.Context) (candela.URL, bool) {
	u, ok := ctx.Value(contextKeyURL{}).(candela.URL)
	return u, ok
}
