// Copyright (C) The Candela Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package config

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"git.candela.io/candela.git/sdk/go/candela"
	"github.com/ghodss/yaml"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

//go:embed config.default.yml
var DefaultYAML []byte

// Loader reads a site configuration file, merges it on top of the
// compiled-in defaults, and checks the result.
type Loader struct {
	Stdin  io.Reader
	Logger logrus.FieldLogger
	Path   string

	configdata []byte
	// UTC time for configdata: the modtime of the file it was read
	// from, or the time it was read from a pipe.
	sourceTimestamp time.Time
	// UTC time when configdata was read.
	loadTimestamp time.Time
}

// NewLoader returns a new Loader with Stdin and Logger. It has no side
// effects on the flag library.
func NewLoader(stdin io.Reader, logger logrus.FieldLogger) *Loader {
	ldr := &Loader{Stdin: stdin, Logger: logger}
	// Calling SetupFlags on a throwaway FlagSet has the side
	// effect of assigning the default value to Path.
	ldr.SetupFlags(flag.NewFlagSet("", flag.ContinueOnError))
	return ldr
}

// SetupFlags configures flagset so that the standard config-related
// command line flags are parsed into the Loader's fields.
func (ldr *Loader) SetupFlags(flagset *flag.FlagSet) {
	flagset.StringVar(&ldr.Path, "config", defaultConfigPath(), "Site configuration `file` (default may be overridden by setting the CANDELA_CONFIG environment variable)")
}

func defaultConfigPath() string {
	if path := os.Getenv("CANDELA_CONFIG"); path != "" {
		return path
	}
	return candela.DefaultConfigFile
}

func (ldr *Loader) loadBytes(path string) (buf []byte, sourceTime, loadTime time.Time, err error) {
	loadTime = time.Now().UTC()
	if path == "-" {
		buf, err = io.ReadAll(ldr.Stdin)
		sourceTime = loadTime
		return
	}
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return
	}
	sourceTime = fi.ModTime().UTC()
	buf, err = io.ReadAll(f)
	return
}

// Load reads the file named by the Path field ("-" means Stdin),
// applies the compiled-in defaults, checks the result, and returns
// it.
func (ldr *Loader) Load() (*candela.Config, error) {
	if ldr.configdata == nil {
		buf, sourceTime, loadTime, err := ldr.loadBytes(ldr.Path)
		if err != nil {
			return nil, err
		}
		ldr.configdata = buf
		ldr.sourceTimestamp = sourceTime
		ldr.loadTimestamp = loadTime
	}

	// Load the config into a dummy map to get the cluster ID keys
	// and each cluster's raw content; then, for each cluster ID,
	// load the defaults and merge the supplied config on top of
	// them. Merging at the struct level means an explicit zero or
	// empty value overrides the default, while a missing or null
	// key keeps it.
	var dummy struct {
		Clusters map[string]json.RawMessage
	}
	err := yaml.Unmarshal(ldr.configdata, &dummy)
	if err != nil {
		return nil, err
	}
	if len(dummy.Clusters) == 0 {
		return nil, errors.New("config does not define any clusters")
	}

	cfg := candela.Config{Clusters: map[string]candela.Cluster{}}
	for id, clusterdata := range dummy.Clusters {
		var dflt candela.Config
		err = yaml.Unmarshal(bytes.Replace(DefaultYAML, []byte(" xxxxx:"), []byte(" "+id+":"), -1), &dflt)
		if err != nil {
			return nil, fmt.Errorf("loading defaults for %s: %s", id, err)
		}
		cc := dflt.Clusters[id]
		if len(clusterdata) > 0 {
			err = json.Unmarshal(clusterdata, &cc)
			if err != nil {
				return nil, fmt.Errorf("loading config data for %s: %s", id, err)
			}
		}
		removeSampleKeys(&cc)
		cfg.Clusters[id] = cc
	}
	cfg.SourceTimestamp = ldr.sourceTimestamp
	cfg.SourceSHA256 = fmt.Sprintf("%x", sha256.Sum256(ldr.configdata))

	// Warn about supplied entries the compiled-in defaults have no
	// counterpart for, i.e., entries the config structs have no
	// field for.
	if ldr.Logger != nil {
		var supplied map[string]interface{}
		err = yaml.Unmarshal(ldr.configdata, &supplied)
		if err != nil {
			return nil, err
		}
		expectedClusters := map[string]interface{}{}
		for id := range dummy.Clusters {
			var dflt map[string]interface{}
			err = yaml.Unmarshal(bytes.Replace(DefaultYAML, []byte(" xxxxx:"), []byte(" "+id+":"), -1), &dflt)
			if err != nil {
				return nil, err
			}
			if clusters, ok := dflt["Clusters"].(map[string]interface{}); ok {
				expectedClusters[id] = clusters[id]
			}
		}
		ldr.logExtraKeys(map[string]interface{}{"Clusters": expectedClusters}, supplied, "")
	}

	for id, cc := range cfg.Clusters {
		if !acceptableClusterIDRe.MatchString(id) {
			return nil, fmt.Errorf("Clusters.%s: cluster ID should be 5 alphanumeric characters", id)
		}
		label := "Clusters." + id
		for _, check := range []struct {
			label string
			token string
		}{
			{label + ".ManagementToken", cc.ManagementToken},
			{label + ".SystemRootToken", cc.SystemRootToken},
		} {
			err = ldr.checkToken(check.label, check.token)
			if err != nil {
				return nil, err
			}
		}
		err = checkNodeHostConfig(label+".NodeHost", cc.NodeHost)
		if err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

var acceptableClusterIDRe = regexp.MustCompile(`^[a-z0-9]{5}$`)

const acceptableTokenLength = 32

var acceptableTokenRe = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

func (ldr *Loader) checkToken(label, token string) error {
	if token == "" {
		if ldr.Logger != nil {
			ldr.Logger.Warnf("%s: secret token is not set (use %d+ random characters from a-z, A-Z, 0-9)", label, acceptableTokenLength)
		}
	} else if !acceptableTokenRe.MatchString(token) {
		return fmt.Errorf("%s: unacceptable characters in token (only a-z, A-Z, 0-9 are acceptable)", label)
	} else if len(token) < acceptableTokenLength {
		if ldr.Logger != nil {
			ldr.Logger.Warnf("%s: token is too short (should be at least %d characters)", label, acceptableTokenLength)
		}
	}
	return nil
}

func checkNodeHostConfig(label string, nh candela.NodeHostConfig) error {
	budget := int64(nh.TotalMemory) - int64(nh.MemoryOverhead)
	if budget <= 0 {
		return fmt.Errorf("%s.MemoryOverhead: must be less than TotalMemory", label)
	}
	if nh.NodeMemoryEstimate <= 0 {
		return fmt.Errorf("%s.NodeMemoryEstimate: must be greater than zero", label)
	}
	if int64(nh.NodeMemoryEstimate) > budget {
		return fmt.Errorf("%s.NodeMemoryEstimate: one node does not fit in the available memory (%d > %d)", label, nh.NodeMemoryEstimate, budget)
	}
	if nh.BufferSlots < 0 {
		return fmt.Errorf("%s.BufferSlots: must not be negative", label)
	}
	if nh.TenantInactivityTimeout < 0 {
		return fmt.Errorf("%s.TenantInactivityTimeout: must not be negative", label)
	}
	if nh.HostInactivityTimeout < 0 {
		return fmt.Errorf("%s.HostInactivityTimeout: must not be negative", label)
	}
	if nh.SweepInterval <= 0 {
		return fmt.Errorf("%s.SweepInterval: must be greater than zero", label)
	}
	if nh.LeaseLifetime <= 0 || nh.LeaseRenewalInterval <= 0 {
		return fmt.Errorf("%s: lease durations must be greater than zero", label)
	}
	if nh.LeaseRenewalInterval >= nh.LeaseLifetime {
		return fmt.Errorf("%s.LeaseRenewalInterval: must be shorter than LeaseLifetime", label)
	}
	if nh.ShutdownGrace < 0 {
		return fmt.Errorf("%s.ShutdownGrace: must not be negative", label)
	}
	if nh.Driver == "" {
		return fmt.Errorf("%s.Driver: must not be empty", label)
	}
	return nil
}

// The SAMPLE entries in the compiled-in defaults document the shape of
// wildcard maps like InternalURLs. They are not real config, so they
// must not survive into the loaded config.
func removeSampleKeys(cc *candela.Cluster) {
	sample := candela.URL{Path: "SAMPLE"}
	for _, svc := range []*candela.Service{&cc.Services.FleetManager, &cc.Services.NodeHost} {
		delete(svc.InternalURLs, sample)
	}
}

// logExtraKeys logs a warning for each entry in supplied that has no
// counterpart in expected, i.e., entries the config structs have no
// field for.
func (ldr *Loader) logExtraKeys(expected, supplied map[string]interface{}, prefix string) {
	if ldr.Logger == nil {
		return
	}
	for k, vsupp := range supplied {
		if k == "SAMPLE" {
			// the entry is dropped when the config is
			// loaded, see removeSampleKeys
			continue
		}
		vexp, ok := expected[k]
		if expected["SAMPLE"] != nil {
			// A map that takes arbitrary keys has a
			// single SAMPLE entry in the defaults showing
			// the shape of the values.
			vexp = expected["SAMPLE"]
		} else if !ok {
			ldr.Logger.Warnf("deprecated or unknown config entry: %s%s", prefix, k)
			continue
		}
		if vsupp, ok := vsupp.(map[string]interface{}); ok {
			if vexp, ok := vexp.(map[string]interface{}); ok {
				ldr.logExtraKeys(vexp, vsupp, prefix+k+".")
			}
		}
	}
}

// RegisterMetrics registers gauges tracking the timestamps and hash of
// the loaded config.
func (ldr *Loader) RegisterMetrics(reg *prometheus.Registry) error {
	hash := fmt.Sprintf("%x", sha256.Sum256(ldr.configdata))
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "candela",
		Name:      "config_load_timestamp_seconds",
		Help:      "Time when config file was loaded.",
	}, []string{"sha256"})
	vec.WithLabelValues(hash).Set(float64(ldr.loadTimestamp.UnixNano()) / 1e9)
	err := reg.Register(vec)
	if err != nil {
		return err
	}

	vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "candela",
		Name:      "config_source_timestamp_seconds",
		Help:      "Timestamp of config file when it was loaded.",
	}, []string{"sha256"})
	vec.WithLabelValues(hash).Set(float64(ldr.sourceTimestamp.UnixNano()) / 1e9)
	return reg.Register(vec)
}
