// Package config loads spec §6's options tree: the `/EpcTools/...` keys
// controlling the shared-memory primitive pool, public queue
// registration, and logger setup.
//
// Grounded on the teacher's cmd/warren/apply.go YAML-tagged resource
// structs (gopkg.in/yaml.v3), adapted from a generic Kubernetes-style
// resource document into this system's fixed options tree.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/epctools/pkg/epcerr"
	"github.com/cuemby/epctools/pkg/log"
)

// SynchronizationObjects configures the shared-memory primitive pool
// (pkg/shmem).
type SynchronizationObjects struct {
	NumberSemaphores int `yaml:"NumberSemaphores"`
	NumberMutexes    int `yaml:"NumberMutexes"`
}

// PublicQueue describes one shared-memory queue to register at startup.
type PublicQueue struct {
	QueueID              string `yaml:"QueueID"`
	MessageSize          int    `yaml:"MessageSize"`
	QueueSize            int    `yaml:"QueueSize"`
	AllowMultipleReaders bool   `yaml:"AllowMultipleReaders"`
	AllowMultipleWriters bool   `yaml:"AllowMultipleWriters"`
}

// Timers configures the shared timer pool (pkg/timerpool), stood up by
// cmd/epctoolsd serve.
type Timers struct {
	ResolutionMS int64  `yaml:"ResolutionMS"`
	Rounding     string `yaml:"Rounding"` // "up" or "down", default "up"
}

// DNSNamedServer is one upstream resolver entry under DNS.NamedServers.
type DNSNamedServer struct {
	Address string `yaml:"Address"`
	Port    int    `yaml:"Port"`
}

// RefreshCoordinator configures the optional Raft-based leader election
// gating the DNS refresher's background re-query loop across a redundant
// active/standby pair sharing a named-server set (pkg/refreshcoord). A
// single, non-redundant instance leaves this disabled and always
// refreshes.
type RefreshCoordinator struct {
	Enabled  bool   `yaml:"Enabled"`
	NodeID   string `yaml:"NodeID"`
	BindAddr string `yaml:"BindAddr"`
	DataDir  string `yaml:"DataDir"`
}

// DNS configures the DNS query cache and its background refresher
// (pkg/dnscache), stood up by cmd/epctoolsd serve against NamedServers.
type DNS struct {
	NamedServers         []DNSNamedServer   `yaml:"NamedServers"`
	RefreshIntervalMS    int64              `yaml:"RefreshIntervalMS"`
	RefreshPercent       int                `yaml:"RefreshPercent"`
	MaxConcurrentRefresh int                `yaml:"MaxConcurrentRefresh"`
	PersistPath          string             `yaml:"PersistPath"`
	SaveIntervalMS       int64              `yaml:"SaveIntervalMS"`
	Coordinator          RefreshCoordinator `yaml:"Coordinator"`
}

// EpcTools is the root of the recognised options tree (spec §6).
type EpcTools struct {
	EnablePublicObjects    bool                   `yaml:"EnablePublicObjects"`
	SynchronizationObjects SynchronizationObjects `yaml:"SynchronizationObjects"`
	PublicQueue            []PublicQueue          `yaml:"PublicQueue"`
	Logger                 log.Config             `yaml:"Logger"`
	Timers                 Timers                 `yaml:"Timers"`
	DNS                    DNS                    `yaml:"DNS"`
}

// Config is the top-level document this package loads.
type Config struct {
	EpcTools EpcTools `yaml:"EpcTools"`
}

// defaults mirror the teacher's convention of filling in sane values
// before validation rather than erroring on every omitted key.
func defaults() Config {
	return Config{
		EpcTools: EpcTools{
			SynchronizationObjects: SynchronizationObjects{
				NumberSemaphores: 32,
				NumberMutexes:    32,
			},
			Timers: Timers{
				ResolutionMS: 5,
				Rounding:     "up",
			},
			DNS: DNS{
				RefreshIntervalMS:    60000,
				RefreshPercent:       80,
				MaxConcurrentRefresh: 10,
			},
		},
	}
}

// Load reads and parses a YAML options file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, epcerr.New(epcerr.KindFatal, "config.Load", fmt.Errorf("read %s: %w", path, err))
	}
	return Parse(data)
}

// Parse parses YAML options data, filling in defaults for omitted keys
// and validating the result.
func Parse(data []byte) (Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, epcerr.New(epcerr.KindProtocolMisuse, "config.Parse", fmt.Errorf("parse yaml: %w", err))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the options tree for the invariants the core depends
// on (spec §7's protocol-misuse class covers invalid configuration).
func (c Config) Validate() error {
	so := c.EpcTools.SynchronizationObjects
	if c.EpcTools.EnablePublicObjects {
		if so.NumberSemaphores < 0 || so.NumberMutexes < 0 {
			return epcerr.New(epcerr.KindProtocolMisuse, "config.Validate", fmt.Errorf("synchronization object counts must be non-negative"))
		}
	}
	seen := make(map[string]bool, len(c.EpcTools.PublicQueue))
	for _, q := range c.EpcTools.PublicQueue {
		if q.QueueID == "" {
			return epcerr.New(epcerr.KindProtocolMisuse, "config.Validate", fmt.Errorf("public queue missing QueueID"))
		}
		if seen[q.QueueID] {
			return epcerr.New(epcerr.KindProtocolMisuse, "config.Validate", fmt.Errorf("duplicate public queue id %q", q.QueueID))
		}
		seen[q.QueueID] = true
		if q.QueueSize <= 0 {
			return epcerr.New(epcerr.KindProtocolMisuse, "config.Validate", fmt.Errorf("public queue %q: QueueSize must be positive", q.QueueID))
		}
	}

	if c.EpcTools.Timers.ResolutionMS <= 0 {
		return epcerr.New(epcerr.KindProtocolMisuse, "config.Validate", fmt.Errorf("timers: ResolutionMS must be positive"))
	}
	if c.EpcTools.Timers.Rounding != "" && c.EpcTools.Timers.Rounding != "up" && c.EpcTools.Timers.Rounding != "down" {
		return epcerr.New(epcerr.KindProtocolMisuse, "config.Validate", fmt.Errorf("timers: Rounding must be \"up\" or \"down\", got %q", c.EpcTools.Timers.Rounding))
	}

	dnsCfg := c.EpcTools.DNS
	for _, ns := range dnsCfg.NamedServers {
		if ns.Address == "" {
			return epcerr.New(epcerr.KindProtocolMisuse, "config.Validate", fmt.Errorf("dns: named server missing Address"))
		}
	}
	if dnsCfg.Coordinator.Enabled {
		if dnsCfg.Coordinator.NodeID == "" || dnsCfg.Coordinator.BindAddr == "" || dnsCfg.Coordinator.DataDir == "" {
			return epcerr.New(epcerr.KindProtocolMisuse, "config.Validate", fmt.Errorf("dns.coordinator: NodeID, BindAddr and DataDir are all required when enabled"))
		}
	}
	return nil
}
