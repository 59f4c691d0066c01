// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

// Package config loads and exposes the node's runtime configuration.
package config

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/magiconair/properties"
	"gopkg.in/yaml.v2"
)

// Registry holds every tunable the consensus core, the chain FSM and the
// mempool consult at runtime.
type Registry struct {
	Consensus ConsensusConfig `toml:"consensus" yaml:"consensus"`
	Chain     ChainConfig     `toml:"chain" yaml:"chain"`
	Mempool   MempoolConfig   `toml:"mempool" yaml:"mempool"`
	Network   NetworkConfig   `toml:"network" yaml:"network"`
	Logger    LoggerConfig    `toml:"logger" yaml:"logger"`
}

// ConsensusConfig tunes the per-round SA state machine.
type ConsensusConfig struct {
	MaxIteration       uint8         `toml:"max_iteration" yaml:"max_iteration"`
	CommitteeSize      int           `toml:"committee_size" yaml:"committee_size"`
	StepBaseTimeout    time.Duration `toml:"step_base_timeout" yaml:"step_base_timeout"`
	StepTimeoutCeiling time.Duration `toml:"step_timeout_ceiling" yaml:"step_timeout_ceiling"`
}

// ChainConfig tunes block acceptance and the sync FSM.
type ChainConfig struct {
	MinBlockTime       time.Duration `toml:"min_block_time" yaml:"min_block_time"`
	MarginTimestamp    time.Duration `toml:"margin_timestamp" yaml:"margin_timestamp"`
	MaxBlocksToRequest int           `toml:"max_blocks_to_request" yaml:"max_blocks_to_request"`
	ExpiryTimeout      time.Duration `toml:"expiry_timeout" yaml:"expiry_timeout"`
	DefaultHopsLimit   uint8         `toml:"default_hops_limit" yaml:"default_hops_limit"`
	AttCacheExpiry     time.Duration `toml:"att_cache_expiry" yaml:"att_cache_expiry"`
	PresyncTimeout     time.Duration `toml:"presync_timeout" yaml:"presync_timeout"`
}

// MempoolConfig tunes transaction admission.
type MempoolConfig struct {
	MaxSizeMB          float64       `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxTxnCount        int           `toml:"max_txn_count" yaml:"max_txn_count"`
	Expiry             time.Duration `toml:"expiry" yaml:"expiry"`
	DownloadRedundancy int           `toml:"download_redundancy" yaml:"download_redundancy"`
}

// NetworkConfig tunes the peer-to-peer transport.
type NetworkConfig struct {
	PublicAddr    string   `toml:"public_addr" yaml:"public_addr"`
	BootstrapFile string   `toml:"bootstrap_file" yaml:"bootstrap_file"`
	Seeds         []string `toml:"seeds" yaml:"seeds"`
}

// LoggerConfig tunes log output.
type LoggerConfig struct {
	Level     string `toml:"level" yaml:"level"`
	Output    string `toml:"output" yaml:"output"`
	MaxSizeMB int    `toml:"max_size_mb" yaml:"max_size_mb"`
}

var (
	mu  sync.RWMutex
	cfg = Default()
)

// Default returns the registry populated with the constants named in
// spec.md §6.
func Default() *Registry {
	return &Registry{
		Consensus: ConsensusConfig{
			MaxIteration:       16,
			CommitteeSize:      64,
			StepBaseTimeout:    5 * time.Second,
			StepTimeoutCeiling: 40 * time.Second,
		},
		Chain: ChainConfig{
			MinBlockTime:       10 * time.Second,
			MarginTimestamp:    3 * time.Second,
			MaxBlocksToRequest: 50,
			ExpiryTimeout:      5 * time.Second,
			DefaultHopsLimit:   16,
			AttCacheExpiry:     60 * time.Second,
			PresyncTimeout:     10 * time.Second,
		},
		Mempool: MempoolConfig{
			MaxSizeMB:          100,
			MaxTxnCount:        10000,
			Expiry:             10 * time.Minute,
			DownloadRedundancy: 5,
		},
		Network: NetworkConfig{},
		Logger: LoggerConfig{
			Level:  "info",
			Output: "stdout",
		},
	}
}

// Get returns the currently loaded configuration. Safe for concurrent use.
func Get() *Registry {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Load parses a TOML file into the global registry, replacing any
// previously loaded values.
func Load(path string) error {
	r := Default()
	if _, err := toml.DecodeFile(path, r); err != nil {
		return err
	}

	mu.Lock()
	cfg = r
	mu.Unlock()
	return nil
}

// LoadYAML parses a YAML file into the global registry, for operators who
// keep their node config alongside other YAML-based deployment manifests
// rather than the default TOML format.
func LoadYAML(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	r := Default()
	if err := yaml.Unmarshal(raw, r); err != nil {
		return err
	}

	mu.Lock()
	cfg = r
	mu.Unlock()
	return nil
}

// detectFormat picks Load or LoadYAML by file extension, falling back to
// TOML for anything unrecognized.
func detectFormat(path string) func(string) error {
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		return LoadYAML
	}
	return Load
}

// LoadFile dispatches to Load or LoadYAML based on path's extension.
func LoadFile(path string) error {
	return detectFormat(path)(path)
}

// LoadBootstrapPeers reads a java-style properties file listing seed peer
// addresses, one per `peer.N` key. Used to warm the network layer before
// the TOML config's Seeds list is consulted.
func LoadBootstrapPeers(path string) ([]string, error) {
	p, err := properties.LoadFile(path, properties.UTF8)
	if err != nil {
		return nil, err
	}

	var peers []string
	for _, key := range p.Keys() {
		if len(key) >= 5 && key[:5] == "peer." {
			peers = append(peers, p.GetString(key, ""))
		}
	}

	return peers, nil
}

// Set installs r as the global configuration. Exposed for tests.
func Set(r *Registry) {
	mu.Lock()
	cfg = r
	mu.Unlock()
}
