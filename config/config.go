// Package config handles base node configuration.
//
// Configuration is split into two categories:
//   - Protocol rules: defined in genesis, immutable, must match across all nodes
//   - Node settings: runtime configuration, can vary per node
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// =============================================================================
// Node configuration (runtime, per-node settings)
// =============================================================================

// Config holds node-specific runtime configuration. These settings can vary
// between nodes without breaking consensus.
type Config struct {
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// Connectivity (consumed through ConnectivityService; the dial/listen
	// settings here configure the concrete libp2p transport this node runs).
	P2P P2PConfig

	// Sync is the block/horizon sync engine's operator-tunable behavior.
	Sync SyncConfig

	// Logging
	Log LogConfig

	// Maintenance (not persisted in config file)
	RebuildIndexes bool
}

// P2PConfig holds peer-to-peer transport settings.
type P2PConfig struct {
	Enabled    bool     `conf:"p2p.enabled"`
	ListenAddr string   `conf:"p2p.listen"`
	Port       int      `conf:"p2p.port"`
	Seeds      []string `conf:"p2p.seeds"`
	MaxPeers   int      `conf:"p2p.maxpeers"`
}

// SyncPeerPolicy selects how the sync peer pool picks a peer.
type SyncPeerPolicy string

const (
	// PolicyFirst always returns the first eligible peer in the pool.
	PolicyFirst SyncPeerPolicy = "first"
	// PolicyRandomWithChain returns a random eligible peer that has
	// reported chain metadata.
	PolicyRandomWithChain SyncPeerPolicy = "random_with_chain"
)

// SyncConfig holds the operator-tunable behavior of the two sync engines.
type SyncConfig struct {
	// SyncPeer, if set, pins sync to a single preferred peer id instead of
	// letting the pool's policy choose.
	SyncPeer string `conf:"sync.peer"`

	// PruningHorizon is the number of blocks behind the tip a pruned node
	// retains in full; beyond it, horizon sync is used instead of block
	// sync to catch up.
	PruningHorizon uint64 `conf:"sync.pruning_horizon"`

	// OutputValidationWorkers sets the block body validator's output
	// worker pool size (N in the spec's concurrency model).
	OutputValidationWorkers int `conf:"sync.output_validation_workers"`

	// BypassRangeProofs disables range proof verification. Only intended
	// for trusted catch-up (e.g. replaying a chain the operator already
	// trusts); never safe for production sync from untrusted peers.
	BypassRangeProofs bool `conf:"sync.bypass_range_proofs"`

	PeerSelectionPolicy SyncPeerPolicy `conf:"sync.peer_selection_policy"`

	HeaderRequestSize uint64 `conf:"sync.header_request_size"`
	BlockRequestSize  uint64 `conf:"sync.block_request_size"`

	MaxBlockRequestRetryAttempts  int `conf:"sync.max_block_request_retry_attempts"`
	MaxAddBlockRetryAttempts     int `conf:"sync.max_add_block_retry_attempts"`
	MaxHeaderRequestRetryAttempts int `conf:"sync.max_header_request_retry_attempts"`

	RPCDeadlineSeconds uint64 `conf:"sync.rpc_deadline_seconds"`
	MaxLatencyMillis   uint64 `conf:"sync.max_latency_millis"`
	MaxLatencyIncreaseMillis uint64 `conf:"sync.max_latency_increase_millis"`
	MaxLatencyIncreases      int    `conf:"sync.max_latency_increases"`

	ShortBanDuration int64 `conf:"sync.short_ban_seconds"`
	LongBanDuration  int64 `conf:"sync.long_ban_seconds"`

	MaxFrameBytes uint32 `conf:"sync.max_frame_bytes"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.shardwimble
//	macOS:   ~/Library/Application Support/Shardwimble
//	Windows: %APPDATA%\Shardwimble
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".shardwimble"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Shardwimble")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Shardwimble")
		}
		return filepath.Join(home, "AppData", "Roaming", "Shardwimble")
	default:
		return filepath.Join(home, ".shardwimble")
	}
}

// ChainDataDir returns the chain-specific data directory.
func (c *Config) ChainDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// ChainStoreDir returns the chain storage facade's on-disk directory.
func (c *Config) ChainStoreDir() string {
	return filepath.Join(c.ChainDataDir(), "chainstore")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "basenode.conf")
}
