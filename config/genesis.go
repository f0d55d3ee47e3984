package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shardwimble/basenode/pkg/crypto"
	"github.com/shardwimble/basenode/pkg/types"
)

// =============================================================================
// Protocol rules (immutable, defined in genesis)
// These MUST match across all nodes or consensus breaks.
// =============================================================================

// Denomination constants. 1 coin = 10^12 base units. All on-chain values
// are expressed in base units (the committed value inside a Pedersen
// commitment).
const (
	Decimals  = 12
	Coin      = 1_000_000_000_000
	MilliCoin = 1_000_000_000
)

// CoinbaseLockHeight is the number of blocks a coinbase output must wait
// before it becomes spendable.
const CoinbaseLockHeight uint64 = 60

// DefaultPruningHorizon is the default number of blocks behind the tip a
// pruned node keeps in full before relying on horizon sync.
const DefaultPruningHorizon uint64 = 1000

// DefaultOutputValidationWorkers is the block body validator's default
// output worker pool size.
const DefaultOutputValidationWorkers = 4

// Version ranges the block body validator enforces (§4.1 steps 2/4/1 of
// kernel/input/output validation).
const (
	MinKernelVersion = 1
	MaxKernelVersion = 1
	MinInputVersion  = 1
	MaxInputVersion  = 1
	MinOutputVersion = 1
	MaxOutputVersion = 1
)

// Size limits (consensus-critical).
const (
	MaxScriptByteSize   = 4096 // Max bytes for a tari-script program.
	MaxCovenantByteSize = 1024 // Max bytes for a covenant program.
	MaxCoinbaseExtraSize = 256 // Max bytes of free-form coinbase extra data.
)

// HorizonKernelWindowOffset widens the horizon target past the strict
// `network_tip - pruning_horizon` boundary, giving pruned nodes a small
// buffer against the tip moving during a sync attempt.
const HorizonKernelWindowOffset uint64 = 0

// Emission computes the coinbase reward (in base units) paid at height h.
// A simple halving schedule: the reward halves every halvingInterval
// blocks, floored at minimumReward once it would fall below it.
func Emission(height uint64) uint64 {
	const (
		initialReward    = 50 * Coin
		halvingInterval  = 1_050_000
		minimumReward    = 1 * MilliCoin
	)
	halvings := height / halvingInterval
	if halvings >= 63 {
		return minimumReward
	}
	reward := initialReward >> halvings
	if reward < minimumReward {
		return minimumReward
	}
	return reward
}

// Genesis holds the genesis block configuration and protocol rules. This is
// immutable after chain launch; changes require a hard fork.
type Genesis struct {
	ChainID   string `json:"chain_id"`
	ChainName string `json:"chain_name"`
	Symbol    string `json:"symbol,omitempty"`

	Timestamp uint64 `json:"timestamp"`
	ExtraData string `json:"extra_data,omitempty"`

	// GenesisOutputCommitment is the single pre-mined coinbase commitment
	// sealed into the genesis block, if the chain starts with a non-empty
	// UTXO set.
	GenesisOutputCommitment string `json:"genesis_output_commitment,omitempty"`

	Protocol ProtocolConfig `json:"protocol"`
}

// ProtocolConfig holds consensus-critical rules. All nodes MUST agree on
// these values.
type ProtocolConfig struct {
	BlockTimeSeconds   int    `json:"block_time_seconds"`
	CoinbaseLockHeight uint64 `json:"coinbase_lock_height"`
	PruningHorizon     uint64 `json:"pruning_horizon"`
	PoWAlgo            string `json:"pow_algo"` // opaque tag, e.g. "randomx" or "sha3"
}

// MainnetGenesis returns the mainnet genesis configuration.
func MainnetGenesis() *Genesis {
	return &Genesis{
		ChainID:   "shardwimble-mainnet-1",
		ChainName: "Shardwimble Mainnet",
		Symbol:    "SWB",
		Timestamp: 1770734103,
		ExtraData: "Shardwimble Genesis",
		Protocol: ProtocolConfig{
			BlockTimeSeconds:   120,
			CoinbaseLockHeight: CoinbaseLockHeight,
			PruningHorizon:     DefaultPruningHorizon,
			PoWAlgo:            "randomx",
		},
	}
}

// TestnetGenesis returns the testnet genesis configuration.
func TestnetGenesis() *Genesis {
	g := MainnetGenesis()
	g.ChainID = "shardwimble-testnet-1"
	g.ChainName = "Shardwimble Testnet"
	g.ExtraData = "Shardwimble Testnet Genesis"
	g.Protocol.PruningHorizon = 100
	g.Protocol.BlockTimeSeconds = 15
	return g
}

// GenesisFor returns the genesis config for the given network.
func GenesisFor(network NetworkType) *Genesis {
	switch network {
	case Testnet:
		return TestnetGenesis()
	default:
		return MainnetGenesis()
	}
}

// LoadGenesis loads genesis configuration from a file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading genesis file: %w", err)
	}
	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parsing genesis file: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis: %w", err)
	}
	return &g, nil
}

// Save writes the genesis configuration to a file.
func (g *Genesis) Save(path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding genesis: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing genesis file: %w", err)
	}
	return nil
}

// Validate checks that the genesis configuration is well-formed.
func (g *Genesis) Validate() error {
	if g.ChainID == "" {
		return fmt.Errorf("chain_id is required")
	}
	if g.Protocol.BlockTimeSeconds <= 0 {
		return fmt.Errorf("block_time_seconds must be positive")
	}
	if g.Protocol.PruningHorizon == 0 {
		return fmt.Errorf("pruning_horizon must be positive")
	}
	return nil
}

// Hash returns a BLAKE3 hash of the genesis configuration, used to identify
// the chain and detect genesis mismatches between peers.
func (g *Genesis) Hash() (types.Hash, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.Hash(data), nil
}
