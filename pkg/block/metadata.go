package block

import "github.com/shardwimble/basenode/pkg/types"

// ChainMetadata is the compact chain-tip summary exchanged with sync peers
// and stored by the chain storage facade: everything needed to decide
// whether a peer is ahead, and by how much, without fetching headers.
type ChainMetadata struct {
	BestHeight         uint64     `json:"best_height"`
	BestHash           types.Hash `json:"best_hash"`
	AccumulatedDiffic  uint64     `json:"accumulated_difficulty"`
	PrunedHeight       uint64     `json:"pruned_height"`
	PruningHorizon     uint64     `json:"pruning_horizon"`
}

// IsAheadOf reports whether m represents more accumulated work than o,
// the comparison the block sync engine uses to decide whether a peer is
// worth syncing from.
func (m ChainMetadata) IsAheadOf(o ChainMetadata) bool {
	return m.AccumulatedDiffic > o.AccumulatedDiffic
}
