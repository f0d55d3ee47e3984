package rpcproto

import (
	"github.com/shardwimble/basenode/pkg/block"
	"github.com/shardwimble/basenode/pkg/types"
)

// GetTipInfoResponse is the get_tip_info() RPC result.
type GetTipInfoResponse struct {
	Metadata block.ChainMetadata `json:"metadata"`
}

// GetHeaderByHeightRequest is the get_header_by_height(height) RPC request.
type GetHeaderByHeightRequest struct {
	Height uint64 `json:"height"`
}

// GetHeaderByHeightResponse carries the requested header, or Found=false if
// the peer has no header at that height.
type GetHeaderByHeightResponse struct {
	Found  bool          `json:"found"`
	Header *block.Header `json:"header,omitempty"`
}

// FindChainSplitRequest is find_chain_split({block_hashes[], header_count}).
// BlockHashes is a descending, non-overlapping probe of local header
// hashes; HeaderCount bounds how many headers the peer should return
// starting immediately after the split point it finds.
type FindChainSplitRequest struct {
	BlockHashes []types.Hash `json:"block_hashes"`
	HeaderCount uint64       `json:"header_count"`
}

// FindChainSplitResponse reports which of BlockHashes (by index) the peer's
// chain still contains, plus the headers immediately following the split.
type FindChainSplitResponse struct {
	SplitIndex int             `json:"split_index"`
	Headers    []*block.Header `json:"headers"`
}

// RequestHeadersRequest is request_headers_from_peer(block_nums[]).
type RequestHeadersRequest struct {
	Heights []uint64 `json:"heights"`
}

// RequestHeadersResponse returns one header per requested height, in the
// same order; a peer that cannot serve all of them returns fewer than
// requested rather than padding with zero values.
type RequestHeadersResponse struct {
	Headers []*block.Header `json:"headers"`
}

// RequestBlocksRequest is request_blocks_from_peer(block_nums[]).
type RequestBlocksRequest struct {
	Heights []uint64 `json:"heights"`
}

// RequestBlocksResponse returns one full block per requested height, in
// the same order.
type RequestBlocksResponse struct {
	Blocks []*block.Block `json:"blocks"`
}

// SyncKernelsRequest opens a kernel stream starting at Start (an MMR
// position) up to EndHeaderHash.
type SyncKernelsRequest struct {
	Start         uint64     `json:"start"`
	EndHeaderHash types.Hash `json:"end_header_hash"`
}

// KernelStreamItem is one frame of a sync_kernels stream: a kernel plus
// the hash of the header that mined it (needed to detect per-header MMR
// root boundaries) and its MMR position.
type KernelStreamItem struct {
	Kernel              block.Kernel `json:"kernel"`
	ContainingHeaderHash types.Hash  `json:"containing_header_hash"`
	MMRPosition         uint64       `json:"mmr_position"`
}

// SyncUTXOsRequest opens an output stream between two header hashes.
type SyncUTXOsRequest struct {
	StartHeaderHash types.Hash `json:"start_header_hash"`
	EndHeaderHash   types.Hash `json:"end_header_hash"`
}

// UTXOStreamItem is one frame of a sync_utxos stream: an output plus the
// hash and height of the block that mined it.
type UTXOStreamItem struct {
	Output           block.Output `json:"output"`
	MinedHeaderHash  types.Hash   `json:"mined_header_hash"`
	MinedHeight      uint64       `json:"mined_height"`
	MinedTimestamp   uint64       `json:"mined_timestamp"`
}
