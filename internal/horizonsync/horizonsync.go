// Package horizonsync implements the horizon state sync engine (spec.md
// §4.5): bootstrapping a pruned node straight to a cut-off height
// ("horizon") by streaming kernels and outputs instead of replaying every
// intervening block, reconstructing the kernel MMR and output SMT as it
// goes and validating the final commitment sums before committing.
//
// It has no direct teacher analogue — the teacher chain is never pruned —
// so its shape is grounded on the teacher's genesis-to-height replay loop
// (Chain.RebuildUTXOs/rebuildReorg) generalized to a streamed, per-header
// checkpointed walk, with the per-item verify-then-accumulate sequencing
// of a Grin-style block validator.
package horizonsync

import (
	"context"
	"time"

	"github.com/shardwimble/basenode/internal/peerpool"
	"github.com/shardwimble/basenode/internal/rpcproto"
	"github.com/shardwimble/basenode/pkg/block"
	"github.com/shardwimble/basenode/pkg/types"
)

const (
	defaultMaxLatencyIncreases = 3
	defaultRPCDeadline         = 30 * time.Second
)

// RPCClient is the subset of rpcproto.Client one horizon-sync attempt
// needs from a peer's connection. *rpcproto.Client satisfies this
// directly.
type RPCClient interface {
	GetTipInfo(ctx context.Context, deadline time.Duration) (*rpcproto.GetTipInfoResponse, error)
	GetHeaderByHeight(ctx context.Context, deadline time.Duration, height uint64) (*rpcproto.GetHeaderByHeightResponse, error)
	SyncKernels(ctx context.Context, deadline time.Duration, req rpcproto.SyncKernelsRequest, fn func(rpcproto.KernelStreamItem) error) error
	SyncUTXOs(ctx context.Context, deadline time.Duration, req rpcproto.SyncUTXOsRequest, fn func(rpcproto.UTXOStreamItem) error) error
}

// ClientDialer builds an RPCClient bound to a specific peer.
type ClientDialer interface {
	Client(nodeID string) RPCClient
}

// PeerPool is the subset of peerpool.Pool the engine consumes.
// *peerpool.Pool satisfies this directly.
type PeerPool interface {
	Select() (*peerpool.SyncPeer, error)
	Ban(nodeID string, duration time.Duration, reason string)
	Exclude(nodeID string)
	ClearExclusions()
	Snapshot() []*peerpool.SyncPeer
}

// Tx is the narrow write-transaction surface horizon sync stages kernel
// and output inserts through. *chainstore.WriteTransaction satisfies this
// directly.
type Tx interface {
	PutHeader(h *block.Header)
	PutKernel(k block.Kernel, mmrPosition uint64)
	PutOutput(o block.Output, height uint64)
	SetChainMetadata(meta block.ChainMetadata)
	ProjectKernelRoot() types.Hash
	ProjectOutputRoot() types.Hash
	Commit(ctx context.Context) error
}

// ChainStore is the chain storage facade surface horizon sync reads and
// writes. *chainstore.Store does not satisfy this directly, since its
// NewWriteTransaction returns a concrete *chainstore.WriteTransaction
// rather than the Tx interface — wrap it with StoreAdapter.
type ChainStore interface {
	FetchChainMetadata(ctx context.Context) (block.ChainMetadata, error)
	FetchHeaderByHeight(ctx context.Context, height uint64) (*block.Header, error)
	FetchHeaderByHash(ctx context.Context, hash types.Hash) (*block.Header, error)
	FetchUTXOsInBlock(ctx context.Context, height uint64) ([]block.Output, error)
	FetchKernelsInBlock(ctx context.Context, height uint64) ([]block.Kernel, error)
	PruneToHeight(ctx context.Context, height uint64) error
	NewWriteTransaction() Tx
}

// Config tunes the horizon target, latency ceiling escalation, and ban
// durations.
type Config struct {
	// PruningHorizon is how far behind the network tip this node keeps
	// full blocks; beyond it, state is only available via horizon sync.
	PruningHorizon uint64
	// HorizonOffset is added to network_tip_height-PruningHorizon when
	// computing the sync target, a safety margin against a tip that is
	// still reorganizing. Zero is a fine default.
	HorizonOffset uint64

	RPCDeadline time.Duration

	MaxLatency         time.Duration
	MaxLatencyIncrease time.Duration
	MaxLatencyIncreases int

	ShortBanDuration time.Duration
	LongBanDuration  time.Duration

	MaxScriptByteSize int

	BypassRangeProofs bool

	// FinalState validates the (utxo_sum, kernel_sum, burned_sum) Finalize
	// computes before the engine commits. Nil falls back to AlwaysOK.
	FinalState FinalStateValidator
}

func (c Config) rpcDeadline() time.Duration {
	if c.RPCDeadline <= 0 {
		return defaultRPCDeadline
	}
	return c.RPCDeadline
}

func (c Config) maxLatencyIncreases() int {
	if c.MaxLatencyIncreases <= 0 {
		return defaultMaxLatencyIncreases
	}
	return c.MaxLatencyIncreases
}

func (c Config) finalState() FinalStateValidator {
	if c.FinalState == nil {
		return AlwaysOK{}
	}
	return c.FinalState
}

// Engine drives one node's horizon sync attempts.
type Engine struct {
	store  ChainStore
	peers  PeerPool
	dialer ClientDialer
	cfg    Config
}

// New builds an Engine. store, peers and dialer must be non-nil.
func New(store ChainStore, peers PeerPool, dialer ClientDialer, cfg Config) *Engine {
	return &Engine{store: store, peers: peers, dialer: dialer, cfg: cfg}
}

// horizonTarget computes the sync cut-off height given the network tip.
func (e *Engine) horizonTarget(networkTipHeight uint64) uint64 {
	if networkTipHeight <= e.cfg.PruningHorizon {
		return 0
	}
	return networkTipHeight - e.cfg.PruningHorizon + e.cfg.HorizonOffset
}

// RunOnce drives a single horizon sync attempt to completion, or returns
// nil without doing anything if the local chain is not far enough behind
// the (first eligible peer's) network tip to need it. It escalates the
// latency ceiling and retries across the whole peer pool up to
// max_latency_increases times before failing AllSyncPeersExceedLatency.
func (e *Engine) RunOnce(ctx context.Context) error {
	localMeta, err := e.store.FetchChainMetadata(ctx)
	if err != nil {
		return wrapStorageFatal("horizon sync: fetch local chain metadata", err)
	}

	peer, err := e.peers.Select()
	if err != nil {
		return err
	}
	probeClient := e.dialer.Client(peer.NodeID)
	tipResp, err := probeClient.GetTipInfo(ctx, e.cfg.rpcDeadline())
	if err != nil {
		e.peers.Ban(peer.NodeID, e.cfg.ShortBanDuration, "rpc: get_tip_info failed")
		return wrapPeerTransient(peer.NodeID, "horizon sync: get tip info", err)
	}
	networkMeta := tipResp.Metadata

	if networkMeta.BestHeight <= localMeta.BestHeight+e.cfg.PruningHorizon {
		return nil
	}
	horizon := e.horizonTarget(networkMeta.BestHeight)
	if horizon <= localMeta.PrunedHeight && localMeta.BestHeight >= horizon {
		return nil
	}

	ceiling := e.cfg.MaxLatency
	for attempt := 0; attempt <= e.cfg.maxLatencyIncreases(); attempt++ {
		err := e.attemptRound(ctx, horizon, ceiling)
		if err == nil {
			return nil
		}
		if err != errAllPeersExceedLatency {
			return err
		}
		ceiling += e.cfg.MaxLatencyIncrease
	}
	return wrapNoCandidates("horizon sync: all sync peers exceed latency ceiling", errAllSyncPeersExceedLatency)
}

// attemptRound tries every peer in the pool once at the given latency
// ceiling. It returns errAllPeersExceedLatency if every peer it dialed
// this round was rejected purely for exceeding ceiling (a signal to the
// caller to raise the ceiling and try again), nil on the first successful
// full sync, or the first non-latency error encountered.
func (e *Engine) attemptRound(ctx context.Context, horizon uint64, ceiling time.Duration) error {
	e.peers.ClearExclusions()

	dialed := 0
	exceededLatency := 0
	var lastErr error

	for {
		peer, err := e.peers.Select()
		if err != nil {
			break
		}
		e.peers.Exclude(peer.NodeID)
		dialed++

		client := e.dialer.Client(peer.NodeID)
		start := time.Now()
		tipResp, err := client.GetTipInfo(ctx, e.cfg.rpcDeadline())
		latency := time.Since(start)
		if err != nil {
			e.peers.Ban(peer.NodeID, e.cfg.ShortBanDuration, "rpc: get_tip_info failed")
			lastErr = wrapPeerTransient(peer.NodeID, "horizon sync: get tip info", err)
			continue
		}
		if ceiling > 0 && latency > ceiling {
			exceededLatency++
			continue
		}

		err = e.syncFromPeer(ctx, peer.NodeID, client, horizon, tipResp.Metadata)
		if err == nil {
			return nil
		}
		if isStorageFatal(err) {
			return err
		}
		lastErr = err
	}

	if dialed > 0 && exceededLatency == dialed {
		return errAllPeersExceedLatency
	}
	if lastErr != nil {
		return lastErr
	}
	return wrapNoCandidates("horizon sync: no eligible sync peers", errNoSyncPeers)
}
