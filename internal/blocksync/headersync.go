package blocksync

import (
	"context"
	"fmt"

	"github.com/shardwimble/basenode/internal/rpcproto"
	"github.com/shardwimble/basenode/internal/syncerrors"
	"github.com/shardwimble/basenode/pkg/block"
	"github.com/shardwimble/basenode/pkg/types"
)

// headerSyncResult is what a successful HeaderSync phase hands to
// BlockSync: the height both chains agree on, and how far ahead the
// network tip is known to be.
type headerSyncResult struct {
	splitHeight      uint64
	networkTipHeight uint64
}

// headerSync locates the height at which the local chain and the
// selected peer's chain diverge (or confirms there is no divergence).
func (e *Engine) headerSync(ctx context.Context) (headerSyncResult, error) {
	localMeta, err := e.store.FetchChainMetadata(ctx)
	if err != nil {
		return headerSyncResult{}, syncerrors.Wrap(syncerrors.StorageFatal, "header sync: fetch local chain metadata", err)
	}
	if localMeta.BestHeight == 0 && localMeta.BestHash.IsZero() {
		return headerSyncResult{}, syncerrors.Wrap(syncerrors.NoCandidates, "header sync", ErrEmptyBlockchain)
	}

	peer, err := e.peers.Select()
	if err != nil {
		return headerSyncResult{}, err
	}
	client := e.dialer.Client(peer.NodeID)

	tipResp, err := client.GetTipInfo(ctx, e.cfg.RPCDeadline)
	if err != nil {
		e.peers.Ban(peer.NodeID, e.cfg.ShortBanDuration, "rpc: get_tip_info failed")
		return headerSyncResult{}, syncerrors.WrapPeer(syncerrors.PeerTransient, peer.NodeID, "header sync: get tip info", err)
	}
	networkMeta := tipResp.Metadata
	if networkMeta.BestHeight == 0 && networkMeta.BestHash.IsZero() {
		return headerSyncResult{}, syncerrors.Wrap(syncerrors.NoCandidates, "header sync", ErrEmptyNetworkBestBlock)
	}

	localTipHeader, err := e.store.FetchHeaderByHeight(ctx, localMeta.BestHeight)
	if err != nil {
		return headerSyncResult{}, syncerrors.Wrap(syncerrors.StorageFatal, "header sync: fetch local tip header", err)
	}

	split, err := e.detectSplit(ctx, client, peer.NodeID, localMeta, networkMeta, localTipHeader)
	if err != nil {
		return headerSyncResult{}, err
	}
	if !split {
		return headerSyncResult{splitHeight: localMeta.BestHeight, networkTipHeight: networkMeta.BestHeight}, nil
	}

	splitHeight, err := e.findSplitHeight(ctx, client, peer.NodeID, localMeta.BestHeight)
	if err != nil {
		return headerSyncResult{}, err
	}
	return headerSyncResult{splitHeight: splitHeight, networkTipHeight: networkMeta.BestHeight}, nil
}

// detectSplit compares the peer's header at the shorter chain's tip height
// against the corresponding local header. When the network is ahead, that
// height is the local tip; otherwise it's the peer's own reported tip.
func (e *Engine) detectSplit(ctx context.Context, client RPCClient, peerID string, localMeta, networkMeta block.ChainMetadata, localTipHeader *block.Header) (bool, error) {
	probeHeight := localMeta.BestHeight
	var localHashAtProbe types.Hash
	if networkMeta.BestHeight > localMeta.BestHeight {
		localHashAtProbe = localTipHeader.Hash()
	} else {
		probeHeight = networkMeta.BestHeight
		localHeader, err := e.store.FetchHeaderByHeight(ctx, probeHeight)
		if err != nil {
			return false, syncerrors.Wrap(syncerrors.StorageFatal, "header sync: fetch local header at peer tip", err)
		}
		localHashAtProbe = localHeader.Hash()
	}

	resp, err := client.GetHeaderByHeight(ctx, e.cfg.RPCDeadline, probeHeight)
	if err != nil {
		e.peers.Ban(peerID, e.cfg.ShortBanDuration, "rpc: get_header_by_height failed")
		return false, syncerrors.WrapPeer(syncerrors.PeerTransient, peerID, "header sync: get header by height", err)
	}
	if !resp.Found || resp.Header.Hash() != localHashAtProbe {
		return true, nil
	}
	return false, nil
}

// findSplitHeight probes descending, non-overlapping chunks of locally
// known header hashes via find_chain_split until the peer reports a
// height still common to both chains, then verifies the headers the peer
// claims follow that point actually link to it.
func (e *Engine) findSplitHeight(ctx context.Context, client RPCClient, peerID string, localTip uint64) (uint64, error) {
	chunk := e.cfg.headerChunk()
	end := localTip
	attempts := 0

	for {
		hashes, heights, err := e.probeLocalHashes(ctx, end, chunk)
		if err != nil {
			return 0, err
		}

		resp, err := client.FindChainSplit(ctx, e.cfg.RPCDeadline, rpcproto.FindChainSplitRequest{
			BlockHashes: hashes,
			HeaderCount: chunk,
		})
		attempts++
		if err != nil {
			e.peers.Ban(peerID, e.cfg.ShortBanDuration, "rpc: find_chain_split failed")
			if attempts >= e.cfg.maxHeaderAttempts() {
				return 0, syncerrors.WrapPeer(syncerrors.PeerTransient, peerID, "header sync: find chain split", err)
			}
			continue
		}

		if resp.SplitIndex >= 0 && resp.SplitIndex < len(heights) {
			splitHeight := heights[resp.SplitIndex]
			if err := e.verifyChainLink(ctx, peerID, splitHeight, resp.Headers); err != nil {
				return 0, err
			}
			return splitHeight, nil
		}

		if heights[len(heights)-1] == 0 {
			e.peers.Ban(peerID, e.cfg.LongBanDuration, "fork chain not linked: exhausted header search")
			return 0, syncerrors.WrapPeer(syncerrors.PeerMisbehavior, peerID, "header sync", ErrForkChainNotLinked)
		}
		end = heights[len(heights)-1] - 1
	}
}

// probeLocalHashes returns up to chunk local header hashes, descending
// from end, alongside the heights they came from.
func (e *Engine) probeLocalHashes(ctx context.Context, end, chunk uint64) ([]types.Hash, []uint64, error) {
	var hashes []types.Hash
	var heights []uint64
	for i := uint64(0); i < chunk; i++ {
		if end < i {
			break
		}
		h := end - i
		hdr, err := e.store.FetchHeaderByHeight(ctx, h)
		if err != nil {
			return nil, nil, syncerrors.Wrap(syncerrors.StorageFatal, "header sync: fetch local header for split probe", err)
		}
		hashes = append(hashes, hdr.Hash())
		heights = append(heights, h)
		if h == 0 {
			break
		}
	}
	return hashes, heights, nil
}

// verifyChainLink confirms headers, the sequence the peer claims follows
// splitHeight, actually chains from the local header at that height.
func (e *Engine) verifyChainLink(ctx context.Context, peerID string, splitHeight uint64, headers []*block.Header) error {
	base, err := e.store.FetchHeaderByHeight(ctx, splitHeight)
	if err != nil {
		return syncerrors.Wrap(syncerrors.StorageFatal, "header sync: fetch split-height header", err)
	}
	prevHash := base.Hash()
	for i, h := range headers {
		if h == nil || h.PrevHash != prevHash {
			e.peers.Ban(peerID, e.cfg.LongBanDuration, "invalid chain link")
			return syncerrors.WrapPeer(syncerrors.PeerMisbehavior, peerID, fmt.Sprintf("header sync: invalid chain link at position %d", i), ErrInvalidChainLink)
		}
		prevHash = h.Hash()
	}
	return nil
}
