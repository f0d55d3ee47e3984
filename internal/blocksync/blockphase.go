package blocksync

import (
	"context"

	"github.com/shardwimble/basenode/internal/syncerrors"
	"github.com/shardwimble/basenode/internal/validator"
	"github.com/shardwimble/basenode/pkg/block"
)

// blockSyncPhase downloads and applies every block from result.splitHeight+1
// through result.networkTipHeight, in chunks of the configured block
// request size. If the local chain has blocks beyond splitHeight (the
// local fork is now known to be orphaned), it rolls back to splitHeight
// first so ChainStore.ApplyBlock's parent-link invariant holds for the
// first downloaded block.
func (e *Engine) blockSyncPhase(ctx context.Context, result headerSyncResult) error {
	meta, err := e.store.FetchChainMetadata(ctx)
	if err != nil {
		return syncerrors.Wrap(syncerrors.StorageFatal, "block sync: fetch chain metadata", err)
	}
	if meta.BestHeight > result.splitHeight {
		if err := e.store.Rollback(ctx, result.splitHeight); err != nil {
			return syncerrors.Wrap(syncerrors.StorageFatal, "block sync: roll back to split height", err)
		}
		meta, err = e.store.FetchChainMetadata(ctx)
		if err != nil {
			return syncerrors.Wrap(syncerrors.StorageFatal, "block sync: fetch chain metadata after rollback", err)
		}
	}

	e.peers.ClearExclusions()
	acc := meta.AccumulatedDiffic
	chunk := e.cfg.blockChunk()

	for height := result.splitHeight + 1; height <= result.networkTipHeight; {
		end := height + chunk - 1
		if end > result.networkTipHeight {
			end = result.networkTipHeight
		}
		heights := heightRange(height, end)

		newAcc, err := e.syncBlockBatch(ctx, heights, acc, result.networkTipHeight)
		if err != nil {
			return err
		}
		acc = newAcc
		height = end + 1
	}
	return nil
}

// syncBlockBatch downloads and applies the blocks at heights, retrying
// with a fresh peer on request failures (up to
// max_block_request_retry_attempts) or apply/validation failures (up to
// max_add_block_retry_attempts). A partially applied batch only retries
// the heights that did not get applied.
func (e *Engine) syncBlockBatch(ctx context.Context, heights []uint64, startAcc, networkTip uint64) (uint64, error) {
	acc := startAcc
	remaining := heights
	requestAttempts := 0
	addAttempts := 0

	for len(remaining) > 0 {
		peer, err := e.peers.Select()
		if err != nil {
			return acc, err
		}
		client := e.dialer.Client(peer.NodeID)

		resp, err := client.RequestBlocks(ctx, e.cfg.RPCDeadline, remaining)
		if err != nil {
			e.peers.Ban(peer.NodeID, e.cfg.ShortBanDuration, "rpc: request_blocks failed")
			requestAttempts++
			if requestAttempts >= e.cfg.maxBlockRequestAttempts() {
				return acc, syncerrors.WrapPeer(syncerrors.PeerTransient, peer.NodeID, "block sync: request_blocks", ErrMaxRequestAttemptsReached)
			}
			continue
		}
		if !blocksMatchHeights(resp.Blocks, remaining) {
			e.peers.Ban(peer.NodeID, e.cfg.LongBanDuration, "request_blocks: wrong block count or height order")
			requestAttempts++
			if requestAttempts >= e.cfg.maxBlockRequestAttempts() {
				return acc, syncerrors.WrapPeer(syncerrors.PeerTransient, peer.NodeID, "block sync: request_blocks", ErrMaxRequestAttemptsReached)
			}
			continue
		}

		applied, newAcc, applyErr := e.applyBatch(ctx, peer.NodeID, resp.Blocks, acc, networkTip)
		acc = newAcc
		remaining = remaining[applied:]
		if applyErr == nil {
			return acc, nil
		}
		if syncerrors.Is(applyErr, syncerrors.StorageFatal) {
			return acc, applyErr
		}
		addAttempts++
		if addAttempts >= e.cfg.maxAddBlockAttempts() {
			return acc, syncerrors.WrapPeer(syncerrors.PeerTransient, peer.NodeID, "block sync: apply batch", ErrMaxAddBlockAttemptsReached)
		}
	}
	return acc, nil
}

// applyBatch validates and applies blocks in order, stopping at the first
// failure. It returns how many blocks were successfully applied so the
// caller can retry only the remainder.
func (e *Engine) applyBatch(ctx context.Context, peerID string, blocks []*block.Block, startAcc, networkTip uint64) (applied int, acc uint64, err error) {
	acc = startAcc
	for i, blk := range blocks {
		if _, verr := validator.Validate(ctx, blk, e.store, e.cfg.Validator); verr != nil {
			e.peers.Ban(peerID, e.cfg.LongBanDuration, "invalid block: failed body validation")
			return i, acc, syncerrors.WrapPeer(syncerrors.PeerMisbehavior, peerID, "block sync: validate block", verr)
		}

		candidateAcc := acc + e.difficultyFor(blk.Header)
		if aerr := e.store.ApplyBlock(ctx, blk, candidateAcc); aerr != nil {
			e.peers.Ban(peerID, e.cfg.LongBanDuration, "invalid block: apply rejected")
			return i, acc, syncerrors.WrapPeer(syncerrors.PeerMisbehavior, peerID, "block sync: apply block", aerr)
		}
		acc = candidateAcc

		e.reportProgress(blk.Header.Height, networkTip)
	}
	return len(blocks), acc, nil
}

// reportProgress publishes a BlockSyncInfo event after a successful
// per-block apply.
func (e *Engine) reportProgress(localHeight, networkTip uint64) {
	peers := e.peers.Snapshot()
	ids := make([]string, len(peers))
	for i, p := range peers {
		ids[i] = p.NodeID
	}
	e.notifier.publish(Event{Info: &BlockSyncInfo{
		TipHeight:   networkTip,
		LocalHeight: localHeight,
		SyncPeers:   ids,
	}})
}

// heightRange returns [start, end] inclusive as a slice.
func heightRange(start, end uint64) []uint64 {
	heights := make([]uint64, 0, end-start+1)
	for h := start; h <= end; h++ {
		heights = append(heights, h)
	}
	return heights
}

// blocksMatchHeights reports whether blocks is a non-nil, in-order
// response to a request for heights: same length, each block non-nil
// with a header whose height equals the requested height at that index.
func blocksMatchHeights(blocks []*block.Block, heights []uint64) bool {
	if len(blocks) != len(heights) {
		return false
	}
	for i, blk := range blocks {
		if blk == nil || blk.Header == nil || blk.Header.Height != heights[i] {
			return false
		}
	}
	return true
}
