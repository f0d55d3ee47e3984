package horizonsync

import (
	"context"

	"github.com/shardwimble/basenode/pkg/block"
	"github.com/shardwimble/basenode/pkg/crypto"
	"github.com/shardwimble/basenode/pkg/types"
)

// syncFromPeer drives one complete horizon sync attempt against a single
// already-latency-checked peer: it fetches the intervening header run,
// streams kernels then outputs onto one staged transaction, folds the
// genesis..horizon sums and checks them, and only then commits. Pruning
// below the local tip happens only after a successful commit, so a
// rejected or failed attempt leaves the local chain exactly as it was.
func (e *Engine) syncFromPeer(ctx context.Context, peerID string, client RPCClient, horizon uint64, networkMeta block.ChainMetadata) error {
	localMeta, err := e.store.FetchChainMetadata(ctx)
	if err != nil {
		return wrapStorageFatal("horizon sync: fetch local chain metadata", err)
	}
	if localMeta.BestHeight >= horizon {
		return nil
	}

	horizonHeaderResp, err := client.GetHeaderByHeight(ctx, e.cfg.rpcDeadline(), horizon)
	if err != nil {
		e.peers.Ban(peerID, e.cfg.ShortBanDuration, "rpc: get_header_by_height failed")
		return wrapPeerTransient(peerID, "horizon sync: fetch horizon header", err)
	}
	if !horizonHeaderResp.Found || horizonHeaderResp.Header == nil {
		e.peers.Ban(peerID, e.cfg.ShortBanDuration, "rpc: peer has no header at horizon height")
		return wrapPeerTransient(peerID, "horizon sync: fetch horizon header", errNoSyncPeers)
	}
	horizonHeader := horizonHeaderResp.Header

	headers := make([]*block.Header, 0, horizon-localMeta.BestHeight)
	for h := localMeta.BestHeight + 1; h < horizon; h++ {
		resp, err := client.GetHeaderByHeight(ctx, e.cfg.rpcDeadline(), h)
		if err != nil {
			e.peers.Ban(peerID, e.cfg.ShortBanDuration, "rpc: get_header_by_height failed")
			return wrapPeerTransient(peerID, "horizon sync: fetch intermediate header", err)
		}
		if !resp.Found || resp.Header == nil {
			e.peers.Ban(peerID, e.cfg.LongBanDuration, "horizon sync: missing header in claimed range")
			return wrapPeerMisbehavior(peerID, "horizon sync: fetch intermediate header", errNoSyncPeers)
		}
		headers = append(headers, resp.Header)
	}
	headers = append(headers, horizonHeader)

	startHeader, err := e.store.FetchHeaderByHeight(ctx, localMeta.BestHeight)
	if err != nil {
		return wrapStorageFatal("horizon sync: fetch local tip header", err)
	}
	var startHeaderHash types.Hash
	startKernelPos := uint64(0)
	startOutputSize := uint64(0)
	if startHeader != nil {
		startHeaderHash = startHeader.Hash()
		startKernelPos = startHeader.KernelMMRSize
		startOutputSize = startHeader.OutputMMRSize
	}

	// Fold in everything still resident locally (block bodies are only
	// ever kept for [pruned_height, best_height]; anything below
	// pruned_height was already folded into an earlier, already-accepted
	// horizon sync's sums and cannot be re-derived from pruned storage)
	// before the stream contributes the rest.
	var utxoSum, kernelSum, burnedSum crypto.Commitment
	for h := localMeta.PrunedHeight; h <= localMeta.BestHeight; h++ {
		kernels, err := e.store.FetchKernelsInBlock(ctx, h)
		if err != nil {
			return wrapStorageFatal("horizon sync: fetch persisted kernels", err)
		}
		kernelSum, burnedSum, err = sumKernels(kernels, kernelSum, burnedSum)
		if err != nil {
			return wrapStorageFatal("horizon sync: sum persisted kernels", err)
		}

		outputs, err := e.store.FetchUTXOsInBlock(ctx, h)
		if err != nil {
			return wrapStorageFatal("horizon sync: fetch persisted outputs", err)
		}
		utxoSum, err = sumOutputs(outputs, utxoSum)
		if err != nil {
			return wrapStorageFatal("horizon sync: sum persisted outputs", err)
		}
	}

	tx := e.store.NewWriteTransaction()

	streamedKernelSum, streamedBurnedSum, err := e.syncKernels(ctx, peerID, client, tx, headers, startKernelPos, horizonHeader.Hash())
	if err != nil {
		return err
	}
	kernelSum, err = crypto.PointAdd(kernelSum, streamedKernelSum)
	if err != nil {
		return wrapStorageFatal("horizon sync: combine kernel sums", err)
	}
	burnedSum, err = crypto.PointAdd(burnedSum, streamedBurnedSum)
	if err != nil {
		return wrapStorageFatal("horizon sync: combine burned sums", err)
	}

	headerByHash := make(map[types.Hash]*block.Header, len(headers)+1)
	if startHeader != nil {
		headerByHash[startHeaderHash] = startHeader
	}
	for _, h := range headers {
		headerByHash[h.Hash()] = h
	}
	lookup := func(hash types.Hash) (*block.Header, error) {
		if h, ok := headerByHash[hash]; ok {
			return h, nil
		}
		return e.store.FetchHeaderByHash(ctx, hash)
	}

	expectedNewOutputs := horizonHeader.OutputMMRSize - startOutputSize

	streamedUTXOSum, err := e.syncOutputs(ctx, peerID, client, tx, startHeaderHash, horizonHeader, expectedNewOutputs, lookup)
	if err != nil {
		return err
	}
	utxoSum, err = crypto.PointAdd(utxoSum, streamedUTXOSum)
	if err != nil {
		return wrapStorageFatal("horizon sync: combine utxo sums", err)
	}

	if err := e.finalize(ctx, utxoSum, kernelSum, burnedSum); err != nil {
		return err
	}

	// Only the horizon header itself needs to survive; every header
	// below it falls inside the range PruneToHeight discards right
	// after this commit succeeds.
	tx.PutHeader(horizonHeader)
	tx.SetChainMetadata(block.ChainMetadata{
		BestHeight:        horizon,
		BestHash:          horizonHeader.Hash(),
		AccumulatedDiffic: networkMeta.AccumulatedDiffic,
		PrunedHeight:      localMeta.BestHeight,
		PruningHorizon:    e.cfg.PruningHorizon,
	})
	if err := tx.Commit(ctx); err != nil {
		return wrapStorageFatal("horizon sync: commit", err)
	}

	if err := e.store.PruneToHeight(ctx, horizon); err != nil {
		return wrapStorageFatal("horizon sync: prune to new horizon", err)
	}
	return nil
}
