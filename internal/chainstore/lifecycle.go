package chainstore

import (
	"context"
	"fmt"

	"github.com/shardwimble/basenode/pkg/block"
	"github.com/shardwimble/basenode/pkg/types"
)

// ApplyBlock extends the chain with blk, whose parent must be the
// current best block (invariant iii). It stages a single
// WriteTransaction touching headers, bodies, the UTXO set, the kernel
// MMR and chain metadata together, so the facade never observes a
// half-applied block.
func (s *Store) ApplyBlock(ctx context.Context, blk *block.Block, accumulatedDifficulty uint64) error {
	meta, err := s.FetchChainMetadata(ctx)
	if err != nil {
		return fmt.Errorf("chainstore: apply block: fetch metadata: %w", err)
	}

	empty := meta.BestHeight == 0 && meta.BestHash == (types.Hash{})
	switch {
	case empty && blk.Header.Height != 0:
		return fmt.Errorf("chainstore: apply block %d: chain is empty, expected genesis at height 0", blk.Header.Height)
	case !empty && (blk.Header.Height != meta.BestHeight+1 || blk.Header.PrevHash != meta.BestHash):
		return fmt.Errorf("chainstore: apply block %d: parent %s is not the current best block %s at height %d (invariant iii violated)",
			blk.Header.Height, blk.Header.PrevHash, meta.BestHash, meta.BestHeight)
	}

	tx := s.NewWriteTransaction()
	tx.PutHeader(blk.Header)
	tx.PutBlockBody(blk.Header.Height, blk.Kernels, blk.Outputs, blk.Inputs)

	kernelMMRBase := blk.Header.KernelMMRSize - uint64(len(blk.Kernels))
	for i, k := range blk.Kernels {
		tx.PutKernel(k, kernelMMRBase+uint64(i))
	}
	inBlockOutputs := blk.OutputHashSet()
	for _, in := range blk.Inputs {
		if o, ok := inBlockOutputs[in.OutputHash]; ok {
			tx.SpendOutput(*o, blk.Header.Height, blk.Header.Height)
			continue
		}
		rec, err := s.fetchUTXORecord(ctx, in.Commitment)
		if err != nil {
			return fmt.Errorf("chainstore: apply block %d: input spends unknown output %x: %w", blk.Header.Height, in.Commitment, err)
		}
		tx.SpendOutput(rec.Output, rec.MinedHeight, blk.Header.Height)
	}
	for _, o := range blk.Outputs {
		tx.PutOutput(o, blk.Header.Height)
	}

	tx.PutBlockAccumulated(blk.Header.Height, BlockAccumulatedData{
		AccumulatedDifficulty: accumulatedDifficulty,
		KernelMMRRoot:         blk.Header.KernelMMRRoot,
		OutputSMTRoot:         blk.Header.OutputMMRRoot,
	})
	tx.SetChainMetadata(block.ChainMetadata{
		BestHeight:        blk.Header.Height,
		BestHash:          blk.Header.Hash(),
		AccumulatedDiffic: accumulatedDifficulty,
		PrunedHeight:      meta.PrunedHeight,
		PruningHorizon:    meta.PruningHorizon,
	})

	// Project the roots the staged SMT/MMR ops would produce onto clones
	// of the live trees, and refuse to commit anything at all if they
	// don't match the header's claims (invariant ii) — checking this
	// only after a durable commit would let a bad block leave the
	// facade in a state invariant ii says can't happen.
	s.mu.RLock()
	projectedSMT := s.tipSMT.Clone()
	projectedMMR := s.kernelMMR.Clone()
	s.mu.RUnlock()
	for _, op := range tx.smtOps {
		if op.delete {
			projectedSMT.Delete(op.key)
		} else {
			projectedSMT.Insert(op.key, op.value)
		}
	}
	for _, leaf := range tx.mmrAppend {
		projectedMMR.Append(leaf)
	}
	if got := projectedMMR.Root(); got != blk.Header.KernelMMRRoot {
		return fmt.Errorf("chainstore: apply block %d: kernel mmr root mismatch (invariant ii violated): got %s, header says %s",
			blk.Header.Height, got, blk.Header.KernelMMRRoot)
	}
	if got := projectedSMT.Root(); got != blk.Header.OutputMMRRoot {
		return fmt.Errorf("chainstore: apply block %d: output smt root mismatch (invariant ii violated): got %s, header says %s",
			blk.Header.Height, got, blk.Header.OutputMMRRoot)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("chainstore: apply block %d: %w", blk.Header.Height, err)
	}
	return nil
}

// Rollback detaches the chain tip down to (but not including) targetHeight,
// restoring the UTXO set and chain metadata to their state at
// targetHeight. The kernel MMR is append-only in this facade (matching
// spec.md's horizon-sync model, where kernel history is never
// discarded short of pruning) so rollback does not attempt to shrink
// it — callers that need a shorter-chain kernel MMR must rebuild the
// facade via PruneToHeight plus replay instead.
func (s *Store) Rollback(ctx context.Context, targetHeight uint64) error {
	meta, err := s.FetchChainMetadata(ctx)
	if err != nil {
		return fmt.Errorf("chainstore: rollback: fetch metadata: %w", err)
	}
	if targetHeight >= meta.BestHeight {
		return fmt.Errorf("chainstore: rollback: target height %d is not below current best height %d", targetHeight, meta.BestHeight)
	}
	if targetHeight < meta.PrunedHeight {
		return fmt.Errorf("chainstore: rollback: target height %d is below pruned height %d", targetHeight, meta.PrunedHeight)
	}

	tx := s.NewWriteTransaction()
	// Walk the detached range tip-first: remove every output the range
	// created, and restore every output it spent to the position it
	// held immediately before being spent.
	for h := meta.BestHeight; h > targetHeight; h-- {
		created, err := s.FetchUTXOsInBlock(ctx, h)
		if err != nil {
			return fmt.Errorf("chainstore: rollback: fetch outputs at height %d: %w", h, err)
		}
		for _, o := range created {
			tx.RemoveCreatedOutput(o.Commitment)
		}
		spent, err := s.fetchSpentOutputsAtHeight(ctx, h)
		if err != nil {
			return fmt.Errorf("chainstore: rollback: fetch spent outputs at height %d: %w", h, err)
		}
		for _, rec := range spent {
			tx.PutOutput(rec.Output, rec.MinedHeight)
		}
	}

	target, err := s.FetchChainHeader(ctx, targetHeight)
	if err != nil {
		return fmt.Errorf("chainstore: rollback: fetch target header %d: %w", targetHeight, err)
	}
	tx.DeleteHeightRange(targetHeight+1, meta.BestHeight)
	tx.SetChainMetadata(block.ChainMetadata{
		BestHeight:        targetHeight,
		BestHash:          target.Header.Hash(),
		AccumulatedDiffic: target.Accumulated.AccumulatedDifficulty,
		PrunedHeight:      meta.PrunedHeight,
		PruningHorizon:    meta.PruningHorizon,
	})

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("chainstore: rollback to %d: %w", targetHeight, err)
	}
	return nil
}

// PruneToHeight discards header/body history below height,
// keeping chain metadata's pruned_height advancing in step with the
// deletions (invariant i) — the UTXO set and kernel MMR are untouched,
// since both remain necessary to validate and serve the chain above
// the new pruning boundary.
func (s *Store) PruneToHeight(ctx context.Context, height uint64) error {
	meta, err := s.FetchChainMetadata(ctx)
	if err != nil {
		return fmt.Errorf("chainstore: prune: fetch metadata: %w", err)
	}
	if height <= meta.PrunedHeight {
		return nil
	}
	if height > meta.BestHeight {
		return fmt.Errorf("chainstore: prune to height %d: exceeds best height %d", height, meta.BestHeight)
	}

	tx := s.NewWriteTransaction()
	tx.DeleteHeightRange(meta.PrunedHeight, height-1)
	tx.SetChainMetadata(block.ChainMetadata{
		BestHeight:        meta.BestHeight,
		BestHash:          meta.BestHash,
		AccumulatedDiffic: meta.AccumulatedDiffic,
		PrunedHeight:      height,
		PruningHorizon:    meta.PruningHorizon,
	})
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("chainstore: prune to height %d: %w", height, err)
	}
	return nil
}
