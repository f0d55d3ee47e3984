package validator

import (
	"context"

	"github.com/shardwimble/basenode/config"
	"github.com/shardwimble/basenode/pkg/block"
	"github.com/shardwimble/basenode/pkg/crypto"
)

// kernelSummary is what the kernel worker hands to the coordinator once
// every kernel in the block has been checked.
type kernelSummary struct {
	sum      crypto.Commitment
	fees     uint64
	coinbase *block.Kernel
}

// validateKernels runs the single-worker kernel validation stream.
func validateKernels(ctx context.Context, blk *block.Block, snap Snapshot) (kernelSummary, error) {
	kernels := blk.Kernels
	if !block.IsSortedUniqueKernels(kernels) {
		return kernelSummary{}, fatalf("block %d: kernels unsorted or duplicate", blk.Header.Height)
	}

	var coinbase *block.Kernel
	var maxTimelock uint64
	var fees uint64
	excesses := make([]crypto.Commitment, 0, len(kernels))

	for i := range kernels {
		k := &kernels[i]
		if k.Version < config.MinKernelVersion || k.Version > config.MaxKernelVersion {
			return kernelSummary{}, fatalf("block %d: kernel %d version %d out of range", blk.Header.Height, i, k.Version)
		}
		if !k.VerifySignature() {
			return kernelSummary{}, fatalf("block %d: kernel %d signature invalid", blk.Header.Height, i)
		}
		if k.IsCoinbase() {
			if coinbase != nil {
				return kernelSummary{}, fatalf("block %d: more than one coinbase kernel", blk.Header.Height)
			}
			coinbase = k
		}
		if existing, err := snap.FetchKernelByExcessSig(ctx, k.Signature); err == nil && existing != nil {
			return kernelSummary{}, fatalf("block %d: kernel %d reuses an excess signature already recorded on chain", blk.Header.Height, i)
		}
		if k.LockHeight > maxTimelock {
			maxTimelock = k.LockHeight
		}
		fees += k.Fee
		excesses = append(excesses, k.Excess)
	}

	if maxTimelock > blk.Header.Height {
		return kernelSummary{}, fatalf("block %d: kernel lock height %d exceeds block height", blk.Header.Height, maxTimelock)
	}
	if coinbase == nil {
		return kernelSummary{}, fatalf("block %d: no coinbase kernel", blk.Header.Height)
	}

	totalReward := config.Emission(blk.Header.Height) + fees
	rewardCommit, err := crypto.Commit(blk.Header.TotalKernelOffset, totalReward)
	if err != nil {
		return kernelSummary{}, fatalf("block %d: commit kernel offset: %v", blk.Header.Height, err)
	}
	excessSum, err := crypto.SumCommitments(excesses...)
	if err != nil {
		return kernelSummary{}, fatalf("block %d: sum kernel excesses: %v", blk.Header.Height, err)
	}
	sum, err := crypto.PointAdd(rewardCommit, excessSum)
	if err != nil {
		return kernelSummary{}, fatalf("block %d: compute kernel sum: %v", blk.Header.Height, err)
	}

	return kernelSummary{sum: sum, fees: fees, coinbase: coinbase}, nil
}
