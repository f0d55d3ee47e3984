package horizonsync

import (
	"context"

	"github.com/shardwimble/basenode/pkg/block"
	"github.com/shardwimble/basenode/pkg/crypto"
)

// finalize is the last check before the sync attempt commits. The caller
// folds every persisted block from the pruned height up to and including
// the local tip (via sumKernels/
// sumOutputs against FetchKernelsInBlock/FetchUTXOsInBlock) together with
// every kernel and output the stream produced into one running
// (utxoSum, kernelSum, burnedSum) and hands it here.
//
// utxoSum is the sum of all live (unspent-at-horizon) output commitments,
// kernelSum is the sum of all kernel excesses, and burnedSum is the sum
// of commitments carried by burn-feature kernels. cfg.finalState()
// decides whether the combination balances; a rejection must leave tx
// uncommitted so the caller can simply drop it.
func (e *Engine) finalize(ctx context.Context, utxoSum, kernelSum, burnedSum crypto.Commitment) error {
	if err := e.cfg.finalState().Validate(ctx, utxoSum, kernelSum, burnedSum); err != nil {
		return wrapValidationFatal("horizon sync: final state validation rejected computed sums", ErrFinalStateValidationFailed)
	}
	return nil
}

// sumKernels folds a batch of kernels into the running excess and burned
// sums, per spec.md §4.5's accumulation rule: every kernel's excess
// contributes to kernelSum, and burn-feature kernels additionally
// contribute their excess to burnedSum (the value they destroy).
func sumKernels(kernels []block.Kernel, kernelSum, burnedSum crypto.Commitment) (crypto.Commitment, crypto.Commitment, error) {
	var err error
	for _, k := range kernels {
		kernelSum, err = crypto.PointAdd(kernelSum, k.Excess)
		if err != nil {
			return crypto.Commitment{}, crypto.Commitment{}, err
		}
		if k.Features.IsBurn() {
			burnedSum, err = crypto.PointAdd(burnedSum, k.Excess)
			if err != nil {
				return crypto.Commitment{}, crypto.Commitment{}, err
			}
		}
	}
	return kernelSum, burnedSum, nil
}

// sumOutputs folds a batch of outputs into the running UTXO sum.
func sumOutputs(outputs []block.Output, utxoSum crypto.Commitment) (crypto.Commitment, error) {
	var err error
	for _, o := range outputs {
		utxoSum, err = crypto.PointAdd(utxoSum, o.Commitment)
		if err != nil {
			return crypto.Commitment{}, err
		}
	}
	return utxoSum, nil
}
