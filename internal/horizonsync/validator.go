package horizonsync

import (
	"context"

	"github.com/shardwimble/basenode/pkg/crypto"
)

// FinalStateValidator is the pluggable strategy Finalize hands the
// walked (utxo_sum, kernel_sum, burned_sum) to before the engine commits
// the horizon sync attempt. A rejection aborts with
// FinalStateValidationFailed and the transaction is never committed.
type FinalStateValidator interface {
	Validate(ctx context.Context, utxoSum, kernelSum, burnedSum crypto.Commitment) error
}

// AlwaysOK accepts every sum unconditionally.
type AlwaysOK struct{}

func (AlwaysOK) Validate(context.Context, crypto.Commitment, crypto.Commitment, crypto.Commitment) error {
	return nil
}

// AlwaysFail rejects every sum unconditionally, useful for exercising the
// abort-and-roll-back path in tests.
type AlwaysFail struct{}

func (AlwaysFail) Validate(context.Context, crypto.Commitment, crypto.Commitment, crypto.Commitment) error {
	return ErrFinalStateValidationFailed
}

// BalancedSum rejects unless utxoSum equals kernelSum, the Mimblewimble
// global balance invariant for a chain with no block rewards or fees
// left outside the kernel excesses being summed. Genesis-to-horizon
// replay in this facade folds fee/reward emission directly into each
// block's coinbase kernel excess, so no separate offset term is needed
// here.
type BalancedSum struct{}

func (BalancedSum) Validate(_ context.Context, utxoSum, kernelSum, _ crypto.Commitment) error {
	if !crypto.PointsEqual(utxoSum, kernelSum) {
		return ErrFinalStateValidationFailed
	}
	return nil
}
