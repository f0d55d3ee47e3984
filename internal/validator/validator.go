// Package validator implements the block body validator: the single
// entry point through which every candidate block, whether sourced from
// block sync or horizon sync, must pass before it may be applied to the
// chain store. It runs kernel, input, and output validation concurrently
// and then checks the cross-component invariants that only make sense
// once all three streams have finished (coinbase maturity and reward,
// script offset balance, the Mimblewimble sum, and covenant predicates).
//
// Every failure this package reports is a ValidationFatal syncerrors.Kind:
// a rejected block is simply discarded, never partially applied, and
// never counted as peer misbehavior on its own (the caller decides
// whether a validation failure also warrants banning the peer that
// supplied the block).
package validator

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/shardwimble/basenode/config"
	"github.com/shardwimble/basenode/pkg/block"
	"github.com/shardwimble/basenode/pkg/covenant"
	"github.com/shardwimble/basenode/pkg/crypto"
	"github.com/shardwimble/basenode/internal/syncerrors"
)

// Snapshot is the read-only chain state the validator checks a candidate
// block against. internal/chainstore's Store satisfies this directly.
type Snapshot interface {
	// FetchUTXO returns the current unspent output at commitment, or an
	// error if no such output exists in the live UTXO set.
	FetchUTXO(ctx context.Context, commitment crypto.Commitment) (*block.Output, error)
	// FetchKernelByExcessSig returns the kernel already recorded on chain
	// under this excess signature, or an error if none exists.
	FetchKernelByExcessSig(ctx context.Context, sig []byte) (*block.Kernel, error)
}

// Config tunes the validator's concurrency and bypass behavior. The zero
// value is usable: OutputWorkers falls back to
// config.DefaultOutputValidationWorkers.
type Config struct {
	// OutputWorkers is the number of goroutines output validation fans
	// out across. Defaults to config.DefaultOutputValidationWorkers.
	OutputWorkers int
	// BypassRangeProofs skips bulletproof verification entirely. Only
	// safe for trusted catch-up; never for sync from untrusted peers.
	BypassRangeProofs bool
}

// Result is returned on successful validation.
type Result struct {
	// Fees is the total transaction fee recorded by the block's kernels.
	Fees uint64
	// Coinbase is the block's coinbase output.
	Coinbase *block.Output
}

var (
	// ErrMissingVNRegistrationSignature is returned when a validator-node
	// registration output carries no registration signature.
	ErrMissingVNRegistrationSignature = errors.New("validator node registration output missing registration signature")
	// ErrInvalidVNRegistrationSignature is returned when a validator-node
	// registration output's registration signature does not verify.
	ErrInvalidVNRegistrationSignature = errors.New("validator node registration signature invalid")
)

// fatalf builds a ValidationFatal syncerrors.Error from a formatted
// message. Every failure this package reports uses this constructor, so a
// caller pattern-matching on syncerrors.Kind never needs to distinguish
// which of the named consensus checks actually failed; the message string
// carries that detail for logs and diagnostics.
func fatalf(format string, args ...any) error {
	return syncerrors.New(syncerrors.ValidationFatal, fmt.Sprintf(format, args...))
}

// Validate runs the full body validator against blk, using snap as the
// chain state it is proposed to extend. On success it returns the block's
// total fees and coinbase output; on any failure it returns a
// ValidationFatal error and the block must be discarded outright, since
// partial validation work carries no meaning on its own.
func Validate(ctx context.Context, blk *block.Block, snap Snapshot, cfg Config) (*Result, error) {
	if blk.Header == nil {
		return nil, fatalf("block has no header")
	}

	var kernels kernelSummary
	var inputs inputSummary
	var outputs outputSummary

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		kernels, err = validateKernels(gctx, blk, snap)
		return err
	})
	g.Go(func() error {
		var err error
		inputs, err = validateInputs(gctx, blk, snap)
		return err
	})
	g.Go(func() error {
		var err error
		outputs, err = validateOutputs(gctx, blk, snap, cfg)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	height := blk.Header.Height

	if kernels.coinbase == nil || outputs.coinbase == nil {
		return nil, fatalf("block %d: missing coinbase kernel or output", height)
	}
	if outputs.coinbase.Features.Maturity < height+config.CoinbaseLockHeight {
		return nil, fatalf("block %d: coinbase output maturity %d below required %d",
			height, outputs.coinbase.Features.Maturity, height+config.CoinbaseLockHeight)
	}

	reward := config.Emission(height) + kernels.fees
	rewardCommit, err := crypto.Commit(crypto.ZeroScalar, reward)
	if err != nil {
		return nil, fatalf("block %d: commit coinbase reward: %v", height, err)
	}
	expectedCoinbaseCommitment, err := crypto.PointAdd(kernels.coinbase.Excess, rewardCommit)
	if err != nil {
		return nil, fatalf("block %d: compute expected coinbase commitment: %v", height, err)
	}
	if !crypto.PointsEqual(expectedCoinbaseCommitment, outputs.coinbase.Commitment) {
		return nil, fatalf("block %d: coinbase commitment does not balance the coinbase kernel excess and reward", height)
	}

	aggregateOffset, err := crypto.PointSub(inputs.aggregateKey, outputs.aggregateSenderOffset)
	if err != nil {
		return nil, fatalf("block %d: compute aggregate script offset: %v", height, err)
	}
	expectedOffset := crypto.PublicKeyFromScalar(blk.Header.TotalScriptOffset)
	if !crypto.PointsEqual(aggregateOffset, expectedOffset) {
		return nil, fatalf("block %d: script offset mismatch", height)
	}

	feesCommit, err := crypto.Commit(crypto.ZeroScalar, kernels.fees)
	if err != nil {
		return nil, fatalf("block %d: commit fees: %v", height, err)
	}
	outputMinusInput, err := crypto.PointSub(outputs.commitmentSum, inputs.commitmentSum)
	if err != nil {
		return nil, fatalf("block %d: compute output-minus-input commitment sum: %v", height, err)
	}
	expectedKernelSum, err := crypto.PointAdd(outputMinusInput, feesCommit)
	if err != nil {
		return nil, fatalf("block %d: compute expected kernel sum: %v", height, err)
	}
	if !crypto.PointsEqual(kernels.sum, expectedKernelSum) {
		return nil, fatalf("block %d: mimblewimble sum invariant violated", height)
	}

	covenantOutputs := make([]covenant.Output, len(blk.Outputs))
	for i := range blk.Outputs {
		covenantOutputs[i] = covenant.Output{OutputType: blk.Outputs[i].Features.OutputType}
	}
	covenantCtx := covenant.Context{Height: height, Outputs: covenantOutputs}
	for _, in := range inputs.resolved {
		ok, err := in.Covenant.Evaluate(covenantCtx)
		if err != nil {
			return nil, fatalf("block %d: covenant evaluation: %v", height, err)
		}
		if !ok {
			return nil, fatalf("block %d: covenant rejected spend", height)
		}
	}

	return &Result{Fees: kernels.fees, Coinbase: outputs.coinbase}, nil
}
