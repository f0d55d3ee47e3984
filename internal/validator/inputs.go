package validator

import (
	"context"

	"github.com/shardwimble/basenode/config"
	"github.com/shardwimble/basenode/pkg/block"
	"github.com/shardwimble/basenode/pkg/crypto"
	"github.com/shardwimble/basenode/pkg/tscript"
	"github.com/shardwimble/basenode/pkg/types"
)

// inputSummary is what the input worker hands to the coordinator.
// resolved mirrors blk.Inputs index-for-index, with every compact input
// filled in from the spent output it references.
type inputSummary struct {
	aggregateKey  crypto.Point33
	commitmentSum crypto.Commitment
	resolved      []*block.Input
}

// validateInputs runs the single-worker input validation stream.
func validateInputs(ctx context.Context, blk *block.Block, snap Snapshot) (inputSummary, error) {
	inputs := blk.Inputs
	if !block.IsSortedUniqueInputs(inputs) {
		return inputSummary{}, fatalf("block %d: inputs unsorted or duplicate", blk.Header.Height)
	}

	inBlockOutputs := blk.OutputHashSet()
	resolved := make([]*block.Input, len(inputs))
	unresolved := 0

	for i := range inputs {
		in := &inputs[i]

		if in.Version < config.MinInputVersion || in.Version > config.MaxInputVersion {
			return inputSummary{}, fatalf("block %d: input %d version %d out of range", blk.Header.Height, i, in.Version)
		}

		var spentFeatures types.OutputFeatures
		switch {
		case inBlockOutputs[in.OutputHash] != nil:
			resolved[i] = in
			spentFeatures = inBlockOutputs[in.OutputHash].Features
		case in.Compact:
			output, err := snap.FetchUTXO(ctx, in.Commitment)
			if err != nil {
				return inputSummary{}, fatalf("block %d: input %d spends a pruned or unknown output: %v", blk.Header.Height, i, err)
			}
			resolved[i] = in.Resolve(output)
			spentFeatures = output.Features
		default:
			output, err := snap.FetchUTXO(ctx, in.Commitment)
			if err != nil {
				unresolved++
				continue
			}
			resolved[i] = in
			spentFeatures = output.Features
		}

		if !in.IsMatureAt(blk.Header.Height, spentFeatures) {
			return inputSummary{}, fatalf("block %d: input %d spends immature output (maturity %d, height %d)",
				blk.Header.Height, i, spentFeatures.Maturity, blk.Header.Height)
		}
	}
	if unresolved > 0 {
		return inputSummary{}, fatalf("block %d: %d input(s) spend neither a known utxo nor an in-block output", blk.Header.Height, unresolved)
	}

	scriptCtx := tscript.Context{Height: blk.Header.Height, PrevHash: blk.Header.PrevHash}
	keys := make([]crypto.Point33, 0, len(resolved))
	commitments := make([]crypto.Commitment, 0, len(resolved))
	for i, in := range resolved {
		key, err := in.Script.Execute(scriptCtx)
		if err != nil {
			return inputSummary{}, fatalf("block %d: input %d script execution failed: %v", blk.Header.Height, i, err)
		}
		keys = append(keys, key)
		commitments = append(commitments, in.Commitment)
	}
	aggregateKey, err := crypto.SumPointsOrIdentity(keys...)
	if err != nil {
		return inputSummary{}, fatalf("block %d: sum input script keys: %v", blk.Header.Height, err)
	}
	commitmentSum, err := crypto.SumCommitmentsOrIdentity(commitments...)
	if err != nil {
		return inputSummary{}, fatalf("block %d: sum input commitments: %v", blk.Header.Height, err)
	}

	return inputSummary{aggregateKey: aggregateKey, commitmentSum: commitmentSum, resolved: resolved}, nil
}
