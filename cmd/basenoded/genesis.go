package main

import (
	"context"
	"fmt"

	"github.com/shardwimble/basenode/config"
	"github.com/shardwimble/basenode/internal/chainstore"
	"github.com/shardwimble/basenode/pkg/block"
	"github.com/shardwimble/basenode/pkg/mmr"
	"github.com/shardwimble/basenode/pkg/smt"
)

// seedGenesisIfEmpty applies a minimal genesis block to store if its chain
// metadata is still at height 0 with a zero tip hash. The genesis block
// carries no kernels, inputs, or outputs; its output/kernel MMR roots are
// the roots of brand-new empty trees, matching what every node that ever
// starts from genesis independently computes.
func seedGenesisIfEmpty(ctx context.Context, store *chainstore.Store, g *config.Genesis) error {
	meta, err := store.FetchChainMetadata(ctx)
	if err != nil {
		return fmt.Errorf("fetch chain metadata: %w", err)
	}
	if meta.BestHeight != 0 || !meta.BestHash.IsZero() {
		return nil
	}

	header := &block.Header{
		Height:        0,
		Timestamp:     g.Timestamp,
		OutputMMRRoot: smt.New().Root(),
		KernelMMRRoot: mmr.New().Root(),
	}
	genesisBlock := block.NewBlock(header, nil, nil, nil)

	if err := store.ApplyBlock(ctx, genesisBlock, 0); err != nil {
		return fmt.Errorf("apply genesis block: %w", err)
	}
	return nil
}
