package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/shardwimble/basenode/internal/blocksync"
	"github.com/shardwimble/basenode/internal/horizonsync"
	"github.com/shardwimble/basenode/internal/transport"
)

// syncTickInterval is how often the loop checks whether there's sync work
// to do; the two engines themselves are cheap no-ops when the local chain
// is already caught up.
const syncTickInterval = 10 * time.Second

// runSyncLoop periodically runs one horizon-sync attempt followed by one
// block-sync attempt, skipping both entirely while there are no connected
// peers. Horizon sync goes first so a pruned node always tries to jump
// straight to the horizon before block sync attempts to replay every
// intervening block one at a time. Runs forever until ctx is cancelled.
func runSyncLoop(ctx context.Context, blockEngine *blocksync.Engine, horizonEngine *horizonsync.Engine, node *transport.Node, logger zerolog.Logger) {
	ticker := time.NewTicker(syncTickInterval)
	defer ticker.Stop()

	runOnce(ctx, blockEngine, horizonEngine, node, logger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce(ctx, blockEngine, horizonEngine, node, logger)
		}
	}
}

func runOnce(ctx context.Context, blockEngine *blocksync.Engine, horizonEngine *horizonsync.Engine, node *transport.Node, logger zerolog.Logger) {
	if node.PeerCount() == 0 {
		return
	}
	if err := horizonEngine.RunOnce(ctx); err != nil {
		logger.Debug().Err(err).Msg("Horizon sync attempt failed")
	}
	if err := blockEngine.RunOnce(ctx); err != nil {
		logger.Debug().Err(err).Msg("Block sync attempt failed")
	}
}
