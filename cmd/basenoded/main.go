// Shardwimble base node daemon: syncs block headers, bodies, and (for
// pruned nodes) horizon state against its peers and exposes the §6 RPC
// surface so other nodes can sync from it in turn.
//
// Usage:
//
//	basenoded [--network=testnet] [--datadir=...]   Run node
//	basenoded --help                                 Show help
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/shardwimble/basenode/config"
	"github.com/shardwimble/basenode/internal/blocksync"
	"github.com/shardwimble/basenode/internal/chainstore"
	"github.com/shardwimble/basenode/internal/horizonsync"
	klog "github.com/shardwimble/basenode/internal/log"
	"github.com/shardwimble/basenode/internal/peerpool"
	"github.com/shardwimble/basenode/internal/rpcproto"
	"github.com/shardwimble/basenode/internal/rpcserver"
	"github.com/shardwimble/basenode/internal/storage"
	"github.com/shardwimble/basenode/internal/transport"
	"github.com/shardwimble/basenode/internal/validator"
)

func main() {
	// ── 1. Load config (defaults → file → flags) ────────────────────────
	cfg, _, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// ── 2. Init logger ───────────────────────────────────────────────────
	logFile := cfg.Log.File
	if logFile == "" {
		logFile = cfg.LogsDir() + "/basenode.log"
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	logger := klog.WithComponent("node")

	// ── 3. Genesis (hardcoded, not loaded from file) ─────────────────────
	genesis := config.GenesisFor(cfg.Network)
	genesisHash, err := genesis.Hash()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to compute genesis hash")
	}

	logger.Info().
		Str("chain_id", genesis.ChainID).
		Str("network", string(cfg.Network)).
		Uint64("pruning_horizon", cfg.Sync.PruningHorizon).
		Msg("Starting Shardwimble base node")

	// ── 4. Open storage ───────────────────────────────────────────────────
	db, err := storage.NewBadger(cfg.ChainStoreDir())
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.ChainStoreDir()).Msg("Failed to open database")
	}
	defer db.Close()

	store, err := chainstore.Open(db)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open chain store")
	}
	logger.Info().Str("path", cfg.ChainStoreDir()).Msg("Chain store opened")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := seedGenesisIfEmpty(ctx, store, genesis); err != nil {
		logger.Fatal().Err(err).Msg("Failed to seed genesis block")
	}
	meta, err := store.FetchChainMetadata(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to read chain metadata")
	}
	logger.Info().
		Uint64("height", meta.BestHeight).
		Str("tip", meta.BestHash.String()).
		Uint64("pruned_height", meta.PrunedHeight).
		Msg("Chain ready")

	// ── 5. Create transport node and wire the RPC server ────────────────
	node := transport.New(transport.Config{
		ListenAddr: cfg.P2P.ListenAddr,
		Port:       cfg.P2P.Port,
		Seeds:      cfg.P2P.Seeds,
		MaxPeers:   cfg.P2P.MaxPeers,
		DB:         db,
		NetworkID:  genesis.ChainID,
		DataDir:    cfg.ChainDataDir(),
	})
	node.SetGenesisHash(genesisHash)
	node.SetHeightFn(func() uint64 {
		m, err := store.FetchChainMetadata(ctx)
		if err != nil {
			return 0
		}
		return m.BestHeight
	})

	if err := node.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start transport")
	}
	defer node.Stop()
	logger.Info().Str("id", node.ID().String()).Int("port", cfg.P2P.Port).Msg("Transport started")

	rpcHandler := rpcserver.New(store)
	maxFrameBytes := cfg.Sync.MaxFrameBytes
	node.SetStreamHandler(transport.RPCProtocol, func(stream network.Stream) {
		defer stream.Close()
		if err := rpcproto.Serve(ctx, stream, rpcHandler, maxFrameBytes); err != nil {
			klog.WithComponent("rpc").Debug().Err(err).
				Str("peer", stream.Conn().RemotePeer().String()).
				Msg("RPC request failed")
		}
	})

	// ── 6. Sync peer pool ────────────────────────────────────────────────
	connectivity := transport.NewConnectivity(node)
	pool := peerpool.New(connectivity, cfg.Sync.PeerSelectionPolicy, cfg.Sync.SyncPeer,
		time.Duration(cfg.Sync.MaxLatencyMillis)*time.Millisecond)
	node.SetPeerConnectedHandler(func(id peer.ID) {
		pool.Add(id.String())
		logger.Info().Str("peer", id.String()).Msg("Peer connected")
	})

	dialer := newPeerDialer(node, maxFrameBytes)

	// ── 7. Sync engines ───────────────────────────────────────────────────
	validatorCfg := validator.Config{
		OutputWorkers:     cfg.Sync.OutputValidationWorkers,
		BypassRangeProofs: cfg.Sync.BypassRangeProofs,
	}
	shortBan := time.Duration(cfg.Sync.ShortBanDuration) * time.Second
	longBan := time.Duration(cfg.Sync.LongBanDuration) * time.Second
	rpcDeadline := time.Duration(cfg.Sync.RPCDeadlineSeconds) * time.Second

	blockEngine := blocksync.New(store, pool, blockSyncDialer{dialer}, blocksync.Config{
		HeaderRequestSize:             cfg.Sync.HeaderRequestSize,
		BlockRequestSize:              cfg.Sync.BlockRequestSize,
		MaxBlockRequestRetryAttempts:  cfg.Sync.MaxBlockRequestRetryAttempts,
		MaxAddBlockRetryAttempts:      cfg.Sync.MaxAddBlockRetryAttempts,
		MaxHeaderRequestRetryAttempts: cfg.Sync.MaxHeaderRequestRetryAttempts,
		RPCDeadline:                   rpcDeadline,
		ShortBanDuration:              shortBan,
		LongBanDuration:               longBan,
		Validator:                     validatorCfg,
	})

	horizonEngine := horizonsync.New(horizonsync.StoreAdapter{Store: store}, pool, horizonSyncDialer{dialer}, horizonsync.Config{
		PruningHorizon:      cfg.Sync.PruningHorizon,
		RPCDeadline:         rpcDeadline,
		MaxLatency:          time.Duration(cfg.Sync.MaxLatencyMillis) * time.Millisecond,
		MaxLatencyIncrease:  time.Duration(cfg.Sync.MaxLatencyIncreaseMillis) * time.Millisecond,
		MaxLatencyIncreases: cfg.Sync.MaxLatencyIncreases,
		ShortBanDuration:    shortBan,
		LongBanDuration:     longBan,
		BypassRangeProofs:   cfg.Sync.BypassRangeProofs,
	})

	go runSyncLoop(ctx, blockEngine, horizonEngine, node, logger)

	// ── 8. Startup banner ─────────────────────────────────────────────────
	logger.Info().
		Uint64("height", meta.BestHeight).
		Str("tip", meta.BestHash.String()).
		Msg("Node started successfully")

	// ── 9. Wait for shutdown ───────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	cancel()
	logger.Info().Msg("Goodbye!")
}
