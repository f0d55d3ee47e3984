// Package blocksync implements the block sync engine: the state machine
// that drives a local chain forward to the network tip by downloading
// headers, locating the point where the local and remote chains agree,
// and then downloading and applying full blocks one chunk at a time.
//
// It generalizes the request/response streaming shape of a libp2p sync
// protocol into three explicit states - Listening, HeaderSync, BlockSync -
// with a driver loop rather than hidden coroutine state, so a caller can
// observe which phase an attempt is in and react to its outcome instead of
// awaiting an opaque future.
package blocksync

import (
	"context"
	"sync"
	"time"

	"github.com/shardwimble/basenode/internal/peerpool"
	"github.com/shardwimble/basenode/internal/rpcproto"
	"github.com/shardwimble/basenode/internal/syncerrors"
	"github.com/shardwimble/basenode/internal/validator"
	"github.com/shardwimble/basenode/pkg/block"
)

const (
	defaultHeaderRequestSize = 100
	defaultBlockRequestSize  = 20
	// defaultDifficulty stands in for the opaque proof-of-work difficulty
	// function a production binary wires in; one block always contributes
	// at least this much weight to the accumulated-difficulty comparison
	// the sync peer pool and chain storage facade use to pick a winning
	// chain.
	defaultDifficulty = 1
)

// State is one node of the block sync state machine.
type State int

const (
	StateListening State = iota
	StateHeaderSync
	StateBlockSync
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateHeaderSync:
		return "header_sync"
	case StateBlockSync:
		return "block_sync"
	default:
		return "unknown"
	}
}

// RPCClient is the subset of rpcproto.Client the engine needs from one
// sync peer's connection. *rpcproto.Client satisfies this directly.
type RPCClient interface {
	GetTipInfo(ctx context.Context, deadline time.Duration) (*rpcproto.GetTipInfoResponse, error)
	GetHeaderByHeight(ctx context.Context, deadline time.Duration, height uint64) (*rpcproto.GetHeaderByHeightResponse, error)
	FindChainSplit(ctx context.Context, deadline time.Duration, req rpcproto.FindChainSplitRequest) (*rpcproto.FindChainSplitResponse, error)
	RequestBlocks(ctx context.Context, deadline time.Duration, heights []uint64) (*rpcproto.RequestBlocksResponse, error)
}

// ClientDialer builds an RPCClient bound to a specific sync peer. A
// production binary backs this with internal/transport.Node streams
// wrapped in rpcproto.NewClient; tests back it with an in-memory fake.
type ClientDialer interface {
	Client(nodeID string) RPCClient
}

// PeerPool is the subset of peerpool.Pool the engine consumes.
// *peerpool.Pool satisfies this directly.
type PeerPool interface {
	Select() (*peerpool.SyncPeer, error)
	Ban(nodeID string, duration time.Duration, reason string)
	Exclude(nodeID string)
	ClearExclusions()
	Snapshot() []*peerpool.SyncPeer
}

// ChainStore is the chain storage facade surface the engine reads and
// writes. It also satisfies validator.Snapshot, since every downloaded
// block must pass body validation before ChainStore.ApplyBlock ever sees
// it.
type ChainStore interface {
	validator.Snapshot
	FetchChainMetadata(ctx context.Context) (block.ChainMetadata, error)
	FetchHeaderByHeight(ctx context.Context, height uint64) (*block.Header, error)
	ApplyBlock(ctx context.Context, blk *block.Block, accumulatedDifficulty uint64) error
	Rollback(ctx context.Context, targetHeight uint64) error
}

// Config tunes retry budgets, request chunk sizes, and ban durations. The
// zero value is usable: request-size and retry-attempt fields fall back
// to package defaults, ban durations fall back to zero (permanent).
type Config struct {
	HeaderRequestSize uint64
	BlockRequestSize  uint64

	MaxBlockRequestRetryAttempts  int
	MaxAddBlockRetryAttempts     int
	MaxHeaderRequestRetryAttempts int

	RPCDeadline      time.Duration
	ShortBanDuration time.Duration
	LongBanDuration  time.Duration

	Validator validator.Config

	// DifficultyFn computes a header's contribution to accumulated
	// difficulty. Proof-of-work hashing itself is out of scope here; this
	// is the opaque difficulty function the sync engine folds into
	// ChainStore.ApplyBlock's running total. Nil falls back to a constant
	// per-block weight.
	DifficultyFn func(*block.Header) uint64
}

func (c Config) headerChunk() uint64 {
	if c.HeaderRequestSize == 0 {
		return defaultHeaderRequestSize
	}
	return c.HeaderRequestSize
}

func (c Config) blockChunk() uint64 {
	if c.BlockRequestSize == 0 {
		return defaultBlockRequestSize
	}
	return c.BlockRequestSize
}

func (c Config) maxHeaderAttempts() int {
	if c.MaxHeaderRequestRetryAttempts <= 0 {
		return 1
	}
	return c.MaxHeaderRequestRetryAttempts
}

func (c Config) maxBlockRequestAttempts() int {
	if c.MaxBlockRequestRetryAttempts <= 0 {
		return 1
	}
	return c.MaxBlockRequestRetryAttempts
}

func (c Config) maxAddBlockAttempts() int {
	if c.MaxAddBlockRetryAttempts <= 0 {
		return 1
	}
	return c.MaxAddBlockRetryAttempts
}

// Engine drives one node's block sync state machine.
type Engine struct {
	store  ChainStore
	peers  PeerPool
	dialer ClientDialer
	cfg    Config

	notifier *Notifier

	mu    sync.Mutex
	state State
}

// New builds an Engine. store, peers and dialer must be non-nil.
func New(store ChainStore, peers PeerPool, dialer ClientDialer, cfg Config) *Engine {
	return &Engine{
		store:    store,
		peers:    peers,
		dialer:   dialer,
		cfg:      cfg,
		notifier: NewNotifier(),
	}
}

// State reports which phase the engine is currently in.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Subscribe returns a channel of status events and an unsubscribe func.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	return e.notifier.Subscribe()
}

func (e *Engine) difficultyFor(h *block.Header) uint64 {
	if e.cfg.DifficultyFn != nil {
		return e.cfg.DifficultyFn(h)
	}
	return defaultDifficulty
}

// RunOnce drives a single Listening -> HeaderSync -> BlockSync -> Listening
// cycle. It returns nil immediately (remaining in Listening) if the local
// chain is not behind any selected peer's advertised tip. Any HeaderSync or
// BlockSync failure returns the engine to Listening before the error is
// reported to the caller; the caller decides whether and when to retry.
func (e *Engine) RunOnce(ctx context.Context) error {
	e.setState(StateListening)

	e.setState(StateHeaderSync)
	result, err := e.headerSync(ctx)
	if err != nil {
		e.setState(StateListening)
		if syncerrors.Is(err, syncerrors.NoCandidates) {
			return nil
		}
		e.notifier.publish(Event{Failure: &BlockSyncFailure{Err: err}})
		return err
	}
	if result.splitHeight >= result.networkTipHeight {
		e.setState(StateListening)
		return nil
	}

	e.setState(StateBlockSync)
	err = e.blockSyncPhase(ctx, result)
	e.setState(StateListening)
	if err != nil {
		e.notifier.publish(Event{Failure: &BlockSyncFailure{Err: err}})
		return err
	}
	return nil
}
