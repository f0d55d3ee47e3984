package blocksync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shardwimble/basenode/config"
	"github.com/shardwimble/basenode/internal/peerpool"
	"github.com/shardwimble/basenode/internal/rpcproto"
	"github.com/shardwimble/basenode/internal/syncerrors"
	"github.com/shardwimble/basenode/internal/validator"
	"github.com/shardwimble/basenode/pkg/block"
	"github.com/shardwimble/basenode/pkg/crypto"
	"github.com/shardwimble/basenode/pkg/tscript"
	"github.com/shardwimble/basenode/pkg/types"
)

// fakeChainStore is an in-memory ChainStore good enough to drive the
// engine's phases without a real chainstore.Store: ApplyBlock/Rollback
// just move a height pointer, no MMR/SMT bookkeeping.
type fakeChainStore struct {
	headers map[uint64]*block.Header
	meta    block.ChainMetadata
	utxos   map[crypto.Commitment]*block.Output
	kernels map[string]*block.Kernel

	applyErrAtHeight map[uint64]error
}

func newFakeChainStore() *fakeChainStore {
	return &fakeChainStore{
		headers:          make(map[uint64]*block.Header),
		utxos:            make(map[crypto.Commitment]*block.Output),
		kernels:          make(map[string]*block.Kernel),
		applyErrAtHeight: make(map[uint64]error),
	}
}

func (f *fakeChainStore) FetchUTXO(_ context.Context, c crypto.Commitment) (*block.Output, error) {
	o, ok := f.utxos[c]
	if !ok {
		return nil, errors.New("utxo not found")
	}
	return o, nil
}

func (f *fakeChainStore) FetchKernelByExcessSig(_ context.Context, sig []byte) (*block.Kernel, error) {
	k, ok := f.kernels[string(sig)]
	if !ok {
		return nil, errors.New("kernel not found")
	}
	return k, nil
}

func (f *fakeChainStore) FetchChainMetadata(_ context.Context) (block.ChainMetadata, error) {
	return f.meta, nil
}

func (f *fakeChainStore) FetchHeaderByHeight(_ context.Context, h uint64) (*block.Header, error) {
	hdr, ok := f.headers[h]
	if !ok {
		return nil, errors.New("header not found")
	}
	return hdr, nil
}

func (f *fakeChainStore) ApplyBlock(_ context.Context, blk *block.Block, acc uint64) error {
	if err, ok := f.applyErrAtHeight[blk.Header.Height]; ok {
		return err
	}
	f.headers[blk.Header.Height] = blk.Header
	f.meta = block.ChainMetadata{BestHeight: blk.Header.Height, BestHash: blk.Header.Hash(), AccumulatedDiffic: acc}
	return nil
}

func (f *fakeChainStore) Rollback(_ context.Context, target uint64) error {
	hdr, ok := f.headers[target]
	if !ok {
		return errors.New("rollback target not found")
	}
	f.meta = block.ChainMetadata{BestHeight: target, BestHash: hdr.Hash(), AccumulatedDiffic: f.meta.AccumulatedDiffic}
	return nil
}

// fakeRPCClient is a scriptable RPCClient double; each field answers one
// method, nil means "unused by this test".
type fakeRPCClient struct {
	tipResp   *rpcproto.GetTipInfoResponse
	tipErr    error
	headerOf  map[uint64]*rpcproto.GetHeaderByHeightResponse
	splitResp *rpcproto.FindChainSplitResponse
	splitErr  error
	blocksFn  func(heights []uint64) (*rpcproto.RequestBlocksResponse, error)

	requestBlocksCalls int
}

func (c *fakeRPCClient) GetTipInfo(context.Context, time.Duration) (*rpcproto.GetTipInfoResponse, error) {
	return c.tipResp, c.tipErr
}

func (c *fakeRPCClient) GetHeaderByHeight(_ context.Context, _ time.Duration, height uint64) (*rpcproto.GetHeaderByHeightResponse, error) {
	if resp, ok := c.headerOf[height]; ok {
		return resp, nil
	}
	return &rpcproto.GetHeaderByHeightResponse{Found: false}, nil
}

func (c *fakeRPCClient) FindChainSplit(context.Context, time.Duration, rpcproto.FindChainSplitRequest) (*rpcproto.FindChainSplitResponse, error) {
	return c.splitResp, c.splitErr
}

func (c *fakeRPCClient) RequestBlocks(_ context.Context, _ time.Duration, heights []uint64) (*rpcproto.RequestBlocksResponse, error) {
	c.requestBlocksCalls++
	return c.blocksFn(heights)
}

type fakeDialer struct {
	clients map[string]RPCClient
}

func (d *fakeDialer) Client(nodeID string) RPCClient { return d.clients[nodeID] }

type fakeConnectivity struct {
	banned []string
}

func (f *fakeConnectivity) Ban(nodeID string, _ time.Duration, _ string) {
	f.banned = append(f.banned, nodeID)
}

func (f *fakeConnectivity) Disconnect(string) error { return nil }

// chainBuilder produces a chain of coinbase-only, fully valid blocks
// (cryptographically, not storage-wise), one per height, each spending
// nothing and carrying a fresh coinbase output maturing CoinbaseLockHeight
// blocks later - the same construction internal/validator's own tests use.
type chainBuilder struct {
	t       *testing.T
	headers []*block.Header
	blocks  []*block.Block
}

func newChainBuilder(t *testing.T) *chainBuilder {
	t.Helper()
	genesis := &block.Header{Height: 0, PrevHash: types.Hash{}}
	cb := &chainBuilder{t: t}
	cb.headers = append(cb.headers, genesis)
	cb.blocks = append(cb.blocks, block.NewBlock(genesis, nil, nil, nil))
	return cb
}

// extend appends a new coinbase-only block atop the builder's current tip
// and returns it.
func (cb *chainBuilder) extend() *block.Block {
	cb.t.Helper()
	height := uint64(len(cb.headers))
	prev := cb.headers[len(cb.headers)-1]

	excessKey, err := crypto.GenerateKey()
	if err != nil {
		cb.t.Fatalf("generate excess key: %v", err)
	}
	senderKey, err := crypto.GenerateKey()
	if err != nil {
		cb.t.Fatalf("generate sender key: %v", err)
	}

	kernel := block.Kernel{Version: 1, Features: types.KernelFeatureCoinbase}
	excessPoint, err := crypto.PointFromBytes(excessKey.PublicKey())
	if err != nil {
		cb.t.Fatalf("excess point: %v", err)
	}
	kernel.Excess = excessPoint
	challenge := kernel.Challenge()
	sig, err := excessKey.Sign(challenge[:])
	if err != nil {
		cb.t.Fatalf("sign kernel: %v", err)
	}
	kernel.Signature = sig

	reward := config.Emission(height)
	rewardH, err := crypto.Commit(crypto.ZeroScalar, reward)
	if err != nil {
		cb.t.Fatalf("commit reward: %v", err)
	}
	coinbaseCommitment, err := crypto.PointAdd(kernel.Excess, rewardH)
	if err != nil {
		cb.t.Fatalf("coinbase commitment: %v", err)
	}

	senderPoint, err := crypto.PointFromBytes(senderKey.PublicKey())
	if err != nil {
		cb.t.Fatalf("sender point: %v", err)
	}
	output := block.Output{
		Version: 1,
		Features: types.OutputFeatures{
			Version:    1,
			OutputType: types.OutputTypeCoinbase,
			Maturity:   height + config.CoinbaseLockHeight,
		},
		Commitment:            coinbaseCommitment,
		Script:                tscript.Default(senderPoint),
		SenderOffsetPublicKey:  senderPoint,
	}
	metaChallenge := output.MetadataChallenge()
	metaSig, err := senderKey.Sign(metaChallenge[:])
	if err != nil {
		cb.t.Fatalf("sign metadata: %v", err)
	}
	output.MetadataSignature = metaSig

	header := &block.Header{
		Height:            height,
		PrevHash:          prev.Hash(),
		TotalKernelOffset: crypto.ZeroScalar,
		TotalScriptOffset: crypto.ZeroScalar,
	}
	blk := block.NewBlock(header, nil, []block.Output{output}, []block.Kernel{kernel})
	cb.headers = append(cb.headers, header)
	cb.blocks = append(cb.blocks, blk)
	return blk
}

func seedLocalChain(store *fakeChainStore, cb *chainBuilder, tip uint64) {
	for h := uint64(0); h <= tip; h++ {
		store.headers[h] = cb.headers[h]
	}
	store.meta = block.ChainMetadata{BestHeight: tip, BestHash: cb.headers[tip].Hash(), AccumulatedDiffic: tip}
}

func testEngine(t *testing.T, store ChainStore, pool *peerpool.Pool, dialer ClientDialer) *Engine {
	t.Helper()
	return New(store, pool, dialer, Config{
		HeaderRequestSize:            10,
		BlockRequestSize:             10,
		MaxBlockRequestRetryAttempts: 2,
		MaxAddBlockRetryAttempts:     2,
		MaxHeaderRequestRetryAttempts: 2,
		Validator:                   validator.Config{OutputWorkers: 2, BypassRangeProofs: true},
	})
}

func TestRunOnce_EmptyBlockchain(t *testing.T) {
	store := newFakeChainStore()
	conn := &fakeConnectivity{}
	pool := peerpool.New(conn, config.PolicyFirst, "", 0)
	pool.Add("peer1")
	e := testEngine(t, store, pool, &fakeDialer{clients: map[string]RPCClient{}})

	err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("expected nil (return to listening), got %v", err)
	}
}

func TestRunOnce_NoOpWhenUpToDate(t *testing.T) {
	cb := newChainBuilder(t)
	cb.extend()
	store := newFakeChainStore()
	seedLocalChain(store, cb, 1)

	conn := &fakeConnectivity{}
	pool := peerpool.New(conn, config.PolicyFirst, "", 0)
	pool.Add("peer1")

	client := &fakeRPCClient{
		tipResp: &rpcproto.GetTipInfoResponse{Metadata: store.meta},
		headerOf: map[uint64]*rpcproto.GetHeaderByHeightResponse{
			1: {Found: true, Header: cb.headers[1]},
		},
	}
	e := testEngine(t, store, pool, &fakeDialer{clients: map[string]RPCClient{"peer1": client}})

	if err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("expected no-op success, got %v", err)
	}
	if store.meta.BestHeight != 1 {
		t.Fatalf("expected local chain untouched at height 1, got %d", store.meta.BestHeight)
	}
}

func TestRunOnce_SyncsForwardNoSplit(t *testing.T) {
	cb := newChainBuilder(t)
	for i := 0; i < 3; i++ {
		cb.extend()
	}
	store := newFakeChainStore()
	seedLocalChain(store, cb, 0)

	conn := &fakeConnectivity{}
	pool := peerpool.New(conn, config.PolicyFirst, "", 0)
	pool.Add("peer1")

	networkMeta := block.ChainMetadata{BestHeight: 3, BestHash: cb.headers[3].Hash()}
	client := &fakeRPCClient{
		tipResp: &rpcproto.GetTipInfoResponse{Metadata: networkMeta},
		headerOf: map[uint64]*rpcproto.GetHeaderByHeightResponse{
			0: {Found: true, Header: cb.headers[0]},
		},
		blocksFn: func(heights []uint64) (*rpcproto.RequestBlocksResponse, error) {
			blocks := make([]*block.Block, len(heights))
			for i, h := range heights {
				blocks[i] = cb.blocks[h]
			}
			return &rpcproto.RequestBlocksResponse{Blocks: blocks}, nil
		},
	}
	e := testEngine(t, store, pool, &fakeDialer{clients: map[string]RPCClient{"peer1": client}})

	var events []Event
	ch, unsub := e.Subscribe()
	defer unsub()
	done := make(chan struct{})
	go func() {
		for ev := range ch {
			events = append(events, ev)
		}
		close(done)
	}()

	if err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("expected successful sync, got %v", err)
	}
	unsub()
	<-done

	if store.meta.BestHeight != 3 {
		t.Fatalf("expected local chain to reach height 3, got %d", store.meta.BestHeight)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 progress events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.Info == nil || ev.Info.LocalHeight != uint64(i+1) {
			t.Errorf("event %d: expected local height %d, got %+v", i, i+1, ev.Info)
		}
	}
}

func TestHeaderSync_EmptyNetworkBestBlock(t *testing.T) {
	cb := newChainBuilder(t)
	store := newFakeChainStore()
	seedLocalChain(store, cb, 0)

	conn := &fakeConnectivity{}
	pool := peerpool.New(conn, config.PolicyFirst, "", 0)
	pool.Add("peer1")

	client := &fakeRPCClient{tipResp: &rpcproto.GetTipInfoResponse{Metadata: block.ChainMetadata{}}}
	e := testEngine(t, store, pool, &fakeDialer{clients: map[string]RPCClient{"peer1": client}})

	err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("expected nil (surfaced as no-op), got %v", err)
	}
}

func TestSyncBlockBatch_BansPeerOnWrongBlockCount(t *testing.T) {
	cb := newChainBuilder(t)
	cb.extend()
	store := newFakeChainStore()
	seedLocalChain(store, cb, 0)

	conn := &fakeConnectivity{}
	pool := peerpool.New(conn, config.PolicyFirst, "", 0)
	pool.Add("peer1")

	client := &fakeRPCClient{
		blocksFn: func(heights []uint64) (*rpcproto.RequestBlocksResponse, error) {
			return &rpcproto.RequestBlocksResponse{Blocks: nil}, nil
		},
	}
	e := testEngine(t, store, pool, &fakeDialer{clients: map[string]RPCClient{"peer1": client}})
	e.cfg.MaxBlockRequestRetryAttempts = 1

	_, err := e.syncBlockBatch(context.Background(), []uint64{1}, 0, 1)
	if err == nil {
		t.Fatal("expected an error after exhausting retry attempts")
	}
	if !syncerrors.Is(err, syncerrors.PeerTransient) {
		t.Errorf("expected PeerTransient, got: %v", err)
	}
	if len(conn.banned) == 0 || conn.banned[0] != "peer1" {
		t.Errorf("expected peer1 to be banned, got %v", conn.banned)
	}
}

func TestSyncBlockBatch_RetriesRemainderAfterPartialApply(t *testing.T) {
	cb := newChainBuilder(t)
	cb.extend()
	cb.extend()
	store := newFakeChainStore()
	seedLocalChain(store, cb, 0)
	store.applyErrAtHeight[2] = errors.New("boom")

	conn := &fakeConnectivity{}
	pool := peerpool.New(conn, config.PolicyFirst, "", 0)
	pool.Add("peer1")
	pool.Add("peer2")

	calls := 0
	client := &fakeRPCClient{
		blocksFn: func(heights []uint64) (*rpcproto.RequestBlocksResponse, error) {
			calls++
			if calls == 2 {
				// second call is the retry for the unapplied remainder,
				// from the peer that replaces the one banned for the
				// first attempt's apply failure: clear the injected
				// failure so it succeeds this time.
				delete(store.applyErrAtHeight, 2)
			}
			blocks := make([]*block.Block, len(heights))
			for i, h := range heights {
				blocks[i] = cb.blocks[h]
			}
			return &rpcproto.RequestBlocksResponse{Blocks: blocks}, nil
		},
	}
	e := testEngine(t, store, pool, &fakeDialer{clients: map[string]RPCClient{"peer1": client, "peer2": client}})

	_, err := e.syncBlockBatch(context.Background(), []uint64{1, 2}, 0, 2)
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if store.meta.BestHeight != 2 {
		t.Fatalf("expected chain to reach height 2, got %d", store.meta.BestHeight)
	}
	if client.requestBlocksCalls != 2 {
		t.Fatalf("expected request_blocks to be retried exactly once, got %d calls", client.requestBlocksCalls)
	}
}
