package horizonsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shardwimble/basenode/config"
	"github.com/shardwimble/basenode/internal/peerpool"
	"github.com/shardwimble/basenode/internal/rpcproto"
	"github.com/shardwimble/basenode/pkg/block"
	"github.com/shardwimble/basenode/pkg/crypto"
	"github.com/shardwimble/basenode/pkg/types"
)

// fakeChainStore is an in-memory ChainStore good enough to drive the
// engine's attempt logic without a real chainstore.Store.
type fakeChainStore struct {
	headersByHeight map[uint64]*block.Header
	headersByHash   map[types.Hash]*block.Header
	meta            block.ChainMetadata
	kernelsAt       map[uint64][]block.Kernel
	outputsAt       map[uint64][]block.Output

	pruned []uint64
}

func newFakeChainStore() *fakeChainStore {
	return &fakeChainStore{
		headersByHeight: make(map[uint64]*block.Header),
		headersByHash:   make(map[types.Hash]*block.Header),
		kernelsAt:       make(map[uint64][]block.Kernel),
		outputsAt:       make(map[uint64][]block.Output),
	}
}

func (f *fakeChainStore) FetchChainMetadata(context.Context) (block.ChainMetadata, error) {
	return f.meta, nil
}

func (f *fakeChainStore) FetchHeaderByHeight(_ context.Context, h uint64) (*block.Header, error) {
	hdr, ok := f.headersByHeight[h]
	if !ok {
		return nil, nil
	}
	return hdr, nil
}

func (f *fakeChainStore) FetchHeaderByHash(_ context.Context, hash types.Hash) (*block.Header, error) {
	hdr, ok := f.headersByHash[hash]
	if !ok {
		return nil, errors.New("header not found")
	}
	return hdr, nil
}

func (f *fakeChainStore) FetchUTXOsInBlock(_ context.Context, h uint64) ([]block.Output, error) {
	return f.outputsAt[h], nil
}

func (f *fakeChainStore) FetchKernelsInBlock(_ context.Context, h uint64) ([]block.Kernel, error) {
	return f.kernelsAt[h], nil
}

func (f *fakeChainStore) PruneToHeight(_ context.Context, h uint64) error {
	f.pruned = append(f.pruned, h)
	f.meta.PrunedHeight = h
	return nil
}

func (f *fakeChainStore) NewWriteTransaction() Tx {
	return &fakeTx{store: f}
}

// fakeTx stages writes in memory and only exposes them to the backing
// fakeChainStore on Commit, mirroring chainstore.WriteTransaction's
// commit-or-drop semantics.
type fakeTx struct {
	store *fakeChainStore

	headers []*block.Header
	kernels []block.Kernel
	outputs []struct {
		o block.Output
		h uint64
	}
	meta       block.ChainMetadata
	metaStaged bool

	kernelRoot types.Hash
	outputRoot types.Hash
}

func (tx *fakeTx) PutHeader(h *block.Header) {
	tx.headers = append(tx.headers, h)
}

func (tx *fakeTx) PutKernel(k block.Kernel, _ uint64) {
	tx.kernels = append(tx.kernels, k)
}

func (tx *fakeTx) PutOutput(o block.Output, height uint64) {
	tx.outputs = append(tx.outputs, struct {
		o block.Output
		h uint64
	}{o, height})
}

func (tx *fakeTx) SetChainMetadata(meta block.ChainMetadata) {
	tx.meta = meta
	tx.metaStaged = true
}

func (tx *fakeTx) ProjectKernelRoot() types.Hash { return tx.kernelRoot }
func (tx *fakeTx) ProjectOutputRoot() types.Hash { return tx.outputRoot }

func (tx *fakeTx) Commit(context.Context) error {
	for _, h := range tx.headers {
		tx.store.headersByHeight[h.Height] = h
		tx.store.headersByHash[h.Hash()] = h
	}
	for _, ko := range tx.outputs {
		tx.store.outputsAt[ko.h] = append(tx.store.outputsAt[ko.h], ko.o)
	}
	if len(tx.kernels) > 0 {
		tx.store.kernelsAt[tx.store.meta.BestHeight+1] = append(tx.store.kernelsAt[tx.store.meta.BestHeight+1], tx.kernels...)
	}
	if tx.metaStaged {
		tx.store.meta = tx.meta
	}
	return nil
}

// fakeRPCClient is a scriptable RPCClient double.
type fakeRPCClient struct {
	tipResp  *rpcproto.GetTipInfoResponse
	tipErr   error
	headerOf map[uint64]*rpcproto.GetHeaderByHeightResponse

	kernels []rpcproto.KernelStreamItem
	outputs []rpcproto.UTXOStreamItem
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

func (c *fakeRPCClient) SyncKernels(_ context.Context, _ time.Duration, _ rpcproto.SyncKernelsRequest, fn func(rpcproto.KernelStreamItem) error) error {
	for _, item := range c.kernels {
		if err := fn(item); err != nil {
			return err
		}
	}
	return nil
}

func (c *fakeRPCClient) SyncUTXOs(_ context.Context, _ time.Duration, _ rpcproto.SyncUTXOsRequest, fn func(rpcproto.UTXOStreamItem) error) error {
	for _, item := range c.outputs {
		if err := fn(item); err != nil {
			return err
		}
	}
	return nil
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

func testEngine(store ChainStore, pool *peerpool.Pool, dialer ClientDialer, cfg Config) *Engine {
	return New(store, pool, dialer, cfg)
}

func baseCfg() Config {
	return Config{
		PruningHorizon:      2,
		RPCDeadline:         time.Second,
		MaxLatency:          0, // disabled, so every peer passes the ceiling check
		MaxLatencyIncrease:  time.Second,
		MaxLatencyIncreases: 2,
		ShortBanDuration:    time.Minute,
		LongBanDuration:     time.Hour,
		MaxScriptByteSize:   4096,
		BypassRangeProofs:   true,
		FinalState:          AlwaysOK{},
	}
}

// genesisHeader is shared by every test as the local tip: height 0, no
// kernels or outputs yet.
func genesisHeader() *block.Header {
	return &block.Header{Height: 0}
}

func TestRunOnce_NotBehindPruningHorizon(t *testing.T) {
	store := newFakeChainStore()
	gen := genesisHeader()
	store.headersByHeight[0] = gen
	store.meta = block.ChainMetadata{BestHeight: 0, BestHash: gen.Hash()}

	conn := &fakeConnectivity{}
	pool := peerpool.New(conn, config.PolicyFirst, "", 0)
	pool.Add("peer1")

	client := &fakeRPCClient{tipResp: &rpcproto.GetTipInfoResponse{Metadata: block.ChainMetadata{BestHeight: 1}}}
	e := testEngine(store, pool, &fakeDialer{clients: map[string]RPCClient{"peer1": client}}, baseCfg())

	if err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("expected nil (no sync needed), got %v", err)
	}
	if len(store.pruned) != 0 {
		t.Fatalf("expected no pruning, got %v", store.pruned)
	}
}

func TestRunOnce_AllPeersExceedLatency(t *testing.T) {
	store := newFakeChainStore()
	gen := genesisHeader()
	store.headersByHeight[0] = gen
	store.meta = block.ChainMetadata{BestHeight: 0, BestHash: gen.Hash()}

	conn := &fakeConnectivity{}
	pool := peerpool.New(conn, config.PolicyFirst, "", 0)
	pool.Add("peer1")

	cfg := baseCfg()
	cfg.MaxLatency = time.Nanosecond
	cfg.MaxLatencyIncrease = time.Nanosecond
	cfg.MaxLatencyIncreases = 1

	client := &fakeRPCClient{tipResp: &rpcproto.GetTipInfoResponse{Metadata: block.ChainMetadata{BestHeight: 100}}}
	e := testEngine(store, pool, &fakeDialer{clients: map[string]RPCClient{"peer1": client}}, cfg)

	err := e.RunOnce(context.Background())
	if err == nil {
		t.Fatalf("expected AllSyncPeersExceedLatency failure")
	}
	if !errors.Is(err, errAllSyncPeersExceedLatency) {
		t.Fatalf("expected AllSyncPeersExceedLatency failure, got %v", err)
	}
}

func TestRunOnce_FinalStateValidationRejectsLeavesStoreUntouched(t *testing.T) {
	store := newFakeChainStore()
	gen := genesisHeader()
	store.headersByHeight[0] = gen
	store.meta = block.ChainMetadata{BestHeight: 0, BestHash: gen.Hash()}

	// horizon = networkTip(2) - PruningHorizon(1) + offset(0) = 1 ==
	// localBestHeight+1, so there are no intermediate headers to fetch
	// and the horizon header immediately follows the local tip.
	horizonHeader := &block.Header{Height: 1, KernelMMRSize: 1, OutputMMRSize: 0}

	excess, signature := signedKernel(t)

	conn := &fakeConnectivity{}
	pool := peerpool.New(conn, config.PolicyFirst, "", 0)
	pool.Add("peer1")

	cfg := baseCfg()
	cfg.PruningHorizon = 1
	cfg.FinalState = AlwaysFail{}

	client := &fakeRPCClient{
		tipResp: &rpcproto.GetTipInfoResponse{Metadata: block.ChainMetadata{BestHeight: 2}},
		headerOf: map[uint64]*rpcproto.GetHeaderByHeightResponse{
			1: {Found: true, Header: horizonHeader},
		},
		kernels: []rpcproto.KernelStreamItem{
			{Kernel: block.Kernel{Version: 1, Features: types.KernelFeatureCoinbase, Excess: excess, Signature: signature}},
		},
	}
	e := testEngine(store, pool, &fakeDialer{clients: map[string]RPCClient{"peer1": client}}, cfg)

	err := e.RunOnce(context.Background())
	if err == nil {
		t.Fatalf("expected final state validation to reject the attempt")
	}
	if store.meta.BestHeight != 0 {
		t.Fatalf("expected local chain untouched on rejection, best_height=%d", store.meta.BestHeight)
	}
	if len(store.pruned) != 0 {
		t.Fatalf("expected no pruning on rejection, got %v", store.pruned)
	}
}

// signedKernel builds a coinbase excess/signature pair that passes
// VerifySignature, so stream tests can exercise paths past the
// signature check.
func signedKernel(t *testing.T) (crypto.Commitment, []byte) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	excess, err := crypto.PointFromBytes(key.PublicKey())
	if err != nil {
		t.Fatalf("excess point: %v", err)
	}
	k := block.Kernel{Version: 1, Features: types.KernelFeatureCoinbase, Excess: excess}
	challenge := k.Challenge()
	sig, err := key.Sign(challenge[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return excess, sig
}
