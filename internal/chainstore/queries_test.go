package chainstore

import (
	"context"
	"testing"

	"github.com/shardwimble/basenode/internal/storage"
	"github.com/shardwimble/basenode/pkg/block"
	"github.com/shardwimble/basenode/pkg/crypto"
	"github.com/shardwimble/basenode/pkg/mmr"
	"github.com/shardwimble/basenode/pkg/smt"
)

func testKernel(b byte) block.Kernel {
	var excess crypto.Commitment
	excess[0] = 0x09
	excess[1] = b
	return block.Kernel{Excess: excess}
}

func TestFetchTipKernelMMR_EmptyStore(t *testing.T) {
	ctx := context.Background()
	store, err := Open(storage.NewMemory())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	got, err := store.FetchTipKernelMMR(ctx)
	if err != nil {
		t.Fatalf("FetchTipKernelMMR: %v", err)
	}
	if got.Root() != mmr.New().Root() {
		t.Fatal("a freshly opened store's tip kernel MMR should be empty")
	}
}

func TestFetchTipKernelMMR_ReflectsAppliedBlock(t *testing.T) {
	ctx := context.Background()
	store, err := Open(storage.NewMemory())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	genesis := &block.Block{Header: genesisHeader()}
	if err := store.ApplyBlock(ctx, genesis, 1); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}

	k := testKernel(1)
	expected := mmr.New()
	expected.Append(k.Hash())

	header1 := &block.Header{
		Height:        1,
		PrevHash:      genesis.Hash(),
		OutputMMRRoot: smt.New().Root(),
		KernelMMRRoot: expected.Root(),
		KernelMMRSize: 1,
	}
	block1 := &block.Block{Header: header1, Kernels: []block.Kernel{k}}
	if err := store.ApplyBlock(ctx, block1, 2); err != nil {
		t.Fatalf("apply block 1: %v", err)
	}

	got, err := store.FetchTipKernelMMR(ctx)
	if err != nil {
		t.Fatalf("FetchTipKernelMMR: %v", err)
	}
	if got.Root() != expected.Root() {
		t.Errorf("tip kernel MMR root = %s, want %s", got.Root(), expected.Root())
	}
}

func TestProjectKernelRoot_MatchesStagedAppends(t *testing.T) {
	ctx := context.Background()
	store, err := Open(storage.NewMemory())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	genesis := &block.Block{Header: genesisHeader()}
	if err := store.ApplyBlock(ctx, genesis, 1); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}

	tx := store.NewWriteTransaction()
	k1, k2 := testKernel(1), testKernel(2)
	tx.PutKernel(k1, 0)
	tx.PutKernel(k2, 1)

	want := mmr.New()
	want.Append(k1.Hash())
	want.Append(k2.Hash())

	if got := tx.ProjectKernelRoot(); got != want.Root() {
		t.Errorf("ProjectKernelRoot = %s, want %s", got, want.Root())
	}

	// The live tip MMR must be untouched until Commit.
	tip, err := store.FetchTipKernelMMR(ctx)
	if err != nil {
		t.Fatalf("FetchTipKernelMMR: %v", err)
	}
	if tip.Root() != mmr.New().Root() {
		t.Error("projecting must not mutate the store's live tip kernel MMR")
	}
}

func TestProjectOutputRoot_MatchesStagedOps(t *testing.T) {
	ctx := context.Background()
	store, err := Open(storage.NewMemory())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	genesis := &block.Block{Header: genesisHeader()}
	if err := store.ApplyBlock(ctx, genesis, 1); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}

	tx := store.NewWriteTransaction()
	out := block.Output{Commitment: commitmentAt(1)}
	tx.PutOutput(out, 1)

	want := smt.New()
	want.Insert(smtKeyFromCommitment(out.Commitment[:]), OutputSMTLeafHash(&out, 1))

	if got := tx.ProjectOutputRoot(); got != want.Root() {
		t.Errorf("ProjectOutputRoot = %s, want %s", got, want.Root())
	}

	tip, err := store.FetchTipSMT(ctx)
	if err != nil {
		t.Fatalf("FetchTipSMT: %v", err)
	}
	if tip.Root() != smt.New().Root() {
		t.Error("projecting must not mutate the store's live tip SMT")
	}
}

func TestProjectOutputRoot_DeleteReflectsSpend(t *testing.T) {
	ctx := context.Background()
	store, err := Open(storage.NewMemory())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	genesis := &block.Block{Header: genesisHeader()}
	if err := store.ApplyBlock(ctx, genesis, 1); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}

	out := block.Output{Commitment: commitmentAt(1)}
	smt1 := smt.New()
	smt1.Insert(smtKeyFromCommitment(out.Commitment[:]), OutputSMTLeafHash(&out, 1))
	header1 := &block.Header{Height: 1, PrevHash: genesis.Hash(), OutputMMRRoot: smt1.Root(), KernelMMRRoot: mmr.New().Root()}
	if err := store.ApplyBlock(ctx, &block.Block{Header: header1, Outputs: []block.Output{out}}, 2); err != nil {
		t.Fatalf("apply block 1: %v", err)
	}

	tx := store.NewWriteTransaction()
	tx.SpendOutput(out, 1, 2)

	if got := tx.ProjectOutputRoot(); got != smt.New().Root() {
		t.Errorf("ProjectOutputRoot after staged spend = %s, want empty root %s", got, smt.New().Root())
	}
}
