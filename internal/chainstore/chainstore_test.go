package chainstore

import (
	"context"
	"errors"
	"testing"

	"github.com/shardwimble/basenode/internal/storage"
	"github.com/shardwimble/basenode/pkg/block"
	"github.com/shardwimble/basenode/pkg/mmr"
	"github.com/shardwimble/basenode/pkg/smt"
	"github.com/shardwimble/basenode/pkg/types"
)

func commitmentAt(b byte) (c [33]byte) {
	c[0] = 0x08
	c[1] = b
	return c
}

func genesisHeader() *block.Header {
	return &block.Header{
		Height:        0,
		PrevHash:      types.Hash{},
		OutputMMRRoot: smt.New().Root(),
		KernelMMRRoot: mmr.New().Root(),
	}
}

func TestApplyBlockGenesisThenExtend(t *testing.T) {
	ctx := context.Background()
	store, err := Open(storage.NewMemory())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	genesis := &block.Block{Header: genesisHeader()}
	if err := store.ApplyBlock(ctx, genesis, 1); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}

	meta, err := store.FetchChainMetadata(ctx)
	if err != nil {
		t.Fatalf("fetch metadata: %v", err)
	}
	if meta.BestHeight != 0 || meta.BestHash != genesis.Hash() {
		t.Fatalf("metadata after genesis = %+v", meta)
	}

	out := block.Output{Commitment: commitmentAt(1)}
	smtTree := smt.New()
	smtTree.Insert(smtKeyFromCommitment(out.Commitment[:]), OutputSMTLeafHash(&out, 1))

	header2 := &block.Header{
		Height:        1,
		PrevHash:      genesis.Hash(),
		OutputMMRRoot: smtTree.Root(),
		KernelMMRRoot: mmr.New().Root(),
	}
	block2 := &block.Block{Header: header2, Outputs: []block.Output{out}}
	if err := store.ApplyBlock(ctx, block2, 2); err != nil {
		t.Fatalf("apply block 2: %v", err)
	}

	fetched, err := store.FetchUTXO(ctx, out.Commitment)
	if err != nil {
		t.Fatalf("fetch utxo: %v", err)
	}
	if fetched.Commitment != out.Commitment {
		t.Fatalf("fetched utxo commitment mismatch")
	}

	hdr, err := store.FetchHeaderByHeight(ctx, 1)
	if err != nil {
		t.Fatalf("fetch header by height: %v", err)
	}
	if hdr.Hash() != header2.Hash() {
		t.Fatalf("fetched header mismatch")
	}

	byHash, err := store.FetchHeaderByHash(ctx, header2.Hash())
	if err != nil {
		t.Fatalf("fetch header by hash: %v", err)
	}
	if byHash.Height != 1 {
		t.Fatalf("fetch header by hash height = %d, want 1", byHash.Height)
	}
}

func TestApplyBlockRejectsWrongParent(t *testing.T) {
	ctx := context.Background()
	store, err := Open(storage.NewMemory())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	genesis := &block.Block{Header: genesisHeader()}
	if err := store.ApplyBlock(ctx, genesis, 1); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}

	badHeader := &block.Header{Height: 1, PrevHash: types.Hash{0xFF}}
	bad := &block.Block{Header: badHeader}
	if err := store.ApplyBlock(ctx, bad, 2); err == nil {
		t.Fatal("expected invariant (iii) violation error, got nil")
	}
}

func TestApplyBlockRejectsRootMismatch(t *testing.T) {
	ctx := context.Background()
	store, err := Open(storage.NewMemory())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	genesis := &block.Block{Header: genesisHeader()}
	if err := store.ApplyBlock(ctx, genesis, 1); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}

	header2 := &block.Header{
		Height:        1,
		PrevHash:      genesis.Hash(),
		OutputMMRRoot: types.Hash{0x01}, // wrong: doesn't match the empty+1-output SMT
		KernelMMRRoot: mmr.New().Root(),
	}
	block2 := &block.Block{Header: header2, Outputs: []block.Output{{Commitment: commitmentAt(1)}}}
	if err := store.ApplyBlock(ctx, block2, 2); err == nil {
		t.Fatal("expected invariant (ii) root mismatch error, got nil")
	}
}

func TestRollbackRestoresSpentOutput(t *testing.T) {
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
	block1 := &block.Block{Header: header1, Outputs: []block.Output{out}}
	if err := store.ApplyBlock(ctx, block1, 2); err != nil {
		t.Fatalf("apply block 1: %v", err)
	}

	smt2 := smt.New() // output spent, set empty again
	header2 := &block.Header{Height: 2, PrevHash: header1.Hash(), OutputMMRRoot: smt2.Root(), KernelMMRRoot: mmr.New().Root()}
	block2 := &block.Block{
		Header: header2,
		Inputs: []block.Input{{Commitment: out.Commitment, OutputHash: out.Hash()}},
	}
	if err := store.ApplyBlock(ctx, block2, 3); err != nil {
		t.Fatalf("apply block 2 (spend): %v", err)
	}

	if _, err := store.FetchUTXO(ctx, out.Commitment); err == nil {
		t.Fatal("expected output to be spent after block 2")
	}

	if err := store.Rollback(ctx, 1); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	restored, err := store.FetchUTXO(ctx, out.Commitment)
	if err != nil {
		t.Fatalf("expected output restored after rollback, got: %v", err)
	}
	if restored.Commitment != out.Commitment {
		t.Fatal("restored output commitment mismatch")
	}

	meta, err := store.FetchChainMetadata(ctx)
	if err != nil {
		t.Fatalf("fetch metadata: %v", err)
	}
	if meta.BestHeight != 1 || meta.BestHash != header1.Hash() {
		t.Fatalf("metadata after rollback = %+v, want height 1 / hash %s", meta, header1.Hash())
	}
}

func TestPruneToHeightAdvancesPrunedHeight(t *testing.T) {
	ctx := context.Background()
	store, err := Open(storage.NewMemory())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	genesis := &block.Block{Header: genesisHeader()}
	if err := store.ApplyBlock(ctx, genesis, 1); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}
	header1 := &block.Header{Height: 1, PrevHash: genesis.Hash(), OutputMMRRoot: smt.New().Root(), KernelMMRRoot: mmr.New().Root()}
	if err := store.ApplyBlock(ctx, &block.Block{Header: header1}, 2); err != nil {
		t.Fatalf("apply block 1: %v", err)
	}

	if err := store.PruneToHeight(ctx, 1); err != nil {
		t.Fatalf("prune: %v", err)
	}
	meta, err := store.FetchChainMetadata(ctx)
	if err != nil {
		t.Fatalf("fetch metadata: %v", err)
	}
	if meta.PrunedHeight != 1 {
		t.Fatalf("pruned height = %d, want 1", meta.PrunedHeight)
	}
	if _, err := store.FetchHeaderByHeight(ctx, 0); err == nil {
		t.Fatal("expected genesis header to be pruned away")
	}
	if _, err := store.FetchHeaderByHeight(ctx, 1); err != nil {
		t.Fatalf("header at the pruning boundary should survive: %v", err)
	}
}

func TestWriteTransactionAtomicFailureLeavesNoPartialState(t *testing.T) {
	ctx := context.Background()
	store, err := Open(storage.NewMemory())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	tx := store.NewWriteTransaction()
	tx.PutHeader(genesisHeader())
	tx.fail(errors.New("forced failure"))
	if err := tx.Commit(ctx); err == nil {
		t.Fatal("expected Commit to surface the staged failure")
	}

	if _, err := store.FetchHeaderByHeight(ctx, 0); err == nil {
		t.Fatal("expected no header to be visible after a failed transaction")
	}
}
