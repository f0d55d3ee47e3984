package chainstore

import (
	"context"
	"encoding/binary"
	"encoding/hex"

	"github.com/shardwimble/basenode/internal/storage"
	"github.com/shardwimble/basenode/pkg/block"
	"github.com/shardwimble/basenode/pkg/crypto"
	"github.com/shardwimble/basenode/pkg/types"
)

// WriteTransaction accumulates a batch of facade mutations and commits
// them atomically (spec.md §4.2: "All mutations flow through a
// WriteTransaction, which accumulates operations and commits
// atomically"). It also stages the in-memory tip SMT / kernel MMR
// updates that mirror the batch, applying them to the Store only once
// Commit has durably succeeded — so a failed commit never desyncs the
// in-memory indices from disk.
type WriteTransaction struct {
	store *Store
	batch storage.Batch

	smtOps        []smtOp
	mmrAppend     []types.Hash
	spentAtHeight map[uint64][]utxoRecord
	err           error
}

type smtOp struct {
	key    types.Hash
	value  types.Hash
	delete bool
}

// NewWriteTransaction starts a new write transaction against the store.
func (s *Store) NewWriteTransaction() *WriteTransaction {
	if b, ok := s.db.(storage.Batcher); ok {
		return &WriteTransaction{store: s, batch: b.NewBatch()}
	}
	return &WriteTransaction{store: s, batch: &sequentialBatch{db: s.db}}
}

func (tx *WriteTransaction) fail(err error) {
	if tx.err == nil {
		tx.err = err
	}
}

// PutHeader stores a header at its height and indexes its hash.
func (tx *WriteTransaction) PutHeader(h *block.Header) {
	if err := tx.batch.Put(append([]byte(prefixHeaderByHeight), heightKey(h.Height)...), mustJSON(h)); err != nil {
		tx.fail(err)
		return
	}
	hash := h.Hash()
	if err := tx.batch.Put(append([]byte(prefixHeightByHash), hash[:]...), heightKey(h.Height)); err != nil {
		tx.fail(err)
	}
}

// PutBlockAccumulated records the accumulated data for height.
func (tx *WriteTransaction) PutBlockAccumulated(height uint64, acc BlockAccumulatedData) {
	if err := tx.batch.Put(append([]byte(prefixBlockAcc), heightKey(height)...), mustJSON(acc)); err != nil {
		tx.fail(err)
	}
}

// PutBlockBody records the kernels, outputs and inputs mined at height,
// for fetch_kernels_in_block / fetch_utxos_in_block and for rollback's
// spent-output restoration.
func (tx *WriteTransaction) PutBlockBody(height uint64, kernels []block.Kernel, outputs []block.Output, inputs []block.Input) {
	if err := tx.batch.Put(append([]byte(prefixBlockKernels), heightKey(height)...), mustJSON(kernels)); err != nil {
		tx.fail(err)
	}
	if err := tx.batch.Put(append([]byte(prefixBlockOutputs), heightKey(height)...), mustJSON(outputs)); err != nil {
		tx.fail(err)
	}
	if err := tx.batch.Put(append([]byte(prefixBlockInputs), heightKey(height)...), mustJSON(inputs)); err != nil {
		tx.fail(err)
	}
}

// PutKernel indexes a kernel by its excess/signature and its MMR leaf
// position, and stages the MMR append.
func (tx *WriteTransaction) PutKernel(k block.Kernel, mmrPosition uint64) {
	hash := k.Hash()
	if err := tx.batch.Put(append([]byte(prefixKernelExcess), kernelExcessKey(&k)...), mustJSON(k)); err != nil {
		tx.fail(err)
	}
	if err := tx.batch.Put(append([]byte(prefixKernelLeafIdx), []byte(hash.String())...), posValue(mmrPosition)); err != nil {
		tx.fail(err)
	}
	if err := tx.batch.Put(append([]byte(prefixKernelMMRPos), posValue(mmrPosition)...), hash[:]); err != nil {
		tx.fail(err)
	}
	tx.mmrAppend = append(tx.mmrAppend, hash)
}

// utxoRecord is what prefixUTXO actually stores: the output plus the
// height it was mined at, so a later spend can archive enough to
// restore it on rollback without having to re-derive which height its
// SMT leaf hash was computed against.
type utxoRecord struct {
	Output      block.Output `json:"output"`
	MinedHeight uint64       `json:"mined_height"`
}

// PutOutput adds an output to the current UTXO set: persists it by
// commitment and stages its SMT leaf insertion: the leaf key is derived
// from the commitment and the leaf value is smt_hash(output, height)
// per spec.md §4.5.
func (tx *WriteTransaction) PutOutput(o block.Output, height uint64) {
	key := commitmentKey(o.Commitment)
	if err := tx.batch.Put(append([]byte(prefixUTXO), key...), mustJSON(utxoRecord{Output: o, MinedHeight: height})); err != nil {
		tx.fail(err)
	}
	leafHash := OutputSMTLeafHash(&o, height)
	if err := tx.batch.Put(append([]byte(prefixSMTLeaf), key...), leafHash[:]); err != nil {
		tx.fail(err)
	}
	tx.smtOps = append(tx.smtOps, smtOp{key: smtKeyFromCommitment(o.Commitment[:]), value: leafHash})
}

// SpendOutput removes output (last mined at minedHeight) from the
// current UTXO set and archives it at spentHeight so a later Rollback
// of spentHeight can restore it to its original mined height.
func (tx *WriteTransaction) SpendOutput(o block.Output, minedHeight, spentHeight uint64) {
	key := commitmentKey(o.Commitment)
	if err := tx.batch.Delete(append([]byte(prefixUTXO), key...)); err != nil {
		tx.fail(err)
	}
	if err := tx.batch.Delete(append([]byte(prefixSMTLeaf), key...)); err != nil {
		tx.fail(err)
	}
	tx.smtOps = append(tx.smtOps, smtOp{key: smtKeyFromCommitment(o.Commitment[:]), delete: true})
	if tx.spentAtHeight == nil {
		tx.spentAtHeight = make(map[uint64][]utxoRecord)
	}
	tx.spentAtHeight[spentHeight] = append(tx.spentAtHeight[spentHeight], utxoRecord{Output: o, MinedHeight: minedHeight})
}

// RemoveCreatedOutput strips an output from the UTXO set without
// archiving it, used by Rollback to undo an output a detached block
// created (as opposed to SpendOutput, which undoes a consensus spend
// and must be restorable).
func (tx *WriteTransaction) RemoveCreatedOutput(commitment [33]byte) {
	key := commitmentKey(commitment)
	if err := tx.batch.Delete(append([]byte(prefixUTXO), key...)); err != nil {
		tx.fail(err)
	}
	if err := tx.batch.Delete(append([]byte(prefixSMTLeaf), key...)); err != nil {
		tx.fail(err)
	}
	tx.smtOps = append(tx.smtOps, smtOp{key: smtKeyFromCommitment(commitment[:]), delete: true})
}

// SetChainMetadata stages the best-block/pruned-height summary update.
// Per invariant (i), callers must stage this in the same transaction as
// the block application it describes.
func (tx *WriteTransaction) SetChainMetadata(meta block.ChainMetadata) {
	if err := tx.batch.Put([]byte(keyChainMetadata), mustJSON(meta)); err != nil {
		tx.fail(err)
	}
}

// DeleteHeightRange removes persisted headers/bodies for [from, to]
// inclusive, used by pruning and by rollback's rebuild.
func (tx *WriteTransaction) DeleteHeightRange(from, to uint64) {
	for h := from; h <= to; h++ {
		tx.batch.Delete(append([]byte(prefixHeaderByHeight), heightKey(h)...))
		tx.batch.Delete(append([]byte(prefixBlockAcc), heightKey(h)...))
		tx.batch.Delete(append([]byte(prefixBlockKernels), heightKey(h)...))
		tx.batch.Delete(append([]byte(prefixBlockOutputs), heightKey(h)...))
		tx.batch.Delete(append([]byte(prefixBlockInputs), heightKey(h)...))
		tx.batch.Delete(append([]byte(prefixSpentOutput), heightKey(h)...))
	}
}

// ProjectKernelRoot computes what the kernel MMR's root would become if
// every kernel append staged on tx so far were committed, without
// mutating the store. Horizon sync uses this to verify a header's
// claimed kernel_mr before persisting the kernels that produced it —
// the same clone-and-project technique ApplyBlock uses to check a
// whole block's roots in one step before committing it.
func (tx *WriteTransaction) ProjectKernelRoot() types.Hash {
	tx.store.mu.RLock()
	projected := tx.store.kernelMMR.Clone()
	tx.store.mu.RUnlock()
	for _, leaf := range tx.mmrAppend {
		projected.Append(leaf)
	}
	return projected.Root()
}

// ProjectOutputRoot is ProjectKernelRoot's output-SMT counterpart.
func (tx *WriteTransaction) ProjectOutputRoot() types.Hash {
	tx.store.mu.RLock()
	projected := tx.store.tipSMT.Clone()
	tx.store.mu.RUnlock()
	for _, op := range tx.smtOps {
		if op.delete {
			projected.Delete(op.key)
		} else {
			projected.Insert(op.key, op.value)
		}
	}
	return projected.Root()
}

// Commit flushes the batch to disk via the blocking pool, and on success
// applies the staged in-memory tip SMT / kernel MMR updates.
func (tx *WriteTransaction) Commit(ctx context.Context) error {
	if tx.err != nil {
		return tx.err
	}
	for height, outputs := range tx.spentAtHeight {
		if err := tx.batch.Put(append([]byte(prefixSpentOutput), heightKey(height)...), mustJSON(outputs)); err != nil {
			return err
		}
	}
	_, err := async(ctx, tx.store, func() (struct{}, error) {
		return struct{}{}, tx.batch.Commit()
	})
	if err != nil {
		return err
	}

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	for _, op := range tx.smtOps {
		if op.delete {
			tx.store.tipSMT.Delete(op.key)
		} else {
			tx.store.tipSMT.Insert(op.key, op.value)
		}
	}
	for _, leaf := range tx.mmrAppend {
		tx.store.kernelMMR.Append(leaf)
	}
	return nil
}

// OutputSMTLeafHash computes smt_hash(output, height): the value the
// output SMT stores at the commitment key, binding the output's full
// identity (not just its commitment) and the height it was mined at so
// horizon sync's accumulator and this facade always agree on what an
// output's leaf content means.
func OutputSMTLeafHash(o *block.Output, height uint64) types.Hash {
	buf := o.BytesWithoutProof()
	heightBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(heightBuf, height)
	buf = append(buf, heightBuf...)
	return crypto.Hash(buf)
}

func kernelExcessKey(k *block.Kernel) []byte {
	return []byte(hex.EncodeToString(k.Signature))
}

func posValue(pos uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, pos)
	return buf
}

// sequentialBatch is the non-atomic fallback used when the underlying DB
// doesn't implement a true atomic batch (mirrors
// internal/storage.PrefixDB's own fallback for the same reason).
type sequentialBatch struct {
	db storageDB
}

type storageDB interface {
	Put(key, value []byte) error
	Delete(key []byte) error
}

func (b *sequentialBatch) Put(key, value []byte) error { return b.db.Put(key, value) }
func (b *sequentialBatch) Delete(key []byte) error      { return b.db.Delete(key) }
func (b *sequentialBatch) Commit() error                { return nil }
