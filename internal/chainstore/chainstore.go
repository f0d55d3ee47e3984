// Package chainstore is the chain storage facade (spec.md §4.2): the sole
// owner of on-disk consensus state. Both sync engines hold a shared
// handle and mutate only through a WriteTransaction; every read here is
// an async-over-blocking wrapper — the blocking Badger/disk work runs on
// a dedicated goroutine bounded by a semaphore, so a caller on an async
// reactor loop only suspends at the call boundary, never inline.
package chainstore

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/shardwimble/basenode/internal/storage"
	"github.com/shardwimble/basenode/pkg/block"
	"github.com/shardwimble/basenode/pkg/crypto"
	"github.com/shardwimble/basenode/pkg/mmr"
	"github.com/shardwimble/basenode/pkg/smt"
	"github.com/shardwimble/basenode/pkg/types"
)

// defaultBlockingSlots bounds how many facade operations may have
// blocking disk I/O in flight at once; it has no relation to the block
// body validator's OutputValidationWorkers knob, which bounds a
// different pool entirely.
const defaultBlockingSlots = 8

// Key prefixes. One flat Badger/memory keyspace, namespaced by prefix
// per entity kind, the same convention internal/transport's BanStore/
// PeerStore already use ("ban/", "peer/").
const (
	prefixHeaderByHeight = "chain/header/height/"
	prefixHeightByHash   = "chain/header/hash/"
	prefixBlockAcc       = "chain/block/acc/"
	prefixBlockKernels   = "chain/block/kernels/"
	prefixBlockOutputs   = "chain/block/outputs/"
	prefixBlockInputs    = "chain/block/inputs/"
	prefixUTXO           = "chain/utxo/commitment/"
	prefixSMTLeaf        = "chain/utxo/smtleaf/"
	prefixSpentOutput    = "chain/utxo/spent/"
	prefixKernelExcess   = "chain/kernel/excess/"
	prefixKernelLeafIdx  = "chain/kernel/leafidx/"
	prefixKernelMMRPos   = "chain/kernel/mmrpos/"
	keyChainMetadata     = "chain/meta/metadata"
)

// BlockAccumulatedData is the per-height summary the facade keeps
// alongside each header: the MMR/SMT sizes and roots already live on the
// header itself, so this only adds what isn't — the chain's cumulative
// proof-of-work at that height.
type BlockAccumulatedData struct {
	AccumulatedDifficulty uint64     `json:"accumulated_difficulty"`
	KernelMMRRoot         types.Hash `json:"kernel_mmr_root"`
	OutputSMTRoot         types.Hash `json:"output_smt_root"`
}

// ChainHeader pairs a header with its accumulated data, the shape
// fetch_chain_header returns.
type ChainHeader struct {
	Header      *block.Header        `json:"header"`
	Accumulated BlockAccumulatedData `json:"accumulated"`
}

// Store is the chain storage facade.
type Store struct {
	db  storage.DB
	sem *semaphore.Weighted

	mu        sync.RWMutex
	tipSMT    *smt.SMT
	kernelMMR *mmr.MMR
}

// Open builds a Store over db, replaying the persisted SMT leaves and
// kernel MMR checkpoint so the in-memory tip indices match what was
// last committed.
func Open(db storage.DB) (*Store, error) {
	s := &Store{
		db:        db,
		sem:       semaphore.NewWeighted(defaultBlockingSlots),
		tipSMT:    smt.New(),
		kernelMMR: mmr.New(),
	}
	if err := s.loadTipSMT(); err != nil {
		return nil, fmt.Errorf("chainstore: load tip smt: %w", err)
	}
	if err := s.loadKernelMMR(); err != nil {
		return nil, fmt.Errorf("chainstore: load kernel mmr: %w", err)
	}
	return s, nil
}

func (s *Store) loadTipSMT() error {
	return s.db.ForEach([]byte(prefixSMTLeaf), func(key, value []byte) error {
		commitmentHex := key[len(prefixSMTLeaf):]
		commitment, err := hex.DecodeString(string(commitmentHex))
		if err != nil {
			return nil
		}
		var leafHash types.Hash
		if len(value) != len(leafHash) {
			return nil
		}
		copy(leafHash[:], value)
		keyHash := smtKeyFromCommitment(commitment)
		s.tipSMT.Insert(keyHash, leafHash)
		return nil
	})
}

// smtKeyFromCommitment derives the SMT key for a 33-byte compressed
// commitment by hashing it down to the tree's 32-byte key width.
func smtKeyFromCommitment(commitment []byte) types.Hash {
	return crypto.Hash(commitment)
}

// loadKernelMMR replays every committed kernel, in mmr-position order,
// into a fresh in-memory MMR. Simpler and easier to state as obviously
// correct than persisting/restoring peak checkpoints directly, at the
// cost of an O(n) replay on startup — the same tradeoff pkg/smt already
// made for its own root computation.
func (s *Store) loadKernelMMR() error {
	type posHash struct {
		pos  uint64
		hash types.Hash
	}
	var entries []struct {
		pos  uint64
		hash types.Hash
	}
	err := s.db.ForEach([]byte(prefixKernelLeafIdx), func(key, value []byte) error {
		hashHex := key[len(prefixKernelLeafIdx):]
		raw, err := hex.DecodeString(string(hashHex))
		if err != nil || len(raw) != types.HashSize {
			return nil
		}
		var h types.Hash
		copy(h[:], raw)
		if len(value) != 8 {
			return nil
		}
		entries = append(entries, posHash{pos: binary.BigEndian.Uint64(value), hash: h})
		return nil
	})
	if err != nil {
		return err
	}
	sortPosHash(entries)
	for _, e := range entries {
		s.kernelMMR.Append(e.hash)
	}
	return nil
}

func sortPosHash(entries []struct {
	pos  uint64
	hash types.Hash
}) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j-1].pos > entries[j].pos; j-- {
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}
}

// async dispatches fn onto a dedicated goroutine bounded by the
// blocking-pool semaphore, and returns its result or ctx's error,
// whichever comes first — the "suspend only at the await boundary"
// behavior the facade promises its callers.
func async[T any](ctx context.Context, s *Store, fn func() (T, error)) (T, error) {
	var zero T
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}
	defer s.sem.Release(1)

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func commitmentKey(c [33]byte) []byte {
	return []byte(hex.EncodeToString(c[:]))
}

func heightKey(height uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, height)
	return buf
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("chainstore: marshal %T: %v", v, err))
	}
	return b
}
