// Package smt implements the key-addressed Sparse Merkle Tree that holds
// the current-tip unspent output set, keyed by output commitment. Unlike
// the kernel MMR it supports deletion (on spend) as a first-class
// operation and always has a deterministic root, including when empty.
package smt

import (
	"sort"

	"github.com/shardwimble/basenode/pkg/crypto"
	"github.com/shardwimble/basenode/pkg/types"
)

// depth is the number of bits in a key (a 32-byte BLAKE3 hash).
const depth = 256

// defaultHashes[d] is the root of an empty subtree rooted at depth d.
// defaultHashes[depth] is the empty-leaf hash; defaultHashes[0] is the
// root of a fully empty tree.
var defaultHashes = computeDefaultHashes()

func computeDefaultHashes() [depth + 1]types.Hash {
	var d [depth + 1]types.Hash
	d[depth] = crypto.Hash(nil)
	for level := depth - 1; level >= 0; level-- {
		d[level] = crypto.HashConcat(d[level+1], d[level+1])
	}
	return d
}

// SMT is a sparse Merkle tree mapping output commitments to leaf content
// hashes (smt_hash(output, height) per the horizon sync wire contract).
type SMT struct {
	leaves map[types.Hash]types.Hash
}

// New returns an empty tree.
func New() *SMT {
	return &SMT{leaves: make(map[types.Hash]types.Hash)}
}

// Insert sets the leaf at key to value, inserting or overwriting it.
func (s *SMT) Insert(key, value types.Hash) {
	s.leaves[key] = value
}

// Delete removes the leaf at key, as happens when an output is spent.
func (s *SMT) Delete(key types.Hash) {
	delete(s.leaves, key)
}

// Has reports whether key currently has a leaf.
func (s *SMT) Has(key types.Hash) bool {
	_, ok := s.leaves[key]
	return ok
}

// Len returns the number of leaves currently present.
func (s *SMT) Len() int {
	return len(s.leaves)
}

// Clone returns an independent copy of the tree, so a caller can
// project the root a batch of inserts/deletes would produce without
// mutating the original.
func (s *SMT) Clone() *SMT {
	leaves := make(map[types.Hash]types.Hash, len(s.leaves))
	for k, v := range s.leaves {
		leaves[k] = v
	}
	return &SMT{leaves: leaves}
}

// Root computes the tree root over the currently present leaves.
func (s *SMT) Root() types.Hash {
	keys := make([]types.Hash, 0, len(s.leaves))
	for k := range s.leaves {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return s.subtreeRoot(keys, 0)
}

func (s *SMT) subtreeRoot(keys []types.Hash, level int) types.Hash {
	if len(keys) == 0 {
		return defaultHashes[level]
	}
	if level == depth {
		return s.leaves[keys[0]]
	}
	var left, right []types.Hash
	for _, k := range keys {
		if bitAt(k, level) == 0 {
			left = append(left, k)
		} else {
			right = append(right, k)
		}
	}
	leftRoot := s.subtreeRoot(left, level+1)
	rightRoot := s.subtreeRoot(right, level+1)
	return crypto.HashConcat(leftRoot, rightRoot)
}

// bitAt returns the bit of h at the given depth, most-significant-bit
// first, so that bit order agrees with byte-lexicographic key order.
func bitAt(h types.Hash, level int) int {
	byteIdx := level / 8
	bitIdx := 7 - level%8
	return int((h[byteIdx] >> uint(bitIdx)) & 1)
}
