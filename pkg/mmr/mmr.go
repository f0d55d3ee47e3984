// Package mmr implements an append-only Merkle Mountain Range: a forest of
// perfect binary hash trees ("peaks") whose sizes follow the binary
// representation of the leaf count. Appending a leaf merges equal-height
// peaks the way a binary counter carries, giving a deterministic root after
// every append without ever rehashing older leaves.
package mmr

import (
	"github.com/shardwimble/basenode/pkg/crypto"
	"github.com/shardwimble/basenode/pkg/types"
)

type peak struct {
	hash   types.Hash
	height uint64
}

// MMR is a Merkle Mountain Range over leaf hashes, used for the kernel MMR
// and (historically, pre-SMT) the output MMR.
type MMR struct {
	peaks     []peak
	size      uint64 // total node count, leaves and internal, in append order
	leafCount uint64
}

// New returns an empty MMR.
func New() *MMR {
	return &MMR{}
}

// LeafCount returns the number of leaves appended so far.
func (m *MMR) LeafCount() uint64 {
	return m.leafCount
}

// Size returns the total MMR node count (leaves plus internal nodes).
// Header kernel_mmr_size values count leaves, as LeafCount does, not nodes.
func (m *MMR) Size() uint64 {
	return m.size
}

// Clone returns an independent copy of the MMR, so a caller can project
// the root a batch of appends would produce without mutating the
// original.
func (m *MMR) Clone() *MMR {
	peaks := make([]peak, len(m.peaks))
	copy(peaks, m.peaks)
	return &MMR{peaks: peaks, size: m.size, leafCount: m.leafCount}
}

// Append adds a new leaf hash, merging equal-height peaks bottom-up.
func (m *MMR) Append(leaf types.Hash) {
	m.peaks = append(m.peaks, peak{hash: leaf, height: 0})
	m.size++
	m.leafCount++

	for len(m.peaks) >= 2 {
		last := m.peaks[len(m.peaks)-1]
		prev := m.peaks[len(m.peaks)-2]
		if last.height != prev.height {
			break
		}
		merged := peak{
			hash:   crypto.HashConcat(prev.hash, last.hash),
			height: last.height + 1,
		}
		m.peaks = m.peaks[:len(m.peaks)-2]
		m.peaks = append(m.peaks, merged)
		m.size++
	}
}

// Root bags the current peaks into a single root hash, right to left:
// the rightmost (most recently completed) peak is folded leftward into
// every older peak in turn. An empty MMR has the zero hash as its root.
func (m *MMR) Root() types.Hash {
	if len(m.peaks) == 0 {
		return types.Hash{}
	}
	root := m.peaks[len(m.peaks)-1].hash
	for i := len(m.peaks) - 2; i >= 0; i-- {
		root = crypto.HashConcat(m.peaks[i].hash, root)
	}
	return root
}

// PeakHashes returns the current peak hashes, highest (oldest) first, for
// callers that need to persist or transmit MMR checkpoint state directly
// rather than the full leaf history.
func (m *MMR) PeakHashes() []types.Hash {
	hashes := make([]types.Hash, len(m.peaks))
	for i, p := range m.peaks {
		hashes[i] = p.hash
	}
	return hashes
}
