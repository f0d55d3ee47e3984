package block

import (
	"encoding/binary"

	"github.com/shardwimble/basenode/pkg/crypto"
	"github.com/shardwimble/basenode/pkg/types"
)

// KernelVersion is the single consensus-allowed kernel version this node
// produces and accepts.
const KernelVersion = 1

// Kernel is a transaction kernel: the excess commitment and Schnorr
// signature that binds and balances one transaction (or, in a block body,
// one of the block's aggregated transactions).
type Kernel struct {
	Version    uint8               `json:"version"`
	Features   types.KernelFeatures `json:"features"`
	Fee        uint64              `json:"fee"`
	LockHeight uint64              `json:"lock_height"`
	Excess     crypto.Commitment   `json:"excess"`
	Signature  []byte              `json:"signature"`
}

// ChallengeBytes returns the canonical preimage for the kernel signature
// challenge: the fields the signature commits to, excluding the signature
// itself.
func (k *Kernel) ChallengeBytes() []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, k.Version)
	buf = append(buf, byte(k.Features))
	buf = binary.BigEndian.AppendUint64(buf, k.Fee)
	buf = binary.BigEndian.AppendUint64(buf, k.LockHeight)
	buf = append(buf, k.Excess[:]...)
	return buf
}

// Challenge hashes ChallengeBytes into the 32-byte message the Schnorr
// signature is verified against.
func (k *Kernel) Challenge() types.Hash {
	return crypto.Hash(k.ChallengeBytes())
}

// VerifySignature checks the kernel's Schnorr signature against its excess
// and challenge.
func (k *Kernel) VerifySignature() bool {
	challenge := k.Challenge()
	return crypto.VerifySignature(challenge[:], k.Signature, k.Excess[:])
}

// Hash returns the kernel's identity hash, used for its canonical ordering
// and as its kernel MMR leaf hash.
func (k *Kernel) Hash() types.Hash {
	buf := append(k.ChallengeBytes(), k.Signature...)
	return crypto.Hash(buf)
}

// Less reports whether k sorts strictly before o under the kernel's
// canonical total order (by identity hash).
func (k *Kernel) Less(o *Kernel) bool {
	kh, oh := k.Hash(), o.Hash()
	return kh.Less(oh)
}

// IsCoinbase reports whether this is a block's coinbase kernel.
func (k *Kernel) IsCoinbase() bool {
	return k.Features.IsCoinbase()
}
