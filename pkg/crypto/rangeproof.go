package crypto

import (
	"bytes"
	"fmt"

	"github.com/yoss22/bulletproofs"
)

// RangeProofBitSize is the bit width proved by a range proof: every
// committed value is proved to lie in [0, 2^64).
const RangeProofBitSize = 64

// RangeProof is an opaque bulletproof blob attached to a transaction output.
type RangeProof []byte

// rangeProver is stateless and safe to share; the prover explicitly
// documents itself as usable across goroutines only when not reused for a
// parallel batch call on the same underlying buffer, so each verification
// call below builds its own Point/BulletProof values.
var rangeProver = bulletproofs.NewProver(RangeProofBitSize)

// VerifyRangeProof checks that proof attests commitment commits to a value
// in [0, 2^64).
func VerifyRangeProof(commitment Commitment, proof RangeProof) (bool, error) {
	point := new(bulletproofs.Point)
	if err := point.Read(bytes.NewReader(commitment.Bytes())); err != nil {
		return false, fmt.Errorf("decode commitment point: %w", err)
	}
	bp := new(bulletproofs.BulletProof)
	if err := bp.Read(bytes.NewReader(proof)); err != nil {
		return false, fmt.Errorf("decode range proof: %w", err)
	}
	return rangeProver.Verify(point, *bp), nil
}

// VerifyRangeProofBatch verifies a batch of (commitment, proof) pairs. The
// underlying prover does not expose a batched verification API, so this
// degrades to sequential verification one at a time; it exists so callers
// (the output validator) have a single join point to later upgrade to a
// true batch call without changing their call sites.
func VerifyRangeProofBatch(commitments []Commitment, proofs []RangeProof) (bool, error) {
	if len(commitments) != len(proofs) {
		return false, fmt.Errorf("range proof batch: %d commitments vs %d proofs", len(commitments), len(proofs))
	}
	for i := range commitments {
		ok, err := VerifyRangeProof(commitments[i], proofs[i])
		if err != nil {
			return false, fmt.Errorf("range proof %d: %w", i, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
