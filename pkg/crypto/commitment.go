package crypto

import (
	"encoding/binary"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Commitment is a Pedersen commitment C = r*G + v*H, where G is the curve's
// standard generator, H is a second nothing-up-my-sleeve generator with no
// known discrete log relative to G, r is a blinding factor and v is the
// committed value. Commitments of the same form are homomorphic under
// point addition: Commit(r1,v1) + Commit(r2,v2) == Commit(r1+r2, v1+v2).
type Commitment = Point33

// generatorH is derived deterministically by hashing a fixed domain label
// and walking candidate x-coordinates (try-and-increment) until one lands
// on the curve. Nobody, including the implementer, knows log_G(H).
var generatorH = mustDeriveH()

func mustDeriveH() Point33 {
	label := []byte("shardwimble/pedersen-generator-h")
	for counter := uint32(0); ; counter++ {
		var ctrBytes [4]byte
		binary.BigEndian.PutUint32(ctrBytes[:], counter)
		candidate := Hash(append(append([]byte{}, label...), ctrBytes[:]...))
		compressed := make([]byte, 33)
		compressed[0] = 0x02
		copy(compressed[1:], candidate[:])
		if _, err := secp256k1.ParsePubKey(compressed); err == nil {
			var p Point33
			copy(p[:], compressed)
			return p
		}
	}
}

// GeneratorH returns the second Pedersen generator used by this node.
func GeneratorH() Point33 {
	return generatorH
}

// valueScalar packs a 64-bit value into a scalar for commitment math.
func valueScalar(value uint64) Scalar {
	var s Scalar
	binary.BigEndian.PutUint64(s[24:], value)
	return s
}

// Commit computes the Pedersen commitment r*G + v*H.
func Commit(blinding Scalar, value uint64) (Commitment, error) {
	rG := ScalarBaseMult(blinding)
	vH, err := scalarMultPoint(generatorH, valueScalar(value))
	if err != nil {
		return Point33{}, err
	}
	return PointAdd(rG, vH)
}

// scalarMultPoint returns s*p for an arbitrary point p (not necessarily G).
// The result is the identity when s is the zero scalar or p is already
// the identity.
func scalarMultPoint(p Point33, s Scalar) (Point33, error) {
	if s == ZeroScalar || p.isIdentity() {
		return identity, nil
	}
	j, err := p.jacobian()
	if err != nil {
		return Point33{}, err
	}
	var result secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(s.toModN(), &j, &result)
	return jacobianToPoint(&result), nil
}

// SumCommitments folds commitments under point addition.
func SumCommitments(commitments ...Commitment) (Commitment, error) {
	return SumPoints(commitments...)
}

// SumCommitmentsOrIdentity folds commitments, returning the identity for
// an empty slice instead of erroring.
func SumCommitmentsOrIdentity(commitments ...Commitment) (Commitment, error) {
	return SumPointsOrIdentity(commitments...)
}

// PublicKeyFromScalar returns s*G, used both for plain public keys and for
// verifying a claimed scalar (e.g. header.total_script_offset) against an
// aggregated point.
func PublicKeyFromScalar(s Scalar) Point33 {
	return ScalarBaseMult(s)
}
