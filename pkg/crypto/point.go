package crypto

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Point33 is a compressed secp256k1 curve point (33 bytes: 0x02/0x03 prefix
// plus the x-coordinate). Both public keys and Pedersen commitments are
// points on the same curve and share this representation.
type Point33 [33]byte

// identity is the sentinel value standing in for the curve's point at
// infinity. secp256k1 has no compressed encoding for it (every real point
// has a valid prefix byte and an on-curve x-coordinate), so the all-zero
// bytes are used instead; ParsePubKey already rejects this as wire input,
// so it can only ever arise here as the result of combining with, or
// scalar-multiplying by, the additive identity.
var identity = Point33{}

func (p Point33) isIdentity() bool { return p == identity }

// PointFromBytes validates and wraps a compressed point.
func PointFromBytes(b []byte) (Point33, error) {
	if len(b) != 33 {
		return Point33{}, fmt.Errorf("compressed point must be 33 bytes, got %d", len(b))
	}
	if _, err := secp256k1.ParsePubKey(b); err != nil {
		return Point33{}, fmt.Errorf("parse point: %w", err)
	}
	var p Point33
	copy(p[:], b)
	return p, nil
}

// Bytes returns a copy of the compressed point.
func (p Point33) Bytes() []byte {
	b := make([]byte, 33)
	copy(b, p[:])
	return b
}

func (p Point33) jacobian() (secp256k1.JacobianPoint, error) {
	pub, err := secp256k1.ParsePubKey(p[:])
	if err != nil {
		return secp256k1.JacobianPoint{}, err
	}
	var j secp256k1.JacobianPoint
	pub.AsJacobian(&j)
	return j, nil
}

func jacobianToPoint(j *secp256k1.JacobianPoint) Point33 {
	if j.Z.IsZero() {
		return identity
	}
	j.ToAffine()
	pub := secp256k1.NewPublicKey(&j.X, &j.Y)
	var p Point33
	copy(p[:], pub.SerializeCompressed())
	return p
}

// ScalarBaseMult returns s*G, the standard secp256k1 generator scaled by s.
// s*G is the identity when s is the zero scalar.
func ScalarBaseMult(s Scalar) Point33 {
	if s == ZeroScalar {
		return identity
	}
	var j secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(s.toModN(), &j)
	return jacobianToPoint(&j)
}

// PointAdd returns a+b as curve points. Either operand may be the
// identity, in which case the other is returned unchanged; a non-identity
// a and b may still legitimately sum to the identity (a == -b), which
// jacobianToPoint detects and reports as such rather than as a parse
// failure.
func PointAdd(a, b Point33) (Point33, error) {
	if a.isIdentity() {
		return b, nil
	}
	if b.isIdentity() {
		return a, nil
	}
	ja, err := a.jacobian()
	if err != nil {
		return Point33{}, fmt.Errorf("point add: %w", err)
	}
	jb, err := b.jacobian()
	if err != nil {
		return Point33{}, fmt.Errorf("point add: %w", err)
	}
	var sum secp256k1.JacobianPoint
	secp256k1.AddNonConst(&ja, &jb, &sum)
	return jacobianToPoint(&sum), nil
}

// PointNegate returns -p. The identity is its own negation.
func PointNegate(p Point33) (Point33, error) {
	if p.isIdentity() {
		return identity, nil
	}
	j, err := p.jacobian()
	if err != nil {
		return Point33{}, fmt.Errorf("point negate: %w", err)
	}
	j.ToAffine()
	j.Y.Negate(1).Normalize()
	return jacobianToPoint(&j), nil
}

// PointSub returns a-b.
func PointSub(a, b Point33) (Point33, error) {
	negB, err := PointNegate(b)
	if err != nil {
		return Point33{}, err
	}
	return PointAdd(a, negB)
}

// SumPointsOrIdentity folds points with PointAdd, returning the identity
// for an empty slice instead of erroring. Useful for aggregate sums (e.g.
// a block's input commitments, or its non-coinbase sender offset keys)
// that are legitimately empty.
func SumPointsOrIdentity(points ...Point33) (Point33, error) {
	if len(points) == 0 {
		return identity, nil
	}
	return SumPoints(points...)
}

// SumPoints folds points with PointAdd, starting from the identity.
// Returns an error on any invalid (non-identity, non-curve) point or if
// the slice is empty. Folding through PointAdd rather than seeding from
// points[0] directly means a legitimate identity element anywhere in the
// slice, including as the sole element, sums cleanly instead of failing
// to parse as a compressed point.
func SumPoints(points ...Point33) (Point33, error) {
	if len(points) == 0 {
		return Point33{}, fmt.Errorf("sum points: empty input")
	}
	total := identity
	for _, p := range points {
		var err error
		total, err = PointAdd(total, p)
		if err != nil {
			return Point33{}, err
		}
	}
	return total, nil
}

// PointsEqual reports whether two compressed points are byte-identical.
func PointsEqual(a, b Point33) bool {
	return a == b
}

// MarshalJSON encodes the point as a hex string.
func (p Point33) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(p[:]))
}

// UnmarshalJSON decodes a hex string into a point.
func (p *Point33) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid point hex: %w", err)
	}
	if len(b) != 33 {
		return fmt.Errorf("point must be 33 bytes, got %d", len(b))
	}
	copy(p[:], b)
	return nil
}
