package crypto

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// ScalarSize is the length of a secp256k1 scalar in bytes.
const ScalarSize = 32

// Scalar is a blinding factor, excess, or offset: an element of the
// secp256k1 scalar field.
type Scalar [ScalarSize]byte

// ZeroScalar is the additive identity.
var ZeroScalar = Scalar{}

// ScalarFromBytes validates and wraps a 32-byte scalar.
func ScalarFromBytes(b []byte) (Scalar, error) {
	if len(b) != ScalarSize {
		return Scalar{}, fmt.Errorf("scalar must be %d bytes, got %d", ScalarSize, len(b))
	}
	var s Scalar
	copy(s[:], b)
	return s, nil
}

// Bytes returns a copy of the scalar as a byte slice.
func (s Scalar) Bytes() []byte {
	b := make([]byte, ScalarSize)
	copy(b, s[:])
	return b
}

func (s Scalar) toModN() *secp256k1.ModNScalar {
	var m secp256k1.ModNScalar
	m.SetByteSlice(s[:])
	return &m
}

func scalarFromModN(m *secp256k1.ModNScalar) Scalar {
	var s Scalar
	b := m.Bytes()
	copy(s[:], b[:])
	return s
}

// Add returns s + o mod the group order.
func (s Scalar) Add(o Scalar) Scalar {
	a, b := s.toModN(), o.toModN()
	a.Add(b)
	return scalarFromModN(a)
}

// Negate returns -s mod the group order.
func (s Scalar) Negate() Scalar {
	a := s.toModN()
	a.Negate()
	return scalarFromModN(a)
}

// Sub returns s - o mod the group order.
func (s Scalar) Sub(o Scalar) Scalar {
	return s.Add(o.Negate())
}

// SumScalars folds a slice of scalars with Add, starting from zero.
func SumScalars(ss ...Scalar) Scalar {
	total := ZeroScalar
	for _, s := range ss {
		total = total.Add(s)
	}
	return total
}

// MarshalJSON encodes the scalar as a hex string.
func (s Scalar) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(s[:]))
}

// UnmarshalJSON decodes a hex string into a scalar.
func (s *Scalar) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	b, err := hex.DecodeString(str)
	if err != nil {
		return fmt.Errorf("invalid scalar hex: %w", err)
	}
	if len(b) != ScalarSize {
		return fmt.Errorf("scalar must be %d bytes, got %d", ScalarSize, len(b))
	}
	copy(s[:], b)
	return nil
}
