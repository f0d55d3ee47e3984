package block

import (
	"encoding/binary"

	"github.com/shardwimble/basenode/pkg/covenant"
	"github.com/shardwimble/basenode/pkg/crypto"
	"github.com/shardwimble/basenode/pkg/tscript"
	"github.com/shardwimble/basenode/pkg/types"
)

// OutputVersion is the single consensus-allowed output version this node
// produces and accepts.
const OutputVersion = 1

// Output is a transaction output: a Pedersen commitment to a value,
// together with everything needed to prove the commitment is well-formed
// and to express how the output may later be spent.
type Output struct {
	Version               uint8                `json:"version"`
	Features              types.OutputFeatures `json:"features"`
	Commitment            crypto.Commitment    `json:"commitment"`
	RangeProof            crypto.RangeProof    `json:"range_proof"`
	Script                tscript.Script       `json:"script"`
	SenderOffsetPublicKey crypto.Point33       `json:"sender_offset_public_key"`
	MetadataSignature     []byte               `json:"metadata_signature"`
	Covenant              covenant.Covenant    `json:"covenant"`
	EncryptedValue        []byte               `json:"encrypted_value,omitempty"`
	MinimumValuePromise   uint64               `json:"minimum_value_promise"`

	// ValidatorNodeRegistrationSignature is present only when
	// Features.OutputType is OutputTypeValidatorNodeRegistration.
	ValidatorNodeRegistrationSignature []byte `json:"vn_registration_signature,omitempty"`
}

// BytesWithoutProof serializes every field the output hash covers. Per the
// data model, the range proof is committed to and stored separately so that
// proof aggregation/rewriting never changes the output's identity hash.
func (o *Output) BytesWithoutProof() []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, o.Version)
	buf = append(buf, byte(o.Features.OutputType))
	buf = binary.BigEndian.AppendUint64(buf, o.Features.Maturity)
	buf = append(buf, o.Features.CoinbaseExtra...)
	buf = append(buf, o.Commitment[:]...)
	buf = append(buf, o.Script...)
	buf = append(buf, o.SenderOffsetPublicKey[:]...)
	buf = append(buf, o.MetadataSignature...)
	buf = append(buf, o.Covenant...)
	buf = append(buf, o.EncryptedValue...)
	buf = binary.BigEndian.AppendUint64(buf, o.MinimumValuePromise)
	buf = append(buf, o.ValidatorNodeRegistrationSignature...)
	return buf
}

// Hash returns the output's identity hash, which depends on every field
// except the range proof.
func (o *Output) Hash() types.Hash {
	return crypto.Hash(o.BytesWithoutProof())
}

// MetadataChallenge returns the preimage the metadata signature commits to:
// everything the output hash covers except the metadata and validator node
// registration signatures, plus the sender offset key.
func (o *Output) MetadataChallenge() types.Hash {
	unsigned := *o
	unsigned.MetadataSignature = nil
	unsigned.ValidatorNodeRegistrationSignature = nil
	buf := append(unsigned.BytesWithoutProof(), o.SenderOffsetPublicKey[:]...)
	return crypto.Hash(buf)
}

// VerifyMetadataSignature checks the metadata signature against the sender
// offset public key.
func (o *Output) VerifyMetadataSignature() bool {
	challenge := o.MetadataChallenge()
	return crypto.VerifySignature(challenge[:], o.MetadataSignature, o.SenderOffsetPublicKey[:])
}

// IsCoinbase reports whether this is a block's coinbase output.
func (o *Output) IsCoinbase() bool {
	return o.Features.IsCoinbase()
}

// Less reports whether o sorts strictly before other under the output's
// canonical total order (by identity hash).
func (o *Output) Less(other *Output) bool {
	oh, otherH := o.Hash(), other.Hash()
	return oh.Less(otherH)
}
