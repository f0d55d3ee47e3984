package block

import (
	"github.com/shardwimble/basenode/pkg/covenant"
	"github.com/shardwimble/basenode/pkg/crypto"
	"github.com/shardwimble/basenode/pkg/tscript"
	"github.com/shardwimble/basenode/pkg/types"
)

// InputVersion is the single consensus-allowed input version this node
// produces and accepts.
const InputVersion = 1

// Input spends a prior output. It is carried either in full form (every
// field needed to run the spent output's script and covenant without a
// storage lookup) or compact form (just enough to identify the output;
// the rest is resolved from the UTXO set before script execution).
type Input struct {
	Version    uint8 `json:"version"`
	Compact    bool  `json:"compact"`
	Commitment crypto.Commitment `json:"commitment"`
	OutputHash types.Hash        `json:"output_hash"`

	// The remaining fields are populated on full inputs, and on compact
	// inputs only after Resolve has filled them in from the UTXO set.
	Features              types.OutputFeatures `json:"features,omitempty"`
	Script                tscript.Script       `json:"script,omitempty"`
	SenderOffsetPublicKey crypto.Point33       `json:"sender_offset_public_key,omitempty"`
	Covenant              covenant.Covenant    `json:"covenant,omitempty"`
}

// Hash identifies the input for canonical ordering purposes.
func (i *Input) Hash() types.Hash {
	buf := append(append([]byte{}, i.Commitment[:]...), i.OutputHash[:]...)
	return crypto.Hash(buf)
}

// Less reports whether i sorts strictly before o under the input's
// canonical total order (by identity hash).
func (i *Input) Less(o *Input) bool {
	ih, oh := i.Hash(), o.Hash()
	return ih.Less(oh)
}

// IsMatureAt reports whether the spent output (whose features are given)
// may be spent at blockHeight.
func (i *Input) IsMatureAt(blockHeight uint64, spentOutputFeatures types.OutputFeatures) bool {
	return blockHeight >= spentOutputFeatures.Maturity
}

// Resolve fills in a compact input's remaining fields from the output it
// references, returning a new, fully-populated Input. The caller is
// responsible for verifying output.Hash() == i.OutputHash first.
func (i *Input) Resolve(output *Output) *Input {
	if !i.Compact {
		return i
	}
	return &Input{
		Version:               i.Version,
		Compact:               false,
		Commitment:            i.Commitment,
		OutputHash:            i.OutputHash,
		Features:              output.Features,
		Script:                output.Script,
		SenderOffsetPublicKey: output.SenderOffsetPublicKey,
		Covenant:              output.Covenant,
	}
}
