package block

import (
	"encoding/binary"

	"github.com/shardwimble/basenode/pkg/crypto"
	"github.com/shardwimble/basenode/pkg/types"
)

// Header contains block metadata: the chain linkage, the MMR/SMT
// commitments to the block's body, and the opaque proof-of-work payload.
type Header struct {
	Height            uint64        `json:"height"`
	PrevHash          types.Hash    `json:"prev_hash"`
	Timestamp         uint64        `json:"timestamp"`
	OutputMMRRoot     types.Hash    `json:"output_mmr_root"`
	KernelMMRRoot     types.Hash    `json:"kernel_mmr_root"`
	InputMR           types.Hash    `json:"input_mr"`
	OutputMMRSize     uint64        `json:"output_mmr_size"`
	KernelMMRSize     uint64        `json:"kernel_mmr_size"`
	TotalKernelOffset crypto.Scalar `json:"total_kernel_offset"`
	TotalScriptOffset crypto.Scalar `json:"total_script_offset"`
	Nonce             uint64        `json:"nonce"`
	PoWAlgo           uint8         `json:"pow_algo"`
	PoWData           []byte        `json:"pow_data,omitempty"`
}

// Hash computes the block header hash. This is what a child header's
// PrevHash must equal, and what headers/{height->header} is keyed around
// in the chain storage facade.
func (h *Header) Hash() types.Hash {
	return crypto.Hash(h.Bytes())
}

// Bytes returns the canonical serialization of the header used for both
// hashing and the on-the-wire header_proto representation.
func (h *Header) Bytes() []byte {
	buf := make([]byte, 0, 256+len(h.PoWData))
	buf = binary.BigEndian.AppendUint64(buf, h.Height)
	buf = append(buf, h.PrevHash[:]...)
	buf = binary.BigEndian.AppendUint64(buf, h.Timestamp)
	buf = append(buf, h.OutputMMRRoot[:]...)
	buf = append(buf, h.KernelMMRRoot[:]...)
	buf = append(buf, h.InputMR[:]...)
	buf = binary.BigEndian.AppendUint64(buf, h.OutputMMRSize)
	buf = binary.BigEndian.AppendUint64(buf, h.KernelMMRSize)
	buf = append(buf, h.TotalKernelOffset[:]...)
	buf = append(buf, h.TotalScriptOffset[:]...)
	buf = binary.BigEndian.AppendUint64(buf, h.Nonce)
	buf = append(buf, h.PoWAlgo)
	buf = append(buf, h.PoWData...)
	return buf
}

// IsGenesis reports whether this is the chain's genesis header.
func (h *Header) IsGenesis() bool {
	return h.Height == 0 && h.PrevHash.IsZero()
}
