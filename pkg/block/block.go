// Package block defines the Mimblewimble block body types: headers,
// kernels, inputs and outputs, and the structural (non-consensus) checks
// that apply to them. The cryptographic and cross-component consensus
// rules live in the block body validator, which consumes these types.
package block

import "github.com/shardwimble/basenode/pkg/types"

// Block is a full block: a header plus its aggregated transaction body.
type Block struct {
	Header  *Header  `json:"header"`
	Inputs  []Input  `json:"inputs"`
	Outputs []Output `json:"outputs"`
	Kernels []Kernel `json:"kernels"`
}

// NewBlock creates a new block with the given header and body.
func NewBlock(header *Header, inputs []Input, outputs []Output, kernels []Kernel) *Block {
	return &Block{
		Header:  header,
		Inputs:  inputs,
		Outputs: outputs,
		Kernels: kernels,
	}
}

// Hash returns the block's header hash, which identifies the block.
func (b *Block) Hash() types.Hash {
	if b.Header == nil {
		return types.Hash{}
	}
	return b.Header.Hash()
}

// OutputHashSet returns the set of hashes of outputs this block creates,
// used to resolve inputs that spend an output created earlier in the same
// block.
func (b *Block) OutputHashSet() map[types.Hash]*Output {
	set := make(map[types.Hash]*Output, len(b.Outputs))
	for i := range b.Outputs {
		set[b.Outputs[i].Hash()] = &b.Outputs[i]
	}
	return set
}

// CoinbaseKernel returns the block's coinbase kernel, if any.
func (b *Block) CoinbaseKernel() *Kernel {
	for i := range b.Kernels {
		if b.Kernels[i].IsCoinbase() {
			return &b.Kernels[i]
		}
	}
	return nil
}

// CoinbaseOutput returns the block's coinbase output, if any.
func (b *Block) CoinbaseOutput() *Output {
	for i := range b.Outputs {
		if b.Outputs[i].IsCoinbase() {
			return &b.Outputs[i]
		}
	}
	return nil
}
