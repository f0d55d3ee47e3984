package block

import (
	"errors"
	"fmt"

	"github.com/shardwimble/basenode/config"
)

// Structural validation errors. These catch shape violations only; the
// cryptographic and cross-component consensus rules are the block body
// validator's job.
var (
	ErrNilHeader       = errors.New("block has nil header")
	ErrZeroTimestamp   = errors.New("block timestamp is zero")
	ErrScriptTooLarge  = errors.New("output script exceeds max size")
	ErrCoinbaseExtra   = errors.New("coinbase_extra exceeds max size or set on non-coinbase output")
	ErrCovenantTooLarge = errors.New("covenant exceeds max size")
)

// ValidateShape checks the block's structural well-formedness: the parts
// of §4.1 that do not require chain state or cryptography. It is cheap and
// runs before the full body validator is invoked.
func (b *Block) ValidateShape() error {
	if b.Header == nil {
		return ErrNilHeader
	}
	if b.Header.Timestamp == 0 {
		return ErrZeroTimestamp
	}
	for i := range b.Outputs {
		o := &b.Outputs[i]
		if len(o.Script) > config.MaxScriptByteSize {
			return fmt.Errorf("output %d: %w: %d bytes, max %d", i, ErrScriptTooLarge, len(o.Script), config.MaxScriptByteSize)
		}
		if len(o.Covenant) > config.MaxCovenantByteSize {
			return fmt.Errorf("output %d: %w: %d bytes, max %d", i, ErrCovenantTooLarge, len(o.Covenant), config.MaxCovenantByteSize)
		}
		if o.IsCoinbase() {
			if len(o.Features.CoinbaseExtra) > config.MaxCoinbaseExtraSize {
				return fmt.Errorf("output %d: %w: %d bytes, max %d", i, ErrCoinbaseExtra, len(o.Features.CoinbaseExtra), config.MaxCoinbaseExtraSize)
			}
		} else if len(o.Features.CoinbaseExtra) != 0 {
			return fmt.Errorf("output %d: %w", i, ErrCoinbaseExtra)
		}
	}
	for i := range b.Inputs {
		in := &b.Inputs[i]
		if !in.Compact && len(in.Script) > config.MaxScriptByteSize {
			return fmt.Errorf("input %d: %w: %d bytes, max %d", i, ErrScriptTooLarge, len(in.Script), config.MaxScriptByteSize)
		}
	}
	return nil
}
