// Package covenant implements the predicate attached to a transaction
// output restricting how it may later be spent. A covenant is evaluated
// against the spending block's height, the spending input, and the full
// set of outputs the spending block creates.
package covenant

import (
	"encoding/binary"
	"fmt"

	"github.com/shardwimble/basenode/pkg/types"
)

// OpCode identifies a single covenant instruction.
type OpCode byte

const (
	// OpIdentity accepts unconditionally. The empty covenant is equivalent
	// to a single OpIdentity.
	OpIdentity OpCode = 0x00
	// OpRequireMinHeight rejects unless the spending height is at least
	// the following big-endian uint64 literal.
	OpRequireMinHeight OpCode = 0x01
	// OpRequireOutputType rejects unless at least one output in the
	// spending block carries the following output-type byte.
	OpRequireOutputType OpCode = 0x02
	// OpRequireMinOutputCount rejects unless the spending block creates at
	// least the following uint8 literal's worth of outputs.
	OpRequireMinOutputCount OpCode = 0x03
)

// Covenant is a serialized predicate program.
type Covenant []byte

// MaxBytes bounds a covenant's serialized size.
const MaxBytes = 1024

// Output is the minimal view of a spending block's output the covenant
// predicate needs; kept separate from pkg/block to avoid an import cycle.
type Output struct {
	OutputType types.OutputType
}

// Context carries the spending block state a covenant is evaluated against.
type Context struct {
	Height  uint64
	Outputs []Output
}

// Evaluate runs the predicate and reports whether the spend is permitted.
func (c Covenant) Evaluate(ctx Context) (bool, error) {
	if len(c) > MaxBytes {
		return false, fmt.Errorf("covenant: %d bytes exceeds max %d", len(c), MaxBytes)
	}
	if len(c) == 0 {
		return true, nil
	}
	pc := 0
	for pc < len(c) {
		op := OpCode(c[pc])
		pc++
		switch op {
		case OpIdentity:
			continue
		case OpRequireMinHeight:
			if pc+8 > len(c) {
				return false, fmt.Errorf("covenant: truncated height literal at offset %d", pc)
			}
			minHeight := binary.BigEndian.Uint64(c[pc : pc+8])
			pc += 8
			if ctx.Height < minHeight {
				return false, nil
			}
		case OpRequireOutputType:
			if pc+1 > len(c) {
				return false, fmt.Errorf("covenant: truncated output-type literal at offset %d", pc)
			}
			want := types.OutputType(c[pc])
			pc++
			found := false
			for _, o := range ctx.Outputs {
				if o.OutputType == want {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		case OpRequireMinOutputCount:
			if pc+1 > len(c) {
				return false, fmt.Errorf("covenant: truncated count literal at offset %d", pc)
			}
			min := int(c[pc])
			pc++
			if len(ctx.Outputs) < min {
				return false, nil
			}
		default:
			return false, fmt.Errorf("covenant: unknown opcode 0x%02x", byte(op))
		}
	}
	return true, nil
}
