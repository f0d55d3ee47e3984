// Package tscript implements the stack-based output locking script used by
// transaction inputs and outputs. A script is a short byte program; running
// it to completion yields a single public key (the "script key") that the
// block body validator folds into the aggregate script-offset check. It
// generalizes the fixed Type+Data locking condition used by simpler UTXO
// chains into an executable program, in the spirit of TariScript.
package tscript

import (
	"encoding/binary"
	"fmt"

	"github.com/shardwimble/basenode/pkg/crypto"
)

// OpCode identifies a single script instruction.
type OpCode byte

const (
	// OpPushPubKey pushes the following 33 compressed bytes as a curve point.
	OpPushPubKey OpCode = 0x01
	// OpDup duplicates the top stack element.
	OpDup OpCode = 0x02
	// OpDrop discards the top stack element.
	OpDrop OpCode = 0x03
	// OpCheckHeightVerify pops nothing; reads the following big-endian
	// uint64 literal and fails execution unless the context height is at
	// least that value.
	OpCheckHeightVerify OpCode = 0x04
	// OpAdd pops two points and pushes their sum (homomorphic key
	// aggregation, used by multi-key scripts).
	OpAdd OpCode = 0x05
)

// Script is a serialized stack program attached to an output (and echoed by
// the input that later spends it).
type Script []byte

// MaxBytes bounds a script's serialized size; callers enforce this against
// the consensus-configured maximum, this constant is only a hard backstop.
const MaxBytes = 4096

// Context carries the chain state a script may be evaluated against.
type Context struct {
	Height   uint64
	PrevHash [32]byte
}

// Execute runs the program to completion and returns the single public key
// left on the stack. A script that does not reduce to exactly one point, or
// that executes an unknown opcode, fails.
func (s Script) Execute(ctx Context) (crypto.Point33, error) {
	if len(s) > MaxBytes {
		return crypto.Point33{}, fmt.Errorf("script: %d bytes exceeds max %d", len(s), MaxBytes)
	}
	var stack []crypto.Point33
	pc := 0
	for pc < len(s) {
		op := OpCode(s[pc])
		pc++
		switch op {
		case OpPushPubKey:
			if pc+33 > len(s) {
				return crypto.Point33{}, fmt.Errorf("script: truncated push at offset %d", pc)
			}
			p, err := crypto.PointFromBytes(s[pc : pc+33])
			if err != nil {
				return crypto.Point33{}, fmt.Errorf("script: invalid pushed point: %w", err)
			}
			stack = append(stack, p)
			pc += 33
		case OpDup:
			if len(stack) == 0 {
				return crypto.Point33{}, fmt.Errorf("script: dup on empty stack")
			}
			stack = append(stack, stack[len(stack)-1])
		case OpDrop:
			if len(stack) == 0 {
				return crypto.Point33{}, fmt.Errorf("script: drop on empty stack")
			}
			stack = stack[:len(stack)-1]
		case OpCheckHeightVerify:
			if pc+8 > len(s) {
				return crypto.Point33{}, fmt.Errorf("script: truncated height literal at offset %d", pc)
			}
			minHeight := binary.BigEndian.Uint64(s[pc : pc+8])
			pc += 8
			if ctx.Height < minHeight {
				return crypto.Point33{}, fmt.Errorf("script: height %d below required %d", ctx.Height, minHeight)
			}
		case OpAdd:
			if len(stack) < 2 {
				return crypto.Point33{}, fmt.Errorf("script: add needs 2 stack elements")
			}
			a, b := stack[len(stack)-2], stack[len(stack)-1]
			stack = stack[:len(stack)-2]
			sum, err := crypto.PointAdd(a, b)
			if err != nil {
				return crypto.Point33{}, fmt.Errorf("script: add: %w", err)
			}
			stack = append(stack, sum)
		default:
			return crypto.Point33{}, fmt.Errorf("script: unknown opcode 0x%02x", byte(op))
		}
	}
	if len(stack) != 1 {
		return crypto.Point33{}, fmt.Errorf("script: execution left %d elements, want 1", len(stack))
	}
	return stack[0], nil
}

// Default builds the trivial script that pushes key and resolves directly
// to it; most standard payment outputs use this form.
func Default(key crypto.Point33) Script {
	s := make(Script, 0, 34)
	s = append(s, byte(OpPushPubKey))
	s = append(s, key[:]...)
	return s
}
