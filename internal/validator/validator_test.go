package validator

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/shardwimble/basenode/config"
	"github.com/shardwimble/basenode/internal/syncerrors"
	"github.com/shardwimble/basenode/pkg/block"
	"github.com/shardwimble/basenode/pkg/covenant"
	"github.com/shardwimble/basenode/pkg/crypto"
	"github.com/shardwimble/basenode/pkg/tscript"
	"github.com/shardwimble/basenode/pkg/types"
)

// fakeSnapshot is an in-memory Snapshot stand-in, keyed the same way
// internal/chainstore keys its real lookups.
type fakeSnapshot struct {
	utxos   map[crypto.Commitment]*block.Output
	kernels map[string]*block.Kernel
}

func newFakeSnapshot() *fakeSnapshot {
	return &fakeSnapshot{
		utxos:   make(map[crypto.Commitment]*block.Output),
		kernels: make(map[string]*block.Kernel),
	}
}

func (f *fakeSnapshot) FetchUTXO(_ context.Context, commitment crypto.Commitment) (*block.Output, error) {
	out, ok := f.utxos[commitment]
	if !ok {
		return nil, errors.New("utxo not found")
	}
	return out, nil
}

func (f *fakeSnapshot) FetchKernelByExcessSig(_ context.Context, sig []byte) (*block.Kernel, error) {
	k, ok := f.kernels[hex.EncodeToString(sig)]
	if !ok {
		return nil, errors.New("kernel not found")
	}
	return k, nil
}

const testHeight = 10

// coinbaseOnlyBlock builds a minimal single-coinbase, zero-fee, zero-input
// block that balances every coordinator cross-check: a zero kernel offset
// and zero script offset both reduce their respective aggregate checks to
// comparisons against the identity point, and a zero-fee reward commitment
// lets the Mimblewimble sum check cancel cleanly against the coinbase
// output's own commitment.
func coinbaseOnlyBlock(t *testing.T) (*block.Block, *fakeSnapshot) {
	t.Helper()

	excessKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate excess key: %v", err)
	}
	senderKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate sender key: %v", err)
	}

	reward := config.Emission(testHeight)

	kernel := block.Kernel{
		Version:  1,
		Features: types.KernelFeatureCoinbase,
	}
	excessPoint, err := crypto.PointFromBytes(excessKey.PublicKey())
	if err != nil {
		t.Fatalf("excess point: %v", err)
	}
	kernel.Excess = excessPoint
	challenge := kernel.Challenge()
	sig, err := excessKey.Sign(challenge[:])
	if err != nil {
		t.Fatalf("sign kernel: %v", err)
	}
	kernel.Signature = sig

	rewardH, err := crypto.Commit(crypto.ZeroScalar, reward)
	if err != nil {
		t.Fatalf("commit reward: %v", err)
	}
	coinbaseCommitment, err := crypto.PointAdd(kernel.Excess, rewardH)
	if err != nil {
		t.Fatalf("coinbase commitment: %v", err)
	}

	senderPoint, err := crypto.PointFromBytes(senderKey.PublicKey())
	if err != nil {
		t.Fatalf("sender point: %v", err)
	}
	output := block.Output{
		Version: 1,
		Features: types.OutputFeatures{
			Version:    1,
			OutputType: types.OutputTypeCoinbase,
			Maturity:   testHeight + config.CoinbaseLockHeight,
		},
		Commitment:            coinbaseCommitment,
		Script:                tscript.Default(senderPoint),
		SenderOffsetPublicKey: senderPoint,
		Covenant:              covenant.Covenant{},
	}
	metaChallenge := output.MetadataChallenge()
	metaSig, err := senderKey.Sign(metaChallenge[:])
	if err != nil {
		t.Fatalf("sign metadata: %v", err)
	}
	output.MetadataSignature = metaSig

	header := &block.Header{
		Height:            testHeight,
		PrevHash:          types.Hash{0xaa},
		TotalKernelOffset: crypto.ZeroScalar,
		TotalScriptOffset: crypto.ZeroScalar,
	}

	blk := block.NewBlock(header, nil, []block.Output{output}, []block.Kernel{kernel})
	return blk, newFakeSnapshot()
}

func validateCfg() Config {
	return Config{OutputWorkers: 2, BypassRangeProofs: true}
}

func TestValidate_CoinbaseOnlyBlock(t *testing.T) {
	blk, snap := coinbaseOnlyBlock(t)
	res, err := Validate(context.Background(), blk, snap, validateCfg())
	if err != nil {
		t.Fatalf("expected valid block, got: %v", err)
	}
	if res.Fees != 0 {
		t.Errorf("fees = %d, want 0", res.Fees)
	}
	if res.Coinbase == nil {
		t.Fatal("expected a coinbase output in the result")
	}
}

func TestValidate_UnsortedKernels(t *testing.T) {
	blk, snap := coinbaseOnlyBlock(t)
	blk.Kernels = append(blk.Kernels, blk.Kernels[0])
	_, err := Validate(context.Background(), blk, snap, validateCfg())
	assertValidationFatal(t, err)
}

func TestValidate_KernelVersionOutOfRange(t *testing.T) {
	blk, snap := coinbaseOnlyBlock(t)
	blk.Kernels[0].Version = 99
	_, err := Validate(context.Background(), blk, snap, validateCfg())
	assertValidationFatal(t, err)
}

func TestValidate_KernelBadSignature(t *testing.T) {
	blk, snap := coinbaseOnlyBlock(t)
	blk.Kernels[0].Signature[0] ^= 0xff
	_, err := Validate(context.Background(), blk, snap, validateCfg())
	assertValidationFatal(t, err)
}

func TestValidate_NoCoinbaseKernel(t *testing.T) {
	blk, snap := coinbaseOnlyBlock(t)
	blk.Kernels[0].Features = 0
	_, err := Validate(context.Background(), blk, snap, validateCfg())
	assertValidationFatal(t, err)
}

func TestValidate_KernelLockHeightExceedsBlockHeight(t *testing.T) {
	blk, snap := coinbaseOnlyBlock(t)
	blk.Kernels[0].LockHeight = blk.Header.Height + 1
	_, err := Validate(context.Background(), blk, snap, validateCfg())
	assertValidationFatal(t, err)
}

func TestValidate_KernelExcessSigAlreadyOnChain(t *testing.T) {
	blk, snap := coinbaseOnlyBlock(t)
	snap.kernels[hex.EncodeToString(blk.Kernels[0].Signature)] = &blk.Kernels[0]
	_, err := Validate(context.Background(), blk, snap, validateCfg())
	assertValidationFatal(t, err)
}

func TestValidate_CoinbaseImmature(t *testing.T) {
	blk, snap := coinbaseOnlyBlock(t)
	blk.Outputs[0].Features.Maturity = blk.Header.Height
	_, err := Validate(context.Background(), blk, snap, validateCfg())
	assertValidationFatal(t, err)
}

func TestValidate_CoinbaseRewardMismatch(t *testing.T) {
	blk, snap := coinbaseOnlyBlock(t)
	wrong, err := crypto.Commit(crypto.ZeroScalar, 1)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	blk.Outputs[0].Commitment = wrong
	_, err = Validate(context.Background(), blk, snap, validateCfg())
	assertValidationFatal(t, err)
}

func TestValidate_ScriptOffsetMismatch(t *testing.T) {
	blk, snap := coinbaseOnlyBlock(t)
	scalar, err := crypto.ScalarFromBytes(bytes32(7))
	if err != nil {
		t.Fatalf("scalar: %v", err)
	}
	blk.Header.TotalScriptOffset = scalar
	_, err = Validate(context.Background(), blk, snap, validateCfg())
	assertValidationFatal(t, err)
}

func TestValidate_MimblewimbleSumMismatch(t *testing.T) {
	blk, snap := coinbaseOnlyBlock(t)
	scalar, err := crypto.ScalarFromBytes(bytes32(11))
	if err != nil {
		t.Fatalf("scalar: %v", err)
	}
	blk.Header.TotalKernelOffset = scalar
	_, err = Validate(context.Background(), blk, snap, validateCfg())
	assertValidationFatal(t, err)
}

func TestValidate_DuplicateOutputCommitment(t *testing.T) {
	blk, snap := coinbaseOnlyBlock(t)
	snap.utxos[blk.Outputs[0].Commitment] = &blk.Outputs[0]
	_, err := Validate(context.Background(), blk, snap, validateCfg())
	assertValidationFatal(t, err)
}

func TestValidate_OutputBadMetadataSignature(t *testing.T) {
	blk, snap := coinbaseOnlyBlock(t)
	blk.Outputs[0].MetadataSignature[0] ^= 0xff
	_, err := Validate(context.Background(), blk, snap, validateCfg())
	assertValidationFatal(t, err)
}

func TestValidate_OutputTypeInvalid(t *testing.T) {
	blk, snap := coinbaseOnlyBlock(t)
	blk.Outputs[0].Features.OutputType = types.OutputType(200)
	_, err := Validate(context.Background(), blk, snap, validateCfg())
	assertValidationFatal(t, err)
}

func TestValidate_CovenantRejectsSpend(t *testing.T) {
	blk, snap := coinbaseOnlyBlock(t)

	spentKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate spent key: %v", err)
	}
	spentPoint, err := crypto.PointFromBytes(spentKey.PublicKey())
	if err != nil {
		t.Fatalf("spent point: %v", err)
	}
	spentCommitment, err := crypto.Commit(crypto.ZeroScalar, 0)
	if err != nil {
		t.Fatalf("spent commitment: %v", err)
	}
	spentOutput := &block.Output{
		Commitment: spentCommitment,
		Script:     tscript.Default(spentPoint),
		Features:   types.OutputFeatures{OutputType: types.OutputTypeStandard},
		// OpRequireMinHeight with a height far beyond the spending block's:
		// any covenant-bound spend in this block must fail.
		Covenant: mustRequireMinHeightCovenant(t, blk.Header.Height+1000),
	}
	snap.utxos[spentOutput.Commitment] = spentOutput

	blk.Inputs = []block.Input{{
		Version:    1,
		Compact:    true,
		Commitment: spentOutput.Commitment,
	}}

	// The spent output's script resolves to spentPoint and its commitment
	// is the identity (Commit(0,0)), so balancing the script offset and
	// Mimblewimble sum checks against this single input only requires the
	// header's script offset to itself resolve to spentPoint; every other
	// aggregate is otherwise unaffected by adding this input.
	scalar, err := crypto.ScalarFromBytes(spentKey.Serialize())
	if err != nil {
		t.Fatalf("scalar from spent key: %v", err)
	}
	blk.Header.TotalScriptOffset = scalar

	_, err = Validate(context.Background(), blk, snap, validateCfg())
	assertValidationFatal(t, err)
}

func mustRequireMinHeightCovenant(t *testing.T, minHeight uint64) covenant.Covenant {
	t.Helper()
	buf := make([]byte, 9)
	buf[0] = byte(covenant.OpRequireMinHeight)
	for i := 0; i < 8; i++ {
		buf[8-i] = byte(minHeight >> (8 * i))
	}
	return covenant.Covenant(buf)
}

func bytes32(seed byte) []byte {
	b := make([]byte, 32)
	b[31] = seed
	return b
}

func assertValidationFatal(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error, got nil")
	}
	if !syncerrors.Is(err, syncerrors.ValidationFatal) {
		t.Errorf("expected ValidationFatal, got: %v", err)
	}
}
