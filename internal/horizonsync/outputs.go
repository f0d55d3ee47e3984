package horizonsync

import (
	"context"
	"errors"

	"github.com/shardwimble/basenode/internal/rpcproto"
	"github.com/shardwimble/basenode/pkg/block"
	"github.com/shardwimble/basenode/pkg/crypto"
	"github.com/shardwimble/basenode/pkg/types"
)

// syncOutputs streams outputs for the header range ending at
// horizonHeader, verifying each one's script size and range proof,
// staging it on tx keyed by the containing header's mined height, and
// checking the final projected output SMT root against horizonHeader's
// OutputMMRRoot. It returns the sum of every streamed output's
// commitment so the caller can fold it into the genesis..horizon UTXO
// total without reading staged-but-uncommitted outputs back out of tx.
func (e *Engine) syncOutputs(ctx context.Context, peerID string, client RPCClient, tx Tx, startHeaderHash types.Hash, horizonHeader *block.Header, expectedNewCount uint64, headerForHash func(types.Hash) (*block.Header, error)) (utxoSum crypto.Commitment, err error) {
	req := rpcproto.SyncUTXOsRequest{StartHeaderHash: startHeaderHash, EndHeaderHash: horizonHeader.Hash()}
	count := uint64(0)

	streamErr := client.SyncUTXOs(ctx, e.cfg.rpcDeadline(), req, func(item rpcproto.UTXOStreamItem) error {
		count++
		if count > expectedNewCount {
			return ErrPeerSentTooManyOutputs
		}
		o := item.Output

		if len(o.Script) > e.cfg.MaxScriptByteSize {
			return ErrScriptTooLarge
		}
		containing, err := headerForHash(item.MinedHeaderHash)
		if err != nil {
			return ErrUnknownContainingHeader
		}
		if !e.cfg.BypassRangeProofs {
			ok, err := crypto.VerifyRangeProof(o.Commitment, o.RangeProof)
			if err != nil || !ok {
				return ErrInvalidRangeProof
			}
		}
		tx.PutOutput(o, containing.Height)
		var sumErr error
		utxoSum, sumErr = crypto.PointAdd(utxoSum, o.Commitment)
		if sumErr != nil {
			return sumErr
		}
		return nil
	})
	if streamErr != nil {
		return crypto.Commitment{}, e.banForOutputFailure(peerID, streamErr)
	}

	if got := tx.ProjectOutputRoot(); got != horizonHeader.OutputMMRRoot {
		e.peers.Ban(peerID, e.cfg.LongBanDuration, "horizon sync: "+ErrInvalidMrRoot.Error())
		return crypto.Commitment{}, wrapPeerMisbehavior(peerID, "horizon sync: output stream", ErrInvalidMrRoot)
	}
	return utxoSum, nil
}

func (e *Engine) banForOutputFailure(peerID string, err error) error {
	switch {
	case errors.Is(err, ErrPeerSentTooManyOutputs),
		errors.Is(err, ErrScriptTooLarge),
		errors.Is(err, ErrInvalidRangeProof),
		errors.Is(err, ErrUnknownContainingHeader):
		e.peers.Ban(peerID, e.cfg.LongBanDuration, "horizon sync: "+err.Error())
		return wrapPeerMisbehavior(peerID, "horizon sync: output stream", err)
	default:
		e.peers.Ban(peerID, e.cfg.ShortBanDuration, "rpc: sync_utxos failed")
		return wrapPeerTransient(peerID, "horizon sync: output stream", err)
	}
}
