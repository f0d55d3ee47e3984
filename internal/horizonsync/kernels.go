package horizonsync

import (
	"context"
	"errors"

	"github.com/shardwimble/basenode/internal/rpcproto"
	"github.com/shardwimble/basenode/pkg/block"
	"github.com/shardwimble/basenode/pkg/crypto"
	"github.com/shardwimble/basenode/pkg/types"
)

// syncKernels streams kernels from startPos (an absolute kernel MMR
// position) up to endHeaderHash, verifying each one's signature, staging
// it on tx, and checking the projected kernel MMR root against every
// header boundary the stream crosses. headers is the ordered run of
// headers from the local tip's successor through the horizon header. It
// returns the sum of every streamed kernel's excess, and the sum of the
// subset carrying the burn feature, so the caller can fold them into the
// genesis..horizon totals without having to read staged-but-uncommitted
// kernels back out of tx.
func (e *Engine) syncKernels(ctx context.Context, peerID string, client RPCClient, tx Tx, headers []*block.Header, startPos uint64, endHeaderHash types.Hash) (kernelSum, burnedSum crypto.Commitment, err error) {
	if len(headers) == 0 {
		return kernelSum, burnedSum, nil
	}
	target := headers[len(headers)-1].KernelMMRSize
	headerIdx := 0
	pos := startPos

	req := rpcproto.SyncKernelsRequest{Start: startPos, EndHeaderHash: endHeaderHash}
	streamErr := client.SyncKernels(ctx, e.cfg.rpcDeadline(), req, func(item rpcproto.KernelStreamItem) error {
		if pos >= target {
			return ErrPeerSentTooManyKernels
		}
		kernel := item.Kernel
		if !kernel.VerifySignature() {
			return ErrInvalidKernelSignature
		}
		tx.PutKernel(kernel, pos)
		pos++
		var sumErr error
		kernelSum, sumErr = crypto.PointAdd(kernelSum, kernel.Excess)
		if sumErr != nil {
			return sumErr
		}
		if kernel.Features.IsBurn() {
			burnedSum, sumErr = crypto.PointAdd(burnedSum, kernel.Excess)
			if sumErr != nil {
				return sumErr
			}
		}

		for headerIdx < len(headers) && pos == headers[headerIdx].KernelMMRSize {
			if got := tx.ProjectKernelRoot(); got != headers[headerIdx].KernelMMRRoot {
				return ErrInvalidMrRoot
			}
			headerIdx++
		}
		return nil
	})
	if streamErr != nil {
		return crypto.Commitment{}, crypto.Commitment{}, e.banForKernelFailure(peerID, streamErr)
	}
	if pos != target {
		e.peers.Ban(peerID, e.cfg.LongBanDuration, "horizon sync: "+ErrDidNotSendAllKernels.Error())
		return crypto.Commitment{}, crypto.Commitment{}, wrapPeerMisbehavior(peerID, "horizon sync: kernel stream", ErrDidNotSendAllKernels)
	}
	return kernelSum, burnedSum, nil
}

func (e *Engine) banForKernelFailure(peerID string, err error) error {
	switch {
	case errors.Is(err, ErrPeerSentTooManyKernels), errors.Is(err, ErrInvalidKernelSignature), errors.Is(err, ErrInvalidMrRoot):
		e.peers.Ban(peerID, e.cfg.LongBanDuration, "horizon sync: "+err.Error())
		return wrapPeerMisbehavior(peerID, "horizon sync: kernel stream", err)
	default:
		e.peers.Ban(peerID, e.cfg.ShortBanDuration, "rpc: sync_kernels failed")
		return wrapPeerTransient(peerID, "horizon sync: kernel stream", err)
	}
}
