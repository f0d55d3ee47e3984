// Package rpcserver implements the server side of the rpcproto wire
// protocol: it answers an incoming peer's requests by reading from the
// local chain storage facade, the mirror image of what
// internal/blocksync and internal/horizonsync do as rpcproto clients.
package rpcserver

import (
	"context"
	"fmt"

	"github.com/shardwimble/basenode/internal/rpcproto"
	"github.com/shardwimble/basenode/pkg/block"
	"github.com/shardwimble/basenode/pkg/types"
)

// Store is the subset of chainstore.Store the handler reads from.
// *chainstore.Store satisfies this directly.
type Store interface {
	FetchChainMetadata(ctx context.Context) (block.ChainMetadata, error)
	FetchHeaderByHeight(ctx context.Context, height uint64) (*block.Header, error)
	FetchHeaderByHash(ctx context.Context, hash types.Hash) (*block.Header, error)
	FetchKernelsInBlock(ctx context.Context, height uint64) ([]block.Kernel, error)
	FetchUTXOsInBlock(ctx context.Context, height uint64) ([]block.Output, error)
	FetchInputsInBlock(ctx context.Context, height uint64) ([]block.Input, error)
}

// Handler implements rpcproto.Handler over a Store. It carries no mutable
// state of its own: every response is computed fresh from the store at
// request time, so one Handler is safe to share across every concurrent
// incoming stream.
type Handler struct {
	store Store
}

// New builds a Handler backed by store.
func New(store Store) *Handler {
	return &Handler{store: store}
}

var _ rpcproto.Handler = (*Handler)(nil)

// GetTipInfo returns the local chain's current best-block summary.
func (h *Handler) GetTipInfo(ctx context.Context) (rpcproto.GetTipInfoResponse, error) {
	meta, err := h.store.FetchChainMetadata(ctx)
	if err != nil {
		return rpcproto.GetTipInfoResponse{}, fmt.Errorf("rpcserver: get_tip_info: %w", err)
	}
	return rpcproto.GetTipInfoResponse{Metadata: meta}, nil
}

// GetHeaderByHeight returns the header at req.Height, or Found=false if
// the local chain has not reached that height yet.
func (h *Handler) GetHeaderByHeight(ctx context.Context, req rpcproto.GetHeaderByHeightRequest) (rpcproto.GetHeaderByHeightResponse, error) {
	meta, err := h.store.FetchChainMetadata(ctx)
	if err != nil {
		return rpcproto.GetHeaderByHeightResponse{}, fmt.Errorf("rpcserver: get_header_by_height: %w", err)
	}
	if req.Height > meta.BestHeight {
		return rpcproto.GetHeaderByHeightResponse{Found: false}, nil
	}
	hdr, err := h.store.FetchHeaderByHeight(ctx, req.Height)
	if err != nil {
		// Below the local tip yet unreadable means the height falls inside
		// pruned history, not that it never existed.
		return rpcproto.GetHeaderByHeightResponse{Found: false}, nil
	}
	return rpcproto.GetHeaderByHeightResponse{Found: true, Header: hdr}, nil
}

// FindChainSplit walks req.BlockHashes in order (callers send these
// newest-first, typically thinning out to a sparse older tail) and
// returns the index of the first one this chain still recognizes, along
// with up to req.HeaderCount headers immediately following it.
func (h *Handler) FindChainSplit(ctx context.Context, req rpcproto.FindChainSplitRequest) (rpcproto.FindChainSplitResponse, error) {
	splitIndex := -1
	var splitHeader *block.Header
	for i, hash := range req.BlockHashes {
		hdr, err := h.store.FetchHeaderByHash(ctx, hash)
		if err != nil {
			continue
		}
		splitIndex = i
		splitHeader = hdr
		break
	}
	if splitHeader == nil {
		return rpcproto.FindChainSplitResponse{SplitIndex: -1}, nil
	}

	meta, err := h.store.FetchChainMetadata(ctx)
	if err != nil {
		return rpcproto.FindChainSplitResponse{}, fmt.Errorf("rpcserver: find_chain_split: %w", err)
	}

	headers := make([]*block.Header, 0, req.HeaderCount)
	for height := splitHeader.Height + 1; height <= meta.BestHeight && uint64(len(headers)) < req.HeaderCount; height++ {
		hdr, err := h.store.FetchHeaderByHeight(ctx, height)
		if err != nil {
			break
		}
		headers = append(headers, hdr)
	}
	return rpcproto.FindChainSplitResponse{SplitIndex: splitIndex, Headers: headers}, nil
}

// RequestHeaders returns one header per requested height, skipping any
// height the local chain cannot serve rather than padding the response.
func (h *Handler) RequestHeaders(ctx context.Context, req rpcproto.RequestHeadersRequest) (rpcproto.RequestHeadersResponse, error) {
	headers := make([]*block.Header, 0, len(req.Heights))
	for _, height := range req.Heights {
		hdr, err := h.store.FetchHeaderByHeight(ctx, height)
		if err != nil {
			continue
		}
		headers = append(headers, hdr)
	}
	return rpcproto.RequestHeadersResponse{Headers: headers}, nil
}

// RequestBlocks returns one full block (header, inputs, outputs,
// kernels) per requested height that the local chain still has the body
// for; heights falling below the pruning horizon are skipped.
func (h *Handler) RequestBlocks(ctx context.Context, req rpcproto.RequestBlocksRequest) (rpcproto.RequestBlocksResponse, error) {
	blocks := make([]*block.Block, 0, len(req.Heights))
	for _, height := range req.Heights {
		hdr, err := h.store.FetchHeaderByHeight(ctx, height)
		if err != nil {
			continue
		}
		kernels, err := h.store.FetchKernelsInBlock(ctx, height)
		if err != nil {
			continue
		}
		outputs, err := h.store.FetchUTXOsInBlock(ctx, height)
		if err != nil {
			continue
		}
		inputs, err := h.store.FetchInputsInBlock(ctx, height)
		if err != nil {
			continue
		}
		blocks = append(blocks, block.NewBlock(hdr, inputs, outputs, kernels))
	}
	return rpcproto.RequestBlocksResponse{Blocks: blocks}, nil
}

// SyncKernels streams every kernel mined between req.Start (an absolute
// kernel MMR position) and the header identified by req.EndHeaderHash,
// in MMR order. It walks blocks height-by-height rather than maintaining
// a separate position index, since the per-height kernel batches are
// already stored in the same order they were appended to the MMR.
func (h *Handler) SyncKernels(ctx context.Context, req rpcproto.SyncKernelsRequest, send func(rpcproto.KernelStreamItem) error) error {
	endHeader, err := h.store.FetchHeaderByHash(ctx, req.EndHeaderHash)
	if err != nil {
		return fmt.Errorf("rpcserver: sync_kernels: unknown end header: %w", err)
	}

	meta, err := h.store.FetchChainMetadata(ctx)
	if err != nil {
		return fmt.Errorf("rpcserver: sync_kernels: %w", err)
	}

	startHeight, err := h.heightContainingKernelPosition(ctx, req.Start, meta.PrunedHeight, endHeader.Height)
	if err != nil {
		return fmt.Errorf("rpcserver: sync_kernels: %w", err)
	}

	startHdr, err := h.store.FetchHeaderByHeight(ctx, startHeight)
	if err != nil {
		return fmt.Errorf("rpcserver: sync_kernels: fetch header at %d: %w", startHeight, err)
	}
	startKernels, err := h.store.FetchKernelsInBlock(ctx, startHeight)
	if err != nil {
		return fmt.Errorf("rpcserver: sync_kernels: fetch kernels at %d: %w", startHeight, err)
	}
	// The cumulative size just before startHeight's own kernels, computed
	// from startHeight's own header rather than its predecessor's, since
	// pruning may have already discarded the predecessor's header.
	pos := startHdr.KernelMMRSize - uint64(len(startKernels))

	for height := startHeight; height <= endHeader.Height; height++ {
		hdr := startHdr
		kernels := startKernels
		if height != startHeight {
			hdr, err = h.store.FetchHeaderByHeight(ctx, height)
			if err != nil {
				return fmt.Errorf("rpcserver: sync_kernels: fetch header at %d: %w", height, err)
			}
			kernels, err = h.store.FetchKernelsInBlock(ctx, height)
			if err != nil {
				return fmt.Errorf("rpcserver: sync_kernels: fetch kernels at %d: %w", height, err)
			}
		}
		headerHash := hdr.Hash()
		for _, k := range kernels {
			if pos < req.Start {
				pos++
				continue
			}
			item := rpcproto.KernelStreamItem{Kernel: k, ContainingHeaderHash: headerHash, MMRPosition: pos}
			if err := send(item); err != nil {
				return err
			}
			pos++
		}
	}
	return nil
}

// SyncUTXOs streams every output mined in (req.StartHeaderHash,
// req.EndHeaderHash], inclusive of the end boundary, in mined order.
func (h *Handler) SyncUTXOs(ctx context.Context, req rpcproto.SyncUTXOsRequest, send func(rpcproto.UTXOStreamItem) error) error {
	endHeader, err := h.store.FetchHeaderByHash(ctx, req.EndHeaderHash)
	if err != nil {
		return fmt.Errorf("rpcserver: sync_utxos: unknown end header: %w", err)
	}

	startHeight := uint64(0)
	if !req.StartHeaderHash.IsZero() {
		startHeader, err := h.store.FetchHeaderByHash(ctx, req.StartHeaderHash)
		if err != nil {
			return fmt.Errorf("rpcserver: sync_utxos: unknown start header: %w", err)
		}
		startHeight = startHeader.Height + 1
	}

	for height := startHeight; height <= endHeader.Height; height++ {
		hdr, err := h.store.FetchHeaderByHeight(ctx, height)
		if err != nil {
			return fmt.Errorf("rpcserver: sync_utxos: fetch header at %d: %w", height, err)
		}
		outputs, err := h.store.FetchUTXOsInBlock(ctx, height)
		if err != nil {
			return fmt.Errorf("rpcserver: sync_utxos: fetch outputs at %d: %w", height, err)
		}
		headerHash := hdr.Hash()
		for _, o := range outputs {
			item := rpcproto.UTXOStreamItem{
				Output:          o,
				MinedHeaderHash: headerHash,
				MinedHeight:     height,
				MinedTimestamp:  hdr.Timestamp,
			}
			if err := send(item); err != nil {
				return err
			}
		}
	}
	return nil
}

// heightContainingKernelPosition finds the smallest height h in
// [floor, ceiling] such that header_at(h).KernelMMRSize > startPos, i.e.
// the first block whose kernels include position startPos. floor is the
// local pruned height: bodies below it no longer exist, so a request for
// a position this node already pruned past cannot be served.
func (h *Handler) heightContainingKernelPosition(ctx context.Context, startPos, floor, ceiling uint64) (uint64, error) {
	for height := floor; height <= ceiling; height++ {
		hdr, err := h.store.FetchHeaderByHeight(ctx, height)
		if err != nil {
			return 0, fmt.Errorf("fetch header at %d: %w", height, err)
		}
		if hdr.KernelMMRSize > startPos {
			return height, nil
		}
	}
	return 0, fmt.Errorf("no header in [%d, %d] covers kernel mmr position %d (pruned or beyond tip)", floor, ceiling, startPos)
}

