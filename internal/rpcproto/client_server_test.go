package rpcproto

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/shardwimble/basenode/pkg/block"
	"github.com/shardwimble/basenode/pkg/types"
)

type fakeHandler struct {
	tip     GetTipInfoResponse
	kernels []KernelStreamItem
}

func (h *fakeHandler) GetTipInfo(ctx context.Context) (GetTipInfoResponse, error) {
	return h.tip, nil
}
func (h *fakeHandler) GetHeaderByHeight(ctx context.Context, req GetHeaderByHeightRequest) (GetHeaderByHeightResponse, error) {
	return GetHeaderByHeightResponse{Found: true, Header: &block.Header{Height: req.Height}}, nil
}
func (h *fakeHandler) FindChainSplit(ctx context.Context, req FindChainSplitRequest) (FindChainSplitResponse, error) {
	return FindChainSplitResponse{}, nil
}
func (h *fakeHandler) RequestHeaders(ctx context.Context, req RequestHeadersRequest) (RequestHeadersResponse, error) {
	return RequestHeadersResponse{}, nil
}
func (h *fakeHandler) RequestBlocks(ctx context.Context, req RequestBlocksRequest) (RequestBlocksResponse, error) {
	return RequestBlocksResponse{}, nil
}
func (h *fakeHandler) SyncKernels(ctx context.Context, req SyncKernelsRequest, send func(KernelStreamItem) error) error {
	for _, k := range h.kernels {
		if err := send(k); err != nil {
			return err
		}
	}
	return nil
}
func (h *fakeHandler) SyncUTXOs(ctx context.Context, req SyncUTXOsRequest, send func(UTXOStreamItem) error) error {
	return nil
}

func dialPipe(server Handler) DialerFunc {
	return func(ctx context.Context) (Stream, error) {
		client, srv := net.Pipe()
		go Serve(context.Background(), srv, server, 0)
		return client, nil
	}
}

func TestClientGetTipInfo(t *testing.T) {
	h := &fakeHandler{tip: GetTipInfoResponse{Metadata: block.ChainMetadata{BestHeight: 7, BestHash: types.Hash{1, 2, 3}}}}
	c := NewClient(dialPipe(h), 0)

	resp, err := c.GetTipInfo(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("GetTipInfo: %v", err)
	}
	if resp.Metadata.BestHeight != 7 {
		t.Fatalf("got height %d, want 7", resp.Metadata.BestHeight)
	}
}

func TestClientGetHeaderByHeight(t *testing.T) {
	h := &fakeHandler{}
	c := NewClient(dialPipe(h), 0)

	resp, err := c.GetHeaderByHeight(context.Background(), time.Second, 5)
	if err != nil {
		t.Fatalf("GetHeaderByHeight: %v", err)
	}
	if !resp.Found || resp.Header.Height != 5 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestClientSyncKernelsStream(t *testing.T) {
	h := &fakeHandler{kernels: []KernelStreamItem{
		{MMRPosition: 0},
		{MMRPosition: 1},
		{MMRPosition: 2},
	}}
	c := NewClient(dialPipe(h), 0)

	var got []uint64
	err := c.SyncKernels(context.Background(), time.Second, SyncKernelsRequest{}, func(item KernelStreamItem) error {
		got = append(got, item.MMRPosition)
		return nil
	})
	if err != nil {
		t.Fatalf("SyncKernels: %v", err)
	}
	if len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Fatalf("unexpected stream items: %v", got)
	}
}
