package main

import (
	"context"
	"fmt"
	"time"

	"github.com/shardwimble/basenode/internal/blocksync"
	"github.com/shardwimble/basenode/internal/horizonsync"
	"github.com/shardwimble/basenode/internal/rpcproto"
	"github.com/shardwimble/basenode/internal/transport"
	"github.com/libp2p/go-libp2p/core/peer"
)

// peerDialer opens rpcproto streams to sync peers over a transport.Node,
// translating the sync engines' string node ids to libp2p peer.IDs. One
// instance is shared by both sync engines; blockSyncDialer and
// horizonSyncDialer below exist only to give the single underlying
// *rpcproto.Client the two distinct static return types each engine's
// ClientDialer interface asks for.
type peerDialer struct {
	node          *transport.Node
	maxFrameBytes uint32
}

func newPeerDialer(node *transport.Node, maxFrameBytes uint32) *peerDialer {
	return &peerDialer{node: node, maxFrameBytes: maxFrameBytes}
}

func (d *peerDialer) client(nodeID string) (*rpcproto.Client, error) {
	id, err := peer.Decode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("rpcdialer: decode peer id %q: %w", nodeID, err)
	}
	dialer := rpcproto.DialerFunc(func(ctx context.Context) (rpcproto.Stream, error) {
		return d.node.NewStream(ctx, id, transport.RPCProtocol)
	})
	return rpcproto.NewClient(dialer, d.maxFrameBytes), nil
}

// blockSyncDialer adapts peerDialer to blocksync.ClientDialer.
type blockSyncDialer struct{ *peerDialer }

func (d blockSyncDialer) Client(nodeID string) blocksync.RPCClient {
	c, err := d.client(nodeID)
	if err != nil {
		return brokenRPCClient{err}
	}
	return c
}

// horizonSyncDialer adapts peerDialer to horizonsync.ClientDialer.
type horizonSyncDialer struct{ *peerDialer }

func (d horizonSyncDialer) Client(nodeID string) horizonsync.RPCClient {
	c, err := d.client(nodeID)
	if err != nil {
		return brokenRPCClient{err}
	}
	return c
}

// brokenRPCClient stands in for a peer whose node id could not even be
// decoded, so every call just reports that decode failure rather than
// nil-dereferencing a dialer that was never built.
type brokenRPCClient struct{ err error }

func (b brokenRPCClient) GetTipInfo(context.Context, time.Duration) (*rpcproto.GetTipInfoResponse, error) {
	return nil, b.err
}

func (b brokenRPCClient) GetHeaderByHeight(context.Context, time.Duration, uint64) (*rpcproto.GetHeaderByHeightResponse, error) {
	return nil, b.err
}

func (b brokenRPCClient) FindChainSplit(context.Context, time.Duration, rpcproto.FindChainSplitRequest) (*rpcproto.FindChainSplitResponse, error) {
	return nil, b.err
}

func (b brokenRPCClient) RequestBlocks(context.Context, time.Duration, []uint64) (*rpcproto.RequestBlocksResponse, error) {
	return nil, b.err
}

func (b brokenRPCClient) SyncKernels(context.Context, time.Duration, rpcproto.SyncKernelsRequest, func(rpcproto.KernelStreamItem) error) error {
	return b.err
}

func (b brokenRPCClient) SyncUTXOs(context.Context, time.Duration, rpcproto.SyncUTXOsRequest, func(rpcproto.UTXOStreamItem) error) error {
	return b.err
}
