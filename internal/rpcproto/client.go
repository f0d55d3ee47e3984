package rpcproto

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// Stream is the minimal surface this package needs from a transport
// stream (satisfied directly by a libp2p network.Stream, and by an
// in-memory net.Pipe half in tests).
type Stream interface {
	io.ReadWriteCloser
	SetDeadline(time.Time) error
}

// Dialer opens a new RPC stream to a remote peer. internal/transport's
// Node.NewStream, bound to transport.RPCProtocol, satisfies this.
type Dialer interface {
	Dial(ctx context.Context) (Stream, error)
}

// DialerFunc adapts a plain function to Dialer.
type DialerFunc func(ctx context.Context) (Stream, error)

func (f DialerFunc) Dial(ctx context.Context) (Stream, error) { return f(ctx) }

// Client issues framed RPC requests over streams obtained from a Dialer.
// One Client typically wraps one sync peer; MaxFrameBytes caps both the
// request and response frame sizes.
type Client struct {
	dialer        Dialer
	maxFrameBytes uint32
	nextRequestID atomic.Uint64
}

// NewClient builds a Client. maxFrameBytes of 0 uses DefaultMaxFrameBytes.
func NewClient(dialer Dialer, maxFrameBytes uint32) *Client {
	return &Client{dialer: dialer, maxFrameBytes: maxFrameBytes}
}

func (c *Client) call(ctx context.Context, method Method, deadline time.Duration, req any, resp any) error {
	stream, err := c.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("rpcproto: dial: %w", err)
	}
	defer stream.Close()

	if deadline > 0 {
		_ = stream.SetDeadline(time.Now().Add(deadline))
	}

	payload, err := EncodePayload(req)
	if err != nil {
		return fmt.Errorf("rpcproto: encode request: %w", err)
	}
	reqFrame := Frame{
		Header: Header{
			RequestID:       c.nextRequestID.Add(1),
			Method:          method,
			Flags:           FlagFIN,
			DeadlineSeconds: uint32(deadline.Seconds()),
		},
		Payload: payload,
	}
	if err := WriteFrame(stream, reqFrame, c.maxFrameBytes); err != nil {
		return fmt.Errorf("rpcproto: write request: %w", err)
	}

	respFrame, err := ReadFrame(stream, c.maxFrameBytes)
	if err != nil {
		return fmt.Errorf("rpcproto: read response: %w", err)
	}
	if resp != nil {
		if err := DecodePayload(respFrame.Payload, resp); err != nil {
			return fmt.Errorf("rpcproto: decode response: %w", err)
		}
	}
	return nil
}

// GetTipInfo calls get_tip_info().
func (c *Client) GetTipInfo(ctx context.Context, deadline time.Duration) (*GetTipInfoResponse, error) {
	var resp GetTipInfoResponse
	if err := c.call(ctx, MethodGetTipInfo, deadline, struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetHeaderByHeight calls get_header_by_height(height).
func (c *Client) GetHeaderByHeight(ctx context.Context, deadline time.Duration, height uint64) (*GetHeaderByHeightResponse, error) {
	var resp GetHeaderByHeightResponse
	if err := c.call(ctx, MethodGetHeaderByHeight, deadline, GetHeaderByHeightRequest{Height: height}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FindChainSplit calls find_chain_split({block_hashes[], header_count}).
func (c *Client) FindChainSplit(ctx context.Context, deadline time.Duration, req FindChainSplitRequest) (*FindChainSplitResponse, error) {
	var resp FindChainSplitResponse
	if err := c.call(ctx, MethodFindChainSplit, deadline, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RequestHeaders calls request_headers_from_peer(block_nums[]).
func (c *Client) RequestHeaders(ctx context.Context, deadline time.Duration, heights []uint64) (*RequestHeadersResponse, error) {
	var resp RequestHeadersResponse
	if err := c.call(ctx, MethodRequestHeaders, deadline, RequestHeadersRequest{Heights: heights}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RequestBlocks calls request_blocks_from_peer(block_nums[]).
func (c *Client) RequestBlocks(ctx context.Context, deadline time.Duration, heights []uint64) (*RequestBlocksResponse, error) {
	var resp RequestBlocksResponse
	if err := c.call(ctx, MethodRequestBlocks, deadline, RequestBlocksRequest{Heights: heights}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SyncKernels opens sync_kernels({start, end_header_hash}) and invokes fn
// for each streamed kernel in order, until the peer sends a FIN frame with
// no payload or fn returns an error (which aborts the stream and is
// returned to the caller).
func (c *Client) SyncKernels(ctx context.Context, deadline time.Duration, req SyncKernelsRequest, fn func(KernelStreamItem) error) error {
	stream, err := c.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("rpcproto: dial: %w", err)
	}
	defer stream.Close()
	if deadline > 0 {
		_ = stream.SetDeadline(time.Now().Add(deadline))
	}

	payload, err := EncodePayload(req)
	if err != nil {
		return fmt.Errorf("rpcproto: encode request: %w", err)
	}
	reqFrame := Frame{
		Header: Header{RequestID: c.nextRequestID.Add(1), Method: MethodSyncKernels, Flags: FlagFIN, DeadlineSeconds: uint32(deadline.Seconds())},
		Payload: payload,
	}
	if err := WriteFrame(stream, reqFrame, c.maxFrameBytes); err != nil {
		return fmt.Errorf("rpcproto: write request: %w", err)
	}

	for {
		frame, err := ReadFrame(stream, c.maxFrameBytes)
		if err != nil {
			return fmt.Errorf("rpcproto: read kernel stream frame: %w", err)
		}
		if len(frame.Payload) == 0 {
			return nil // end of stream
		}
		var item KernelStreamItem
		if err := DecodePayload(frame.Payload, &item); err != nil {
			return fmt.Errorf("rpcproto: decode kernel stream item: %w", err)
		}
		if err := fn(item); err != nil {
			return err
		}
	}
}

// SyncUTXOs opens sync_utxos({start_header_hash, end_header_hash}) and
// invokes fn for each streamed output in order.
func (c *Client) SyncUTXOs(ctx context.Context, deadline time.Duration, req SyncUTXOsRequest, fn func(UTXOStreamItem) error) error {
	stream, err := c.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("rpcproto: dial: %w", err)
	}
	defer stream.Close()
	if deadline > 0 {
		_ = stream.SetDeadline(time.Now().Add(deadline))
	}

	payload, err := EncodePayload(req)
	if err != nil {
		return fmt.Errorf("rpcproto: encode request: %w", err)
	}
	reqFrame := Frame{
		Header: Header{RequestID: c.nextRequestID.Add(1), Method: MethodSyncUTXOs, Flags: FlagFIN, DeadlineSeconds: uint32(deadline.Seconds())},
		Payload: payload,
	}
	if err := WriteFrame(stream, reqFrame, c.maxFrameBytes); err != nil {
		return fmt.Errorf("rpcproto: write request: %w", err)
	}

	for {
		frame, err := ReadFrame(stream, c.maxFrameBytes)
		if err != nil {
			return fmt.Errorf("rpcproto: read utxo stream frame: %w", err)
		}
		if len(frame.Payload) == 0 {
			return nil
		}
		var item UTXOStreamItem
		if err := DecodePayload(frame.Payload, &item); err != nil {
			return fmt.Errorf("rpcproto: decode utxo stream item: %w", err)
		}
		if err := fn(item); err != nil {
			return err
		}
	}
}
