package rpcproto

import (
	"context"
	"fmt"
)

// Handler serves the §6 RPC surface this node exposes to peers. It is
// implemented by internal/rpcserver's Handler over the chain storage
// facade.
type Handler interface {
	GetTipInfo(ctx context.Context) (GetTipInfoResponse, error)
	GetHeaderByHeight(ctx context.Context, req GetHeaderByHeightRequest) (GetHeaderByHeightResponse, error)
	FindChainSplit(ctx context.Context, req FindChainSplitRequest) (FindChainSplitResponse, error)
	RequestHeaders(ctx context.Context, req RequestHeadersRequest) (RequestHeadersResponse, error)
	RequestBlocks(ctx context.Context, req RequestBlocksRequest) (RequestBlocksResponse, error)
	// SyncKernels streams kernels to send by calling send for each item in
	// order; send returning an error aborts the stream.
	SyncKernels(ctx context.Context, req SyncKernelsRequest, send func(KernelStreamItem) error) error
	// SyncUTXOs streams outputs to send by calling send for each item in
	// order.
	SyncUTXOs(ctx context.Context, req SyncUTXOsRequest, send func(UTXOStreamItem) error) error
}

// Serve reads exactly one request frame from stream, dispatches it to
// handler, and writes the (possibly streamed) response. It returns once
// the exchange completes or an error occurs; the caller is responsible
// for closing the stream and for looping Serve per incoming connection if
// the underlying transport does not already do so per-stream.
func Serve(ctx context.Context, stream Stream, handler Handler, maxFrameBytes uint32) error {
	reqFrame, err := ReadFrame(stream, maxFrameBytes)
	if err != nil {
		return fmt.Errorf("rpcproto: read request: %w", err)
	}

	switch reqFrame.Header.Method {
	case MethodGetTipInfo:
		resp, err := handler.GetTipInfo(ctx)
		if err != nil {
			return err
		}
		return writeResponse(stream, reqFrame.Header, resp, maxFrameBytes)

	case MethodGetHeaderByHeight:
		var req GetHeaderByHeightRequest
		if err := DecodePayload(reqFrame.Payload, &req); err != nil {
			return fmt.Errorf("rpcproto: decode request: %w", err)
		}
		resp, err := handler.GetHeaderByHeight(ctx, req)
		if err != nil {
			return err
		}
		return writeResponse(stream, reqFrame.Header, resp, maxFrameBytes)

	case MethodFindChainSplit:
		var req FindChainSplitRequest
		if err := DecodePayload(reqFrame.Payload, &req); err != nil {
			return fmt.Errorf("rpcproto: decode request: %w", err)
		}
		resp, err := handler.FindChainSplit(ctx, req)
		if err != nil {
			return err
		}
		return writeResponse(stream, reqFrame.Header, resp, maxFrameBytes)

	case MethodRequestHeaders:
		var req RequestHeadersRequest
		if err := DecodePayload(reqFrame.Payload, &req); err != nil {
			return fmt.Errorf("rpcproto: decode request: %w", err)
		}
		resp, err := handler.RequestHeaders(ctx, req)
		if err != nil {
			return err
		}
		return writeResponse(stream, reqFrame.Header, resp, maxFrameBytes)

	case MethodRequestBlocks:
		var req RequestBlocksRequest
		if err := DecodePayload(reqFrame.Payload, &req); err != nil {
			return fmt.Errorf("rpcproto: decode request: %w", err)
		}
		resp, err := handler.RequestBlocks(ctx, req)
		if err != nil {
			return err
		}
		return writeResponse(stream, reqFrame.Header, resp, maxFrameBytes)

	case MethodSyncKernels:
		var req SyncKernelsRequest
		if err := DecodePayload(reqFrame.Payload, &req); err != nil {
			return fmt.Errorf("rpcproto: decode request: %w", err)
		}
		err := handler.SyncKernels(ctx, req, func(item KernelStreamItem) error {
			payload, err := EncodePayload(item)
			if err != nil {
				return err
			}
			return WriteFrame(stream, Frame{Header: Header{RequestID: reqFrame.Header.RequestID, Method: MethodSyncKernels, Flags: 0}, Payload: payload}, maxFrameBytes)
		})
		if err != nil {
			return err
		}
		// terminal empty FIN frame
		return WriteFrame(stream, Frame{Header: Header{RequestID: reqFrame.Header.RequestID, Method: MethodSyncKernels, Flags: FlagFIN}}, maxFrameBytes)

	case MethodSyncUTXOs:
		var req SyncUTXOsRequest
		if err := DecodePayload(reqFrame.Payload, &req); err != nil {
			return fmt.Errorf("rpcproto: decode request: %w", err)
		}
		err := handler.SyncUTXOs(ctx, req, func(item UTXOStreamItem) error {
			payload, err := EncodePayload(item)
			if err != nil {
				return err
			}
			return WriteFrame(stream, Frame{Header: Header{RequestID: reqFrame.Header.RequestID, Method: MethodSyncUTXOs, Flags: 0}, Payload: payload}, maxFrameBytes)
		})
		if err != nil {
			return err
		}
		return WriteFrame(stream, Frame{Header: Header{RequestID: reqFrame.Header.RequestID, Method: MethodSyncUTXOs, Flags: FlagFIN}}, maxFrameBytes)

	default:
		return fmt.Errorf("rpcproto: unknown method %d", reqFrame.Header.Method)
	}
}

func writeResponse(stream Stream, reqHdr Header, resp any, maxFrameBytes uint32) error {
	payload, err := EncodePayload(resp)
	if err != nil {
		return fmt.Errorf("rpcproto: encode response: %w", err)
	}
	return WriteFrame(stream, Frame{
		Header:  Header{RequestID: reqHdr.RequestID, Method: reqHdr.Method, Flags: FlagFIN},
		Payload: payload,
	}, maxFrameBytes)
}
