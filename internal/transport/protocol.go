package transport

import "github.com/libp2p/go-libp2p/core/protocol"

// Handshake protocol constants.
const (
	// HandshakeProtocol is the stream protocol ID for peer compatibility
	// checking (genesis hash + minimum protocol version).
	HandshakeProtocol = protocol.ID("/shardwimble/handshake/1.0.0")

	// ProtocolVersion is the current protocol version advertised during
	// handshake.
	ProtocolVersion uint32 = 1

	// MinProtocolVersion is the minimum protocol version accepted from peers.
	MinProtocolVersion uint32 = 1
)

// RPCProtocol is the single stream protocol ID every §6 RPC method is
// multiplexed over; the method name travels inside the rpcproto frame
// header rather than as a separate libp2p protocol per method, so adding
// an RPC method never requires a new stream negotiation.
const RPCProtocol = protocol.ID("/shardwimble/rpc/1.0.0")
