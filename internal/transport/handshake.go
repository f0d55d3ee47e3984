package transport

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	klog "github.com/shardwimble/basenode/internal/log"
	"github.com/shardwimble/basenode/pkg/types"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
)

const (
	handshakeTimeout   = 10 * time.Second
	maxHandshakeBytes  = 4096
	handshakeBanReason = "handshake failed: genesis or protocol version mismatch"
)

// HandshakeMessage is exchanged between peers to verify compatibility
// before the sync layer will consider them a candidate sync peer.
type HandshakeMessage struct {
	ProtocolVersion uint32     `json:"protocol_version"`
	GenesisHash     types.Hash `json:"genesis_hash"`
	NetworkID       string     `json:"network_id"`
	BestHeight      uint64     `json:"best_height"`
}

func (n *Node) registerHandshakeHandler() {
	logger := klog.WithComponent("transport")
	n.host.SetStreamHandler(HandshakeProtocol, func(stream network.Stream) {
		defer stream.Close()

		remotePeer := stream.Conn().RemotePeer()
		_ = stream.SetReadDeadline(time.Now().Add(handshakeTimeout))

		var peerMsg HandshakeMessage
		if err := json.NewDecoder(io.LimitReader(stream, maxHandshakeBytes)).Decode(&peerMsg); err != nil {
			logger.Debug().Err(err).Str("peer", shortID(remotePeer)).Msg("Handshake read failed")
			return
		}

		ourMsg := n.buildHandshakeMessage()
		if err := json.NewEncoder(stream).Encode(&ourMsg); err != nil {
			logger.Debug().Err(err).Str("peer", shortID(remotePeer)).Msg("Handshake write failed")
			return
		}

		if reason := n.validateHandshake(peerMsg); reason != "" {
			logger.Warn().Str("peer", shortID(remotePeer)).Str("reason", reason).Msg("Handshake rejected, banning peer")
			if n.BanManager != nil {
				n.BanManager.Ban(remotePeer, 0, handshakeBanReason+": "+reason)
			}
			n.Disconnect(remotePeer)
		}
	})
}

func (n *Node) doHandshake(peerID peer.ID) {
	logger := klog.WithComponent("transport")

	stream, err := n.host.NewStream(n.ctx, peerID, HandshakeProtocol)
	if err != nil {
		logger.Debug().Str("peer", shortID(peerID)).Msg("Peer does not support handshake protocol, tolerating")
		return
	}
	defer stream.Close()

	_ = stream.SetDeadline(time.Now().Add(handshakeTimeout))

	ourMsg := n.buildHandshakeMessage()
	if err := json.NewEncoder(stream).Encode(&ourMsg); err != nil {
		logger.Debug().Err(err).Str("peer", shortID(peerID)).Msg("Handshake send failed")
		return
	}
	stream.CloseWrite()

	var peerMsg HandshakeMessage
	if err := json.NewDecoder(io.LimitReader(stream, maxHandshakeBytes)).Decode(&peerMsg); err != nil {
		logger.Debug().Err(err).Str("peer", shortID(peerID)).Msg("Handshake response read failed")
		return
	}

	if reason := n.validateHandshake(peerMsg); reason != "" {
		logger.Warn().Str("peer", shortID(peerID)).Str("reason", reason).Msg("Handshake rejected, banning peer")
		if n.BanManager != nil {
			n.BanManager.Ban(peerID, 0, handshakeBanReason+": "+reason)
		}
		n.Disconnect(peerID)
	}
}

func (n *Node) validateHandshake(msg HandshakeMessage) string {
	if msg.GenesisHash != n.genesisHash {
		return fmt.Sprintf("genesis mismatch: peer=%s local=%s", msg.GenesisHash.String(), n.genesisHash.String())
	}
	if msg.ProtocolVersion < MinProtocolVersion {
		return fmt.Sprintf("protocol version too low: peer=%d min=%d", msg.ProtocolVersion, MinProtocolVersion)
	}
	return ""
}

func (n *Node) buildHandshakeMessage() HandshakeMessage {
	msg := HandshakeMessage{
		ProtocolVersion: ProtocolVersion,
		GenesisHash:     n.genesisHash,
		NetworkID:       n.config.NetworkID,
	}
	if n.heightFn != nil {
		msg.BestHeight = n.heightFn()
	}
	return msg
}
