package transport

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Connectivity adapts a *Node to internal/peerpool.ConnectivityService,
// translating between the pool's transport-agnostic string node ids and
// the concrete peer.ID the libp2p host deals in.
type Connectivity struct {
	node *Node
}

// NewConnectivity wraps node as a peerpool.ConnectivityService.
func NewConnectivity(node *Node) *Connectivity {
	return &Connectivity{node: node}
}

// Ban decodes nodeID and bans it via the node's BanManager.
func (c *Connectivity) Ban(nodeID string, duration time.Duration, reason string) {
	id, err := peer.Decode(nodeID)
	if err != nil {
		return
	}
	c.node.BanManager.Ban(id, duration, reason)
}

// Disconnect decodes nodeID and closes any open connection to it.
func (c *Connectivity) Disconnect(nodeID string) error {
	id, err := peer.Decode(nodeID)
	if err != nil {
		return err
	}
	return c.node.Disconnect(id)
}
