// Package peerpool tracks the set of connected sync peers and selects a
// candidate for the block/horizon sync engines per spec.md §4.3. It is
// the one place those engines touch connectivity; everything else about
// dialing, framing, and banning is reached through the narrow
// ConnectivityService interface defined here, so a test double is
// trivial to write and the real libp2p transport stays swappable.
package peerpool

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/shardwimble/basenode/config"
	"github.com/shardwimble/basenode/internal/syncerrors"
	"github.com/shardwimble/basenode/pkg/block"
)

// rttWindow bounds how many latency samples a SyncPeer keeps; only the
// most recent observations matter for deciding whether a peer is still
// responsive.
const rttWindow = 20

// ConnectivityService is the narrow collaborator the sync engines and
// this pool consume for everything dial/ban related (spec.md §1). A
// production binary backs it with internal/transport.Node; tests back
// it with an in-memory fake.
type ConnectivityService interface {
	// Ban disconnects and bans nodeID for duration (zero/negative means
	// permanent), recording reason.
	Ban(nodeID string, duration time.Duration, reason string)
	// Disconnect closes any open connection to nodeID without banning it.
	Disconnect(nodeID string) error
}

// SyncPeer is one pool entry: a connected peer plus everything the
// selection policy and ban triggers need to know about it.
type SyncPeer struct {
	NodeID string

	mu          sync.Mutex
	metadata    block.ChainMetadata
	hasMetadata bool
	rtt         []time.Duration // rolling window, most recent last
	excluded    bool
}

// Metadata returns the peer's last-reported chain tip summary and
// whether one has ever been reported.
func (p *SyncPeer) Metadata() (block.ChainMetadata, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metadata, p.hasMetadata
}

// Latency returns the average of the peer's recent RTT samples, and
// false if none have been recorded yet.
func (p *SyncPeer) Latency() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.rtt) == 0 {
		return 0, false
	}
	var sum time.Duration
	for _, d := range p.rtt {
		sum += d
	}
	return sum / time.Duration(len(p.rtt)), true
}

func (p *SyncPeer) update(latency time.Duration, metadata block.ChainMetadata) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metadata = metadata
	p.hasMetadata = true
	if latency > 0 {
		p.rtt = append(p.rtt, latency)
		if len(p.rtt) > rttWindow {
			p.rtt = p.rtt[len(p.rtt)-rttWindow:]
		}
	}
}

func (p *SyncPeer) isExcluded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.excluded
}

func (p *SyncPeer) setExcluded(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.excluded = v
}

// Pool tracks connected sync peers and selects among them per the
// configured SyncPeerPolicy.
type Pool struct {
	mu     sync.Mutex
	order  []string // insertion order, for PolicyFirst's deterministic tie-break
	peers  map[string]*SyncPeer
	conn   ConnectivityService
	policy config.SyncPeerPolicy
	// pinned, if non-empty, restricts Select to this one node id
	// regardless of policy (config.SyncConfig.SyncPeer).
	pinned string
	// maxLatency excludes peers whose average RTT exceeds it from
	// selection; zero disables the check.
	maxLatency time.Duration
}

// New builds an empty Pool. conn must be non-nil.
func New(conn ConnectivityService, policy config.SyncPeerPolicy, pinned string, maxLatency time.Duration) *Pool {
	return &Pool{
		peers:      make(map[string]*SyncPeer),
		conn:       conn,
		policy:     policy,
		pinned:     pinned,
		maxLatency: maxLatency,
	}
}

// Add registers a newly connected peer, or is a no-op if it is already
// tracked.
func (p *Pool) Add(nodeID string) *SyncPeer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sp, ok := p.peers[nodeID]; ok {
		return sp
	}
	sp := &SyncPeer{NodeID: nodeID}
	p.peers[nodeID] = sp
	p.order = append(p.order, nodeID)
	return sp
}

// Remove drops a peer from the pool, e.g. on disconnect. It does not ban
// or disconnect it; the caller has already done that or is just
// reflecting a transport-level disconnect.
func (p *Pool) Remove(nodeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.peers, nodeID)
	for i, id := range p.order {
		if id == nodeID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// UpdateMetadata records a fresh chain-tip report and RTT sample for
// nodeID, adding it to the pool first if it isn't already tracked.
func (p *Pool) UpdateMetadata(nodeID string, latency time.Duration, metadata block.ChainMetadata) {
	sp := p.Add(nodeID)
	sp.update(latency, metadata)
}

// Exclude marks nodeID ineligible for Select until ClearExclusions is
// called, without banning it — used to skip a peer for the remainder of
// one sync attempt after it failed to answer a particular request.
func (p *Pool) Exclude(nodeID string) {
	p.mu.Lock()
	sp, ok := p.peers[nodeID]
	p.mu.Unlock()
	if ok {
		sp.setExcluded(true)
	}
}

// ClearExclusions resets every peer's exclusion flag, for the start of a
// new sync attempt.
func (p *Pool) ClearExclusions() {
	p.mu.Lock()
	peers := make([]*SyncPeer, 0, len(p.peers))
	for _, sp := range p.peers {
		peers = append(peers, sp)
	}
	p.mu.Unlock()
	for _, sp := range peers {
		sp.setExcluded(false)
	}
}

// Ban bans nodeID for duration via the ConnectivityService and removes
// it from the pool.
func (p *Pool) Ban(nodeID string, duration time.Duration, reason string) {
	p.conn.Ban(nodeID, duration, reason)
	p.Remove(nodeID)
}

// Len reports the number of tracked peers.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.peers)
}

// Peer returns the tracked SyncPeer for nodeID, if any.
func (p *Pool) Peer(nodeID string) (*SyncPeer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sp, ok := p.peers[nodeID]
	return sp, ok
}

// Select returns one eligible peer per the pool's configured policy.
// Eligible means: not excluded, and (if maxLatency is set) within the
// latency ceiling. It returns a syncerrors NoCandidates error if no
// peer qualifies.
func (p *Pool) Select() (*SyncPeer, error) {
	p.mu.Lock()
	order := make([]string, len(p.order))
	copy(order, p.order)
	peers := make(map[string]*SyncPeer, len(p.peers))
	for k, v := range p.peers {
		peers[k] = v
	}
	policy, pinned, maxLatency := p.policy, p.pinned, p.maxLatency
	p.mu.Unlock()

	if pinned != "" {
		sp, ok := peers[pinned]
		if !ok || !p.eligible(sp, maxLatency) {
			return nil, syncerrors.New(syncerrors.NoCandidates, "pinned sync peer unavailable")
		}
		return sp, nil
	}

	var eligible []*SyncPeer
	for _, id := range order {
		sp, ok := peers[id]
		if !ok || !p.eligible(sp, maxLatency) {
			continue
		}
		eligible = append(eligible, sp)
	}
	if len(eligible) == 0 {
		return nil, syncerrors.New(syncerrors.NoCandidates, "no eligible sync peers")
	}

	switch policy {
	case config.PolicyRandomWithChain:
		withChain := make([]*SyncPeer, 0, len(eligible))
		for _, sp := range eligible {
			if _, ok := sp.Metadata(); ok {
				withChain = append(withChain, sp)
			}
		}
		if len(withChain) == 0 {
			return nil, syncerrors.New(syncerrors.NoCandidates, "no sync peers have reported chain metadata")
		}
		return withChain[rand.Intn(len(withChain))], nil

	case config.PolicyFirst, "":
		// order is insertion order; first eligible wins, ties (in the
		// sense of "no further preference") break in that same order.
		return eligible[0], nil

	default:
		return eligible[0], nil
	}
}

func (p *Pool) eligible(sp *SyncPeer, maxLatency time.Duration) bool {
	if sp == nil || sp.isExcluded() {
		return false
	}
	if maxLatency > 0 {
		if latency, ok := sp.Latency(); ok && latency > maxLatency {
			return false
		}
	}
	return true
}

// Snapshot returns all tracked peers sorted by node id, for status
// reporting.
func (p *Pool) Snapshot() []*SyncPeer {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*SyncPeer, 0, len(p.peers))
	for _, sp := range p.peers {
		out = append(out, sp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}
