package transport

import (
	"sync"
	"time"

	klog "github.com/shardwimble/basenode/internal/log"
	"github.com/libp2p/go-libp2p/core/peer"
)

// ShortBanThreshold is the duration below which a ban is treated as
// transient (§4.3): a duration shorter than this is a "short ban" (RPC
// timeout, unexpected protocol response); at or above it, the ban is a
// "long ban" (misbehavior the pool treats as adversarial).
const ShortBanThreshold = 15 * time.Minute

// BanManager tracks active peer bans and enforces them at the transport
// level via banGater. Unlike the teacher's score-accumulating banmanager,
// bans here are applied directly with an explicit duration and reason —
// the sync peer pool (not this package) decides when a peer has earned
// one, per spec.md §4.3's ban-trigger table.
type BanManager struct {
	mu    sync.RWMutex
	bans  map[peer.ID]*BanRecord
	store *BanStore // nil disables persistence (used in tests)
	node  *Node     // nil if disconnect-on-ban is not needed
}

// NewBanManager creates a new BanManager. store may be nil to disable
// persistence; node may be nil if disconnect-on-ban is not needed.
func NewBanManager(store *BanStore, node *Node) *BanManager {
	return &BanManager{
		bans:  make(map[peer.ID]*BanRecord),
		store: store,
		node:  node,
	}
}

// LoadBans restores persisted, non-expired bans into the in-memory cache.
func (bm *BanManager) LoadBans() {
	if bm.store == nil {
		return
	}
	bm.store.PruneExpired()

	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.store.ForEach(func(rec *BanRecord) error {
		if !rec.IsExpired() {
			if id, err := peer.Decode(rec.ID); err == nil {
				bm.bans[id] = rec
			}
		}
		return nil
	})
}

// Ban bans id for duration, recording reason. A zero or negative duration
// is a permanent ban (ExpiresAt == 0).
func (bm *BanManager) Ban(id peer.ID, duration time.Duration, reason string) {
	now := time.Now()
	rec := &BanRecord{
		ID:       id.String(),
		Reason:   reason,
		BannedAt: now.Unix(),
	}
	if duration > 0 {
		rec.ExpiresAt = now.Add(duration).Unix()
	}

	bm.mu.Lock()
	bm.bans[id] = rec
	bm.mu.Unlock()

	if bm.store != nil {
		bm.store.Put(rec)
	}

	logger := klog.WithComponent("banmgr")
	peerStr := id.String()
	if len(peerStr) > 16 {
		peerStr = peerStr[:16]
	}
	logger.Warn().Str("peer", peerStr).Str("reason", reason).Dur("duration", duration).Msg("Peer banned")

	if bm.node != nil {
		go bm.node.Disconnect(id)
	}
}

// IsBanned returns true if the peer is currently banned.
func (bm *BanManager) IsBanned(id peer.ID) bool {
	bm.mu.RLock()
	rec, ok := bm.bans[id]
	bm.mu.RUnlock()

	if !ok {
		return false
	}
	if rec.IsExpired() {
		bm.mu.Lock()
		delete(bm.bans, id)
		bm.mu.Unlock()
		if bm.store != nil {
			bm.store.Delete(id)
		}
		return false
	}
	return true
}

// Unban manually removes a ban.
func (bm *BanManager) Unban(id peer.ID) {
	bm.mu.Lock()
	delete(bm.bans, id)
	bm.mu.Unlock()

	if bm.store != nil {
		bm.store.Delete(id)
	}
}

// BanList returns a snapshot of all active bans.
func (bm *BanManager) BanList() []BanRecord {
	bm.mu.RLock()
	defer bm.mu.RUnlock()

	var list []BanRecord
	for _, rec := range bm.bans {
		if !rec.IsExpired() {
			list = append(list, *rec)
		}
	}
	return list
}

// RunPruneLoop periodically prunes expired bans. Call in a goroutine;
// stops when done is closed.
func (bm *BanManager) RunPruneLoop(done <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			bm.pruneExpired()
		}
	}
}

func (bm *BanManager) pruneExpired() {
	bm.mu.Lock()
	var expired []peer.ID
	for id, rec := range bm.bans {
		if rec.IsExpired() {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(bm.bans, id)
	}
	bm.mu.Unlock()

	if bm.store != nil {
		bm.store.PruneExpired()
	}
}
