package blocksync

import "sync"

// Event is published by the engine as it progresses through a sync
// attempt. Exactly one of Info or Failure is set.
type Event struct {
	Info    *BlockSyncInfo
	Failure *BlockSyncFailure
}

// BlockSyncInfo reports progress after a successful per-block apply.
type BlockSyncInfo struct {
	TipHeight   uint64
	LocalHeight uint64
	SyncPeers   []string
}

// BlockSyncFailure reports why a sync attempt returned to Listening
// without reaching the network tip.
type BlockSyncFailure struct {
	Err error
}

// Notifier fans status events out to any number of subscribers without
// blocking the engine on a slow or absent listener; a full subscriber
// channel simply drops the event rather than stalling sync progress.
type Notifier struct {
	mu   sync.Mutex
	subs []chan Event
}

// NewNotifier builds an empty Notifier.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// Subscribe registers a new listener and returns its channel plus an
// unsubscribe function that closes it.
func (n *Notifier) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)
	n.mu.Lock()
	n.subs = append(n.subs, ch)
	n.mu.Unlock()

	unsubscribe := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, c := range n.subs {
			if c == ch {
				n.subs = append(n.subs[:i], n.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, unsubscribe
}

func (n *Notifier) publish(ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
