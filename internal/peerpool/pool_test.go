package peerpool

import (
	"testing"
	"time"

	"github.com/shardwimble/basenode/config"
	"github.com/shardwimble/basenode/internal/syncerrors"
	"github.com/shardwimble/basenode/pkg/block"
)

type fakeConn struct {
	banned map[string]time.Duration
}

func newFakeConn() *fakeConn { return &fakeConn{banned: make(map[string]time.Duration)} }

func (f *fakeConn) Ban(nodeID string, duration time.Duration, reason string) {
	f.banned[nodeID] = duration
}
func (f *fakeConn) Disconnect(nodeID string) error { return nil }

func TestSelect_NoCandidatesWhenEmpty(t *testing.T) {
	p := New(newFakeConn(), config.PolicyFirst, "", 0)
	_, err := p.Select()
	if !syncerrors.Is(err, syncerrors.NoCandidates) {
		t.Fatalf("expected NoCandidates, got %v", err)
	}
}

func TestSelect_FirstPolicyUsesInsertionOrder(t *testing.T) {
	p := New(newFakeConn(), config.PolicyFirst, "", 0)
	p.Add("peer-a")
	p.Add("peer-b")

	sp, err := p.Select()
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sp.NodeID != "peer-a" {
		t.Fatalf("got %s, want peer-a", sp.NodeID)
	}
}

func TestSelect_ExcludedPeerSkipped(t *testing.T) {
	p := New(newFakeConn(), config.PolicyFirst, "", 0)
	p.Add("peer-a")
	p.Add("peer-b")
	p.Exclude("peer-a")

	sp, err := p.Select()
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sp.NodeID != "peer-b" {
		t.Fatalf("got %s, want peer-b", sp.NodeID)
	}
}

func TestSelect_RandomWithChainRequiresMetadata(t *testing.T) {
	p := New(newFakeConn(), config.PolicyRandomWithChain, "", 0)
	p.Add("peer-a")
	_, err := p.Select()
	if !syncerrors.Is(err, syncerrors.NoCandidates) {
		t.Fatalf("expected NoCandidates before any metadata, got %v", err)
	}

	p.UpdateMetadata("peer-a", 10*time.Millisecond, block.ChainMetadata{BestHeight: 100})
	sp, err := p.Select()
	if err != nil {
		t.Fatalf("Select after metadata: %v", err)
	}
	if sp.NodeID != "peer-a" {
		t.Fatalf("got %s, want peer-a", sp.NodeID)
	}
}

func TestSelect_PinnedPeer(t *testing.T) {
	p := New(newFakeConn(), config.PolicyFirst, "peer-b", 0)
	p.Add("peer-a")
	p.Add("peer-b")

	sp, err := p.Select()
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sp.NodeID != "peer-b" {
		t.Fatalf("got %s, want pinned peer-b", sp.NodeID)
	}
}

func TestSelect_PinnedPeerMissingIsNoCandidates(t *testing.T) {
	p := New(newFakeConn(), config.PolicyFirst, "peer-z", 0)
	p.Add("peer-a")
	_, err := p.Select()
	if !syncerrors.Is(err, syncerrors.NoCandidates) {
		t.Fatalf("expected NoCandidates, got %v", err)
	}
}

func TestSelect_LatencyCeilingExcludesPeer(t *testing.T) {
	p := New(newFakeConn(), config.PolicyFirst, "", 50*time.Millisecond)
	p.Add("peer-a")
	p.UpdateMetadata("peer-a", 200*time.Millisecond, block.ChainMetadata{})
	p.Add("peer-b")
	p.UpdateMetadata("peer-b", 10*time.Millisecond, block.ChainMetadata{})

	sp, err := p.Select()
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sp.NodeID != "peer-b" {
		t.Fatalf("got %s, want peer-b (peer-a over latency ceiling)", sp.NodeID)
	}
}

func TestBan_RemovesFromPool(t *testing.T) {
	conn := newFakeConn()
	p := New(conn, config.PolicyFirst, "", 0)
	p.Add("peer-a")

	p.Ban("peer-a", 10*time.Minute, "bad header count")

	if conn.banned["peer-a"] != 10*time.Minute {
		t.Fatalf("Ban did not reach ConnectivityService: %v", conn.banned)
	}
	if p.Len() != 0 {
		t.Fatalf("peer should be removed from pool after ban, Len() = %d", p.Len())
	}
}

func TestClearExclusions(t *testing.T) {
	p := New(newFakeConn(), config.PolicyFirst, "", 0)
	p.Add("peer-a")
	p.Exclude("peer-a")
	if _, err := p.Select(); err == nil {
		t.Fatal("expected excluded peer to be ineligible")
	}
	p.ClearExclusions()
	sp, err := p.Select()
	if err != nil || sp.NodeID != "peer-a" {
		t.Fatalf("expected peer-a eligible after ClearExclusions, got %v, %v", sp, err)
	}
}
