package syncerrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
		ok   bool
	}{
		{"peer misbehavior", New(PeerMisbehavior, "bad header count"), PeerMisbehavior, true},
		{"validation fatal", New(ValidationFatal, "kernel sum mismatch"), ValidationFatal, true},
		{"plain error", errors.New("boom"), 0, false},
		{"nil", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := KindOf(tt.err)
			if ok != tt.ok {
				t.Fatalf("KindOf() ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestError_Wraps(t *testing.T) {
	cause := errors.New("stream closed")
	err := Wrap(PeerTransient, "rpc timeout", cause)

	wrapped := fmt.Errorf("syncing headers: %w", err)
	if !Is(wrapped, PeerTransient) {
		t.Error("Is() should see through fmt.Errorf wrapping")
	}
	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is should find the original cause through Unwrap")
	}
}

func TestWrapPeer_IncludesPeerID(t *testing.T) {
	err := WrapPeer(PeerMisbehavior, "peer-42", "invalid MMR root", nil)
	if err.PeerID != "peer-42" {
		t.Errorf("PeerID = %q, want peer-42", err.PeerID)
	}
	if got := err.Error(); got == "" {
		t.Error("Error() should not be empty")
	}
}

func TestIs_FalseForWrongKind(t *testing.T) {
	err := New(StorageFatal, "badger write failed")
	if Is(err, PeerMisbehavior) {
		t.Error("Is() should not match a different Kind")
	}
}

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{PeerMisbehavior, "peer_misbehavior"},
		{PeerTransient, "peer_transient"},
		{NoCandidates, "no_candidates"},
		{ValidationFatal, "validation_fatal"},
		{StorageFatal, "storage_fatal"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
