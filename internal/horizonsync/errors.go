package horizonsync

import (
	"errors"

	"github.com/shardwimble/basenode/internal/syncerrors"
)

// Named failure conditions the horizon sync engine reports, each wrapped
// in a syncerrors.Error at the call site so the caller pattern-matches on
// Kind rather than on these directly.
var (
	ErrPeerSentTooManyKernels = errors.New("peer sent too many kernels")
	ErrDidNotSendAllKernels   = errors.New("did not send all kernels")
	ErrPeerSentTooManyOutputs = errors.New("peer sent too many outputs")
	ErrInvalidMrRoot          = errors.New("horizon sync: mmr/smt root mismatch")
	ErrScriptTooLarge         = errors.New("output script exceeds max_script_byte_size")
	ErrInvalidRangeProof      = errors.New("output range proof verification failed")
	ErrInvalidKernelSignature = errors.New("kernel signature verification failed")
	ErrUnknownContainingHeader = errors.New("output references an unknown containing header")
	ErrFinalStateValidationFailed = errors.New("final horizon state validation rejected the computed sums")

	errAllSyncPeersExceedLatency = errors.New("all sync peers exceed the latency ceiling")
	errNoSyncPeers               = errors.New("no sync peers available for horizon sync")
)

// errAllPeersExceedLatency is the internal sentinel attemptRound uses to
// tell RunOnce's outer loop "raise the ceiling and try again" without
// yet committing to the terminal AllSyncPeersExceedLatency failure.
var errAllPeersExceedLatency = errors.New("horizon sync: every dialed peer this round exceeded the latency ceiling")

func wrapStorageFatal(msg string, err error) error {
	return syncerrors.Wrap(syncerrors.StorageFatal, msg, err)
}

func wrapPeerTransient(peerID, msg string, err error) error {
	return syncerrors.WrapPeer(syncerrors.PeerTransient, peerID, msg, err)
}

func wrapPeerMisbehavior(peerID, msg string, err error) error {
	return syncerrors.WrapPeer(syncerrors.PeerMisbehavior, peerID, msg, err)
}

func wrapNoCandidates(msg string, err error) error {
	return syncerrors.Wrap(syncerrors.NoCandidates, msg, err)
}

func wrapValidationFatal(msg string, err error) error {
	return syncerrors.Wrap(syncerrors.ValidationFatal, msg, err)
}

func isStorageFatal(err error) bool {
	return syncerrors.Is(err, syncerrors.StorageFatal)
}
