package blocksync

import "errors"

// Named failure conditions the block sync engine reports, each wrapped in
// a syncerrors.Error carrying the Kind that tells the caller whether to
// ban a peer, retry, or simply return to listening.
var (
	ErrEmptyNetworkBestBlock     = errors.New("sync peer advertises no best block")
	ErrEmptyBlockchain           = errors.New("local chain is uninitialised")
	ErrInvalidChainLink          = errors.New("chain link check failed: prev_hash does not match the expected header")
	ErrForkChainNotLinked        = errors.New("no chain split found before exhausting the header search")
	ErrMaxRequestAttemptsReached  = errors.New("max block request retry attempts reached")
	ErrMaxAddBlockAttemptsReached = errors.New("max add-block retry attempts reached")
)
