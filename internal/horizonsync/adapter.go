package horizonsync

import "github.com/shardwimble/basenode/internal/chainstore"

// StoreAdapter adapts *chainstore.Store to the ChainStore interface this
// package consumes. It exists only because NewWriteTransaction on the
// concrete Store returns a concrete *chainstore.WriteTransaction rather
// than the narrower Tx interface; Go's method sets don't let a struct
// satisfy an interface whose method returns a different (even if
// structurally compatible) type without this kind of thin wrapper.
type StoreAdapter struct {
	*chainstore.Store
}

// NewWriteTransaction starts a write transaction against the wrapped
// store and returns it through the Tx interface.
func (a StoreAdapter) NewWriteTransaction() Tx {
	return a.Store.NewWriteTransaction()
}
