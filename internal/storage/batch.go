package storage

// Batch accumulates writes to apply atomically on Commit. It is the
// primitive the chain storage facade's write transaction is built on:
// every consensus-state mutation for one block must land together or
// not at all.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Commit() error
}

// Batcher is implemented by a DB that can produce an atomic Batch.
// PrefixDB falls back to non-atomic sequential writes when its inner DB
// doesn't implement this.
type Batcher interface {
	NewBatch() Batch
}
