// Package storage persists blocks and the chain head pointer for one network.
package storage

import "errors"

// ErrNotFound is returned by DB implementations for missing keys.
var ErrNotFound = errors.New("key not found")

// DB is the key-value backend of a Store.
type DB interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	// ForEach visits keys with the given prefix, starting at the first key
	// not less than start, in ascending order. A nil start begins at the
	// prefix. Returning an error from fn stops the iteration.
	ForEach(prefix, start []byte, fn func(key, value []byte) error) error
	// NewBatch starts a set of writes that become visible atomically on Commit.
	NewBatch() Batch
	Close() error
}

// Batch buffers writes until Commit.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Commit() error
}

type batchOp struct {
	key    []byte
	value  []byte
	delete bool
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
