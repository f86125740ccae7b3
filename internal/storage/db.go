// Package storage provides database abstractions.
package storage

import "errors"

// ErrKeyNotFound is returned by Get when a key is absent, so callers can
// tell a miss apart from a backend failure.
var ErrKeyNotFound = errors.New("key not found")

// DB is the interface for key-value storage.
type DB interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach iterates over all keys with the given prefix.
	// The callback receives a copy of the key and value.
	// Return a non-nil error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

// Snapshot is a point-in-time read-only view of a DB, unaffected by writes
// committed after it was taken.
type Snapshot interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

// Snapshotter is implemented by DB backends that can produce a consistent
// Snapshot. Backends that don't implement it fall back to reading through
// the live DB directly; since Store only ever allows one writer at a time,
// this is still consistent, just without true MVCC isolation.
type Snapshotter interface {
	NewSnapshot() (Snapshot, error)
}

// BatchOp is one write in an atomic batch: a put of Value under Key, or a
// deletion of Key when Delete is set.
type BatchOp struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// Batcher is implemented by DB backends that can apply a set of writes
// atomically. WriteTxn.Commit uses it when available; backends without it
// are written through one key at a time under the store's exclusive write
// lock.
type Batcher interface {
	ApplyBatch(ops []BatchOp) error
}
