package storage

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Store is an ordered key/value store over a DB backend, exposing named
// Tables and transactions. Only one WriteTxn may be open at a time; this
// is enforced by an exclusive lock rather than backend-level MVCC, which
// also makes a plain pass-through ReadTxn safe on backends without a
// Snapshotter.
type Store struct {
	db DB
	mu sync.Mutex
}

// NewStore wraps db in a Store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Table returns a namespacing handle over name. Tables are cheap value
// types; callers may create one per call site.
func (s *Store) Table(name string) Table {
	return Table{name: name}
}

// Table is a namespacing handle. The key a table writes under is
// "name/(index+1)/userKey" — index -1 is the primary index, index >= 0
// addresses a secondary index. This keeps primary and secondary scans
// disjoint and independently prefix-iterable.
type Table struct {
	name string
}

func (t Table) key(index int, userKey string) []byte {
	return []byte(fmt.Sprintf("%s/%d/%s", t.name, index+1, userKey))
}

func (t Table) prefix(index int) []byte {
	return []byte(fmt.Sprintf("%s/%d/", t.name, index+1))
}

// stripPrefix removes the table/index namespace from a raw key, returning
// the caller's userKey.
func (t Table) stripPrefix(index int, rawKey []byte) string {
	return strings.TrimPrefix(string(rawKey), string(t.prefix(index)))
}

// tableIndexFromKey parses the table name and index back out of a raw
// key. The Iterators do not use it, since callers scope their iteration
// to a single table/index; tests use it to check the key encoding.
func tableIndexFromKey(rawKey []byte) (name string, index int, userKey string, err error) {
	parts := strings.SplitN(string(rawKey), "/", 3)
	if len(parts) != 3 {
		return "", 0, "", fmt.Errorf("malformed storage key: %q", rawKey)
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, "", fmt.Errorf("malformed storage key index: %q", rawKey)
	}
	return parts[0], n - 1, parts[2], nil
}

// entry is a buffered write, either a put (Value set, Deleted false) or an
// erase (Deleted true).
type entry struct {
	value   []byte
	deleted bool
}

// WriteTxn buffers writes in memory until Commit flushes them as a single
// pass over the backend. Only one WriteTxn may be open on a Store at a
// time.
type WriteTxn struct {
	store  *Store
	buffer map[string]entry
	done   bool
}

// Begin opens the store's single write transaction. Blocks until any
// previously open WriteTxn is committed or aborted.
func (s *Store) Begin() *WriteTxn {
	s.mu.Lock()
	return &WriteTxn{store: s, buffer: make(map[string]entry)}
}

// Put buffers a write of value under table/index/userKey.
func (w *WriteTxn) Put(table Table, index int, userKey string, value []byte) {
	w.buffer[string(table.key(index, userKey))] = entry{value: value}
}

// Erase buffers a deletion of table/index/userKey.
func (w *WriteTxn) Erase(table Table, index int, userKey string) {
	w.buffer[string(table.key(index, userKey))] = entry{deleted: true}
}

// Get reads table/index/userKey, checking the write buffer first and
// falling back to the backend's committed contents.
func (w *WriteTxn) Get(table Table, index int, userKey string) ([]byte, bool, error) {
	key := table.key(index, userKey)
	if e, ok := w.buffer[string(key)]; ok {
		if e.deleted {
			return nil, false, nil
		}
		return e.value, true, nil
	}
	val, err := w.store.db.Get(key)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Has reports whether table/index/userKey is present, accounting for
// buffered writes not yet committed.
func (w *WriteTxn) Has(table Table, index int, userKey string) (bool, error) {
	_, ok, err := w.Get(table, index, userKey)
	return ok, err
}

// Iterator scans table/index in key order, overlaying buffered writes on
// top of the backend's committed contents.
func (w *WriteTxn) Iterator(table Table, index int, userKeyPrefix string) ([]KV, error) {
	prefix := append(table.prefix(index), []byte(userKeyPrefix)...)
	merged := make(map[string][]byte)

	err := w.store.db.ForEach(prefix, func(key, value []byte) error {
		merged[string(key)] = value
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table.name, err)
	}
	for k, e := range w.buffer {
		if !strings.HasPrefix(k, string(prefix)) {
			continue
		}
		if e.deleted {
			delete(merged, k)
			continue
		}
		merged[k] = e.value
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]KV, len(keys))
	for i, k := range keys {
		out[i] = KV{Key: table.stripPrefix(index, []byte(k)), Value: merged[k]}
	}
	return out, nil
}

// Commit flushes the buffer to the backend, as a single atomic batch on
// backends that support one. Nothing is written if the buffer is empty.
// The store's write lock is released whether Commit succeeds or fails.
func (w *WriteTxn) Commit() error {
	if w.done {
		return fmt.Errorf("storage: transaction already closed")
	}
	defer w.close()

	if batcher, ok := w.store.db.(Batcher); ok {
		ops := make([]BatchOp, 0, len(w.buffer))
		for key, e := range w.buffer {
			ops = append(ops, BatchOp{Key: []byte(key), Value: e.value, Delete: e.deleted})
		}
		return batcher.ApplyBatch(ops)
	}

	for key, e := range w.buffer {
		if e.deleted {
			if err := w.store.db.Delete([]byte(key)); err != nil {
				return fmt.Errorf("commit delete %s: %w", key, err)
			}
			continue
		}
		if err := w.store.db.Put([]byte(key), e.value); err != nil {
			return fmt.Errorf("commit put %s: %w", key, err)
		}
	}
	return nil
}

// Abort discards the buffer without writing anything.
func (w *WriteTxn) Abort() {
	if w.done {
		return
	}
	w.close()
}

func (w *WriteTxn) close() {
	w.done = true
	w.buffer = nil
	w.store.mu.Unlock()
}

// KV is a single key/value pair returned by Iterator, with the table/index
// namespace already stripped from Key.
type KV struct {
	Key   string
	Value []byte
}

// ReadTxn is a read-only view of the store, snapshotted at creation on
// backends that implement Snapshotter.
type ReadTxn struct {
	store    *Store
	snapshot Snapshot // nil if the backend has no Snapshotter
	closed   bool
}

// BeginReadOnly opens a read-only transaction. It does not take the
// store's write lock: reads may proceed concurrently with a writer,
// consulting the consistent snapshot taken here when the backend supports
// it.
func (s *Store) BeginReadOnly() (*ReadTxn, error) {
	if snapper, ok := s.db.(Snapshotter); ok {
		snap, err := snapper.NewSnapshot()
		if err != nil {
			return nil, fmt.Errorf("open read snapshot: %w", err)
		}
		return &ReadTxn{store: s, snapshot: snap}, nil
	}
	return &ReadTxn{store: s}, nil
}

// Get reads table/index/userKey from the transaction's snapshot.
func (r *ReadTxn) Get(table Table, index int, userKey string) ([]byte, bool, error) {
	key := table.key(index, userKey)
	var (
		val []byte
		err error
	)
	if r.snapshot != nil {
		val, err = r.snapshot.Get(key)
	} else {
		val, err = r.store.db.Get(key)
	}
	if errors.Is(err, ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Has reports whether table/index/userKey is present in the snapshot.
func (r *ReadTxn) Has(table Table, index int, userKey string) (bool, error) {
	_, ok, err := r.Get(table, index, userKey)
	return ok, err
}

// Iterator scans table/index in key order over the transaction's
// snapshot.
func (r *ReadTxn) Iterator(table Table, index int, userKeyPrefix string) ([]KV, error) {
	prefix := append(table.prefix(index), []byte(userKeyPrefix)...)
	var keys []string
	values := make(map[string][]byte)

	forEach := r.store.db.ForEach
	if r.snapshot != nil {
		forEach = r.snapshot.ForEach
	}
	err := forEach(prefix, func(key, value []byte) error {
		keys = append(keys, string(key))
		values[string(key)] = value
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table.name, err)
	}
	sort.Strings(keys)

	out := make([]KV, len(keys))
	for i, k := range keys {
		out[i] = KV{Key: table.stripPrefix(index, []byte(k)), Value: values[k]}
	}
	return out, nil
}

// Close releases the transaction's snapshot, if any.
func (r *ReadTxn) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.snapshot != nil {
		return r.snapshot.Close()
	}
	return nil
}
