package storage

import (
	"sort"
	"strings"
	"sync"
)

// MemoryDB implements DB using an in-memory map, with ForEach returning
// keys in lexicographic order so regtest and test backends exhibit the
// same ordered-iteration behavior as BadgerDB.
type MemoryDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates a new in-memory database.
func NewMemory() *MemoryDB {
	return &MemoryDB{
		data: make(map[string][]byte),
	}
}

// Get retrieves a value by key.
func (m *MemoryDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Put stores a key-value pair.
func (m *MemoryDB) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.data[string(key)] = v
	return nil
}

// Delete removes a key.
func (m *MemoryDB) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

// Has checks if a key exists.
func (m *MemoryDB) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[string(key)]
	return ok, nil
}

// ForEach iterates over all keys with the given prefix, in lexicographic
// key order.
func (m *MemoryDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	m.mu.RLock()
	p := string(prefix)
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if strings.HasPrefix(k, p) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	values := make([][]byte, len(keys))
	for i, k := range keys {
		v := make([]byte, len(m.data[k]))
		copy(v, m.data[k])
		values[i] = v
	}
	m.mu.RUnlock()

	for i, k := range keys {
		if err := fn([]byte(k), values[i]); err != nil {
			return err
		}
	}
	return nil
}

// ApplyBatch applies every op under a single lock acquisition.
func (m *MemoryDB) ApplyBatch(ops []BatchOp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range ops {
		if op.Delete {
			delete(m.data, string(op.Key))
			continue
		}
		v := make([]byte, len(op.Value))
		copy(v, op.Value)
		m.data[string(op.Key)] = v
	}
	return nil
}

// Close closes the database.
func (m *MemoryDB) Close() error {
	return nil
}

// NewSnapshot returns a point-in-time copy of the database's contents, used
// by ReadTxn to give read-only callers a consistent view.
func (m *MemoryDB) NewSnapshot() (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	clone := NewMemory()
	for k, v := range m.data {
		cp := make([]byte, len(v))
		copy(cp, v)
		clone.data[k] = cp
	}
	return clone, nil
}
