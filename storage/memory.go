package storage

import (
	"sync"

	"github.com/ipfs/go-cid"

	"github.com/oetyng/safe-nd/address"
)

// Memory is an in-process CAS for tests and ephemeral replicas.
type Memory struct {
	mu      sync.RWMutex
	objects map[cid.Cid][]byte
}

var _ CAS = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{objects: map[cid.Cid][]byte{}}
}

func (m *Memory) Put(bytes []byte) (cid.Cid, error) {
	id, err := address.ContentID(bytes)
	if err != nil {
		return cid.Undef, err
	}
	if !id.Defined() {
		return cid.Undef, ErrInvalidCID
	}
	cp := make([]byte, len(bytes))
	copy(cp, bytes)
	m.mu.Lock()
	m.objects[id] = cp
	m.mu.Unlock()
	return id, nil
}

func (m *Memory) Get(id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, ErrInvalidCID
	}
	m.mu.RLock()
	b, ok := m.objects[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (m *Memory) Has(id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	m.mu.RLock()
	_, ok := m.objects[id]
	m.mu.RUnlock()
	return ok
}
