package storage_test

import (
	"bytes"
	"testing"

	"github.com/ipfs/go-cid"

	"github.com/oetyng/safe-nd/storage"
)

func TestReplicatingCAS_PutAllWritesEveryBackend(t *testing.T) {
	a, b := storage.NewMemory(), storage.NewMemory()
	r := storage.ReplicatingCAS{Backends: []storage.NamedCAS{
		{Name: "a", CAS: a},
		{Name: "b", CAS: b},
	}}

	want, perBackend, err := r.PutAll([]byte("replicated"))
	if err != nil {
		t.Fatal(err)
	}
	if len(perBackend) != 2 {
		t.Fatalf("per-backend map %v", perBackend)
	}
	for name, got := range perBackend {
		if got != want {
			t.Fatalf("backend %s returned %s want %s", name, got, want)
		}
	}
	if !a.Has(want) || !b.Has(want) {
		t.Fatal("block missing from a backend")
	}
}

func TestReplicatingCAS_GetFallsBack(t *testing.T) {
	a, b := storage.NewMemory(), storage.NewMemory()
	payload := []byte("only in b")
	id, err := b.Put(payload)
	if err != nil {
		t.Fatal(err)
	}
	r := storage.ReplicatingCAS{Backends: []storage.NamedCAS{
		{Name: "a", CAS: a},
		{Name: "b", CAS: b},
	}}
	got, err := r.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("payload mismatch")
	}
}

type wrongCIDStore struct{}

func (wrongCIDStore) Put([]byte) (cid.Cid, error) {
	return cid.Cid{}, nil
}
func (wrongCIDStore) Get(cid.Cid) ([]byte, error) { return nil, storage.ErrNotFound }
func (wrongCIDStore) Has(cid.Cid) bool            { return false }

func TestReplicatingCAS_RejectsDivergentCID(t *testing.T) {
	r := storage.ReplicatingCAS{Backends: []storage.NamedCAS{
		{Name: "good", CAS: storage.NewMemory()},
		{Name: "bad", CAS: wrongCIDStore{}},
	}}
	if _, err := r.Put([]byte("x")); err != storage.ErrCIDMismatch {
		t.Fatalf("expected ErrCIDMismatch, got %v", err)
	}
}
