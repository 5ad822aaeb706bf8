package storage_test

import (
	"bytes"
	"testing"

	"github.com/oetyng/safe-nd/address"
	"github.com/oetyng/safe-nd/storage"
)

func TestMultiCAS_PutWritesFirstOnly(t *testing.T) {
	first, second := storage.NewMemory(), storage.NewMemory()
	m := storage.MultiCAS{Adapters: []storage.CAS{first, second}}

	id, err := m.Put([]byte("block"))
	if err != nil {
		t.Fatal(err)
	}
	if !first.Has(id) {
		t.Fatal("first adapter missing the block")
	}
	if second.Has(id) {
		t.Fatal("Put must not write past the first adapter")
	}
}

func TestMultiCAS_GetFallsBackInOrder(t *testing.T) {
	first, second := storage.NewMemory(), storage.NewMemory()
	payload := []byte("only in second")
	id, err := second.Put(payload)
	if err != nil {
		t.Fatal(err)
	}

	m := storage.MultiCAS{Adapters: []storage.CAS{first, second}}
	got, err := m.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("payload mismatch")
	}
	if !m.Has(id) {
		t.Fatal("Has must consult every adapter")
	}
}

func TestMultiCAS_MissEverywhere(t *testing.T) {
	id, err := address.ContentID([]byte("absent"))
	if err != nil {
		t.Fatal(err)
	}
	m := storage.MultiCAS{Adapters: []storage.CAS{storage.NewMemory(), storage.NewMemory()}}
	if _, err := m.Get(id); !storage.IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := (storage.MultiCAS{}).Put([]byte("x")); err == nil {
		t.Fatal("Put with no adapters must fail")
	}
}
