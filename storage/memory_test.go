package storage_test

import (
	"bytes"
	"testing"

	"github.com/oetyng/safe-nd/storage"
	"github.com/oetyng/safe-nd/storage/testkit"
)

func TestMemory_Conformance(t *testing.T) {
	testkit.RunCASConformance(t, func(t *testing.T) storage.CAS {
		return storage.NewMemory()
	})
}

func TestMemory_GetReturnsIsolatedCopy(t *testing.T) {
	m := storage.NewMemory()
	id, err := m.Put([]byte("original"))
	if err != nil {
		t.Fatal(err)
	}
	got, err := m.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	got[0] = 'X'

	again, err := m.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(again, []byte("original")) {
		t.Fatal("caller mutation leaked into the store")
	}
}
