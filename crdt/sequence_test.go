package crdt

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

func seqValues(s *Sequence) []string {
	var out []string
	for _, v := range s.Values() {
		out = append(out, string(v))
	}
	return out
}

func TestSequenceInsertOrder(t *testing.T) {
	a := actor(1)
	s := NewSequence()

	first := Dot{a, 1}
	if err := s.Insert(Dot{}, []byte("one"), first); err != nil {
		t.Fatal(err)
	}
	second := Dot{a, 2}
	if err := s.Insert(first, []byte("two"), second); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert(second, []byte("three"), Dot{a, 3}); err != nil {
		t.Fatal(err)
	}

	got := seqValues(s)
	want := []string{"one", "two", "three"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestSequenceStaleWrite(t *testing.T) {
	a := actor(1)
	s := NewSequence()
	if err := s.Insert(Dot{}, []byte("x"), Dot{a, 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert(Dot{}, []byte("y"), Dot{a, 1}); !errors.Is(err, ErrStaleWrite) {
		t.Fatalf("replayed counter: %v", err)
	}
	if err := s.Insert(Dot{}, []byte("y"), Dot{}); !errors.Is(err, ErrStaleWrite) {
		t.Fatalf("zero id: %v", err)
	}
}

func TestSequenceUnknownPredecessor(t *testing.T) {
	a := actor(1)
	s := NewSequence()
	if err := s.Insert(Dot{a, 99}, []byte("x"), Dot{a, 1}); !errors.Is(err, ErrUnknownPredecessor) {
		t.Fatalf("expected ErrUnknownPredecessor, got %v", err)
	}
	// Recoverable: once the predecessor arrives the insert succeeds.
	if err := s.ApplyRemote(SequenceEntry{ID: Dot{a, 99}, Value: []byte("p")}); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert(Dot{a, 99}, []byte("x"), Dot{a, 100}); err != nil {
		t.Fatal(err)
	}
}

func TestSequenceRemove(t *testing.T) {
	a := actor(1)
	s := NewSequence()
	id := Dot{a, 1}
	if err := s.Insert(Dot{}, []byte("x"), id); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(id); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 0 {
		t.Fatal("tombstoned entry still counted live")
	}
	if !s.Contains(id) {
		t.Fatal("tombstoned entry must stay known")
	}
	// Re-removal is a no-op.
	if err := s.Remove(id); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(Dot{a, 42}); !errors.Is(err, ErrNoSuchEntry) {
		t.Fatalf("absent entry: %v", err)
	}
}

func TestSequenceConcurrentSiblingsTieBreak(t *testing.T) {
	lo, hi := actor(1), actor(2)

	// Both actors insert after the root concurrently. Lower actor id sorts
	// first regardless of delivery order.
	entries := []SequenceEntry{
		{ID: Dot{hi, 1}, After: Dot{}, Value: []byte("from-hi")},
		{ID: Dot{lo, 1}, After: Dot{}, Value: []byte("from-lo")},
	}

	forward := NewSequence()
	if rest := forward.Merge(entries); len(rest) != 0 {
		t.Fatalf("deferred %d entries", len(rest))
	}
	backward := NewSequence()
	if rest := backward.Merge([]SequenceEntry{entries[1], entries[0]}); len(rest) != 0 {
		t.Fatalf("deferred entries")
	}

	want := []string{"from-lo", "from-hi"}
	for i, got := range [][]string{seqValues(forward), seqValues(backward)} {
		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("order %d: got %v want %v", i, got, want)
			}
		}
	}
}

func TestSequenceMergeConvergesUnderAnyDeliveryOrder(t *testing.T) {
	a, b, c := actor(1), actor(2), actor(3)

	// Build a reference replica with interleaved causal inserts.
	ref := NewSequence()
	mustInsert := func(after Dot, v string, id Dot) {
		t.Helper()
		if err := ref.Insert(after, []byte(v), id); err != nil {
			t.Fatal(err)
		}
	}
	mustInsert(Dot{}, "a1", Dot{a, 1})
	mustInsert(Dot{a, 1}, "b1", Dot{b, 1})
	mustInsert(Dot{a, 1}, "c1", Dot{c, 1})
	mustInsert(Dot{b, 1}, "a2", Dot{a, 2})
	mustInsert(Dot{c, 1}, "b2", Dot{b, 2})
	if err := ref.Remove(Dot{b, 1}); err != nil {
		t.Fatal(err)
	}

	want := seqValues(ref)
	full := ref.Entries()

	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		shuffled := append([]SequenceEntry(nil), full...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		replica := NewSequence()
		if rest := replica.Merge(shuffled); len(rest) != 0 {
			t.Fatalf("trial %d: %d entries deferred from a full snapshot", trial, len(rest))
		}
		// Duplicate delivery is idempotent.
		if rest := replica.Merge(shuffled); len(rest) != 0 {
			t.Fatalf("trial %d: re-merge deferred entries", trial)
		}

		got := seqValues(replica)
		if len(got) != len(want) {
			t.Fatalf("trial %d: got %v want %v", trial, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("trial %d: got %v want %v", trial, got, want)
			}
		}
	}
}

func TestSequenceMergeDefersOrphans(t *testing.T) {
	a := actor(1)
	s := NewSequence()

	orphan := SequenceEntry{ID: Dot{a, 2}, After: Dot{a, 1}, Value: []byte("child")}
	rest := s.Merge([]SequenceEntry{orphan})
	if len(rest) != 1 || rest[0].ID != orphan.ID {
		t.Fatalf("expected orphan deferred, got %v", rest)
	}

	// Parent arrives, retry drains the remainder.
	if err := s.ApplyRemote(SequenceEntry{ID: Dot{a, 1}, Value: []byte("parent")}); err != nil {
		t.Fatal(err)
	}
	if rest := s.Merge(rest); len(rest) != 0 {
		t.Fatalf("still deferred: %v", rest)
	}
	if s.Len() != 2 {
		t.Fatalf("len %d", s.Len())
	}
}

func TestSequenceTombstoneMergesAcrossReplicas(t *testing.T) {
	a, b := actor(1), actor(2)

	left := NewSequence()
	if err := left.Insert(Dot{}, []byte("x"), Dot{a, 1}); err != nil {
		t.Fatal(err)
	}
	right := NewSequence()
	if rest := right.Merge(left.Entries()); len(rest) != 0 {
		t.Fatal("deferred")
	}
	_ = b

	// Right removes; left learns of it via merge.
	if err := right.Remove(Dot{a, 1}); err != nil {
		t.Fatal(err)
	}
	if rest := left.Merge(right.Entries()); len(rest) != 0 {
		t.Fatal("deferred")
	}
	if left.Len() != 0 {
		t.Fatal("tombstone did not propagate")
	}
	// Tombstones never resurrect.
	if rest := left.Merge([]SequenceEntry{{ID: Dot{a, 1}, After: Dot{}, Value: []byte("x")}}); len(rest) != 0 {
		t.Fatal("deferred")
	}
	if left.Len() != 0 {
		t.Fatal("live duplicate resurrected a tombstoned entry")
	}
}

func TestSequenceValueIsolation(t *testing.T) {
	a := actor(1)
	s := NewSequence()
	v := []byte("shared")
	if err := s.Insert(Dot{}, v, Dot{a, 1}); err != nil {
		t.Fatal(err)
	}
	v[0] = 'X'
	if !bytes.Equal(s.Values()[0], []byte("shared")) {
		t.Fatal("sequence must store its own copy of values")
	}
}
