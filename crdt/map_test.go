package crdt

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

func TestMapSetGet(t *testing.T) {
	a := actor(1)
	m := NewMap()
	if err := m.Set("k", []byte("v1"), Dot{a, 1}); err != nil {
		t.Fatal(err)
	}
	if v, ok := m.Get("k"); !ok || !bytes.Equal(v, []byte("v1")) {
		t.Fatalf("got %q %v", v, ok)
	}
	if err := m.Set("k", []byte("v2"), Dot{a, 2}); err != nil {
		t.Fatal(err)
	}
	if v, _ := m.Get("k"); !bytes.Equal(v, []byte("v2")) {
		t.Fatalf("got %q", v)
	}
	if m.Len() != 1 {
		t.Fatalf("len %d", m.Len())
	}
}

func TestMapStaleWrite(t *testing.T) {
	a := actor(1)
	m := NewMap()
	if err := m.Set("k", []byte("v"), Dot{a, 2}); err != nil {
		t.Fatal(err)
	}
	if err := m.Set("k", []byte("w"), Dot{a, 2}); !errors.Is(err, ErrStaleWrite) {
		t.Fatalf("replay: %v", err)
	}
	if err := m.Set("k", []byte("w"), Dot{a, 1}); !errors.Is(err, ErrStaleWrite) {
		t.Fatalf("older counter: %v", err)
	}
	if err := m.Set("k", []byte("w"), Dot{}); !errors.Is(err, ErrStaleWrite) {
		t.Fatalf("zero dot: %v", err)
	}
	// State must be unchanged after the rejected writes.
	if v, _ := m.Get("k"); !bytes.Equal(v, []byte("v")) {
		t.Fatalf("got %q", v)
	}
}

func TestMapDelete(t *testing.T) {
	a := actor(1)
	m := NewMap()
	if err := m.Delete("absent", Dot{a, 1}); !errors.Is(err, ErrNoSuchEntry) {
		t.Fatalf("absent: %v", err)
	}
	if err := m.Set("k", []byte("v"), Dot{a, 1}); err != nil {
		t.Fatal(err)
	}
	if err := m.Delete("k", Dot{a, 2}); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Get("k"); ok {
		t.Fatal("deleted key still live")
	}
	if err := m.Delete("k", Dot{a, 3}); !errors.Is(err, ErrNoSuchEntry) {
		t.Fatalf("double delete: %v", err)
	}
	// A later write resurrects the key.
	if err := m.Set("k", []byte("back"), Dot{a, 3}); err != nil {
		t.Fatal(err)
	}
	if v, ok := m.Get("k"); !ok || !bytes.Equal(v, []byte("back")) {
		t.Fatalf("got %q %v", v, ok)
	}
}

func TestMapDominanceWins(t *testing.T) {
	a, b := actor(1), actor(2)
	m := NewMap()

	// Writer b saw a's write; its entry dominates.
	m.ApplyRemote(MapEntry{Key: "k", Value: []byte("old"), Clock: Clock{a: 1}, Dot: Dot{a, 1}})
	m.ApplyRemote(MapEntry{Key: "k", Value: []byte("new"), Clock: Clock{a: 1, b: 1}, Dot: Dot{b, 1}})
	if v, _ := m.Get("k"); !bytes.Equal(v, []byte("new")) {
		t.Fatalf("got %q", v)
	}

	// Dominated entry arriving later must not win.
	m.ApplyRemote(MapEntry{Key: "k", Value: []byte("old"), Clock: Clock{a: 1}, Dot: Dot{a, 1}})
	if v, _ := m.Get("k"); !bytes.Equal(v, []byte("new")) {
		t.Fatalf("dominated entry won: %q", v)
	}
}

func TestMapConcurrentTieBreak(t *testing.T) {
	lo, hi := actor(1), actor(2)

	incoming := []MapEntry{
		{Key: "k", Value: []byte("from-lo"), Clock: Clock{lo: 1}, Dot: Dot{lo, 1}},
		{Key: "k", Value: []byte("from-hi"), Clock: Clock{hi: 1}, Dot: Dot{hi, 1}},
	}

	// Higher actor id wins either delivery order.
	forward, backward := NewMap(), NewMap()
	forward.Merge(incoming)
	backward.Merge([]MapEntry{incoming[1], incoming[0]})

	for _, m := range []*Map{forward, backward} {
		if v, _ := m.Get("k"); !bytes.Equal(v, []byte("from-hi")) {
			t.Fatalf("got %q", v)
		}
		// The winner keeps its own write clock; the witnessed clock holds
		// the join, so a replay of the beaten write is never accepted.
		e, _ := m.Entry("k")
		if e.Clock.Get(hi) != 1 || e.Clock.Get(lo) != 0 {
			t.Fatalf("winner clock %v", e.Clock)
		}
		if obs := m.Observed("k"); obs.Get(lo) != 1 || obs.Get(hi) != 1 {
			t.Fatalf("observed clock %v", obs)
		}
	}
}

func allOrders(entries []MapEntry) [][]MapEntry {
	if len(entries) <= 1 {
		return [][]MapEntry{append([]MapEntry(nil), entries...)}
	}
	var out [][]MapEntry
	for i := range entries {
		rest := make([]MapEntry, 0, len(entries)-1)
		rest = append(rest, entries[:i]...)
		rest = append(rest, entries[i+1:]...)
		for _, tail := range allOrders(rest) {
			out = append(out, append([]MapEntry{entries[i]}, tail...))
		}
	}
	return out
}

func TestMapDominatingWriteBeatsEarlierTieWinner(t *testing.T) {
	x, y, z := actor(3), actor(2), actor(1)
	// Y saw X and supersedes it; Z is concurrent with both. Every delivery
	// order must resolve to Y: it wins the dot tie-break against Z, and X
	// stays dead even when it arrives after Y has already been resolved
	// against Z.
	entries := []MapEntry{
		{Key: "k", Value: []byte("vX"), Clock: Clock{x: 1}, Dot: Dot{x, 1}},
		{Key: "k", Value: []byte("vY"), Clock: Clock{x: 1, y: 1}, Dot: Dot{y, 1}},
		{Key: "k", Value: []byte("vZ"), Clock: Clock{z: 1}, Dot: Dot{z, 1}},
	}
	for _, order := range allOrders(entries) {
		m := NewMap()
		m.Merge(order)
		if v, _ := m.Get("k"); !bytes.Equal(v, []byte("vY")) {
			t.Fatalf("got %q", v)
		}
		if got := len(m.Entries()); got != 2 {
			t.Fatalf("frontier size %d", got)
		}
	}
}

func TestMapConvergesWhenPairwiseRulesCycle(t *testing.T) {
	x, z, y := actor(3), actor(2), actor(1)
	// Pairwise: a supersedes b, b out-dots c, c out-dots a. The retained
	// frontier {a, c} resolves to c under every delivery order.
	a := MapEntry{Key: "k", Value: []byte("va"), Clock: Clock{x: 1, y: 1}, Dot: Dot{y, 1}}
	b := MapEntry{Key: "k", Value: []byte("vb"), Clock: Clock{x: 1}, Dot: Dot{x, 1}}
	c := MapEntry{Key: "k", Value: []byte("vc"), Clock: Clock{z: 1}, Dot: Dot{z, 1}}
	for _, order := range allOrders([]MapEntry{a, b, c}) {
		m := NewMap()
		m.Merge(order)
		m.Merge(order) // duplicate delivery
		if v, _ := m.Get("k"); !bytes.Equal(v, []byte("vc")) {
			t.Fatalf("got %q", v)
		}
	}
}

func TestMapConcurrentSameActorHigherCounterWins(t *testing.T) {
	a, b, c := actor(1), actor(2), actor(3)
	m := NewMap()
	// Concurrent clocks (each ahead on a different axis), same writing actor:
	// the higher counter breaks the tie.
	m.ApplyRemote(MapEntry{Key: "k", Value: []byte("b1"), Clock: Clock{b: 1, c: 5}, Dot: Dot{b, 1}})
	m.ApplyRemote(MapEntry{Key: "k", Value: []byte("b2"), Clock: Clock{a: 1, b: 2}, Dot: Dot{b, 2}})
	if v, _ := m.Get("k"); !bytes.Equal(v, []byte("b2")) {
		t.Fatalf("got %q", v)
	}
}

func TestMapMergeConvergesUnderAnyDeliveryOrder(t *testing.T) {
	a, b, c := actor(1), actor(2), actor(3)

	entries := []MapEntry{
		{Key: "x", Value: []byte("ax"), Clock: Clock{a: 1}, Dot: Dot{a, 1}},
		{Key: "x", Value: []byte("bx"), Clock: Clock{b: 1}, Dot: Dot{b, 1}},
		{Key: "x", Value: []byte("cx"), Clock: Clock{a: 1, b: 1, c: 1}, Dot: Dot{c, 1}},
		{Key: "y", Value: nil, Clock: Clock{a: 2}, Dot: Dot{a, 2}, Tombstone: true},
		{Key: "y", Value: []byte("by"), Clock: Clock{b: 2}, Dot: Dot{b, 2}},
		{Key: "z", Value: []byte("az"), Clock: Clock{a: 3}, Dot: Dot{a, 3}},
	}

	ref := NewMap()
	ref.Merge(entries)
	wantX, _ := ref.Get("x")
	wantYLive := false
	if _, ok := ref.Get("y"); ok {
		wantYLive = true
	}

	rng := rand.New(rand.NewSource(11))
	for trial := 0; trial < 20; trial++ {
		shuffled := append([]MapEntry(nil), entries...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		m := NewMap()
		m.Merge(shuffled)
		m.Merge(shuffled) // duplicate delivery

		if v, _ := m.Get("x"); !bytes.Equal(v, wantX) {
			t.Fatalf("trial %d: x=%q want %q", trial, v, wantX)
		}
		if _, ok := m.Get("y"); ok != wantYLive {
			t.Fatalf("trial %d: y live=%v want %v", trial, ok, wantYLive)
		}
		if v, _ := m.Get("z"); !bytes.Equal(v, []byte("az")) {
			t.Fatalf("trial %d: z=%q", trial, v)
		}
	}
}

func TestMapEntriesIncludeTombstones(t *testing.T) {
	a := actor(1)
	m := NewMap()
	if err := m.Set("k", []byte("v"), Dot{a, 1}); err != nil {
		t.Fatal(err)
	}
	if err := m.Delete("k", Dot{a, 2}); err != nil {
		t.Fatal(err)
	}
	entries := m.Entries()
	if len(entries) != 1 || !entries[0].Tombstone {
		t.Fatalf("entries %v", entries)
	}
	if got := m.Keys(); len(got) != 0 {
		t.Fatalf("keys %v", got)
	}
}
