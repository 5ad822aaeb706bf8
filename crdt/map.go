package crdt

import (
	"sort"
)

// MapEntry is one versioned write to a key. Clock is the write's version
// vector: everything its writer had observed for the key, advanced by the
// write itself. Dot identifies the write and breaks ties between concurrent
// entries.
type MapEntry struct {
	Key       string
	Value     []byte
	Clock     Clock
	Dot       Dot
	Tombstone bool
}

// keyState is the replicated state of one key: the frontier of mutually
// concurrent writes, none of which dominates another, plus the join of every
// accepted write's clock. The join is needed because a stale write can be
// covered by the frontier jointly without any single member dominating it.
type keyState struct {
	frontier []MapEntry // ascending by dot; the last member is the winner
	seen     Clock
}

// head returns the entry the key resolves to: the frontier member with the
// highest dot.
func (ks *keyState) head() (MapEntry, bool) {
	if len(ks.frontier) == 0 {
		return MapEntry{}, false
	}
	return ks.frontier[len(ks.frontier)-1], true
}

// Map is a key-value CRDT where every key resolves independently.
//
// For a key, a write with a dominating version vector supersedes the writes
// it dominates. Writes that remain mutually concurrent are all retained in
// the key's frontier; the one with the highest dot (higher actor id wins,
// then higher counter) is the live value. Resolution is a pure function of
// the accepted writes, never of arrival order. Deletes are versioned
// tombstone writes; a dominating or tie-winning later set resurrects the key.
type Map struct {
	entries map[string]*keyState
}

// NewMap returns an empty map.
func NewMap() *Map {
	return &Map{entries: map[string]*keyState{}}
}

// Set writes a local value for key under the given dot.
//
// The dot's counter must exceed the actor's last counter recorded in the
// key's witnessed clock, otherwise the write is a replay and fails with
// ErrStaleWrite (reported, never silently dropped). The entry's clock is the
// witnessed clock advanced by the dot, so the local write causally follows
// everything the writer has seen.
func (m *Map) Set(key string, value []byte, d Dot) error {
	entry, err := m.localWrite(key, d)
	if err != nil {
		return err
	}
	entry.Value = cloneBytes(value)
	m.accept(entry)
	return nil
}

// Delete tombstones key with a versioned write. Deleting an absent or
// already-tombstoned key is ErrNoSuchEntry.
func (m *Map) Delete(key string, d Dot) error {
	if _, live := m.Get(key); !live {
		return ErrNoSuchEntry
	}
	entry, err := m.localWrite(key, d)
	if err != nil {
		return err
	}
	entry.Tombstone = true
	m.accept(entry)
	return nil
}

func (m *Map) localWrite(key string, d Dot) (MapEntry, error) {
	if d.Actor.IsZero() || d.Counter == 0 {
		return MapEntry{}, ErrStaleWrite
	}
	clock := m.Observed(key)
	if d.Counter <= clock.Get(d.Actor) {
		return MapEntry{}, ErrStaleWrite
	}
	clock.Witness(d)
	return MapEntry{Key: key, Clock: clock, Dot: d}, nil
}

// ApplyRemote folds a single remote entry into the map.
func (m *Map) ApplyRemote(e MapEntry) {
	m.accept(normalize(e))
}

// Merge folds a set of remote entries into the map. Commutative,
// associative, idempotent.
func (m *Map) Merge(entries []MapEntry) {
	for _, e := range entries {
		m.ApplyRemote(e)
	}
}

// accept folds one write into its key's state. A write whose clock is
// covered by the witnessed clock carries no new information and is dropped;
// otherwise it evicts every frontier entry it dominates and joins the
// frontier itself.
func (m *Map) accept(e MapEntry) {
	if len(e.Clock) == 0 {
		return
	}
	ks, ok := m.entries[e.Key]
	if !ok {
		ks = &keyState{seen: Clock{}}
		m.entries[e.Key] = ks
	}
	switch CompareClocks(e.Clock, ks.seen) {
	case Less, Equal:
		return
	}
	kept := make([]MapEntry, 0, len(ks.frontier)+1)
	for _, f := range ks.frontier {
		if CompareClocks(f.Clock, e.Clock) != Less {
			kept = append(kept, f)
		}
	}
	kept = append(kept, e)
	sort.Slice(kept, func(i, j int) bool { return kept[i].Dot.Compare(kept[j].Dot) < 0 })
	ks.frontier = kept
	ks.seen = ks.seen.Join(e.Clock)
}

func normalize(e MapEntry) MapEntry {
	clock := e.Clock.Clone()
	clock.Witness(e.Dot)
	return MapEntry{
		Key:       e.Key,
		Value:     cloneBytes(e.Value),
		Clock:     clock,
		Dot:       e.Dot,
		Tombstone: e.Tombstone,
	}
}

// Get returns the live value for key.
func (m *Map) Get(key string) ([]byte, bool) {
	ks, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	e, ok := ks.head()
	if !ok || e.Tombstone {
		return nil, false
	}
	return cloneBytes(e.Value), true
}

// Observed returns the key's witnessed clock: the join of every accepted
// write's clock. Local writes derive their version from it.
func (m *Map) Observed(key string) Clock {
	ks, ok := m.entries[key]
	if !ok {
		return Clock{}
	}
	return ks.seen.Clone()
}

// Keys returns the live keys, sorted.
func (m *Map) Keys() []string {
	var out []string
	for k, ks := range m.entries {
		if e, ok := ks.head(); ok && !e.Tombstone {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the number of live keys.
func (m *Map) Len() int {
	n := 0
	for _, ks := range m.entries {
		if e, ok := ks.head(); ok && !e.Tombstone {
			n++
		}
	}
	return n
}

// Entry returns the entry key resolves to, tombstoned or not.
func (m *Map) Entry(key string) (MapEntry, bool) {
	ks, ok := m.entries[key]
	if !ok {
		return MapEntry{}, false
	}
	e, ok := ks.head()
	if !ok {
		return MapEntry{}, false
	}
	return normalize(e), true
}

// Entries returns the concurrent frontier of every key, sorted by key then
// dot. Snapshots must carry all of it, tombstones included, or convergence
// is lost.
func (m *Map) Entries() []MapEntry {
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []MapEntry
	for _, k := range keys {
		for _, e := range m.entries[k].frontier {
			out = append(out, normalize(e))
		}
	}
	return out
}
