package crdt

import (
	"sort"
)

// SequenceEntry is one element of the replicated log. Entries are keyed by
// their immutable ID dot; position is expressed causally via After, never as
// an index.
type SequenceEntry struct {
	ID        Dot
	After     Dot // causal predecessor; zero dot is the sequence root
	Value     []byte
	Tombstone bool
}

// Sequence is an append-ordered log CRDT with tombstone removal.
//
// The total order is a depth-first walk of the predecessor tree. Entries
// inserted concurrently after the same predecessor are ordered lower actor
// id first, then lower counter, so every replica reconstructs the identical
// order from any delivery order.
type Sequence struct {
	entries  map[Dot]*SequenceEntry
	children map[Dot][]Dot
	clock    Clock
}

// NewSequence returns an empty sequence.
func NewSequence() *Sequence {
	return &Sequence{
		entries:  map[Dot]*SequenceEntry{},
		children: map[Dot][]Dot{},
		clock:    Clock{},
	}
}

// Insert adds a local entry with the given ID dot after the predecessor.
//
// The ID counter must advance the actor's last known counter
// (ErrStaleWrite). The predecessor must be the root dot or a known entry
// (ErrUnknownPredecessor; recoverable, retry once the predecessor delta has
// arrived).
func (s *Sequence) Insert(after Dot, value []byte, id Dot) error {
	if id.IsZero() || id.Actor.IsZero() {
		return ErrStaleWrite
	}
	if id.Counter <= s.clock.Get(id.Actor) {
		return ErrStaleWrite
	}
	if !s.known(after) {
		return ErrUnknownPredecessor
	}
	s.attach(&SequenceEntry{ID: id, After: after, Value: cloneBytes(value)})
	return nil
}

// Remove tombstones the entry with the given ID. The entry stays in the
// state to preserve causal ordering; re-removal is a no-op.
func (s *Sequence) Remove(target Dot) error {
	e, ok := s.entries[target]
	if !ok {
		return ErrNoSuchEntry
	}
	e.Tombstone = true
	return nil
}

// ApplyRemote applies a single remote entry delta.
//
// A known ID merges tombstone flags and is otherwise a no-op, making
// duplicate delivery idempotent. An unknown predecessor is
// ErrUnknownPredecessor and the caller should retry after the dependency
// arrives.
func (s *Sequence) ApplyRemote(e SequenceEntry) error {
	if existing, ok := s.entries[e.ID]; ok {
		if e.Tombstone {
			existing.Tombstone = true
		}
		return nil
	}
	if e.ID.IsZero() || e.ID.Actor.IsZero() {
		return ErrNoSuchEntry
	}
	if !s.known(e.After) {
		return ErrUnknownPredecessor
	}
	s.attach(&SequenceEntry{ID: e.ID, After: e.After, Value: cloneBytes(e.Value), Tombstone: e.Tombstone})
	return nil
}

// Merge folds a set of remote entries into the sequence, iterating to a
// fixpoint so causal parents arriving after their children still land.
// Entries whose predecessors are absent from both the local state and the
// merge set are returned for the caller to retry later; merging a full
// snapshot always returns an empty remainder.
func (s *Sequence) Merge(entries []SequenceEntry) []SequenceEntry {
	pending := append([]SequenceEntry(nil), entries...)
	for {
		var deferred []SequenceEntry
		progressed := false
		for _, e := range pending {
			switch err := s.ApplyRemote(e); err {
			case nil:
				progressed = true
			case ErrUnknownPredecessor:
				deferred = append(deferred, e)
			default:
				// Malformed entries (zero ID) cannot ever apply; drop from
				// the retry set.
				progressed = true
			}
		}
		pending = deferred
		if len(pending) == 0 || !progressed {
			return pending
		}
	}
}

// Entries returns the full state, tombstones included, in total order.
// This is the delta set a snapshot must carry for convergence to survive.
func (s *Sequence) Entries() []SequenceEntry {
	ids := s.ordered()
	out := make([]SequenceEntry, 0, len(ids))
	for _, id := range ids {
		e := s.entries[id]
		out = append(out, SequenceEntry{ID: e.ID, After: e.After, Value: cloneBytes(e.Value), Tombstone: e.Tombstone})
	}
	return out
}

// Values returns the live values in total order.
func (s *Sequence) Values() [][]byte {
	var out [][]byte
	for _, id := range s.ordered() {
		if e := s.entries[id]; !e.Tombstone {
			out = append(out, cloneBytes(e.Value))
		}
	}
	return out
}

// Len returns the number of live entries.
func (s *Sequence) Len() int {
	n := 0
	for _, e := range s.entries {
		if !e.Tombstone {
			n++
		}
	}
	return n
}

// Contains reports whether an entry with the given ID is known, tombstoned
// or not.
func (s *Sequence) Contains(id Dot) bool {
	_, ok := s.entries[id]
	return ok
}

// Clock returns a copy of the per-actor counters witnessed so far.
func (s *Sequence) Clock() Clock { return s.clock.Clone() }

func (s *Sequence) known(d Dot) bool {
	if d.IsZero() {
		return true
	}
	_, ok := s.entries[d]
	return ok
}

func (s *Sequence) attach(e *SequenceEntry) {
	s.entries[e.ID] = e
	siblings := s.children[e.After]
	at := sort.Search(len(siblings), func(i int) bool {
		return siblings[i].Compare(e.ID) > 0
	})
	siblings = append(siblings, Dot{})
	copy(siblings[at+1:], siblings[at:])
	siblings[at] = e.ID
	s.children[e.After] = siblings
	s.clock.Witness(e.ID)
}

func (s *Sequence) ordered() []Dot {
	out := make([]Dot, 0, len(s.entries))
	var walk func(parent Dot)
	walk = func(parent Dot) {
		for _, id := range s.children[parent] {
			out = append(out, id)
			walk(id)
		}
	}
	walk(Dot{})
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
