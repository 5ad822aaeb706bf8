// Package crdt implements the conflict-free replicated containers: an
// append-ordered sequence and a key-value map.
//
// Concurrency here is logical, not physical: "concurrent" means causally
// unordered versions from different actors. None of the types lock; a single
// caller context owns an instance during a mutation. Merges are commutative,
// associative, and idempotent, so replicas converge under arbitrary delivery
// order and duplication.
package crdt

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/oetyng/safe-nd/wire"
)

var (
	// ErrStaleWrite reports a local write whose counter does not advance the
	// actor's last known counter (a replay of an already-applied write).
	ErrStaleWrite = errors.New("crdt: stale write")
	// ErrUnknownPredecessor reports an insert referencing a causal
	// predecessor that is not yet known. Recoverable: retry once the
	// missing delta has arrived.
	ErrUnknownPredecessor = errors.New("crdt: unknown predecessor")
	// ErrNoSuchEntry reports an operation targeting an absent entry.
	ErrNoSuchEntry = errors.New("crdt: no such entry")
)

// ActorSize is the byte length of an actor identifier.
const ActorSize = 32

// Actor identifies an independent writer, the causal-order axis of the
// CRDTs. It is derived from the writer's public key and is stable for the
// lifetime of a replica.
type Actor [ActorSize]byte

// Compare orders actors by their identifier bytes.
func (a Actor) Compare(other Actor) int { return bytes.Compare(a[:], other[:]) }

// IsZero reports whether the actor is the zero value.
func (a Actor) IsZero() bool { return a == Actor{} }

func (a Actor) String() string { return hex.EncodeToString(a[:8]) }

// Dot is one (actor, counter) version. Each actor increments only its own
// counter; counters are passed into operations, never read from shared
// state.
type Dot struct {
	Actor   Actor
	Counter uint64
}

// IsZero reports whether the dot is the zero value (the sequence root).
func (d Dot) IsZero() bool { return d.Actor.IsZero() && d.Counter == 0 }

// Compare orders dots actor-major, counter-minor.
func (d Dot) Compare(other Dot) int {
	if c := d.Actor.Compare(other.Actor); c != 0 {
		return c
	}
	switch {
	case d.Counter < other.Counter:
		return -1
	case d.Counter > other.Counter:
		return 1
	default:
		return 0
	}
}

func (d Dot) String() string { return fmt.Sprintf("(%s,%d)", d.Actor, d.Counter) }

// EncodeTo writes the canonical form into w.
func (d Dot) EncodeTo(w *wire.Writer) {
	w.Raw(d.Actor[:])
	w.Uint64(d.Counter)
}

// DecodeDot reads the canonical form written by EncodeTo.
func DecodeDot(r *wire.Reader) (Dot, error) {
	actorBytes, err := r.Raw(ActorSize)
	if err != nil {
		return Dot{}, err
	}
	counter, err := r.Uint64()
	if err != nil {
		return Dot{}, err
	}
	var d Dot
	copy(d.Actor[:], actorBytes)
	d.Counter = counter
	return d, nil
}

// Ordering is the result of comparing two clocks under the vector-clock
// partial order.
type Ordering int

const (
	Equal Ordering = iota
	Less
	Greater
	Concurrent
)

// Clock is an immutable-by-convention version vector: per-actor counters.
// Mutating methods are only called on clones owned by the mutator.
type Clock map[Actor]uint64

// Get returns the counter for an actor, zero if absent.
func (c Clock) Get(a Actor) uint64 { return c[a] }

// Witness raises the actor's counter to at least d.Counter.
func (c Clock) Witness(d Dot) {
	if d.Counter > c[d.Actor] {
		c[d.Actor] = d.Counter
	}
}

// Clone returns an independent copy.
func (c Clock) Clone() Clock {
	out := make(Clock, len(c)+1)
	for a, n := range c {
		out[a] = n
	}
	return out
}

// Join returns the pointwise maximum of both clocks.
func (c Clock) Join(other Clock) Clock {
	out := c.Clone()
	for a, n := range other {
		if n > out[a] {
			out[a] = n
		}
	}
	return out
}

// CompareClocks classifies a against b: Equal, Less (b dominates), Greater
// (a dominates), or Concurrent (neither dominates).
func CompareClocks(a, b Clock) Ordering {
	aAhead, bAhead := false, false
	for actor, n := range a {
		if n > b[actor] {
			aAhead = true
		}
	}
	for actor, n := range b {
		if n > a[actor] {
			bAhead = true
		}
	}
	switch {
	case aAhead && bAhead:
		return Concurrent
	case aAhead:
		return Greater
	case bAhead:
		return Less
	default:
		return Equal
	}
}

// sortedActors returns the clock's actors in byte order, for deterministic
// encoding.
func (c Clock) sortedActors() []Actor {
	out := make([]Actor, 0, len(c))
	for a := range c {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

// EncodeTo writes the canonical form into w.
func (c Clock) EncodeTo(w *wire.Writer) {
	actors := c.sortedActors()
	w.Uint64(uint64(len(actors)))
	for _, a := range actors {
		w.Raw(a[:])
		w.Uint64(c[a])
	}
}

// DecodeClock reads the canonical form written by EncodeTo.
func DecodeClock(r *wire.Reader) (Clock, error) {
	n, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	out := make(Clock, n)
	for i := uint64(0); i < n; i++ {
		actorBytes, err := r.Raw(ActorSize)
		if err != nil {
			return nil, err
		}
		counter, err := r.Uint64()
		if err != nil {
			return nil, err
		}
		var a Actor
		copy(a[:], actorBytes)
		out[a] = counter
	}
	return out, nil
}
