// Package perm implements the capability model gating every mutation of a
// replicated data aggregate.
package perm

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/oetyng/safe-nd/keys"
	"github.com/oetyng/safe-nd/wire"
)

// ErrAccessDenied reports an actor lacking the capability for an action.
var ErrAccessDenied = errors.New("perm: access denied")

// Caps is a capability bitset.
type Caps uint8

const (
	// CapInsert allows adding new entries.
	CapInsert Caps = 1 << iota
	// CapUpdate allows overwriting existing entries.
	CapUpdate
	// CapDelete allows tombstoning entries.
	CapDelete
	// CapManage allows mutating the permission set itself. Only the owner
	// may grant or revoke it.
	CapManage
)

// AllCaps is every capability.
const AllCaps = CapInsert | CapUpdate | CapDelete | CapManage

// Has reports whether c includes every capability in want.
func (c Caps) Has(want Caps) bool { return c&want == want }

func (c Caps) String() string {
	if c == 0 {
		return "none"
	}
	var parts []string
	if c.Has(CapInsert) {
		parts = append(parts, "insert")
	}
	if c.Has(CapUpdate) {
		parts = append(parts, "update")
	}
	if c.Has(CapDelete) {
		parts = append(parts, "delete")
	}
	if c.Has(CapManage) {
		parts = append(parts, "manage")
	}
	return strings.Join(parts, "+")
}

// Scope selects between public and private permission flavours.
type Scope uint8

const (
	// Public sets may carry an Anyone entry in addition to per-key entries.
	Public Scope = 1
	// Private sets only ever name specific keys.
	Private Scope = 2
)

type userEntry struct {
	key  keys.PublicKey
	caps Caps
}

// Set is one version of an aggregate's permissions: an optional Anyone entry
// (public scope only) plus per-key entries. The data owner implicitly holds
// every capability and never needs an entry.
type Set struct {
	scope     Scope
	anyone    Caps
	anyoneSet bool
	users     map[string]userEntry
}

// NewSet returns an empty permission set for the scope.
func NewSet(scope Scope) Set {
	return Set{scope: scope, users: map[string]userEntry{}}
}

// Scope returns the set's scope.
func (s Set) Scope() Scope { return s.scope }

// Grant sets the capabilities for a specific key, replacing any prior entry.
func (s *Set) Grant(pk keys.PublicKey, caps Caps) {
	if s.users == nil {
		s.users = map[string]userEntry{}
	}
	s.users[string(pk.Encoded())] = userEntry{key: pk, caps: caps}
}

// GrantAnyone sets the capabilities of the Anyone entry. Private sets have
// no Anyone entry.
func (s *Set) GrantAnyone(caps Caps) error {
	if s.scope != Public {
		return fmt.Errorf("%w: private data has no public entry", ErrAccessDenied)
	}
	s.anyone = caps
	s.anyoneSet = true
	return nil
}

// Revoke removes a specific key's entry.
func (s *Set) Revoke(pk keys.PublicKey) {
	delete(s.users, string(pk.Encoded()))
}

// CapsFor returns the explicit capabilities for pk and whether an entry
// exists. The Anyone entry is not consulted here.
func (s Set) CapsFor(pk keys.PublicKey) (Caps, bool) {
	e, ok := s.users[string(pk.Encoded())]
	return e.caps, ok
}

// Anyone returns the Anyone entry and whether it is set.
func (s Set) Anyone() (Caps, bool) { return s.anyone, s.anyoneSet }

// Clone returns a deep copy.
func (s Set) Clone() Set {
	out := Set{scope: s.scope, anyone: s.anyone, anyoneSet: s.anyoneSet, users: make(map[string]userEntry, len(s.users))}
	for k, v := range s.users {
		out.users[k] = v
	}
	return out
}

// Authorize checks whether actor may perform an action needing cap on data
// currently owned by owner under this set.
//
// The current owner is always authorized. For anyone else the actor's
// explicit entry decides; absent one, the Anyone entry decides (public scope
// only). Everything else is ErrAccessDenied.
func (s Set) Authorize(actor keys.PublicKey, need Caps, owner keys.PublicKey) error {
	if actor.Equal(owner) {
		return nil
	}
	if e, ok := s.users[string(actor.Encoded())]; ok {
		if e.caps.Has(need) {
			return nil
		}
		return ErrAccessDenied
	}
	if s.scope == Public && s.anyoneSet && s.anyone.Has(need) {
		return nil
	}
	return ErrAccessDenied
}

// ManageDiffers reports whether old and new differ in any CapManage grant,
// including the Anyone entry. Such a change is owner-only.
func ManageDiffers(old, new Set) bool {
	oldAnyone, _ := old.Anyone()
	newAnyone, _ := new.Anyone()
	if oldAnyone.Has(CapManage) != newAnyone.Has(CapManage) {
		return true
	}
	for k, e := range old.users {
		n, ok := new.users[k]
		if e.caps.Has(CapManage) != (ok && n.caps.Has(CapManage)) {
			return true
		}
	}
	for k, n := range new.users {
		if _, ok := old.users[k]; !ok && n.caps.Has(CapManage) {
			return true
		}
	}
	return false
}

// sortedUsers returns entries ordered by canonical key bytes, for
// deterministic encoding.
func (s Set) sortedUsers() []userEntry {
	out := make([]userEntry, 0, len(s.users))
	for _, e := range s.users {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key.Compare(out[j].key) < 0 })
	return out
}

// EncodeTo writes the canonical form into w.
func (s Set) EncodeTo(w *wire.Writer) {
	w.Byte(byte(s.scope))
	w.Bool(s.anyoneSet)
	w.Byte(byte(s.anyone))
	users := s.sortedUsers()
	w.Uint64(uint64(len(users)))
	for _, e := range users {
		w.Bytes(e.key.Encoded())
		w.Byte(byte(e.caps))
	}
}

// DecodeFrom reads the canonical form written by EncodeTo.
func DecodeFrom(r *wire.Reader) (Set, error) {
	scopeByte, err := r.Byte()
	if err != nil {
		return Set{}, err
	}
	scope := Scope(scopeByte)
	if scope != Public && scope != Private {
		return Set{}, fmt.Errorf("perm: unknown scope %d", scope)
	}
	anyoneSet, err := r.Bool()
	if err != nil {
		return Set{}, err
	}
	anyoneByte, err := r.Byte()
	if err != nil {
		return Set{}, err
	}
	n, err := r.Uint64()
	if err != nil {
		return Set{}, err
	}
	out := NewSet(scope)
	if anyoneSet {
		out.anyone = Caps(anyoneByte)
		out.anyoneSet = true
	}
	for i := uint64(0); i < n; i++ {
		encoded, err := r.Bytes()
		if err != nil {
			return Set{}, err
		}
		pk, err := keys.DecodePublic(encoded)
		if err != nil {
			return Set{}, err
		}
		capsByte, err := r.Byte()
		if err != nil {
			return Set{}, err
		}
		out.Grant(pk, Caps(capsByte))
	}
	return out, nil
}

// Equal reports whether two sets are identical.
func (s Set) Equal(other Set) bool {
	if s.scope != other.scope || s.anyoneSet != other.anyoneSet || s.anyone != other.anyone {
		return false
	}
	if len(s.users) != len(other.users) {
		return false
	}
	for k, e := range s.users {
		o, ok := other.users[k]
		if !ok || o.caps != e.caps {
			return false
		}
	}
	return true
}
