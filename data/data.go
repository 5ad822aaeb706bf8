// Package data binds an address, an ownership chain, a permission history,
// and a CRDT body into the replicated aggregate, and implements the
// validation and merge engine every incoming operation passes through.
package data

import (
	"bytes"
	"fmt"

	"github.com/oetyng/safe-nd/address"
	"github.com/oetyng/safe-nd/crdt"
	"github.com/oetyng/safe-nd/keys"
	"github.com/oetyng/safe-nd/perm"
)

// Data is one replicated aggregate. It exclusively owns its owner history,
// permission history, and body; a single caller context must own the
// instance during a mutation (no internal locking).
type Data struct {
	addr       address.Address
	owners     OwnerHistory
	perms      []PermRecord
	seq        *crdt.Sequence
	kv         *crdt.Map
	tombstoned bool
}

// Create makes a new aggregate of the given kind owned by owner. The
// address is derived from the owner's key and tag; the genesis owner record
// is self-signed; initial becomes the first entry of the permission history.
func Create(kind address.Kind, owner keys.Keypair, tag uint64, initial perm.Set) (*Data, error) {
	addr, err := address.Derive(kind, owner.PublicKey(), tag)
	if err != nil {
		return nil, err
	}
	wantScope := perm.Private
	if kind.IsPublic() {
		wantScope = perm.Public
	}
	if initial.Scope() != wantScope {
		return nil, fmt.Errorf("%w: permission scope does not match %s", address.ErrInvalidInput, kind)
	}
	owners, err := NewOwnerHistory(addr, owner)
	if err != nil {
		return nil, err
	}
	initialSet := initial.Clone()
	sig, err := owner.Sign(permPayload(addr, 0, initialSet))
	if err != nil {
		return nil, err
	}
	genesis := PermRecord{Set: initialSet, Signer: owner.PublicKey(), Signature: sig}
	d := &Data{addr: addr, owners: owners, perms: []PermRecord{genesis}}
	if kind.IsSequence() {
		d.seq = crdt.NewSequence()
	} else {
		d.kv = crdt.NewMap()
	}
	return d, nil
}

// Address returns the aggregate's immutable address.
func (d *Data) Address() address.Address { return d.addr }

// Owner returns the current owner's key.
func (d *Data) Owner() keys.PublicKey { return d.owners.Owner() }

// OwnerVersion returns the head version of the ownership chain.
func (d *Data) OwnerVersion() uint64 { return d.owners.Version() }

// OwnerRecords returns a copy of the ownership chain.
func (d *Data) OwnerRecords() []OwnerRecord { return d.owners.Records() }

// HeadOwnerHash returns the chain hash an owner transfer must reference.
func (d *Data) HeadOwnerHash() [hashSize]byte { return d.owners.headHash() }

// Permissions returns a copy of the authoritative (head) permission set.
func (d *Data) Permissions() perm.Set { return d.perms[len(d.perms)-1].Set.Clone() }

// PermVersion returns the expected index of the next permission set.
func (d *Data) PermVersion() uint64 { return uint64(len(d.perms)) }

// PermRecords returns a copy of the permission history.
func (d *Data) PermRecords() []PermRecord { return clonePermChain(d.perms) }

// IsTombstoned reports whether the owner has deleted the aggregate.
func (d *Data) IsTombstoned() bool { return d.tombstoned }

// IsSequence reports whether the body is the ordered log.
func (d *Data) IsSequence() bool { return d.seq != nil }

// IsMap reports whether the body is the key-value store.
func (d *Data) IsMap() bool { return d.kv != nil }

// SequenceValues returns the live log values in total order.
func (d *Data) SequenceValues() [][]byte {
	if d.seq == nil {
		return nil
	}
	return d.seq.Values()
}

// SequenceEntries returns the full log state including tombstones.
func (d *Data) SequenceEntries() []crdt.SequenceEntry {
	if d.seq == nil {
		return nil
	}
	return d.seq.Entries()
}

// MapView returns the live key to value mapping.
func (d *Data) MapView() map[string][]byte {
	if d.kv == nil {
		return nil
	}
	out := make(map[string][]byte)
	for _, k := range d.kv.Keys() {
		v, _ := d.kv.Get(k)
		out[k] = v
	}
	return out
}

// MapGet returns the live value for key.
func (d *Data) MapGet(key string) ([]byte, bool) {
	if d.kv == nil {
		return nil, false
	}
	return d.kv.Get(key)
}

// MapEntries returns the full map state including tombstones.
func (d *Data) MapEntries() []crdt.MapEntry {
	if d.kv == nil {
		return nil
	}
	return d.kv.Entries()
}

// Apply validates and applies one signed operation, all-or-nothing:
//
//  1. the signature is verified over the op's canonical encoding;
//  2. the signer is authorized for the op's action against the current
//     owner and permission set (owner transfers instead go through the
//     owner history's own signature rule);
//  3. the op is dispatched to the body or the aggregate metadata.
//
// Any failure leaves the aggregate untouched.
func (d *Data) Apply(s SignedOp) error {
	if !s.Op.Address.Equal(d.addr) {
		return ErrAddressMismatch
	}
	if d.tombstoned {
		return ErrTombstoned
	}
	if err := s.VerifySignature(); err != nil {
		return err
	}

	switch s.Op.Kind {
	case OpOwnerTransfer:
		// The capability check is bypassed: only the signature of the
		// current owner over the transfer payload authorizes this.
		_, err := d.owners.Transfer(s.Op.NewOwner, s.Op.OwnerVersion, s.Signature)
		return err
	case OpSetPermissions:
		return d.applyPermissions(s)
	case OpTombstone:
		if !s.Signer.Equal(d.Owner()) {
			return perm.ErrAccessDenied
		}
		d.tombstoned = true
		return nil
	case OpSequenceInsert, OpSequenceRemove:
		if d.seq == nil {
			return fmt.Errorf("%w: %s aimed at a map aggregate", ErrAddressMismatch, s.Op.Kind)
		}
		return d.applySequence(s)
	case OpMapSet, OpMapDelete:
		if d.kv == nil {
			return fmt.Errorf("%w: %s aimed at a sequence aggregate", ErrAddressMismatch, s.Op.Kind)
		}
		return d.applyMap(s)
	default:
		return fmt.Errorf("%w: unknown op kind %d", address.ErrInvalidInput, s.Op.Kind)
	}
}

func (d *Data) applyPermissions(s SignedOp) error {
	if s.Op.PermVersion != d.PermVersion() {
		return fmt.Errorf("%w: claimed permission version %d, expected %d", ErrStaleVersion, s.Op.PermVersion, d.PermVersion())
	}
	head := d.perms[len(d.perms)-1].Set
	if s.Op.Permissions.Scope() != head.Scope() {
		return fmt.Errorf("%w: permission scope change", address.ErrInvalidInput)
	}
	// Only the owner may grant or revoke the manage capability.
	if perm.ManageDiffers(head, s.Op.Permissions) && !s.Signer.Equal(d.Owner()) {
		return perm.ErrAccessDenied
	}
	if err := head.Authorize(s.Signer, perm.CapManage, d.Owner()); err != nil {
		return err
	}
	// The op signature covers the canonical set-permissions payload, so it
	// is kept as the record's proof of authorization.
	d.perms = append(d.perms, PermRecord{Set: s.Op.Permissions.Clone(), Signer: s.Signer, Signature: s.Signature})
	return nil
}

func (d *Data) applySequence(s SignedOp) error {
	switch s.Op.Kind {
	case OpSequenceInsert:
		if err := d.authorizeDot(s, perm.CapInsert); err != nil {
			return err
		}
		return d.seq.ApplyRemote(crdt.SequenceEntry{ID: s.Op.Dot, After: s.Op.After, Value: s.Op.Value})
	default: // OpSequenceRemove
		if err := d.Permissions().Authorize(s.Signer, perm.CapDelete, d.Owner()); err != nil {
			return err
		}
		if !d.seq.Contains(s.Op.Target) {
			return crdt.ErrNoSuchEntry
		}
		return d.seq.ApplyRemote(crdt.SequenceEntry{ID: s.Op.Target, After: crdt.Dot{}, Tombstone: true})
	}
}

func (d *Data) applyMap(s SignedOp) error {
	need := perm.CapDelete
	if s.Op.Kind == OpMapSet {
		need = perm.CapInsert
		if _, live := d.kv.Get(s.Op.Key); live {
			need = perm.CapUpdate
		}
	}
	if err := d.authorizeDot(s, need); err != nil {
		return err
	}
	d.kv.ApplyRemote(crdt.MapEntry{
		Key:       s.Op.Key,
		Value:     s.Op.Value,
		Clock:     s.Op.Clock,
		Dot:       s.Op.Dot,
		Tombstone: s.Op.Kind == OpMapDelete,
	})
	return nil
}

// authorizeDot checks the capability and that the op's dot belongs to the
// signer: an actor can only ever write under its own identity.
func (d *Data) authorizeDot(s SignedOp, need perm.Caps) error {
	if err := d.Permissions().Authorize(s.Signer, need, d.Owner()); err != nil {
		return err
	}
	actor, err := s.Actor()
	if err != nil {
		return err
	}
	if s.Op.Dot.Actor != actor {
		return perm.ErrAccessDenied
	}
	return nil
}

// Merge folds a remote replica of the same aggregate into this one.
//
// Both remote histories are cryptographically verified before anything is
// adopted. Histories adopt the longer verified chain (a diverged chain
// resolves by the lexicographically smaller record at the divergence point,
// so both sides agree); bodies CRDT-merge; the tombstone flag is an or.
func (d *Data) Merge(remote *Data) error {
	if remote == nil {
		return nil
	}
	if !remote.addr.Equal(d.addr) {
		return ErrAddressMismatch
	}
	if err := remote.owners.Verify(); err != nil {
		return err
	}
	if err := verifyPermChain(d.addr, remote.owners, remote.perms); err != nil {
		return err
	}
	d.owners = mergeOwnerChains(d.owners, remote.owners)
	d.perms = mergePermChains(d.perms, remote.perms)
	d.tombstoned = d.tombstoned || remote.tombstoned
	if d.seq != nil && remote.seq != nil {
		d.seq.Merge(remote.seq.Entries())
	}
	if d.kv != nil && remote.kv != nil {
		d.kv.Merge(remote.kv.Entries())
	}
	return nil
}

func mergeOwnerChains(local, remote OwnerHistory) OwnerHistory {
	a, b := local.records, remote.records
	for i := 0; i < len(a) && i < len(b); i++ {
		ea, eb := encodeOwnerRecord(a[i]), encodeOwnerRecord(b[i])
		if c := bytes.Compare(ea, eb); c != 0 {
			if c < 0 {
				return local
			}
			return remote
		}
	}
	if len(b) > len(a) {
		return remote
	}
	return local
}

func mergePermChains(local, remote []PermRecord) []PermRecord {
	n := len(local)
	if len(remote) < n {
		n = len(remote)
	}
	for i := 0; i < n; i++ {
		ea, eb := encodePermRecord(local[i]), encodePermRecord(remote[i])
		if c := bytes.Compare(ea, eb); c != 0 {
			if c < 0 {
				return local
			}
			return clonePermChain(remote)
		}
	}
	if len(remote) > len(local) {
		return clonePermChain(remote)
	}
	return local
}
