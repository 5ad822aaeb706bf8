package data

import (
	"fmt"

	"github.com/ipfs/go-cid"

	"github.com/oetyng/safe-nd/address"
	"github.com/oetyng/safe-nd/crdt"
	"github.com/oetyng/safe-nd/wire"
)

// Snapshot returns the canonical full-state encoding of the aggregate:
// address, tombstone flag, owner history, permission history, and the
// complete body including tombstoned entries. Two replicas holding the same
// state produce byte-identical snapshots, so snapshots are content-addressable.
func (d *Data) Snapshot() []byte {
	w := wire.NewWriter(wire.TagSnapshot)
	w.Bytes(d.addr.Encode())
	w.Bool(d.tombstoned)
	d.owners.encodeTo(w)
	w.Uint64(uint64(len(d.perms)))
	for _, rec := range d.perms {
		rec.encodeTo(w)
	}
	if d.seq != nil {
		entries := d.seq.Entries()
		w.Uint64(uint64(len(entries)))
		for _, e := range entries {
			e.ID.EncodeTo(w)
			e.After.EncodeTo(w)
			w.Bytes(e.Value)
			w.Bool(e.Tombstone)
		}
	} else {
		entries := d.kv.Entries()
		w.Uint64(uint64(len(entries)))
		for _, e := range entries {
			w.String(e.Key)
			w.Bytes(e.Value)
			e.Clock.EncodeTo(w)
			e.Dot.EncodeTo(w)
			w.Bool(e.Tombstone)
		}
	}
	return w.Finish()
}

// SnapshotCID returns the CIDv1 of the canonical snapshot, the handle a
// content-addressed store files it under.
func (d *Data) SnapshotCID() (cid.Cid, error) {
	return address.ContentID(d.Snapshot())
}

// Load decodes a snapshot produced by Snapshot, verifying the owner and
// permission histories as it goes. The returned aggregate is fully usable;
// merging a loaded snapshot into a live replica is how replicas synchronize.
func Load(b []byte) (*Data, error) {
	r, err := wire.NewReader(wire.TagSnapshot, b)
	if err != nil {
		return nil, err
	}
	addrBytes, err := r.Bytes()
	if err != nil {
		return nil, err
	}
	addr, err := address.Decode(addrBytes)
	if err != nil {
		return nil, err
	}
	tombstoned, err := r.Bool()
	if err != nil {
		return nil, err
	}
	owners, err := decodeOwnerHistory(r, addr)
	if err != nil {
		return nil, err
	}
	nPerms, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	if nPerms == 0 {
		return nil, fmt.Errorf("%w: snapshot has no permission history", address.ErrInvalidInput)
	}
	perms := make([]PermRecord, 0, nPerms)
	for i := uint64(0); i < nPerms; i++ {
		rec, err := decodePermRecord(r)
		if err != nil {
			return nil, err
		}
		perms = append(perms, rec)
	}
	if err := verifyPermChain(addr, owners, perms); err != nil {
		return nil, err
	}
	d := &Data{addr: addr, owners: owners, perms: perms, tombstoned: tombstoned}
	n, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	if addr.Kind.IsSequence() {
		d.seq = crdt.NewSequence()
		entries := make([]crdt.SequenceEntry, 0, n)
		for i := uint64(0); i < n; i++ {
			e, err := decodeSequenceEntry(r)
			if err != nil {
				return nil, err
			}
			entries = append(entries, e)
		}
		if deferred := d.seq.Merge(entries); len(deferred) != 0 {
			return nil, fmt.Errorf("%w: snapshot has %d orphaned entries", address.ErrInvalidInput, len(deferred))
		}
	} else {
		d.kv = crdt.NewMap()
		for i := uint64(0); i < n; i++ {
			e, err := decodeMapEntry(r)
			if err != nil {
				return nil, err
			}
			d.kv.ApplyRemote(e)
		}
	}
	if err := r.Done(); err != nil {
		return nil, err
	}
	return d, nil
}

func decodeSequenceEntry(r *wire.Reader) (crdt.SequenceEntry, error) {
	id, err := crdt.DecodeDot(r)
	if err != nil {
		return crdt.SequenceEntry{}, err
	}
	after, err := crdt.DecodeDot(r)
	if err != nil {
		return crdt.SequenceEntry{}, err
	}
	value, err := r.Bytes()
	if err != nil {
		return crdt.SequenceEntry{}, err
	}
	tombstone, err := r.Bool()
	if err != nil {
		return crdt.SequenceEntry{}, err
	}
	return crdt.SequenceEntry{ID: id, After: after, Value: value, Tombstone: tombstone}, nil
}

func decodeMapEntry(r *wire.Reader) (crdt.MapEntry, error) {
	key, err := r.String()
	if err != nil {
		return crdt.MapEntry{}, err
	}
	value, err := r.Bytes()
	if err != nil {
		return crdt.MapEntry{}, err
	}
	clock, err := crdt.DecodeClock(r)
	if err != nil {
		return crdt.MapEntry{}, err
	}
	dot, err := crdt.DecodeDot(r)
	if err != nil {
		return crdt.MapEntry{}, err
	}
	tombstone, err := r.Bool()
	if err != nil {
		return crdt.MapEntry{}, err
	}
	return crdt.MapEntry{Key: key, Value: value, Clock: clock, Dot: dot, Tombstone: tombstone}, nil
}
