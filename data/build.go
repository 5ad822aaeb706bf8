package data

import (
	"github.com/oetyng/safe-nd/address"
	"github.com/oetyng/safe-nd/crdt"
	"github.com/oetyng/safe-nd/keys"
	"github.com/oetyng/safe-nd/perm"
)

// Op builders. Each derives the next dot (and for map writes, the carried
// clock) from the aggregate's current state and signs the result with kp.
// Authorization is not checked here; Apply is the gate.

// NewSequenceInsertOp builds a signed insert of value after the given
// predecessor (zero dot for the front of the sequence).
func (d *Data) NewSequenceInsertOp(kp keys.Keypair, after crdt.Dot, value []byte) (SignedOp, error) {
	if d.seq == nil {
		return SignedOp{}, ErrAddressMismatch
	}
	actor, err := actorOf(kp)
	if err != nil {
		return SignedOp{}, err
	}
	dot := crdt.Dot{Actor: actor, Counter: d.seq.Clock().Get(actor) + 1}
	return Sign(Op{
		Address: d.addr,
		Kind:    OpSequenceInsert,
		After:   after,
		Dot:     dot,
		Value:   value,
	}, kp)
}

// NewSequenceRemoveOp builds a signed tombstone of the entry with the given
// ID.
func (d *Data) NewSequenceRemoveOp(kp keys.Keypair, target crdt.Dot) (SignedOp, error) {
	if d.seq == nil {
		return SignedOp{}, ErrAddressMismatch
	}
	if !d.seq.Contains(target) {
		return SignedOp{}, crdt.ErrNoSuchEntry
	}
	return Sign(Op{Address: d.addr, Kind: OpSequenceRemove, Target: target}, kp)
}

// NewMapSetOp builds a signed write of key to value. The op carries the
// key's observed clock so every replica resolves it the same way.
func (d *Data) NewMapSetOp(kp keys.Keypair, key string, value []byte) (SignedOp, error) {
	if d.kv == nil {
		return SignedOp{}, ErrAddressMismatch
	}
	dot, clock, err := d.nextMapWrite(kp, key)
	if err != nil {
		return SignedOp{}, err
	}
	return Sign(Op{
		Address: d.addr,
		Kind:    OpMapSet,
		Key:     key,
		Value:   value,
		Dot:     dot,
		Clock:   clock,
	}, kp)
}

// NewMapDeleteOp builds a signed versioned tombstone of key. The key must be
// live.
func (d *Data) NewMapDeleteOp(kp keys.Keypair, key string) (SignedOp, error) {
	if d.kv == nil {
		return SignedOp{}, ErrAddressMismatch
	}
	if _, live := d.kv.Get(key); !live {
		return SignedOp{}, crdt.ErrNoSuchEntry
	}
	dot, clock, err := d.nextMapWrite(kp, key)
	if err != nil {
		return SignedOp{}, err
	}
	return Sign(Op{
		Address: d.addr,
		Kind:    OpMapDelete,
		Key:     key,
		Dot:     dot,
		Clock:   clock,
	}, kp)
}

func (d *Data) nextMapWrite(kp keys.Keypair, key string) (crdt.Dot, crdt.Clock, error) {
	actor, err := actorOf(kp)
	if err != nil {
		return crdt.Dot{}, nil, err
	}
	observed := d.kv.Observed(key)
	dot := crdt.Dot{Actor: actor, Counter: observed.Get(actor) + 1}
	return dot, observed, nil
}

// NewSetPermissionsOp builds a signed replacement of the permission set at
// the current head version.
func (d *Data) NewSetPermissionsOp(kp keys.Keypair, next perm.Set) (SignedOp, error) {
	return Sign(Op{
		Address:     d.addr,
		Kind:        OpSetPermissions,
		Permissions: next.Clone(),
		PermVersion: d.PermVersion(),
	}, kp)
}

// NewOwnerTransferOp builds a signed transfer of ownership to newOwner,
// referencing the current chain head. Only a transfer signed by the current
// owner will apply.
func (d *Data) NewOwnerTransferOp(kp keys.Keypair, newOwner keys.PublicKey) (SignedOp, error) {
	return Sign(Op{
		Address:       d.addr,
		Kind:          OpOwnerTransfer,
		NewOwner:      newOwner,
		OwnerVersion:  d.OwnerVersion(),
		PrevOwnerHash: d.owners.headHash(),
	}, kp)
}

// NewTombstoneOp builds a signed deletion of the whole aggregate.
func (d *Data) NewTombstoneOp(kp keys.Keypair) (SignedOp, error) {
	return Sign(Op{Address: d.addr, Kind: OpTombstone}, kp)
}

func actorOf(kp keys.Keypair) (crdt.Actor, error) {
	name, err := address.NameFromKey(kp.PublicKey())
	if err != nil {
		return crdt.Actor{}, err
	}
	return crdt.Actor(name), nil
}
