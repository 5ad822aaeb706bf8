package data

import (
	"fmt"

	"github.com/oetyng/safe-nd/address"
	"github.com/oetyng/safe-nd/crdt"
	"github.com/oetyng/safe-nd/keys"
	"github.com/oetyng/safe-nd/perm"
	"github.com/oetyng/safe-nd/wire"
)

// OpKind discriminates the operations an aggregate accepts.
type OpKind uint8

const (
	OpSequenceInsert OpKind = 1
	OpSequenceRemove OpKind = 2
	OpMapSet         OpKind = 3
	OpMapDelete      OpKind = 4
	OpSetPermissions OpKind = 5
	OpOwnerTransfer  OpKind = 6
	OpTombstone      OpKind = 7
)

func (k OpKind) String() string {
	switch k {
	case OpSequenceInsert:
		return "sequence-insert"
	case OpSequenceRemove:
		return "sequence-remove"
	case OpMapSet:
		return "map-set"
	case OpMapDelete:
		return "map-delete"
	case OpSetPermissions:
		return "set-permissions"
	case OpOwnerTransfer:
		return "owner-transfer"
	case OpTombstone:
		return "tombstone"
	default:
		return fmt.Sprintf("op(%d)", uint8(k))
	}
}

// Op is one mutation of an aggregate. Only the fields of the op's kind are
// meaningful; everything that is set participates in the canonical encoding,
// so there is no partial signing.
type Op struct {
	Address address.Address
	Kind    OpKind

	// Sequence: After is the causal predecessor of an insert, Target the
	// entry a remove tombstones.
	After  crdt.Dot
	Target crdt.Dot

	// Map.
	Key string

	// Insert/set payload and the writing dot; Clock is the entry version
	// vector a map write carries.
	Value []byte
	Dot   crdt.Dot
	Clock crdt.Clock

	// Permission change: the replacement set and the expected next index
	// of the permission history.
	Permissions perm.Set
	PermVersion uint64

	// Owner transfer: the receiving key and the claimed current version.
	NewOwner     keys.PublicKey
	OwnerVersion uint64

	// Owner transfer chains to the hash of the head record.
	PrevOwnerHash [hashSize]byte
}

// Canonical returns the deterministic byte encoding signatures are computed
// over. Verification re-derives this encoding and compares bytes.
func (op Op) Canonical() []byte {
	if op.Kind == OpOwnerTransfer {
		// An owner transfer is signed over the transfer payload itself, so
		// the same signature authorizes the owner-history append.
		return TransferPayload(op.Address, op.NewOwner, op.OwnerVersion+1, op.PrevOwnerHash)
	}
	w := wire.NewWriter(wire.TagOperation)
	w.Byte(byte(op.Kind))
	w.Bytes(op.Address.Encode())
	switch op.Kind {
	case OpSequenceInsert:
		op.After.EncodeTo(w)
		op.Dot.EncodeTo(w)
		w.Bytes(op.Value)
	case OpSequenceRemove:
		op.Target.EncodeTo(w)
	case OpMapSet:
		w.String(op.Key)
		w.Bytes(op.Value)
		op.Dot.EncodeTo(w)
		op.Clock.EncodeTo(w)
	case OpMapDelete:
		w.String(op.Key)
		op.Dot.EncodeTo(w)
		op.Clock.EncodeTo(w)
	case OpSetPermissions:
		w.Uint64(op.PermVersion)
		op.Permissions.EncodeTo(w)
	case OpTombstone:
		// Kind and address are the whole payload.
	}
	return w.Finish()
}

// SignedOp binds an op to the actor that issued it.
type SignedOp struct {
	Op        Op
	Signer    keys.PublicKey
	Signature keys.Signature
}

// Sign signs op with kp.
func Sign(op Op, kp keys.Keypair) (SignedOp, error) {
	sig, err := kp.Sign(op.Canonical())
	if err != nil {
		return SignedOp{}, err
	}
	return SignedOp{Op: op, Signer: kp.PublicKey(), Signature: sig}, nil
}

// VerifySignature re-derives the canonical encoding and checks the
// signature under the signer's key.
func (s SignedOp) VerifySignature() error {
	return s.Signer.Verify(s.Op.Canonical(), s.Signature)
}

// Actor returns the CRDT actor identity of the signer.
func (s SignedOp) Actor() (crdt.Actor, error) {
	name, err := address.NameFromKey(s.Signer)
	if err != nil {
		return crdt.Actor{}, err
	}
	return crdt.Actor(name), nil
}
