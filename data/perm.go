package data

import (
	"fmt"

	"github.com/oetyng/safe-nd/address"
	"github.com/oetyng/safe-nd/keys"
	"github.com/oetyng/safe-nd/perm"
	"github.com/oetyng/safe-nd/wire"
)

// PermRecord is one entry of the permission history: the set, the key that
// installed it, and that key's signature over the canonical set-permissions
// payload. The signature is what lets a replica adopt a remote history
// without trusting the sender.
type PermRecord struct {
	Set       perm.Set
	Signer    keys.PublicKey
	Signature keys.Signature
}

// permPayload is the canonical byte sequence a signer commits to when
// installing set as permission record version of the aggregate at addr. It
// is the same encoding a live set-permissions operation is signed over, so
// the operation's signature doubles as the record's.
func permPayload(addr address.Address, version uint64, set perm.Set) []byte {
	return Op{Address: addr, Kind: OpSetPermissions, PermVersion: version, Permissions: set}.Canonical()
}

// verifyPermChain walks a permission history against the aggregate's
// verified owner chain. Every record's signature must cover the canonical
// payload at its index; the genesis record must be signed by the genesis
// owner; every later record's signer must hold the manage capability under
// the preceding set or be one of the chain's owners, and a change to manage
// grants is only accepted from an owner key.
func verifyPermChain(addr address.Address, owners OwnerHistory, recs []PermRecord) error {
	if len(recs) == 0 {
		return fmt.Errorf("%w: empty permission history", address.ErrInvalidInput)
	}
	for i, rec := range recs {
		if err := rec.Signer.Verify(permPayload(addr, uint64(i), rec.Set), rec.Signature); err != nil {
			return fmt.Errorf("data: permission record %d: %w", i, err)
		}
		if i == 0 {
			if !rec.Signer.Equal(owners.records[0].Key) {
				return fmt.Errorf("data: permission record 0 not signed by the genesis owner: %w", perm.ErrAccessDenied)
			}
			continue
		}
		prev := recs[i-1].Set
		if rec.Set.Scope() != prev.Scope() {
			return fmt.Errorf("%w: permission record %d changes scope", address.ErrInvalidInput, i)
		}
		if isChainOwner(owners, rec.Signer) {
			continue
		}
		if perm.ManageDiffers(prev, rec.Set) {
			return fmt.Errorf("data: permission record %d changes manage grants: %w", i, perm.ErrAccessDenied)
		}
		if err := prev.Authorize(rec.Signer, perm.CapManage, owners.Owner()); err != nil {
			return fmt.Errorf("data: permission record %d: %w", i, err)
		}
	}
	return nil
}

// isChainOwner reports whether key appears anywhere in the ownership chain.
// The permission history carries no alignment with the owner chain, so chain
// verification accepts any chain owner where the live engine insists on the
// current one.
func isChainOwner(h OwnerHistory, key keys.PublicKey) bool {
	for _, r := range h.records {
		if r.Key.Equal(key) {
			return true
		}
	}
	return false
}

func (r PermRecord) encodeTo(w *wire.Writer) {
	r.Set.EncodeTo(w)
	w.Bytes(r.Signer.Encoded())
	w.Bytes(r.Signature.Encoded())
}

// encodePermRecord returns the record's canonical bytes, the total order
// used when two permission histories diverge.
func encodePermRecord(r PermRecord) []byte {
	w := wire.NewWriter(wire.TagSnapshot)
	r.encodeTo(w)
	return w.Finish()
}

func decodePermRecord(r *wire.Reader) (PermRecord, error) {
	set, err := perm.DecodeFrom(r)
	if err != nil {
		return PermRecord{}, err
	}
	signerBytes, err := r.Bytes()
	if err != nil {
		return PermRecord{}, err
	}
	signer, err := keys.DecodePublic(signerBytes)
	if err != nil {
		return PermRecord{}, err
	}
	sigBytes, err := r.Bytes()
	if err != nil {
		return PermRecord{}, err
	}
	sig, err := keys.DecodeSignature(sigBytes)
	if err != nil {
		return PermRecord{}, err
	}
	return PermRecord{Set: set, Signer: signer, Signature: sig}, nil
}

func clonePermChain(recs []PermRecord) []PermRecord {
	out := make([]PermRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, PermRecord{Set: r.Set.Clone(), Signer: r.Signer, Signature: r.Signature})
	}
	return out
}
