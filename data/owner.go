package data

import (
	"bytes"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/oetyng/safe-nd/address"
	"github.com/oetyng/safe-nd/keys"
	"github.com/oetyng/safe-nd/wire"
)

// hashSize is the byte length of the owner-chain link hash (sha3-256).
const hashSize = 32

// OwnerRecord is one link of the ownership chain: the holder's key, the
// strictly increasing version, the sha3-256 hash of the previous record's
// canonical bytes (zero for genesis), and a signature over the canonical
// transfer payload. Genesis is self-signed; every later record is signed by
// the *previous* owner, which is what authorizes the transfer.
type OwnerRecord struct {
	Key       keys.PublicKey
	Version   uint64
	PrevHash  [hashSize]byte
	Signature keys.Signature
}

// TransferPayload is the canonical byte sequence an owner signs to hand the
// aggregate at addr to newKey as the record with the given version.
func TransferPayload(addr address.Address, newKey keys.PublicKey, version uint64, prevHash [hashSize]byte) []byte {
	w := wire.NewWriter(wire.TagOwnerTransfer)
	w.Bytes(addr.Encode())
	w.Bytes(newKey.Encoded())
	w.Uint64(version)
	w.Raw(prevHash[:])
	return w.Finish()
}

// hash returns the chain-link hash of the record.
func (r OwnerRecord) hash() [hashSize]byte {
	w := wire.NewWriter(wire.TagOwnerRecord)
	w.Bytes(r.Key.Encoded())
	w.Uint64(r.Version)
	w.Raw(r.PrevHash[:])
	w.Bytes(r.Signature.Encoded())
	return sha3.Sum256(w.Finish())
}

func (r OwnerRecord) encodeTo(w *wire.Writer) {
	w.Bytes(r.Key.Encoded())
	w.Uint64(r.Version)
	w.Raw(r.PrevHash[:])
	w.Bytes(r.Signature.Encoded())
}

// encodeOwnerRecord returns the record's canonical bytes, used both as the
// chain-hash preimage and as the total order when two chains diverge.
func encodeOwnerRecord(r OwnerRecord) []byte {
	w := wire.NewWriter(wire.TagOwnerRecord)
	r.encodeTo(w)
	return w.Finish()
}

func decodeOwnerRecord(r *wire.Reader) (OwnerRecord, error) {
	keyBytes, err := r.Bytes()
	if err != nil {
		return OwnerRecord{}, err
	}
	key, err := keys.DecodePublic(keyBytes)
	if err != nil {
		return OwnerRecord{}, err
	}
	version, err := r.Uint64()
	if err != nil {
		return OwnerRecord{}, err
	}
	prevHash, err := r.Raw(hashSize)
	if err != nil {
		return OwnerRecord{}, err
	}
	sigBytes, err := r.Bytes()
	if err != nil {
		return OwnerRecord{}, err
	}
	sig, err := keys.DecodeSignature(sigBytes)
	if err != nil {
		return OwnerRecord{}, err
	}
	out := OwnerRecord{Key: key, Version: version, Signature: sig}
	copy(out.PrevHash[:], prevHash)
	return out, nil
}

// OwnerHistory is the append-only, monotonically versioned ownership chain
// of one aggregate. Records are never removed or reordered.
type OwnerHistory struct {
	addr    address.Address
	records []OwnerRecord
}

// NewOwnerHistory creates the chain for addr with a self-signed genesis
// record at version 0.
func NewOwnerHistory(addr address.Address, owner keys.Keypair) (OwnerHistory, error) {
	var zero [hashSize]byte
	payload := TransferPayload(addr, owner.PublicKey(), 0, zero)
	sig, err := owner.Sign(payload)
	if err != nil {
		return OwnerHistory{}, err
	}
	genesis := OwnerRecord{Key: owner.PublicKey(), Version: 0, Signature: sig}
	return OwnerHistory{addr: addr, records: []OwnerRecord{genesis}}, nil
}

// Owner returns the current holder's key.
func (h OwnerHistory) Owner() keys.PublicKey {
	return h.records[len(h.records)-1].Key
}

// Version returns the current head version.
func (h OwnerHistory) Version() uint64 {
	return h.records[len(h.records)-1].Version
}

// Records returns a copy of the chain.
func (h OwnerHistory) Records() []OwnerRecord {
	return append([]OwnerRecord(nil), h.records...)
}

// Len returns the number of records.
func (h OwnerHistory) Len() int { return len(h.records) }

func (h OwnerHistory) headHash() [hashSize]byte {
	return h.records[len(h.records)-1].hash()
}

// Transfer appends a new owner record.
//
// claimedVersion must equal the current head version (ErrStaleVersion), and
// sig must verify under the *current* owner's key over the canonical
// transfer payload for the next version (keys.ErrInvalidSignature). The
// returned version is the new head version.
func (h *OwnerHistory) Transfer(newKey keys.PublicKey, claimedVersion uint64, sig keys.Signature) (uint64, error) {
	if claimedVersion != h.Version() {
		return 0, fmt.Errorf("%w: claimed owner version %d, head is %d", ErrStaleVersion, claimedVersion, h.Version())
	}
	next := h.Version() + 1
	prevHash := h.headHash()
	payload := TransferPayload(h.addr, newKey, next, prevHash)
	if err := h.Owner().Verify(payload, sig); err != nil {
		return 0, err
	}
	h.records = append(h.records, OwnerRecord{Key: newKey, Version: next, PrevHash: prevHash, Signature: sig})
	return next, nil
}

// Verify walks the whole chain: versions strictly increase from 0, each link
// hash matches, genesis is self-signed, and every transfer is signed by the
// preceding owner.
func (h OwnerHistory) Verify() error {
	if len(h.records) == 0 {
		return errors.New("data: empty owner history")
	}
	var prevHash [hashSize]byte
	for i, r := range h.records {
		if r.Version != uint64(i) {
			return fmt.Errorf("data: owner record %d has version %d", i, r.Version)
		}
		if !bytes.Equal(r.PrevHash[:], prevHash[:]) {
			return fmt.Errorf("data: owner record %d breaks the hash chain", i)
		}
		signer := r.Key
		if i > 0 {
			signer = h.records[i-1].Key
		}
		payload := TransferPayload(h.addr, r.Key, r.Version, r.PrevHash)
		if err := signer.Verify(payload, r.Signature); err != nil {
			return fmt.Errorf("data: owner record %d: %w", i, err)
		}
		prevHash = r.hash()
	}
	return nil
}

func (h OwnerHistory) encodeTo(w *wire.Writer) {
	w.Uint64(uint64(len(h.records)))
	for _, r := range h.records {
		r.encodeTo(w)
	}
}

func decodeOwnerHistory(r *wire.Reader, addr address.Address) (OwnerHistory, error) {
	n, err := r.Uint64()
	if err != nil {
		return OwnerHistory{}, err
	}
	out := OwnerHistory{addr: addr, records: make([]OwnerRecord, 0, n)}
	for i := uint64(0); i < n; i++ {
		rec, err := decodeOwnerRecord(r)
		if err != nil {
			return OwnerHistory{}, err
		}
		out.records = append(out.records, rec)
	}
	if err := out.Verify(); err != nil {
		return OwnerHistory{}, err
	}
	return out, nil
}
