package data

import (
	"crypto/rand"
	"errors"
	"testing"

	"github.com/oetyng/safe-nd/address"
	"github.com/oetyng/safe-nd/keys"
)

func newKP(t *testing.T) keys.Keypair {
	t.Helper()
	kp, err := keys.GenerateEd25519(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return kp
}

func testAddr(t *testing.T, kind address.Kind, kp keys.Keypair) address.Address {
	t.Helper()
	addr, err := address.Derive(kind, kp.PublicKey(), 0)
	if err != nil {
		t.Fatal(err)
	}
	return addr
}

func TestOwnerHistoryGenesis(t *testing.T) {
	owner := newKP(t)
	addr := testAddr(t, address.PublicSequence, owner)

	h, err := NewOwnerHistory(addr, owner)
	if err != nil {
		t.Fatal(err)
	}
	if !h.Owner().Equal(owner.PublicKey()) {
		t.Fatal("genesis owner mismatch")
	}
	if h.Version() != 0 || h.Len() != 1 {
		t.Fatalf("version %d len %d", h.Version(), h.Len())
	}
	if err := h.Verify(); err != nil {
		t.Fatalf("verify genesis: %v", err)
	}
}

func TestOwnerHistoryTransfer(t *testing.T) {
	owner, next := newKP(t), newKP(t)
	addr := testAddr(t, address.PublicSequence, owner)
	h, err := NewOwnerHistory(addr, owner)
	if err != nil {
		t.Fatal(err)
	}

	payload := TransferPayload(addr, next.PublicKey(), 1, h.headHash())
	sig := owner.MustSign(payload)

	v, err := h.Transfer(next.PublicKey(), 0, sig)
	if err != nil {
		t.Fatal(err)
	}
	if v != 1 || h.Version() != 1 {
		t.Fatalf("version %d", v)
	}
	if !h.Owner().Equal(next.PublicKey()) {
		t.Fatal("head owner not updated")
	}
	if err := h.Verify(); err != nil {
		t.Fatalf("verify after transfer: %v", err)
	}
}

func TestOwnerHistoryStaleVersion(t *testing.T) {
	owner, next := newKP(t), newKP(t)
	addr := testAddr(t, address.PublicMap, owner)
	h, _ := NewOwnerHistory(addr, owner)

	payload := TransferPayload(addr, next.PublicKey(), 1, h.headHash())
	sig := owner.MustSign(payload)
	if _, err := h.Transfer(next.PublicKey(), 5, sig); !errors.Is(err, ErrStaleVersion) {
		t.Fatalf("expected ErrStaleVersion, got %v", err)
	}
	if h.Len() != 1 {
		t.Fatal("failed transfer mutated the chain")
	}
}

func TestOwnerHistoryForgedTransfer(t *testing.T) {
	owner, next, mallory := newKP(t), newKP(t), newKP(t)
	addr := testAddr(t, address.PublicMap, owner)
	h, _ := NewOwnerHistory(addr, owner)

	// Signed by someone other than the current owner.
	payload := TransferPayload(addr, next.PublicKey(), 1, h.headHash())
	sig := mallory.MustSign(payload)
	if _, err := h.Transfer(next.PublicKey(), 0, sig); !errors.Is(err, keys.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	// Right signer, wrong payload (claims a different receiver).
	sig = owner.MustSign(TransferPayload(addr, mallory.PublicKey(), 1, h.headHash()))
	if _, err := h.Transfer(next.PublicKey(), 0, sig); !errors.Is(err, keys.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if h.Len() != 1 {
		t.Fatal("forged transfer mutated the chain")
	}
}

func TestOwnerHistoryVerifyDetectsTampering(t *testing.T) {
	owner, next := newKP(t), newKP(t)
	addr := testAddr(t, address.PrivateSequence, owner)
	h, _ := NewOwnerHistory(addr, owner)
	sig := owner.MustSign(TransferPayload(addr, next.PublicKey(), 1, h.headHash()))
	if _, err := h.Transfer(next.PublicKey(), 0, sig); err != nil {
		t.Fatal(err)
	}

	// Swap the recorded owner of the second record.
	tampered := h
	tampered.records = h.Records()
	tampered.records[1].Key = newKP(t).PublicKey()
	if err := tampered.Verify(); err == nil {
		t.Fatal("tampered chain verified")
	}

	// Break the hash link.
	tampered.records = h.Records()
	tampered.records[1].PrevHash = [hashSize]byte{0xde, 0xad}
	if err := tampered.Verify(); err == nil {
		t.Fatal("broken hash chain verified")
	}
}

func TestOwnerHistoryChainedTransfers(t *testing.T) {
	a, b, c := newKP(t), newKP(t), newKP(t)
	addr := testAddr(t, address.PrivateMap, a)
	h, _ := NewOwnerHistory(addr, a)

	sig := a.MustSign(TransferPayload(addr, b.PublicKey(), 1, h.headHash()))
	if _, err := h.Transfer(b.PublicKey(), 0, sig); err != nil {
		t.Fatal(err)
	}
	// Transfer 2 must be signed by b, the current owner; a no longer can.
	sig = a.MustSign(TransferPayload(addr, c.PublicKey(), 2, h.headHash()))
	if _, err := h.Transfer(c.PublicKey(), 1, sig); !errors.Is(err, keys.ErrInvalidSignature) {
		t.Fatalf("old owner signed a transfer: %v", err)
	}
	sig = b.MustSign(TransferPayload(addr, c.PublicKey(), 2, h.headHash()))
	if _, err := h.Transfer(c.PublicKey(), 1, sig); err != nil {
		t.Fatal(err)
	}
	if err := h.Verify(); err != nil {
		t.Fatal(err)
	}
	if h.Version() != 2 || !h.Owner().Equal(c.PublicKey()) {
		t.Fatal("chain head wrong after two transfers")
	}
}
