package perm

import (
	"crypto/rand"
	"errors"
	"testing"

	"github.com/oetyng/safe-nd/keys"
	"github.com/oetyng/safe-nd/wire"
)

func newKey(t *testing.T) keys.PublicKey {
	t.Helper()
	kp, err := keys.GenerateEd25519(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return kp.PublicKey()
}

func TestOwnerAlwaysAuthorized(t *testing.T) {
	owner := newKey(t)
	s := NewSet(Private)
	for _, need := range []Caps{CapInsert, CapUpdate, CapDelete, CapManage, AllCaps} {
		if err := s.Authorize(owner, need, owner); err != nil {
			t.Fatalf("owner denied %s: %v", need, err)
		}
	}
}

func TestAuthorizeExplicitEntry(t *testing.T) {
	owner, user := newKey(t), newKey(t)
	s := NewSet(Private)
	s.Grant(user, CapInsert|CapUpdate)

	if err := s.Authorize(user, CapInsert, owner); err != nil {
		t.Fatalf("granted cap denied: %v", err)
	}
	if err := s.Authorize(user, CapDelete, owner); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
	if err := s.Authorize(newKey(t), CapInsert, owner); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("stranger: expected ErrAccessDenied, got %v", err)
	}
}

func TestExplicitEntryShadowsAnyone(t *testing.T) {
	owner, user := newKey(t), newKey(t)
	s := NewSet(Public)
	if err := s.GrantAnyone(CapInsert | CapDelete); err != nil {
		t.Fatal(err)
	}
	// A named entry overrides Anyone even when it grants less.
	s.Grant(user, CapInsert)

	if err := s.Authorize(user, CapDelete, owner); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("entry must shadow Anyone, got %v", err)
	}
	if err := s.Authorize(newKey(t), CapDelete, owner); err != nil {
		t.Fatalf("Anyone grant denied: %v", err)
	}
}

func TestPrivateHasNoAnyone(t *testing.T) {
	s := NewSet(Private)
	if err := s.GrantAnyone(CapInsert); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
}

func TestRevoke(t *testing.T) {
	owner, user := newKey(t), newKey(t)
	s := NewSet(Private)
	s.Grant(user, AllCaps)
	s.Revoke(user)
	if err := s.Authorize(user, CapInsert, owner); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("revoked entry still authorizes: %v", err)
	}
	if _, ok := s.CapsFor(user); ok {
		t.Fatal("entry should be gone")
	}
}

func TestManageDiffers(t *testing.T) {
	user := newKey(t)

	old := NewSet(Private)
	next := old.Clone()
	next.Grant(user, CapInsert)
	if ManageDiffers(old, next) {
		t.Fatal("insert grant is not a manage change")
	}

	next2 := old.Clone()
	next2.Grant(user, CapManage)
	if !ManageDiffers(old, next2) {
		t.Fatal("new manage grant must be detected")
	}

	// Removing a manage grant is also a manage change.
	if !ManageDiffers(next2, old) {
		t.Fatal("manage revocation must be detected")
	}

	pubOld := NewSet(Public)
	pubNew := pubOld.Clone()
	if err := pubNew.GrantAnyone(CapManage); err != nil {
		t.Fatal(err)
	}
	if !ManageDiffers(pubOld, pubNew) {
		t.Fatal("Anyone manage grant must be detected")
	}
}

func TestCloneIsDeep(t *testing.T) {
	user := newKey(t)
	s := NewSet(Private)
	s.Grant(user, CapInsert)

	c := s.Clone()
	c.Grant(user, AllCaps)

	got, _ := s.CapsFor(user)
	if got != CapInsert {
		t.Fatal("mutating the clone changed the original")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	a, b := newKey(t), newKey(t)
	s := NewSet(Public)
	if err := s.GrantAnyone(CapInsert); err != nil {
		t.Fatal(err)
	}
	s.Grant(a, CapInsert|CapUpdate)
	s.Grant(b, AllCaps)

	w := wire.NewWriter(wire.TagSnapshot)
	s.EncodeTo(w)
	r, err := wire.NewReader(wire.TagSnapshot, w.Finish())
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeFrom(r)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Done(); err != nil {
		t.Fatal(err)
	}
	if !got.Equal(s) {
		t.Fatal("round trip mismatch")
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	a, b := newKey(t), newKey(t)

	enc := func(order []keys.PublicKey) []byte {
		s := NewSet(Private)
		for i, pk := range order {
			s.Grant(pk, Caps(1<<uint(i%3)))
		}
		// Re-grant to fixed caps so both orders carry identical entries.
		s.Grant(a, CapInsert)
		s.Grant(b, CapDelete)
		w := wire.NewWriter(wire.TagSnapshot)
		s.EncodeTo(w)
		return w.Finish()
	}

	x := enc([]keys.PublicKey{a, b})
	y := enc([]keys.PublicKey{b, a})
	if string(x) != string(y) {
		t.Fatal("encoding must not depend on insertion order")
	}
}

func TestCapsString(t *testing.T) {
	if got := (CapInsert | CapManage).String(); got != "insert+manage" {
		t.Fatalf("got %q", got)
	}
	if got := Caps(0).String(); got != "none" {
		t.Fatalf("got %q", got)
	}
}
