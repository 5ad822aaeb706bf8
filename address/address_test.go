package address

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/oetyng/safe-nd/keys"
)

func TestNameFromKeyEd25519IsIdentity(t *testing.T) {
	kp, err := keys.GenerateEd25519(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	n, err := NameFromKey(kp.PublicKey())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(n[:], kp.PublicKey().Bytes()) {
		t.Fatal("ed25519 key must be its own name")
	}
}

func TestNameFromKeyOtherSchemesAreHashed(t *testing.T) {
	kp, err := keys.GenerateBLS(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	n, err := NameFromKey(kp.PublicKey())
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(n[:NameSize], kp.PublicKey().Bytes()[:NameSize]) {
		t.Fatal("non-ed25519 names must be digests, not raw key prefixes")
	}
	// Deterministic.
	n2, err := NameFromKey(kp.PublicKey())
	if err != nil {
		t.Fatal(err)
	}
	if n != n2 {
		t.Fatal("name derivation must be deterministic")
	}
}

func TestNameFromKeyZero(t *testing.T) {
	if _, err := NameFromKey(keys.PublicKey{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestDeriveEncodeDecode(t *testing.T) {
	kp, err := keys.GenerateEd25519(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	for _, kind := range []Kind{PublicSequence, PrivateSequence, PublicMap, PrivateMap} {
		addr, err := Derive(kind, kp.PublicKey(), 1100)
		if err != nil {
			t.Fatal(err)
		}
		got, err := Decode(addr.Encode())
		if err != nil {
			t.Fatal(err)
		}
		if !got.Equal(addr) {
			t.Fatalf("%s: decode mismatch", kind)
		}
	}

	if _, err := Derive(Kind(9), kp.PublicKey(), 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad kind, got %v", err)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	kp, _ := keys.GenerateEd25519(rand.Reader)
	addr, _ := Derive(PublicMap, kp.PublicKey(), 7)
	enc := addr.Encode()

	if _, err := Decode(enc[:len(enc)-1]); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("truncated: %v", err)
	}
	if _, err := Decode(append(append([]byte{}, enc...), 0x00)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("trailing: %v", err)
	}
	bad := append([]byte{}, enc...)
	bad[1] = 0x7f // kind byte
	if _, err := Decode(bad); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad kind: %v", err)
	}
}

func TestKindPredicates(t *testing.T) {
	cases := []struct {
		kind            Kind
		public, seq, mp bool
	}{
		{PublicSequence, true, true, false},
		{PrivateSequence, false, true, false},
		{PublicMap, true, false, true},
		{PrivateMap, false, false, true},
	}
	for _, c := range cases {
		if c.kind.IsPublic() != c.public || c.kind.IsSequence() != c.seq || c.kind.IsMap() != c.mp {
			t.Errorf("%s: predicate mismatch", c.kind)
		}
	}
}

func TestContentIDStable(t *testing.T) {
	a, err := ContentID([]byte("block"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := ContentID([]byte("block"))
	if err != nil {
		t.Fatal(err)
	}
	if a.String() != b.String() {
		t.Fatal("content IDs must be deterministic")
	}
	c, err := ContentID([]byte("other"))
	if err != nil {
		t.Fatal(err)
	}
	if a.String() == c.String() {
		t.Fatal("distinct content must get distinct IDs")
	}
	if a.Version() != 1 {
		t.Fatalf("expected CIDv1, got v%d", a.Version())
	}
}

func TestNameHexRoundTrip(t *testing.T) {
	kp, _ := keys.GenerateEd25519(rand.Reader)
	n, err := NameFromKey(kp.PublicKey())
	if err != nil {
		t.Fatal(err)
	}
	got, err := NameFromHex(n.String())
	if err != nil {
		t.Fatal(err)
	}
	if got != n {
		t.Fatal("hex round trip")
	}
	if _, err := NameFromHex("abcd"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("short hex: %v", err)
	}
}
