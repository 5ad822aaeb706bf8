// Package address derives and encodes the fixed-size identifiers that name
// replicated data aggregates on the network.
package address

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/oetyng/safe-nd/keys"
	"github.com/oetyng/safe-nd/wire"
)

// ErrInvalidInput reports malformed address or key material.
var ErrInvalidInput = errors.New("address: invalid input")

// Kind discriminates the aggregate flavour an address names.
type Kind uint8

const (
	PublicSequence  Kind = 1
	PrivateSequence Kind = 2
	PublicMap       Kind = 3
	PrivateMap      Kind = 4
)

// IsPublic reports whether data at this kind of address is world-readable.
func (k Kind) IsPublic() bool { return k == PublicSequence || k == PublicMap }

// IsSequence reports whether the kind names a sequence body.
func (k Kind) IsSequence() bool { return k == PublicSequence || k == PrivateSequence }

// IsMap reports whether the kind names a map body.
func (k Kind) IsMap() bool { return k == PublicMap || k == PrivateMap }

func (k Kind) valid() bool { return k >= PublicSequence && k <= PrivateMap }

func (k Kind) String() string {
	switch k {
	case PublicSequence:
		return "public-sequence"
	case PrivateSequence:
		return "private-sequence"
	case PublicMap:
		return "public-map"
	case PrivateMap:
		return "private-map"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// NameSize is the byte length of a Name.
const NameSize = 32

// Name is a fixed 32-byte identifier, a point in the network's address space.
type Name [NameSize]byte

// NameFromKey derives the name owned by a public key. Ed25519 keys are their
// own name; other schemes are reduced with a sha2-256 multihash over the
// canonical key bytes.
func NameFromKey(pk keys.PublicKey) (Name, error) {
	if pk.IsZero() {
		return Name{}, fmt.Errorf("%w: zero public key", ErrInvalidInput)
	}
	var n Name
	if raw := pk.Bytes(); pk.Scheme() == keys.Ed25519 && len(raw) == NameSize {
		copy(n[:], raw)
		return n, nil
	}
	digest, err := sha256Digest(pk.Encoded())
	if err != nil {
		return Name{}, err
	}
	copy(n[:], digest)
	return n, nil
}

func (n Name) String() string { return hex.EncodeToString(n[:]) }

// NameFromHex decodes a 64-hex-char name.
func NameFromHex(s string) (Name, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != NameSize {
		return Name{}, fmt.Errorf("%w: name must be %d hex bytes", ErrInvalidInput, NameSize)
	}
	var n Name
	copy(n[:], b)
	return n, nil
}

// Address names one replica group: a kind, a 32-byte name, and the
// caller-chosen type tag. Immutable once the aggregate is created.
type Address struct {
	Kind Kind
	Name Name
	Tag  uint64
}

// Derive computes the address owned by pk for the given kind and tag.
// Deterministic: identical inputs always produce the identical address.
func Derive(kind Kind, pk keys.PublicKey, tag uint64) (Address, error) {
	if !kind.valid() {
		return Address{}, fmt.Errorf("%w: unknown kind %d", ErrInvalidInput, kind)
	}
	name, err := NameFromKey(pk)
	if err != nil {
		return Address{}, err
	}
	return Address{Kind: kind, Name: name, Tag: tag}, nil
}

// Encode returns the canonical byte form.
func (a Address) Encode() []byte {
	w := wire.NewWriter(wire.TagAddress)
	w.Byte(byte(a.Kind))
	w.Raw(a.Name[:])
	w.Uint64(a.Tag)
	return w.Finish()
}

// Decode parses the canonical byte form.
func Decode(b []byte) (Address, error) {
	r, err := wire.NewReader(wire.TagAddress, b)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	kindByte, err := r.Byte()
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	kind := Kind(kindByte)
	if !kind.valid() {
		return Address{}, fmt.Errorf("%w: unknown kind %d", ErrInvalidInput, kind)
	}
	nameBytes, err := r.Raw(NameSize)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	tag, err := r.Uint64()
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := r.Done(); err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	var name Name
	copy(name[:], nameBytes)
	return Address{Kind: kind, Name: name, Tag: tag}, nil
}

// CID returns a CIDv1 (raw + sha2-256) over the canonical address bytes.
func (a Address) CID() (cid.Cid, error) {
	return ContentID(a.Encode())
}

// Equal reports full equality.
func (a Address) Equal(other Address) bool {
	return a.Kind == other.Kind && a.Tag == other.Tag && bytes.Equal(a.Name[:], other.Name[:])
}

func (a Address) String() string {
	return fmt.Sprintf("%s:%s:%d", a.Kind, a.Name, a.Tag)
}

// ContentID returns an IPFS-compatible CIDv1 using the "raw" multicodec and
// a sha2-256 multihash over data.
func ContentID(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// ContentIDString is ContentID rendered as a string, empty on error.
func ContentIDString(data []byte) string {
	id, err := ContentID(data)
	if err != nil {
		return ""
	}
	return id.String()
}

func sha256Digest(data []byte) ([]byte, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return nil, err
	}
	decoded, err := multihash.Decode(sum)
	if err != nil {
		return nil, err
	}
	return decoded.Digest, nil
}
