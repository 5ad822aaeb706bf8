package keys

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/sign/bls"
	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

var (
	// ErrInvalidSignature reports a signature that does not validate for the
	// given message and key.
	ErrInvalidSignature = errors.New("keys: invalid signature")
	// ErrUnsupportedScheme reports an unrecognized scheme tag.
	ErrUnsupportedScheme = errors.New("keys: unsupported scheme")
	// ErrKindMismatch reports a signature whose scheme (or share index) does
	// not match the verifying key.
	ErrKindMismatch = errors.New("keys: signature kind does not match key")
	// ErrInvalidInput reports malformed key or signature material.
	ErrInvalidInput = errors.New("keys: invalid input")
)

// Scheme identifies a signature scheme.
type Scheme uint8

const (
	// Ed25519 single-key signatures (crypto/ed25519).
	Ed25519 Scheme = 1
	// BLS signatures with G1 public keys (48 bytes compressed).
	BLS Scheme = 2
	// BLSShare is one share of a BLS threshold key set. The core verifies a
	// share signature against the share public key it is handed; combining
	// shares is the caller's business.
	BLSShare Scheme = 3
	// Dilithium3 post-quantum signatures.
	Dilithium3 Scheme = 4
)

func (s Scheme) String() string {
	switch s {
	case Ed25519:
		return "ed25519"
	case BLS:
		return "bls"
	case BLSShare:
		return "bls-share"
	case Dilithium3:
		return "dilithium3"
	default:
		return fmt.Sprintf("scheme(%d)", uint8(s))
	}
}

// BLSPublicKeySize is the compressed size of a G1 BLS public key.
const BLSPublicKeySize = 48

// BLSSignatureSize is the compressed size of a G2 BLS signature.
const BLSSignatureSize = 96

// PublicKey is an immutable, scheme-tagged public key.
//
// Keys are compared by their canonical encoded bytes.
type PublicKey struct {
	scheme Scheme
	raw    []byte
	index  uint64 // BLSShare only
}

// NewEd25519Public wraps raw ed25519 public key bytes.
func NewEd25519Public(raw []byte) (PublicKey, error) {
	if len(raw) != ed25519.PublicKeySize {
		return PublicKey{}, fmt.Errorf("%w: ed25519 public key must be %d bytes, got %d",
			ErrInvalidInput, ed25519.PublicKeySize, len(raw))
	}
	return PublicKey{scheme: Ed25519, raw: clone(raw)}, nil
}

// NewBLSPublic wraps compressed G1 BLS public key bytes.
func NewBLSPublic(raw []byte) (PublicKey, error) {
	var pk bls.PublicKey[bls.G1]
	if err := pk.UnmarshalBinary(raw); err != nil {
		return PublicKey{}, fmt.Errorf("%w: bls public key: %v", ErrInvalidInput, err)
	}
	return PublicKey{scheme: BLS, raw: clone(raw)}, nil
}

// NewBLSSharePublic wraps a BLS public key share and its index in the set.
func NewBLSSharePublic(index uint64, raw []byte) (PublicKey, error) {
	var pk bls.PublicKey[bls.G1]
	if err := pk.UnmarshalBinary(raw); err != nil {
		return PublicKey{}, fmt.Errorf("%w: bls share public key: %v", ErrInvalidInput, err)
	}
	return PublicKey{scheme: BLSShare, raw: clone(raw), index: index}, nil
}

// NewDilithium3Public wraps dilithium3 public key bytes.
func NewDilithium3Public(raw []byte) (PublicKey, error) {
	var pk mode3.PublicKey
	if err := pk.UnmarshalBinary(raw); err != nil {
		return PublicKey{}, fmt.Errorf("%w: dilithium3 public key: %v", ErrInvalidInput, err)
	}
	return PublicKey{scheme: Dilithium3, raw: clone(raw)}, nil
}

// Scheme returns the key's signature scheme.
func (pk PublicKey) Scheme() Scheme { return pk.scheme }

// ShareIndex returns the index of a BLSShare key, zero otherwise.
func (pk PublicKey) ShareIndex() uint64 { return pk.index }

// Bytes returns the scheme-specific raw key bytes.
func (pk PublicKey) Bytes() []byte { return clone(pk.raw) }

// IsZero reports whether the key is the zero value.
func (pk PublicKey) IsZero() bool { return pk.scheme == 0 }

// Encoded returns the canonical byte form: scheme tag, share index for
// BLSShare keys, then the raw key bytes. Equality and ordering are defined
// over this form.
func (pk PublicKey) Encoded() []byte {
	out := make([]byte, 0, 1+8+len(pk.raw))
	out = append(out, byte(pk.scheme))
	if pk.scheme == BLSShare {
		var idx [8]byte
		binary.BigEndian.PutUint64(idx[:], pk.index)
		out = append(out, idx[:]...)
	}
	return append(out, pk.raw...)
}

// DecodePublic decodes the canonical form produced by Encoded.
func DecodePublic(b []byte) (PublicKey, error) {
	if len(b) < 1 {
		return PublicKey{}, ErrInvalidInput
	}
	scheme, rest := Scheme(b[0]), b[1:]
	switch scheme {
	case Ed25519:
		return NewEd25519Public(rest)
	case BLS:
		return NewBLSPublic(rest)
	case BLSShare:
		if len(rest) < 8 {
			return PublicKey{}, ErrInvalidInput
		}
		return NewBLSSharePublic(binary.BigEndian.Uint64(rest[:8]), rest[8:])
	case Dilithium3:
		return NewDilithium3Public(rest)
	default:
		return PublicKey{}, ErrUnsupportedScheme
	}
}

// Equal reports byte equality of the canonical forms.
func (pk PublicKey) Equal(other PublicKey) bool {
	return pk.scheme == other.scheme && pk.index == other.index && bytes.Equal(pk.raw, other.raw)
}

// Compare orders keys by their canonical encoded bytes.
func (pk PublicKey) Compare(other PublicKey) int {
	return bytes.Compare(pk.Encoded(), other.Encoded())
}

// String renders "<scheme>:<base64 raw bytes>", with ":<index>" appended for
// share keys.
func (pk PublicKey) String() string {
	s := pk.scheme.String() + ":" + base64.StdEncoding.EncodeToString(pk.raw)
	if pk.scheme == BLSShare {
		s = fmt.Sprintf("%s:%d", s, pk.index)
	}
	return s
}

// Verify returns nil if sig matches msg under this key.
//
// The scheme of key and signature must agree (ErrKindMismatch), and for
// share keys the share indices must agree too. A signature that fails the
// scheme's check is ErrInvalidSignature.
func (pk PublicKey) Verify(msg []byte, sig Signature) error {
	if pk.scheme != sig.scheme {
		return ErrKindMismatch
	}
	switch pk.scheme {
	case Ed25519:
		if !ed25519.Verify(ed25519.PublicKey(pk.raw), msg, sig.raw) {
			return ErrInvalidSignature
		}
		return nil
	case BLS, BLSShare:
		if pk.scheme == BLSShare && pk.index != sig.index {
			return ErrKindMismatch
		}
		var blsPK bls.PublicKey[bls.G1]
		if err := blsPK.UnmarshalBinary(pk.raw); err != nil {
			return fmt.Errorf("%w: bls public key: %v", ErrInvalidInput, err)
		}
		if !bls.Verify(&blsPK, msg, sig.raw) {
			return ErrInvalidSignature
		}
		return nil
	case Dilithium3:
		var dilPK mode3.PublicKey
		if err := dilPK.UnmarshalBinary(pk.raw); err != nil {
			return fmt.Errorf("%w: dilithium3 public key: %v", ErrInvalidInput, err)
		}
		if !mode3.Verify(&dilPK, msg, sig.raw) {
			return ErrInvalidSignature
		}
		return nil
	default:
		return ErrUnsupportedScheme
	}
}

// Signature is an immutable, scheme-tagged signature.
type Signature struct {
	scheme Scheme
	raw    []byte
	index  uint64 // BLSShare only
}

// NewSignature wraps raw signature bytes for a scheme. Fixed-size schemes
// have their lengths checked here so malformed payloads fail before any
// cryptographic work.
func NewSignature(scheme Scheme, raw []byte) (Signature, error) {
	switch scheme {
	case Ed25519:
		if len(raw) != ed25519.SignatureSize {
			return Signature{}, fmt.Errorf("%w: ed25519 signature must be %d bytes, got %d",
				ErrInvalidInput, ed25519.SignatureSize, len(raw))
		}
	case BLS:
		if len(raw) != BLSSignatureSize {
			return Signature{}, fmt.Errorf("%w: bls signature must be %d bytes, got %d",
				ErrInvalidInput, BLSSignatureSize, len(raw))
		}
	case Dilithium3:
		if len(raw) != mode3.SignatureSize {
			return Signature{}, fmt.Errorf("%w: dilithium3 signature must be %d bytes, got %d",
				ErrInvalidInput, mode3.SignatureSize, len(raw))
		}
	default:
		return Signature{}, ErrUnsupportedScheme
	}
	return Signature{scheme: scheme, raw: clone(raw)}, nil
}

// NewShareSignature wraps a BLS signature share with its index.
func NewShareSignature(index uint64, raw []byte) (Signature, error) {
	if len(raw) != BLSSignatureSize {
		return Signature{}, fmt.Errorf("%w: bls share signature must be %d bytes, got %d",
			ErrInvalidInput, BLSSignatureSize, len(raw))
	}
	return Signature{scheme: BLSShare, raw: clone(raw), index: index}, nil
}

// Scheme returns the signature's scheme.
func (s Signature) Scheme() Scheme { return s.scheme }

// ShareIndex returns the index of a BLSShare signature, zero otherwise.
func (s Signature) ShareIndex() uint64 { return s.index }

// Bytes returns the raw signature bytes.
func (s Signature) Bytes() []byte { return clone(s.raw) }

// IsZero reports whether the signature is the zero value.
func (s Signature) IsZero() bool { return s.scheme == 0 }

// Encoded returns the canonical byte form, mirroring PublicKey.Encoded.
func (s Signature) Encoded() []byte {
	out := make([]byte, 0, 1+8+len(s.raw))
	out = append(out, byte(s.scheme))
	if s.scheme == BLSShare {
		var idx [8]byte
		binary.BigEndian.PutUint64(idx[:], s.index)
		out = append(out, idx[:]...)
	}
	return append(out, s.raw...)
}

// DecodeSignature decodes the canonical form produced by Encoded.
func DecodeSignature(b []byte) (Signature, error) {
	if len(b) < 1 {
		return Signature{}, ErrInvalidInput
	}
	scheme, rest := Scheme(b[0]), b[1:]
	if scheme == BLSShare {
		if len(rest) < 8 {
			return Signature{}, ErrInvalidInput
		}
		return NewShareSignature(binary.BigEndian.Uint64(rest[:8]), rest[8:])
	}
	return NewSignature(scheme, rest)
}

// Equal reports byte equality of the canonical forms.
func (s Signature) Equal(other Signature) bool {
	return s.scheme == other.scheme && s.index == other.index && bytes.Equal(s.raw, other.raw)
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
