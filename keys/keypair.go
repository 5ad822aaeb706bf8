package keys

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"

	"github.com/cloudflare/circl/sign/bls"
	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

// blsIKMSize is the input keying material length fed to the BLS key
// derivation. The scheme requires at least 32 bytes.
const blsIKMSize = 32

// Keypair is a scheme-tagged signing key with its public half.
type Keypair struct {
	scheme Scheme
	pub    PublicKey

	ed  ed25519.PrivateKey
	bls *bls.PrivateKey[bls.G1]
	dil *mode3.PrivateKey
}

// GenerateEd25519 creates a random ed25519 keypair.
func GenerateEd25519(rand io.Reader) (Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand)
	if err != nil {
		return Keypair{}, err
	}
	pk, err := NewEd25519Public(pub)
	if err != nil {
		return Keypair{}, err
	}
	return Keypair{scheme: Ed25519, pub: pk, ed: priv}, nil
}

// NewEd25519FromSeed creates an ed25519 keypair from a 32-byte seed.
func NewEd25519FromSeed(seed []byte) (Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return Keypair{}, fmt.Errorf("%w: ed25519 seed must be %d bytes, got %d",
			ErrInvalidInput, ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pk, err := NewEd25519Public(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return Keypair{}, err
	}
	return Keypair{scheme: Ed25519, pub: pk, ed: priv}, nil
}

// GenerateBLS creates a random BLS keypair with a G1 public key.
func GenerateBLS(rand io.Reader) (Keypair, error) {
	ikm := make([]byte, blsIKMSize)
	if _, err := io.ReadFull(rand, ikm); err != nil {
		return Keypair{}, err
	}
	return NewBLSFromIKM(ikm)
}

// NewBLSFromIKM derives a BLS keypair from input keying material.
func NewBLSFromIKM(ikm []byte) (Keypair, error) {
	if len(ikm) < blsIKMSize {
		return Keypair{}, fmt.Errorf("%w: bls ikm must be at least %d bytes, got %d",
			ErrInvalidInput, blsIKMSize, len(ikm))
	}
	priv, err := bls.KeyGen[bls.G1](ikm, nil, nil)
	if err != nil {
		return Keypair{}, err
	}
	raw, err := priv.PublicKey().MarshalBinary()
	if err != nil {
		return Keypair{}, err
	}
	pk, err := NewBLSPublic(raw)
	if err != nil {
		return Keypair{}, err
	}
	return Keypair{scheme: BLS, pub: pk, bls: priv}, nil
}

// NewBLSShare builds the keypair for one share of a threshold key set.
//
// The secret share material is handed in by whatever dealt the set; this
// core never combines shares, it only signs and verifies with them.
func NewBLSShare(index uint64, ikm []byte) (Keypair, error) {
	kp, err := NewBLSFromIKM(ikm)
	if err != nil {
		return Keypair{}, err
	}
	pub, err := NewBLSSharePublic(index, kp.pub.raw)
	if err != nil {
		return Keypair{}, err
	}
	return Keypair{scheme: BLSShare, pub: pub, bls: kp.bls}, nil
}

// GenerateDilithium3 creates a random dilithium3 keypair.
func GenerateDilithium3(rand io.Reader) (Keypair, error) {
	pub, priv, err := mode3.GenerateKey(rand)
	if err != nil {
		return Keypair{}, err
	}
	raw, err := pub.MarshalBinary()
	if err != nil {
		return Keypair{}, err
	}
	pk, err := NewDilithium3Public(raw)
	if err != nil {
		return Keypair{}, err
	}
	return Keypair{scheme: Dilithium3, pub: pk, dil: priv}, nil
}

// Scheme returns the keypair's signature scheme.
func (kp Keypair) Scheme() Scheme { return kp.scheme }

// PublicKey returns the public half.
func (kp Keypair) PublicKey() PublicKey { return kp.pub }

// Sign signs msg with the underlying key.
func (kp Keypair) Sign(msg []byte) (Signature, error) {
	switch kp.scheme {
	case Ed25519:
		return NewSignature(Ed25519, ed25519.Sign(kp.ed, msg))
	case BLS:
		return NewSignature(BLS, bls.Sign(kp.bls, msg))
	case BLSShare:
		return NewShareSignature(kp.pub.index, bls.Sign(kp.bls, msg))
	case Dilithium3:
		sig := make([]byte, mode3.SignatureSize)
		mode3.SignTo(kp.dil, msg, sig)
		return NewSignature(Dilithium3, sig)
	default:
		return Signature{}, ErrUnsupportedScheme
	}
}

// MustSign is Sign for keypairs known to be well-formed; it panics on a
// zero-value keypair.
func (kp Keypair) MustSign(msg []byte) Signature {
	sig, err := kp.Sign(msg)
	if err != nil {
		panic(err)
	}
	return sig
}

var errNoPrivateKey = errors.New("keys: keypair holds no private key")

// Seed returns the ed25519 seed of an ed25519 keypair.
func (kp Keypair) Seed() ([]byte, error) {
	if kp.scheme != Ed25519 || kp.ed == nil {
		return nil, errNoPrivateKey
	}
	return clone(kp.ed.Seed()), nil
}
