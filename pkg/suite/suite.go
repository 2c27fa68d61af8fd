// Package suite implements the two interchangeable signing primitives a
// shard may be published under: "ed25519" (legacy) and
// "axm-blake3-mldsa44" (post-quantum, ML-DSA-44 / FIPS 204). Both expose
// the same Suite contract so the compiler, verifier, and mount runtime
// never branch on suite identity themselves — they ask the registered
// Suite to sign or verify.
package suite

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding"
	"errors"
	"fmt"
	"io"

	"github.com/cloudflare/circl/sign/schemes"
	"golang.org/x/crypto/hkdf"
)

const (
	NameEd25519 = "ed25519"
	NameMLDSA44 = "axm-blake3-mldsa44"
)

// KeyPair is an opaque public/private byte pair. The core never interprets
// key material beyond its declared length; key generation exists only to
// support tooling (§4.4).
type KeyPair struct {
	Public  []byte
	Private []byte
}

// Suite is the signing contract: sign(private_key, message) -> signature,
// verify(public_key, message, signature) -> bool.
type Suite interface {
	Name() string
	PublicKeySize() int
	SignatureSize() int
	GenerateKeyPair() (*KeyPair, error)
	Sign(privateKey, message []byte) ([]byte, error)
	Verify(publicKey, message, signature []byte) (bool, error)
}

// Sizes are frozen per I8.
var Sizes = map[string]struct{ PK, Sig int }{
	NameEd25519: {PK: ed25519.PublicKeySize, Sig: ed25519.SignatureSize},
	NameMLDSA44: {PK: 1312, Sig: 2420},
}

// ErrUnknownSuite is returned by Get for any non-empty suite string other
// than NameEd25519 or NameMLDSA44.
var ErrUnknownSuite = errors.New("suite: unknown signing suite")

// Get resolves a suite name to its implementation. An empty name defaults
// to ed25519 per the verifier's lenient-default rule for legacy shards.
func Get(name string) (Suite, error) {
	switch name {
	case "", NameEd25519:
		return ed25519Suite{}, nil
	case NameMLDSA44:
		return mldsa44Suite{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSuite, name)
	}
}

// ---------------------------------------------------------------------
// ed25519 (legacy)
// ---------------------------------------------------------------------

type ed25519Suite struct{}

func (ed25519Suite) Name() string        { return NameEd25519 }
func (ed25519Suite) PublicKeySize() int  { return ed25519.PublicKeySize }
func (ed25519Suite) SignatureSize() int  { return ed25519.SignatureSize }

func (ed25519Suite) GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("suite: ed25519 keygen: %w", err)
	}
	// priv is the 64-byte expanded key (seed || public key); store the
	// 32-byte seed as the opaque "private key" per the core's convention
	// that keys are fixed-size opaque byte strings.
	seed := priv.Seed()
	return &KeyPair{Public: []byte(pub), Private: seed}, nil
}

func (ed25519Suite) Sign(privateKey, message []byte) ([]byte, error) {
	if len(privateKey) != ed25519.SeedSize {
		return nil, fmt.Errorf("suite: ed25519 private key must be a %d-byte seed, got %d", ed25519.SeedSize, len(privateKey))
	}
	expanded := ed25519.NewKeyFromSeed(privateKey)
	return ed25519.Sign(expanded, message), nil
}

func (ed25519Suite) Verify(publicKey, message, signature []byte) (bool, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("suite: ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, len(publicKey))
	}
	if len(signature) != ed25519.SignatureSize {
		return false, fmt.Errorf("suite: ed25519 signature must be %d bytes, got %d", ed25519.SignatureSize, len(signature))
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature), nil
}

// ---------------------------------------------------------------------
// axm-blake3-mldsa44 (post-quantum)
// ---------------------------------------------------------------------

type mldsa44Suite struct{}

func (mldsa44Suite) Name() string       { return NameMLDSA44 }
func (mldsa44Suite) PublicKeySize() int { return Sizes[NameMLDSA44].PK }
func (mldsa44Suite) SignatureSize() int { return Sizes[NameMLDSA44].Sig }

func (s mldsa44Suite) GenerateKeyPair() (*KeyPair, error) {
	sch := schemes.ByName("ML-DSA-44")
	if sch == nil {
		return nil, errors.New("suite: ML-DSA-44 scheme not registered (circl build missing)")
	}
	pub, priv, err := sch.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("suite: mldsa44 keygen: %w", err)
	}
	pubBytes, err := marshalKey(pub)
	if err != nil {
		return nil, err
	}
	privBytes, err := marshalKey(priv)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Public: pubBytes, Private: privBytes}, nil
}

// Sign is deterministic: the same key and message always produce the same
// signature, per §4.4's ML-DSA-44 requirement.
func (mldsa44Suite) Sign(privateKey, message []byte) ([]byte, error) {
	sch := schemes.ByName("ML-DSA-44")
	if sch == nil {
		return nil, errors.New("suite: ML-DSA-44 scheme not registered (circl build missing)")
	}
	priv, err := sch.UnmarshalBinaryPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("suite: mldsa44 unmarshal private key: %w", err)
	}
	return sch.Sign(priv, message, nil), nil
}

func (mldsa44Suite) Verify(publicKey, message, signature []byte) (bool, error) {
	if len(publicKey) != Sizes[NameMLDSA44].PK {
		return false, fmt.Errorf("suite: mldsa44 public key must be %d bytes, got %d", Sizes[NameMLDSA44].PK, len(publicKey))
	}
	if len(signature) != Sizes[NameMLDSA44].Sig {
		return false, fmt.Errorf("suite: mldsa44 signature must be %d bytes, got %d", Sizes[NameMLDSA44].Sig, len(signature))
	}
	sch := schemes.ByName("ML-DSA-44")
	if sch == nil {
		return false, errors.New("suite: ML-DSA-44 scheme not registered (circl build missing)")
	}
	pub, err := sch.UnmarshalBinaryPublicKey(publicKey)
	if err != nil {
		return false, fmt.Errorf("suite: mldsa44 unmarshal public key: %w", err)
	}
	return sch.Verify(pub, message, signature, nil), nil
}

// DeriveEd25519Seed derives a per-namespace ed25519 seed from a single
// master seed, so a publisher managing many namespaces doesn't need to
// generate and separately safeguard one key per namespace. The same
// masterSeed and namespace always yield the same seed.
func DeriveEd25519Seed(masterSeed []byte, namespace string) ([]byte, error) {
	reader := hkdf.New(sha256.New, masterSeed, []byte("axm-namespace-kdf"), []byte(namespace))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(reader, seed); err != nil {
		return nil, fmt.Errorf("suite: derive namespace seed: %w", err)
	}
	return seed, nil
}

func marshalKey(k interface{}) ([]byte, error) {
	m, ok := k.(encoding.BinaryMarshaler)
	if !ok {
		return nil, fmt.Errorf("suite: key type %T does not support binary marshaling", k)
	}
	return m.MarshalBinary()
}
