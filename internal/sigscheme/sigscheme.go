// Package sigscheme verifies the ballot validator's two signature checks
// (spec §4.3 steps 3-4): the binding signature over the ballot data, and
// each action's spend-authorization signature over its public input.
//
// Adapted from the teacher's pkg/crypto/bls package: same
// PrivateKey/PublicKey/Signature wrapper shape over gnark-crypto's
// BLS12-381 group, same domain-separation-tag convention, same
// hash-to-curve construction. The real protocol uses RedPallas signatures
// over a different curve; BLS12-381 pairing-based signatures are this
// repo's nearest grounded analogue from the retrieval pack, so — as with
// the ZK circuit — this stands in for the real scheme rather than
// reimplementing it (an explicit Non-goal).
package sigscheme

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

// Domain-separation tags for the two signature roles the validator checks.
const (
	DomainBinding   = "VOTE_BINDING_V1"
	DomainSpendAuth = "VOTE_SPEND_AUTH_V1"
)

var (
	initOnce sync.Once
	g1Gen    bls12381.G1Affine
	g2Gen    bls12381.G2Affine
)

// Initialize sets up the curve generator points. Safe to call repeatedly.
func Initialize() {
	initOnce.Do(func() {
		_, _, g1Gen, g2Gen = bls12381.Generators()
	})
}

// PublicKey is a point on G2, used to verify signatures produced by the
// matching PrivateKey.
type PublicKey struct{ point bls12381.G2Affine }

// Signature is a point on G1.
type Signature struct{ point bls12381.G1Affine }

// PrivateKey is a scalar in Fr; only used by tests and ballot-construction
// tooling, never by the chain core (which only verifies).
type PrivateKey struct{ scalar fr.Element }

// GenerateKeyPair returns a fresh random key pair, for tests and tooling.
func GenerateKeyPair() (*PrivateKey, *PublicKey, error) {
	Initialize()
	var sk fr.Element
	if _, err := sk.SetRandom(); err != nil {
		return nil, nil, fmt.Errorf("sigscheme: generate scalar: %w", err)
	}
	priv := &PrivateKey{scalar: sk}
	return priv, priv.PublicKey(), nil
}

// PublicKey derives the public key pk = sk * G2.
func (sk *PrivateKey) PublicKey() *PublicKey {
	var pk bls12381.G2Affine
	var skBig big.Int
	sk.scalar.BigInt(&skBig)
	pk.ScalarMultiplication(&g2Gen, &skBig)
	return &PublicKey{point: pk}
}

// Sign produces sig = sk * H(domain || message).
func (sk *PrivateKey) Sign(domain string, message []byte) *Signature {
	h := hashToG1(domain, message)
	var sig bls12381.G1Affine
	var skBig big.Int
	sk.scalar.BigInt(&skBig)
	sig.ScalarMultiplication(&h, &skBig)
	return &Signature{point: sig}
}

// PublicKeyFromBytes deserializes a G2 point in compressed or uncompressed
// form.
func PublicKeyFromBytes(data []byte) (*PublicKey, error) {
	Initialize()
	var pk bls12381.G2Affine
	if _, err := pk.SetBytes(data); err != nil {
		return nil, fmt.Errorf("sigscheme: decode public key: %w", err)
	}
	return &PublicKey{point: pk}, nil
}

// SignatureFromBytes deserializes a compressed G1 point.
func SignatureFromBytes(data []byte) (*Signature, error) {
	Initialize()
	var sig bls12381.G1Affine
	if _, err := sig.SetBytes(data); err != nil {
		return nil, fmt.Errorf("sigscheme: decode signature: %w", err)
	}
	return &Signature{point: sig}, nil
}

// Bytes serializes the public key (compressed G2 point).
func (pk *PublicKey) Bytes() []byte {
	b := pk.point.Bytes()
	return b[:]
}

// Bytes serializes the signature (compressed G1 point).
func (sig *Signature) Bytes() []byte {
	b := sig.point.Bytes()
	return b[:]
}

// ErrInvalidSignature is returned by Verify on any pairing-check failure.
var ErrInvalidSignature = errors.New("invalid signature")

// Verify checks e(sig, G2) == e(H(domain||message), pk) and returns
// ErrInvalidSignature-wrapping error on mismatch.
func (pk *PublicKey) Verify(domain string, message []byte, sig *Signature) error {
	Initialize()
	h := hashToG1(domain, message)

	var negPk bls12381.G2Affine
	negPk.Neg(&pk.point)

	ok, err := bls12381.PairingCheck(
		[]bls12381.G1Affine{sig.point, h},
		[]bls12381.G2Affine{g2Gen, negPk},
	)
	if err != nil {
		return fmt.Errorf("%w: pairing check error: %v", ErrInvalidSignature, err)
	}
	if !ok {
		return ErrInvalidSignature
	}
	return nil
}

// hashToG1 hashes domain||message to a point on G1 deterministically. For
// each counter value it first tries to decode the 32-byte digest as a
// point with SetBytes (which rejects it, being shorter than a compressed
// G1 point) and otherwise returns digest*G1; the counter only advances
// when that product is the point at infinity.
func hashToG1(domain string, message []byte) bls12381.G1Affine {
	base := sha256.New()
	base.Write([]byte(domain))
	base.Write(message)
	seed := base.Sum(nil)

	for counter := uint64(0); counter < 1000; counter++ {
		h := sha256.New()
		h.Write(seed)
		binary.Write(h, binary.BigEndian, counter)
		digest := h.Sum(nil)

		var point bls12381.G1Affine
		if _, err := point.SetBytes(digest); err == nil && !point.IsInfinity() {
			return point
		}

		var scalar fr.Element
		scalar.SetBytes(digest)
		var scalarBig big.Int
		scalar.BigInt(&scalarBig)
		var candidate bls12381.G1Affine
		candidate.ScalarMultiplication(&g1Gen, &scalarBig)
		if !candidate.IsInfinity() {
			return candidate
		}
	}
	return g1Gen
}
