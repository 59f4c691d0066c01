// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

// Package bls wraps a pairing-friendly curve behind the opaque signature
// capability spec.md treats as "out of scope": the consensus core only
// ever calls Sign/Verify/Aggregate, never touches curve points directly.
package bls

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"math/big"

	bn256 "gitlab.dusk.network/dusk-core/bn256"
)

// order is the bn256 scalar field order.
var order = bn256.Order

// SecretKey is a committee member's BLS signing key.
type SecretKey struct {
	scalar *big.Int
}

// PublicKey is the G2 projection of a SecretKey.
type PublicKey struct {
	point *bn256.G2
}

// Signature is a signed message, a G1 point.
type Signature struct {
	point *bn256.G1
}

// GenerateKeys returns a fresh random keypair.
func GenerateKeys() (*SecretKey, *PublicKey, error) {
	s, err := rand.Int(rand.Reader, order)
	if err != nil {
		return nil, nil, err
	}
	if s.Sign() == 0 {
		s = big.NewInt(1)
	}

	sk := &SecretKey{scalar: s}
	return sk, sk.Public(), nil
}

// Public derives the public key matching sk.
func (sk *SecretKey) Public() *PublicKey {
	return &PublicKey{point: new(bn256.G2).ScalarBaseMult(sk.scalar)}
}

// Marshal serializes sk.
func (sk *SecretKey) Marshal() []byte {
	return sk.scalar.Bytes()
}

// UnmarshalSecretKey deserializes a secret key produced by Marshal.
func UnmarshalSecretKey(b []byte) *SecretKey {
	return &SecretKey{scalar: new(big.Int).SetBytes(b)}
}

// Marshal serializes pk to its compressed G2 encoding.
func (pk *PublicKey) Marshal() []byte {
	return pk.point.Marshal()
}

// UnmarshalPublicKey parses a public key produced by Marshal.
func UnmarshalPublicKey(b []byte) (*PublicKey, error) {
	p := new(bn256.G2)
	if _, err := p.Unmarshal(b); err != nil {
		return nil, err
	}
	return &PublicKey{point: p}, nil
}

// Equal reports whether two public keys are the same curve point.
func (pk *PublicKey) Equal(other *PublicKey) bool {
	if pk == nil || other == nil {
		return pk == other
	}
	return string(pk.Marshal()) == string(other.Marshal())
}

// hashToG1 deterministically maps msg onto G1. Not a constant-time,
// constant-fidelity hash-to-curve construction: the mapping itself is
// outside the scope this spec delegates to an opaque crypto capability,
// and only needs to be deterministic and collision-resistant enough for
// consensus-internal signing/verification to round-trip.
func hashToG1(msg []byte) *bn256.G1 {
	h := sha256.Sum256(msg)
	scalar := new(big.Int).SetBytes(h[:])
	scalar.Mod(scalar, order)
	if scalar.Sign() == 0 {
		scalar.SetInt64(1)
	}
	return new(bn256.G1).ScalarBaseMult(scalar)
}

// Sign produces a BLS signature over msg.
func Sign(sk *SecretKey, msg []byte) *Signature {
	p := hashToG1(msg)
	return &Signature{point: p.ScalarMult(p, sk.scalar)}
}

// Verify checks that sig is a valid signature by pk over msg.
func Verify(pk *PublicKey, msg []byte, sig *Signature) error {
	if pk == nil || sig == nil {
		return errors.New("bls: nil key or signature")
	}

	h := hashToG1(msg)

	lhs := bn256.Pair(sig.point, new(bn256.G2).ScalarBaseMult(big.NewInt(1)))
	rhs := bn256.Pair(h, pk.point)

	if lhs.String() != rhs.String() {
		return errors.New("bls: signature verification failed")
	}

	return nil
}

// Marshal serializes sig to its compressed G1 encoding.
func (sig *Signature) Marshal() []byte {
	if sig == nil || sig.point == nil {
		return nil
	}
	return sig.point.Marshal()
}

// UnmarshalSignature parses a signature produced by Marshal.
func UnmarshalSignature(b []byte) (*Signature, error) {
	if len(b) == 0 {
		return &Signature{}, nil
	}

	p := new(bn256.G1)
	if _, err := p.Unmarshal(b); err != nil {
		return nil, err
	}
	return &Signature{point: p}, nil
}

// AggregateSignatures sums a set of signatures into one. Used to fold a
// step's individual votes into the StepVotes aggregate.
func AggregateSignatures(sigs ...*Signature) *Signature {
	if len(sigs) == 0 {
		return &Signature{}
	}

	agg := new(bn256.G1).Set(sigs[0].point)
	for _, s := range sigs[1:] {
		agg.Add(agg, s.point)
	}

	return &Signature{point: agg}
}

// AggregatePublicKeys sums a committee subset's public keys into one,
// mirroring the teacher's Apk.Aggregate used by agreement verification.
func AggregatePublicKeys(pks ...*PublicKey) (*PublicKey, error) {
	if len(pks) == 0 {
		return nil, errors.New("bls: empty public key set")
	}

	agg := new(bn256.G2).Set(pks[0].point)
	for _, pk := range pks[1:] {
		agg.Add(agg, pk.point)
	}

	return &PublicKey{point: agg}, nil
}

// VerifyAggregated checks sig against the aggregated public key of the
// contributing committee subset, the shape every phase's quorum check
// ultimately reduces to.
func VerifyAggregated(pks []*PublicKey, msg []byte, sig *Signature) error {
	apk, err := AggregatePublicKeys(pks...)
	if err != nil {
		return err
	}

	return Verify(apk, msg, sig)
}
