// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

// Package key holds the local node's signing identity: a BLS keypair for
// committee votes and an Ed25519 keypair, mirroring the teacher's user.Keys
// double-key setup. No message in this module is signed with the Ed25519
// key.
package key

import (
	"crypto/rand"

	"golang.org/x/crypto/ed25519"

	"github.com/stratachain/strata/pkg/crypto/bls"
)

// Keys is the local node's consensus identity.
type Keys struct {
	BLSSecretKey *bls.SecretKey
	BLSPubKey    *bls.PublicKey
	BLSPubKeyBytes []byte

	EdSecretKey ed25519.PrivateKey
	EdPubKey    ed25519.PublicKey
}

// NewRandKeys generates a fresh, random keypair. Used in tests and when
// bootstrapping a node without a persisted identity.
func NewRandKeys() (Keys, error) {
	blsSK, blsPK, err := bls.GenerateKeys()
	if err != nil {
		return Keys{}, err
	}

	edPub, edSec, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Keys{}, err
	}

	return Keys{
		BLSSecretKey:   blsSK,
		BLSPubKey:      blsPK,
		BLSPubKeyBytes: blsPK.Marshal(),
		EdSecretKey:    edSec,
		EdPubKey:       edPub,
	}, nil
}
