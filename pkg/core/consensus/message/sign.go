// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

package message

import (
	"fmt"

	"github.com/stratachain/strata/pkg/core/consensus/committee"
	"github.com/stratachain/strata/pkg/core/consensus/header"
	"github.com/stratachain/strata/pkg/core/consensus/key"
	"github.com/stratachain/strata/pkg/core/data/block"
	"github.com/stratachain/strata/pkg/crypto/bls"
)

// SignVote produces the BLS signature a Validation or Ratification
// message carries, sealing (round, iteration, step, prev_block_hash,
// voted hash) together, per spec.md §4.4.
func SignVote(h header.Header, vote block.Vote, keys key.Keys) []byte {
	payload := header.MarshalSignable(h, vote.Hash)
	sig := bls.Sign(keys.BLSSecretKey, payload)
	return sig.Marshal()
}

// NewValidation seals a local vote into a signed Validation message.
func NewValidation(h header.Header, vote block.Vote, keys key.Keys) Validation {
	h.PubKeyBLS = keys.BLSPubKeyBytes
	return Validation{
		Header:    h,
		Vote:      vote,
		Signature: SignVote(h, vote, keys),
	}
}

// NewRatification seals a local vote into a signed Ratification message.
func NewRatification(h header.Header, vote block.Vote, validationResult block.Result, keys key.Keys) Ratification {
	h.PubKeyBLS = keys.BLSPubKeyBytes
	return Ratification{
		Header:           h,
		Vote:             vote,
		ValidationResult: validationResult,
		Signature:        SignVote(h, vote, keys),
	}
}

// VerifyVote checks that sig is msg's voter's valid BLS signature and that
// the voter holds a seat in the given committee, per spec.md §4.4/§4.5.
// It returns the voter's deterministic seat index for StepVotes bitset
// bookkeeping.
func VerifyVote(h header.Header, vote block.Vote, signature []byte, c *committee.Committee) (int, error) {
	seat, ok := c.SeatIndex(h.PubKeyBLS)
	if !ok {
		return 0, fmt.Errorf("consensus: voter is not a committee member")
	}

	pk, err := bls.UnmarshalPublicKey(h.PubKeyBLS)
	if err != nil {
		return 0, fmt.Errorf("consensus: invalid voter public key: %w", err)
	}

	sig, err := bls.UnmarshalSignature(signature)
	if err != nil {
		return 0, fmt.Errorf("consensus: invalid signature encoding: %w", err)
	}

	payload := header.MarshalSignable(h, vote.Hash)
	if err := bls.Verify(pk, payload, sig); err != nil {
		return 0, fmt.Errorf("consensus: signature verification failed: %w", err)
	}

	return seat, nil
}
