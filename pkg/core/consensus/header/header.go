// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

// Package header defines the common envelope every consensus message
// carries, per spec.md §6: (pubkey, round, iteration, step, prev_block_hash).
package header

import (
	"bytes"
	"encoding/binary"
)

// Header is embedded in every Candidate/Validation/Ratification/Quorum
// message.
type Header struct {
	PubKeyBLS     []byte
	Round         uint64
	Iteration     uint8
	Step          uint8
	PrevBlockHash []byte
}

// IsMatch reports whether h targets the same (round, iteration, step,
// prev_block_hash) as other — the binding spec.md §3 requires of a Vote.
func (h Header) IsMatch(round uint64, iteration, step uint8, prevBlockHash []byte) bool {
	return h.Round == round &&
		h.Iteration == iteration &&
		h.Step == step &&
		bytes.Equal(h.PrevBlockHash, prevBlockHash)
}

// Compare orders two headers by (round, iteration, step) for the
// future/past event classification of spec.md §3 (ConsensusError
// taxonomy: FutureEvent/PastEvent).
func (h Header) Compare(other Header) int {
	if h.Round != other.Round {
		if h.Round < other.Round {
			return -1
		}
		return 1
	}
	if h.Iteration != other.Iteration {
		if h.Iteration < other.Iteration {
			return -1
		}
		return 1
	}
	if h.Step != other.Step {
		if h.Step < other.Step {
			return -1
		}
		return 1
	}
	return 0
}

// MarshalSignable encodes the fields of h that a vote's BLS signature
// covers, alongside the voted hash. Signature coverage binds a vote to
// its exact (round, iteration, step, hash) tuple so a replayed vote from a
// different context is rejected at verification.
func MarshalSignable(h Header, votedHash []byte) []byte {
	buf := new(bytes.Buffer)

	var roundBuf [8]byte
	binary.BigEndian.PutUint64(roundBuf[:], h.Round)
	buf.Write(roundBuf[:])

	buf.WriteByte(h.Iteration)
	buf.WriteByte(h.Step)
	buf.Write(h.PrevBlockHash)
	buf.Write(votedHash)

	return buf.Bytes()
}
