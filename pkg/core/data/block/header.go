// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

// Package block holds the content-addressed block header and the
// attestation/vote types the consensus core and chain FSM operate on.
// "Previous block" is referenced by hash only, never by pointer: spec.md
// §9 rules out cyclic data.
package block

import (
	"bytes"
)

// FailedIteration records the proof (or absence of one) that an iteration
// before the winning one failed to produce an accepted block.
type FailedIteration struct {
	// Attested is false when the iteration left no observable failure
	// proof at all (an empty slot, per spec.md §4.7).
	Attested bool

	Generator []byte
	Cert      Certificate
}

// Header is a block header, per the invariants of spec.md §3.
type Header struct {
	Version   uint8
	Height    uint64
	Timestamp int64

	PrevBlockHash []byte
	Hash          []byte

	// Seed is a BLS signature over the previous block's seed by this
	// block's generator: the randomness beacon driving sortition.
	Seed []byte

	StateHash []byte
	EventHash []byte
	TxRoot    []byte

	GeneratorPubKey []byte

	Iteration uint8

	// Attestation is this block's own winner certificate, covering
	// (Height, Iteration) against the committee derived from PrevSeed.
	Attestation Certificate

	// FailedIterations holds one slot per iteration in [0, Iteration),
	// nil where no failure proof was ever observed.
	FailedIterations []*FailedIteration

	// PrevBlockCertificate is the certificate that won the previous
	// block's round, carried forward so header validation can re-verify
	// it without a second store round-trip.
	PrevBlockCertificate Certificate
}

// EqualHash reports whether h and other reference the same block.
func (h *Header) EqualHash(other *Header) bool {
	return bytes.Equal(h.Hash, other.Hash)
}

// IsZeroHash reports whether h.Hash is the unset sentinel.
func (h *Header) IsZeroHash() bool {
	return len(h.Hash) == 0 || bytes.Equal(h.Hash, ZeroHash)
}

// PNI computes the Previous Non-Attested Iterations count: the number of
// iterations strictly before the winning one that were NOT backed by a
// quorum-reaching failure proof, per spec.md §4.7.
func (h *Header) PNI() int {
	attested := 0
	for _, fi := range h.FailedIterations {
		if fi != nil && fi.Attested {
			attested++
		}
	}

	pni := int(h.Iteration) - attested
	if pni < 0 {
		pni = 0
	}
	return pni
}

// Block pairs a header with its transaction list and is what gets handed
// to the chain acceptor.
type Block struct {
	Header *Header
	Txs    []Transaction
}

// Transaction is the narrow view the block/mempool layers need; the full
// transaction model lives in pkg/core/data/transactions.
type Transaction interface {
	CalculateHash() ([]byte, error)
}
