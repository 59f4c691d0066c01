// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

// Package transactions is the transaction model mempool admission and the
// block store operate on, adapted from the teacher's
// pkg/core/data/transactions/output.go.
package transactions

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/gob"

	ristretto "github.com/bwesterb/go-ristretto"
)

// Output is a stealth transaction output carrying a commitment to an
// amount, mirroring the teacher's Output type. Commitment is amount times
// the ristretto base point; mask is stored but not folded into it, so the
// commitment is not blinded.
type Output struct {
	Commitment ristretto.Point
	amount     ristretto.Scalar
	mask       ristretto.Scalar
	Index      uint32
}

// NewOutput builds an Output committing to amount at position index.
func NewOutput(amount, mask ristretto.Scalar, index uint32) Output {
	var commitment ristretto.Point
	commitment.ScalarMultBase(&amount)

	return Output{Commitment: commitment, amount: amount, mask: mask, Index: index}
}

// Transaction is a spend-id bearing transaction: spend-ids are the
// double-spend detection key both the mempool (§4.9) and the block store
// (§6) index on.
type Transaction struct {
	// SpendIDs are the nullifier-like identifiers this transaction
	// consumes. Two transactions sharing a spend-id conflict.
	SpendIDs [][]byte

	Outputs []Output

	GasPrice uint64
	GasLimit uint64

	Payload []byte

	// id caches CalculateHash's result; unexported so gob round-trips
	// recompute it rather than trusting a stale cached value.
	id []byte
}

// CalculateHash derives the transaction's content-addressed identity from
// its spend-ids, gas parameters and payload.
func (t *Transaction) CalculateHash() ([]byte, error) {
	if t.id != nil {
		return t.id, nil
	}

	h := sha256.New()
	for _, s := range t.SpendIDs {
		h.Write(s)
	}

	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], t.GasPrice)
	binary.BigEndian.PutUint64(buf[8:], t.GasLimit)
	h.Write(buf[:])
	h.Write(t.Payload)

	t.id = h.Sum(nil)
	return t.id, nil
}

// Equal reports whether two transactions share the same content hash.
func (t *Transaction) Equal(other *Transaction) bool {
	a, err := t.CalculateHash()
	if err != nil {
		return false
	}
	b, err := other.CalculateHash()
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

func init() {
	gob.Register(&Transaction{})
}
