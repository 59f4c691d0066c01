// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

package block

import (
	"math/big"

	"github.com/stratachain/strata/pkg/crypto/bls"
)

// StepVotes is the aggregated BLS signature plus a bitset over the
// committee seats that contributed, per spec.md §3. The zero value is the
// "empty, no votes collected" state.
type StepVotes struct {
	Signature *bls.Signature
	BitSet    *big.Int
}

// EmptyStepVotes returns the zero StepVotes.
func EmptyStepVotes() StepVotes {
	return StepVotes{BitSet: new(big.Int)}
}

// IsEmpty reports whether no votes were ever merged into sv.
func (sv StepVotes) IsEmpty() bool {
	return sv.BitSet == nil || sv.BitSet.Sign() == 0
}

// SetBit marks seat as having contributed to sv's aggregate.
func (sv *StepVotes) SetBit(seat int) {
	if sv.BitSet == nil {
		sv.BitSet = new(big.Int)
	}
	sv.BitSet.SetBit(sv.BitSet, seat, 1)
}

// HasBit reports whether seat already contributed.
func (sv StepVotes) HasBit(seat int) bool {
	if sv.BitSet == nil {
		return false
	}
	return sv.BitSet.Bit(seat) == 1
}

// Merge folds a single voter's signature into sv's aggregate and marks
// their seat.
func (sv *StepVotes) Merge(seat int, sig *bls.Signature) {
	if sv.HasBit(seat) {
		return
	}

	sv.SetBit(seat)

	if sv.Signature == nil {
		sv.Signature = sig
		return
	}

	sv.Signature = bls.AggregateSignatures(sv.Signature, sig)
}

// Count returns the number of contributing seats.
func (sv StepVotes) Count() int {
	if sv.BitSet == nil {
		return 0
	}

	n := 0
	for i := 0; i < sv.BitSet.BitLen(); i++ {
		if sv.BitSet.Bit(i) == 1 {
			n++
		}
	}
	return n
}
