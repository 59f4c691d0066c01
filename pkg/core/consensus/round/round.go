// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

// Package round holds the immutable per-round context (RoundUpdate) of
// spec.md §3: created when a new tip is accepted, destroyed when the next
// is, and shared read-only by every phase task of that round.
package round

import (
	"github.com/stratachain/strata/pkg/core/consensus/committee"
	"github.com/stratachain/strata/pkg/core/consensus/key"
	"github.com/stratachain/strata/pkg/core/data/block"
)

// Update is the immutable per-round context.
type Update struct {
	Round uint64

	Keys key.Keys

	Seed                 []byte
	PrevBlockHash        []byte
	PrevBlockTimestamp   int64
	PrevBlockCertificate block.Certificate
	// PrevBlockSeed is the seed of the block before PrevBlockHash's block,
	// needed to re-derive the committee that produced
	// PrevBlockCertificate during header validation (spec.md §4.7).
	PrevBlockSeed []byte

	Provisioners *committee.Provisioners
}

// New builds the RoundUpdate for the round following tip.
func New(round uint64, keys key.Keys, seed, prevBlockHash []byte, prevBlockTimestamp int64, prevBlockCert block.Certificate, prevBlockSeed []byte, provisioners *committee.Provisioners) Update {
	return Update{
		Round:                round,
		Keys:                 keys,
		Seed:                 seed,
		PrevBlockHash:        prevBlockHash,
		PrevBlockTimestamp:   prevBlockTimestamp,
		PrevBlockCertificate: prevBlockCert,
		PrevBlockSeed:        prevBlockSeed,
		Provisioners:         provisioners,
	}
}
