// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

// Package aggregator collects per-seat votes into block.StepVotes and
// hands every updated aggregate to the certificate registry, flagging
// whether its sub-quorum is reached, shared by the Validation and Ratification phases of spec.md §4.4/§4.5.
package aggregator

import (
	"sync"

	"github.com/stratachain/strata/pkg/core/consensus/certificate"
	"github.com/stratachain/strata/pkg/core/consensus/committee"
	"github.com/stratachain/strata/pkg/core/consensus/header"
	"github.com/stratachain/strata/pkg/core/consensus/message"
	"github.com/stratachain/strata/pkg/core/data/block"
	"github.com/stratachain/strata/pkg/crypto/bls"
)

// Aggregator accumulates votes for one (iteration, kind) slot of one
// round's certificate registry.
type Aggregator struct {
	mu sync.Mutex

	committee *committee.Committee
	registry  *certificate.Registry
	kind      certificate.Kind
	iteration uint8
	generator []byte

	byTarget map[string]*block.StepVotes
}

// New returns an Aggregator collecting votes for the given committee and
// certificate slot.
func New(c *committee.Committee, registry *certificate.Registry, kind certificate.Kind, iteration uint8, generator []byte) *Aggregator {
	return &Aggregator{
		committee: c,
		registry:  registry,
		kind:      kind,
		iteration: iteration,
		generator: generator,
		byTarget:  make(map[string]*block.StepVotes),
	}
}

// Collect verifies and records one voter's signature over vote. It
// returns a non-nil Quorum message the moment both of a vote target's
// certificate slots reach quorum.
func (a *Aggregator) Collect(h header.Header, vote block.Vote, signature []byte) (*message.Quorum, error) {
	seat, err := message.VerifyVote(h, vote, signature, a.committee)
	if err != nil {
		return nil, err
	}

	sig, err := bls.UnmarshalSignature(signature)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	key := string(vote.Hash) + string(byte(vote.Kind))
	sv, ok := a.byTarget[key]
	if !ok {
		empty := block.EmptyStepVotes()
		sv = &empty
		a.byTarget[key] = sv
	}

	if sv.HasBit(seat) {
		// Duplicate vote from the same seat: idempotent, not an error.
		return nil, nil
	}

	sv.Merge(seat, sig)

	quorumReached := sv.Count() >= a.committee.QuorumThreshold()

	return a.registry.AddStepVotes(a.iteration, vote, *sv, a.kind, quorumReached, a.generator), nil
}
