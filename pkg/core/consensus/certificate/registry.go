// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

// Package certificate aggregates per-iteration validation and
// ratification step-votes into certificates and emits quorum messages,
// per spec.md §4.6. It is held behind a single exclusion lock per round,
// per spec.md §5.
package certificate

import (
	"sync"

	logger "github.com/sirupsen/logrus"

	"github.com/stratachain/strata/pkg/core/consensus/header"
	"github.com/stratachain/strata/pkg/core/consensus/key"
	"github.com/stratachain/strata/pkg/core/consensus/message"
	"github.com/stratachain/strata/pkg/core/data/block"
)

var log = logger.WithFields(logger.Fields{"prefix": "certificate"})

// Context is the slice of a round's context a Registry needs to sign
// Quorum messages; Registry takes these fields rather than a whole
// round.Update.
type Context struct {
	Keys          key.Keys
	Round         uint64
	PrevBlockHash []byte
}

// Kind tags which sub-certificate add_step_votes is filling in.
type Kind uint8

// The two step-vote slots a Certificate carries.
const (
	KindValidation Kind = iota
	KindRatification
)

// info is spec.md's CertificateInfo: {vote, cert, quorum_reached_validation,
// quorum_reached_ratification}.
type info struct {
	vote block.Vote
	cert block.Certificate

	quorumValidation   bool
	quorumRatification bool
}

func (ci *info) addStepVotes(sv block.StepVotes, kind Kind, quorumReached bool) bool {
	switch kind {
	case KindValidation:
		ci.cert.Validation = sv
		if quorumReached {
			ci.quorumValidation = true
		}
	case KindRatification:
		ci.cert.Ratification = sv
		if quorumReached {
			ci.quorumRatification = true
		}
	}

	return ci.isReady()
}

// isReady is spec.md's CertificateInfo.is_ready invariant.
func (ci *info) isReady() bool {
	return ci.hasVotes() && ci.quorumValidation && ci.quorumRatification
}

func (ci *info) hasVotes() bool {
	return !ci.cert.Validation.IsEmpty() && !ci.cert.Ratification.IsEmpty()
}

// iterationCerts is one registry entry: a "valid" slot bound to whichever
// non-nil vote target first appears, and a "nil" slot for NoCandidate.
type iterationCerts struct {
	valid     *info
	nilSlot   info
	generator []byte
}

func newIterationCerts(generator []byte) *iterationCerts {
	return &iterationCerts{generator: generator}
}

// forVote selects the slot vote belongs to. It returns nil if vote is a
// different non-nil target than whatever already occupies the valid slot:
// that write must be rejected and logged, per spec.md §4.6 step 1 and the
// invariant in spec.md §8 ("only the first vote target occupies the valid
// slot").
func (ic *iterationCerts) forVote(vote block.Vote) *info {
	if vote.IsNil() {
		return &ic.nilSlot
	}

	if ic.valid == nil {
		ic.valid = &info{vote: vote}
	}

	if !ic.valid.vote.Equal(vote) {
		log.WithFields(logger.Fields{
			"have": ic.valid.vote.String(),
			"got":  vote.String(),
		}).Error("cannot add step votes for a different vote target")
		return nil
	}

	return ic.valid
}

// Registry is the per-round certificate registry.
type Registry struct {
	mu     sync.Mutex
	ctx    Context
	byIter map[uint8]*iterationCerts
}

// New returns an empty registry for the given round context. Destroyed
// (simply dropped) when the round ends.
func New(ctx Context) *Registry {
	return &Registry{
		ctx:    ctx,
		byIter: make(map[uint8]*iterationCerts),
	}
}

// AddStepVotes implements spec.md §4.6's add_step_votes. It returns a
// freshly signed Quorum message when both quorum flags are now set and
// both step-vote fields are non-empty; otherwise nil.
func (r *Registry) AddStepVotes(iteration uint8, vote block.Vote, sv block.StepVotes, kind Kind, quorumReached bool, generator []byte) *message.Quorum {
	r.mu.Lock()
	defer r.mu.Unlock()

	ic, ok := r.byIter[iteration]
	if !ok {
		ic = newIterationCerts(generator)
		r.byIter[iteration] = ic
	}

	ci := ic.forVote(vote)
	if ci == nil {
		return nil
	}

	if !ci.addStepVotes(sv, kind, quorumReached) {
		return nil
	}

	return r.buildQuorum(iteration, *ci)
}

func (r *Registry) buildQuorum(iteration uint8, ci info) *message.Quorum {
	h := header.Header{
		PubKeyBLS:     r.ctx.Keys.BLSPubKeyBytes,
		Round:         r.ctx.Round,
		Iteration:     iteration,
		PrevBlockHash: r.ctx.PrevBlockHash,
	}

	sig := message.SignVote(h, ci.vote, r.ctx.Keys)

	q := &message.Quorum{
		Header:       h,
		Vote:         ci.vote,
		Validation:   ci.cert.Validation,
		Ratification: ci.cert.Ratification,
		Signature:    sig,
	}

	return q
}

// GetNilCertificates returns, for each iteration strictly below to, the
// per-iteration nil-certificate if it is ready (both sub-quorums met,
// both step-votes present), in the shape of a winning block's
// failed_iterations field, per spec.md §4.6. Nothing in this module calls
// it when a candidate block is built.
func (r *Registry) GetNilCertificates(to uint8) []*block.FailedIteration {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := make([]*block.FailedIteration, to)

	for iteration := uint8(0); iteration < to; iteration++ {
		ic, ok := r.byIter[iteration]
		if !ok || !ic.nilSlot.isReady() {
			continue
		}

		res[iteration] = &block.FailedIteration{
			Attested:  true,
			Generator: ic.generator,
			Cert:      ic.nilSlot.cert,
		}
	}

	return res
}

// SetGenerator records iteration's elected Proposal-committee member, so a
// later nil-certificate carries the right generator even if it is filled
// in before the Proposal phase runs.
func (r *Registry) SetGenerator(iteration uint8, generator []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ic, ok := r.byIter[iteration]
	if !ok {
		r.byIter[iteration] = newIterationCerts(generator)
		return
	}

	ic.generator = generator
}
