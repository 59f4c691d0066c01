// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

package driver

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/stratachain/strata/pkg/config"
	"github.com/stratachain/strata/pkg/core/consensus/certificate"
	"github.com/stratachain/strata/pkg/core/consensus/committee"
	"github.com/stratachain/strata/pkg/core/consensus/message"
	"github.com/stratachain/strata/pkg/core/consensus/phase"
	"github.com/stratachain/strata/pkg/core/consensus/proposal"
	"github.com/stratachain/strata/pkg/core/consensus/ratification"
	"github.com/stratachain/strata/pkg/core/consensus/round"
	"github.com/stratachain/strata/pkg/core/consensus/validation"
	"github.com/stratachain/strata/pkg/core/data/block"
	execengine "github.com/stratachain/strata/pkg/core/vm"
	"github.com/stratachain/strata/pkg/util/nativeutils/eventbus"
	"github.com/stratachain/strata/pkg/util/nativeutils/rpcbus"
)

var log = logger.WithFields(logger.Fields{"prefix": "driver"})

// Outcome is what a Drive call settles on: either a winning candidate
// backed by a Valid Quorum, or the fact that every iteration up to
// MaxIteration failed (MAX_ITER, per spec.md §4.2/§8).
type Outcome struct {
	Block    *block.Block
	Quorum   *message.Quorum
	Registry *certificate.Registry
	Failed   bool
}

// Drive runs Proposal/Validation/Ratification iterations for ru until a
// Valid quorum is reached or MaxIteration is exhausted. Each iteration
// runs with a context scoped to that iteration's (doubled) step timeout,
// mirroring the teacher's per-phase Component/Stepper cancellation with
// context.Context standing in for its task-group structure.
func Drive(ctx context.Context, ru round.Update, eventBus *eventbus.EventBus, rpcBus *rpcbus.RPCBus, vm execengine.VM) Outcome {
	ccfg := config.Get().Consensus
	registry := certificate.New(certificate.Context{Keys: ru.Keys, Round: ru.Round, PrevBlockHash: ru.PrevBlockHash})

	for iteration := uint8(0); iteration < ccfg.MaxIteration; iteration++ {
		select {
		case <-ctx.Done():
			return Outcome{Registry: registry, Failed: true}
		default:
		}

		genCommittee, err := committee.Extract(ru.Provisioners, ru.Seed, ru.Round, iteration, committee.StepProposal, 1, nil)
		if err != nil {
			log.WithError(err).Error("generator extraction failed")
			continue
		}

		generator := genCommittee.MemberAt(0)
		registry.SetGenerator(iteration, generator)

		voteCommittee, err := committee.Extract(ru.Provisioners, ru.Seed, ru.Round, iteration, committee.StepValidation, ccfg.CommitteeSize, generator)
		if err != nil {
			log.WithError(err).Error("validation committee extraction failed")
			continue
		}

		ratCommittee, err := committee.Extract(ru.Provisioners, ru.Seed, ru.Round, iteration, committee.StepRatification, ccfg.CommitteeSize, generator)
		if err != nil {
			log.WithError(err).Error("ratification committee extraction failed")
			continue
		}

		timeout := phase.Timeout(ccfg.StepBaseTimeout, ccfg.StepTimeoutCeiling, iteration)

		q, candidate := runIteration(ctx, ru, iteration, timeout, genCommittee, voteCommittee, ratCommittee, registry, eventBus, rpcBus, vm)
		if q == nil {
			continue
		}

		if q.Vote.Kind == block.KindValid {
			return Outcome{Block: candidate, Quorum: q, Registry: registry}
		}

		// A nil-quorum settles the iteration as failed. Its nil-certificate
		// stays in registry (see GetNilCertificates), which the Outcome
		// carries; proposal.build does not copy it into a later
		// candidate's FailedIterations.
	}

	return Outcome{Registry: registry, Failed: true}
}

// runIteration runs one iteration's three steps sequentially, each
// bounded by its own timeout-derived context.
func runIteration(ctx context.Context, ru round.Update, iteration uint8, timeout time.Duration, genCommittee, voteCommittee, ratCommittee *committee.Committee, registry *certificate.Registry, eventBus *eventbus.EventBus, rpcBus *rpcbus.RPCBus, vm execengine.VM) (*message.Quorum, *block.Block) {
	propCtx, cancel := context.WithTimeout(ctx, timeout)
	candidate, err := proposal.Run(propCtx, ru, genCommittee, iteration, eventBus, rpcBus, vm)
	cancel()
	if err != nil {
		log.WithError(err).Error("proposal step failed")
	}

	valCtx, cancel := context.WithTimeout(ctx, timeout)
	vote, q := validation.Run(valCtx, ru, voteCommittee, registry, iteration, candidate, eventBus, vm)
	cancel()
	if q != nil {
		return q, candidate
	}

	validationResult := block.FailResult("validation quorum not reached")
	if vote.Kind == block.KindValid {
		validationResult = block.SuccessResult(vote)
	}

	ratCtx, cancel := context.WithTimeout(ctx, timeout)
	q = ratification.Run(ratCtx, ru, ratCommittee, registry, iteration, vote, validationResult, genCommittee.MemberAt(0), eventBus)
	cancel()

	return q, candidate
}
