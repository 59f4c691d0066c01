// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

// Package validation implements the Validation step of spec.md §4.4:
// every committee member casts a vote on the candidate's validity and
// collects others' votes into a StepVotes certificate.
package validation

import (
	"bytes"
	"context"

	"github.com/stratachain/strata/pkg/core/consensus/aggregator"
	"github.com/stratachain/strata/pkg/core/consensus/certificate"
	"github.com/stratachain/strata/pkg/core/consensus/committee"
	"github.com/stratachain/strata/pkg/core/consensus/header"
	"github.com/stratachain/strata/pkg/core/consensus/message"
	"github.com/stratachain/strata/pkg/core/consensus/round"
	"github.com/stratachain/strata/pkg/core/data/block"
	execengine "github.com/stratachain/strata/pkg/core/vm"
	"github.com/stratachain/strata/pkg/p2p/wire/topics"
	"github.com/stratachain/strata/pkg/util/nativeutils/eventbus"
)

// Run casts the local node's Validation vote (if it holds a seat) and
// collects incoming Validation messages into the registry until ctx is
// done or a quorum fires a Quorum message. It returns the vote this node
// cast, and the Quorum observed (nil if the step timed out first).
func Run(ctx context.Context, ru round.Update, c *committee.Committee, registry *certificate.Registry, iteration uint8, candidate *block.Block, eventBus *eventbus.EventBus, vm execengine.VM) (block.Vote, *message.Quorum) {
	h := header.Header{
		PubKeyBLS:     ru.Keys.BLSPubKeyBytes,
		Round:         ru.Round,
		Iteration:     iteration,
		Step:          uint8(committee.StepValidation),
		PrevBlockHash: ru.PrevBlockHash,
	}

	vote := judge(candidate, vm)

	agg := aggregator.New(c, registry, certificate.KindValidation, iteration, generatorOf(candidate))

	incoming := make(chan eventbus.Message, c.Size()+1)
	id := eventBus.Subscribe(topics.Validation, eventbus.NewChannelListener(incoming))
	defer eventBus.Unsubscribe(topics.Validation, id)

	if c.IsMember(ru.Keys.BLSPubKeyBytes) {
		msg := message.NewValidation(h, vote, ru.Keys)
		eventBus.Publish(msg)

		if q, err := agg.Collect(msg.Header, msg.Vote, msg.Signature); err == nil && q != nil {
			return vote, q
		}
	}

	for {
		select {
		case m := <-incoming:
			v, ok := m.(message.Validation)
			if !ok {
				continue
			}
			if !v.Header.IsMatch(ru.Round, iteration, uint8(committee.StepValidation), ru.PrevBlockHash) {
				continue
			}

			q, err := agg.Collect(v.Header, v.Vote, v.Signature)
			if err != nil {
				continue
			}
			if q != nil {
				return vote, q
			}

		case <-ctx.Done():
			return vote, nil
		}
	}
}

// judge runs the candidate through the VM's state-transition check and
// compares the resulting state root and event hash with the candidate
// header's, producing the Valid/Invalid/NoCandidate vote spec.md §4.4
// requires.
func judge(candidate *block.Block, vm execengine.VM) block.Vote {
	if candidate == nil {
		return block.NoCandidateVote()
	}

	params := execengine.ExecParams{Round: candidate.Header.Height, Generator: candidate.Header.GeneratorPubKey}
	update, err := vm.VerifyStateTransition(params, candidate.Txs)
	if err != nil || !bytes.Equal(update.StateRoot, candidate.Header.StateHash) || !bytes.Equal(update.EventHash, candidate.Header.EventHash) {
		return block.InvalidVote(candidate.Header.Hash)
	}

	return block.ValidVote(candidate.Header.Hash)
}

func generatorOf(candidate *block.Block) []byte {
	if candidate == nil {
		return nil
	}
	return candidate.Header.GeneratorPubKey
}
