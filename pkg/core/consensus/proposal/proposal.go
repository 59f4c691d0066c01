// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

// Package proposal implements the Proposal step of spec.md §4.3: the
// iteration's elected generator assembles a candidate block from the
// mempool and broadcasts it; every other committee member waits for it
// or times out into a NoCandidate vote.
package proposal

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"fmt"

	logger "github.com/sirupsen/logrus"

	"github.com/stratachain/strata/pkg/core/consensus/committee"
	"github.com/stratachain/strata/pkg/core/consensus/header"
	"github.com/stratachain/strata/pkg/core/consensus/message"
	"github.com/stratachain/strata/pkg/core/consensus/round"
	"github.com/stratachain/strata/pkg/core/data/block"
	"github.com/stratachain/strata/pkg/core/data/transactions"
	execengine "github.com/stratachain/strata/pkg/core/vm"
	"github.com/stratachain/strata/pkg/p2p/wire/topics"
	"github.com/stratachain/strata/pkg/util/nativeutils/eventbus"
	"github.com/stratachain/strata/pkg/util/nativeutils/rpcbus"
)

var log = logger.WithFields(logger.Fields{"prefix": "proposal"})

// Run executes one Proposal step. If the local node holds the generator
// seat it builds, gossips and returns a candidate; every other node (and
// a generator whose build failed) waits (up to ctx's deadline) for a
// validly-signed Candidate from the generator. It returns nil, nil on
// timeout — the caller casts a NoCandidate vote.
func Run(ctx context.Context, ru round.Update, generatorCommittee *committee.Committee, iteration uint8, eventBus *eventbus.EventBus, rpcBus *rpcbus.RPCBus, execVM execengine.VM) (*block.Block, error) {
	generator := generatorCommittee.MemberAt(0)
	if generator == nil {
		return nil, fmt.Errorf("proposal: empty generator committee")
	}

	incoming := make(chan eventbus.Message, 4)
	id := eventBus.Subscribe(topics.Candidate, eventbus.NewChannelListener(incoming))
	defer eventBus.Unsubscribe(topics.Candidate, id)

	if bytes.Equal(generator, ru.Keys.BLSPubKeyBytes) {
		cand, err := build(ru, iteration, rpcBus, execVM)
		if err != nil {
			log.WithError(err).Error("failed to build candidate")
		} else {
			h := header.Header{
				PubKeyBLS:     ru.Keys.BLSPubKeyBytes,
				Round:         ru.Round,
				Iteration:     iteration,
				Step:          uint8(committee.StepProposal),
				PrevBlockHash: ru.PrevBlockHash,
			}

			msg := message.Candidate{Header: h, CandidateBlock: *cand}
			sig := message.SignVote(h, block.ValidVote(cand.Header.Hash), ru.Keys)
			msg.Signature = sig

			eventBus.Publish(msg)
			return cand, nil
		}
	}

	for {
		select {
		case m := <-incoming:
			cand, ok := m.(message.Candidate)
			if !ok {
				continue
			}
			if !cand.Header.IsMatch(ru.Round, iteration, uint8(committee.StepProposal), ru.PrevBlockHash) {
				continue
			}
			if !bytes.Equal(cand.Header.PubKeyBLS, generator) {
				log.Warn("candidate from non-generator seat, ignoring")
				continue
			}
			if cand.CandidateBlock.Header == nil {
				continue
			}
			if _, err := message.VerifyVote(cand.Header, block.ValidVote(cand.CandidateBlock.Header.Hash), cand.Signature, generatorCommittee); err != nil {
				log.WithError(err).Warn("candidate signature invalid, ignoring")
				continue
			}
			return &cand.CandidateBlock, nil

		case <-ctx.Done():
			return nil, nil
		}
	}
}

// build assembles a candidate block from the mempool's pending
// transactions and the VM's speculative state transition.
func build(ru round.Update, iteration uint8, rpcBus *rpcbus.RPCBus, execVM execengine.VM) (*block.Block, error) {
	resp, err := rpcBus.Call(rpcbus.GetMempoolTxs, rpcbus.NewRequest(bytes.Buffer{}), 0)
	if err != nil {
		return nil, fmt.Errorf("fetch mempool txs: %w", err)
	}

	var txs []*transactions.Transaction
	if resp.Len() > 0 {
		if err := gob.NewDecoder(&resp).Decode(&txs); err != nil {
			return nil, fmt.Errorf("decode mempool txs: %w", err)
		}
	}

	blockTxs := make([]block.Transaction, len(txs))
	for i, tx := range txs {
		blockTxs[i] = tx
	}

	params := execengine.ExecParams{Round: ru.Round, Generator: ru.Keys.BLSPubKeyBytes}
	accepted, _, update, err := execVM.ExecuteStateTransition(params, blockTxs)
	if err != nil {
		return nil, fmt.Errorf("execute state transition: %w", err)
	}

	hdr := &block.Header{
		Version:         0,
		Height:          ru.Round,
		PrevBlockHash:   ru.PrevBlockHash,
		Seed:            ru.Seed,
		StateHash:       update.StateRoot,
		EventHash:       update.EventHash,
		GeneratorPubKey: ru.Keys.BLSPubKeyBytes,
		Iteration:       iteration,
	}

	blk := block.Block{Header: hdr, Txs: accepted}

	hash, err := hashBlock(hdr, accepted)
	if err != nil {
		return nil, err
	}
	hdr.Hash = hash

	return &blk, nil
}

func hashBlock(hdr *block.Header, txs []block.Transaction) ([]byte, error) {
	h := sha256.New()
	h.Write(hdr.PrevBlockHash)
	h.Write(hdr.StateHash)
	h.Write(hdr.EventHash)

	for _, tx := range txs {
		id, err := tx.CalculateHash()
		if err != nil {
			return nil, err
		}
		h.Write(id)
	}

	return h.Sum(nil), nil
}
