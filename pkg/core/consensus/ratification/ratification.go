// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

// Package ratification implements the Ratification step of spec.md
// §4.5: every committee member echoes the Validation step's outcome and
// collects others' echoes into the certificate's second StepVotes.
package ratification

import (
	"context"

	"github.com/stratachain/strata/pkg/core/consensus/aggregator"
	"github.com/stratachain/strata/pkg/core/consensus/certificate"
	"github.com/stratachain/strata/pkg/core/consensus/committee"
	"github.com/stratachain/strata/pkg/core/consensus/header"
	"github.com/stratachain/strata/pkg/core/consensus/message"
	"github.com/stratachain/strata/pkg/core/consensus/round"
	"github.com/stratachain/strata/pkg/core/data/block"
	"github.com/stratachain/strata/pkg/p2p/wire/topics"
	"github.com/stratachain/strata/pkg/util/nativeutils/eventbus"
)

// Run casts the local node's Ratification vote (if it holds a seat) and
// collects incoming Ratification messages into the registry until ctx is
// done or a quorum fires a Quorum message.
func Run(ctx context.Context, ru round.Update, c *committee.Committee, registry *certificate.Registry, iteration uint8, vote block.Vote, validationResult block.Result, generator []byte, eventBus *eventbus.EventBus) *message.Quorum {
	h := header.Header{
		PubKeyBLS:     ru.Keys.BLSPubKeyBytes,
		Round:         ru.Round,
		Iteration:     iteration,
		Step:          uint8(committee.StepRatification),
		PrevBlockHash: ru.PrevBlockHash,
	}

	agg := aggregator.New(c, registry, certificate.KindRatification, iteration, generator)

	incoming := make(chan eventbus.Message, c.Size()+1)
	id := eventBus.Subscribe(topics.Ratification, eventbus.NewChannelListener(incoming))
	defer eventBus.Unsubscribe(topics.Ratification, id)

	if c.IsMember(ru.Keys.BLSPubKeyBytes) {
		msg := message.NewRatification(h, vote, validationResult, ru.Keys)
		eventBus.Publish(msg)

		if q, err := agg.Collect(msg.Header, msg.Vote, msg.Signature); err == nil && q != nil {
			return q
		}
	}

	for {
		select {
		case m := <-incoming:
			r, ok := m.(message.Ratification)
			if !ok {
				continue
			}
			if !r.Header.IsMatch(ru.Round, iteration, uint8(committee.StepRatification), ru.PrevBlockHash) {
				continue
			}

			q, err := agg.Collect(r.Header, r.Vote, r.Signature)
			if err != nil {
				continue
			}
			if q != nil {
				return q
			}

		case <-ctx.Done():
			return nil
		}
	}
}
