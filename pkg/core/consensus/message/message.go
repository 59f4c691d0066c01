// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

// Package message holds the wire-level consensus message kinds of
// spec.md §6: Candidate, Validation, Ratification, Quorum.
package message

import (
	"github.com/stratachain/strata/pkg/core/consensus/header"
	"github.com/stratachain/strata/pkg/core/data/block"
	"github.com/stratachain/strata/pkg/p2p/wire/topics"
)

// Candidate carries a proposed block for the committee to verify and
// store.
type Candidate struct {
	Header         header.Header
	CandidateBlock block.Block
	Signature      []byte
}

// Topic implements eventbus.Message.
func (Candidate) Topic() topics.Topic { return topics.Candidate }

// Validation carries one committee member's vote on the candidate.
type Validation struct {
	Header    header.Header
	Vote      block.Vote
	Signature []byte
}

// Topic implements eventbus.Message.
func (Validation) Topic() topics.Topic { return topics.Validation }

// Ratification carries one committee member's vote to ratify Validation's
// outcome.
type Ratification struct {
	Header           header.Header
	Vote             block.Vote
	ValidationResult block.Result
	Signature        []byte
}

// Topic implements eventbus.Message.
func (Ratification) Topic() topics.Topic { return topics.Ratification }

// Quorum is emitted by the certificate registry once both sub-quorums for
// a vote target are reached.
type Quorum struct {
	Header       header.Header
	Vote         block.Vote
	Validation   block.StepVotes
	Ratification block.StepVotes
	Signature    []byte
}

// Topic implements eventbus.Message.
func (Quorum) Topic() topics.Topic { return topics.Quorum }

// Cert assembles the Certificate a winning Quorum represents.
func (q Quorum) Cert() block.Certificate {
	result := block.FailResult("nil quorum")
	if q.Vote.Kind == block.KindValid {
		result = block.SuccessResult(q.Vote)
	}

	return block.Certificate{
		Validation:   q.Validation,
		Ratification: q.Ratification,
		Result:       result,
	}
}

// WireBlock carries a full accepted block.
type WireBlock struct {
	FullBlock block.Block
}

// Topic implements eventbus.Message.
func (WireBlock) Topic() topics.Topic { return topics.Block }

// GetBlocks requests a window of blocks starting after locatorHash.
type GetBlocks struct {
	LocatorHash []byte
}

// Topic implements eventbus.Message.
func (GetBlocks) Topic() topics.Topic { return topics.GetBlocks }

// InvKind tags what an Inv entry identifies.
type InvKind uint8

// The two resources nodes advertise/request over Inv/GetResource.
const (
	InvBlock InvKind = iota
	InvCandidate
)

// InvEntry is one (kind, id) pair in an Inv message.
type InvEntry struct {
	Kind InvKind
	ID   []byte
}

// Inv advertises resources the sender can serve.
type Inv struct {
	Entries []InvEntry
}

// Topic implements eventbus.Message.
func (Inv) Topic() topics.Topic { return topics.Inv }

// GetResource requests a specific resource, flooded with a bounded hop
// count per spec.md §6.
type GetResource struct {
	Inv       InvEntry
	Requester []byte
	TTL       int
	HopCount  uint8
}

// Topic implements eventbus.Message.
func (GetResource) Topic() topics.Topic { return topics.GetResource }

// GetMempool requests a peer's verified transaction pool.
type GetMempool struct{}

// Topic implements eventbus.Message.
func (GetMempool) Topic() topics.Topic { return topics.GetMempool }

// Tx carries a single transaction, keyed by its CalculateHash() output.
type Tx struct {
	Transaction block.Transaction
}

// Topic implements eventbus.Message.
func (Tx) Topic() topics.Topic { return topics.Tx }
