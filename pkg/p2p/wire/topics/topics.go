// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

// Package topics enumerates the wire message kinds the dispatcher routes
// on, per spec.md §6.
package topics

// Topic identifies a wire message kind.
type Topic uint8

// The full set of topics the node's wire dispatcher understands.
const (
	Candidate Topic = iota
	Validation
	Ratification
	Quorum
	Block
	GetBlocks
	GetResource
	Inv
	GetMempool
	Tx

	// Initialization and Gossip are internal bus topics used to drive
	// component lifecycle and outbound broadcast, mirroring the teacher's
	// use of the bus for both wire and local signalling.
	Initialization
	Gossip

	// TxRemoved is an internal-only topic: the mempool publishes it when
	// a transaction is evicted in favor of a higher-fee conflicting one,
	// so the network layer can stop advertising it.
	TxRemoved
)

var names = map[Topic]string{
	Candidate:      "candidate",
	Validation:     "validation",
	Ratification:   "ratification",
	Quorum:         "quorum",
	Block:          "block",
	GetBlocks:      "getblocks",
	GetResource:    "getresource",
	Inv:            "inv",
	GetMempool:     "getmempool",
	Tx:             "tx",
	Initialization: "initialization",
	Gossip:         "gossip",
	TxRemoved:      "tx_removed",
}

// String implements fmt.Stringer.
func (t Topic) String() string {
	if n, ok := names[t]; ok {
		return n
	}
	return "unknown"
}
