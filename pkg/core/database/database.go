// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

// Package database defines the storage capability the chain FSM and
// mempool consume, per spec.md §6, and a leveldb-backed implementation,
// following the teacher's pkg/core/chain/database.go.
package database

import "github.com/stratachain/strata/pkg/core/data/block"

// DB is the full storage capability: block store, candidate store,
// transaction store (with spend-id index) and a last-finalized marker.
type DB interface {
	// View opens a read-only, transactionally-consistent snapshot.
	View(fn func(Transaction) error) error
	// Update opens a read-write transaction.
	Update(fn func(Transaction) error) error
	Close() error
}

// Transaction is a storage-level transaction (named distinctly from a
// chain Transaction, which is data/block.Transaction).
type Transaction interface {
	// Block store, keyed by hash and by height.
	FetchBlockHeaderByHash(hash []byte) (*block.Header, error)
	FetchBlockHeaderByHeight(height uint64) (*block.Header, error)
	StoreBlock(blk block.Block) error
	HasBlock(hash []byte) (bool, error)

	// Candidate store, keyed by hash; DeleteAllCandidates supports the
	// "blacklist old local hash" fallback bookkeeping of spec.md §4.8.
	FetchCandidate(hash []byte) (*block.Block, error)
	StoreCandidate(blk block.Block) error
	DeleteAllCandidates() error

	// Transaction store with spend-id index.
	FetchTx(txID []byte) (block.Transaction, error)
	StoreTx(tx block.Transaction, spendIDs [][]byte) error
	FetchTxBySpendID(spendID []byte) (block.Transaction, error)

	// Last-finalized marker.
	FetchLastFinalizedHash() ([]byte, error)
	StoreLastFinalizedHash(hash []byte) error

	Commit() error
	Rollback() error
}
