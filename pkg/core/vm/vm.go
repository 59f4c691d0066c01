// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

// Package vm defines the VM capability the consensus core and chain FSM
// consume, per spec.md §6. The virtual machine that verifies state
// transitions and yields state roots is an injected capability, out of
// scope for this module beyond its interface.
package vm

import (
	"github.com/stratachain/strata/pkg/core/consensus/committee"
	"github.com/stratachain/strata/pkg/core/data/block"
)

// StateUpdate is the {state_root, event_hash} pair a state transition
// yields.
type StateUpdate struct {
	StateRoot []byte
	EventHash []byte
}

// ExecParams is the subset of a candidate header VM calls need to execute
// or verify a state transition.
type ExecParams struct {
	Round     uint64
	GasLimit  uint64
	Generator []byte
}

// VM is the capability the consensus core consumes. No single lock guards
// it across callers: validation and Chain call it independently, and each
// implementation guards its own state (Fake holds its mutex in the calls
// that change state).
type VM interface {
	// Preverify runs stateless/lightweight checks on tx before it is
	// admitted to the mempool.
	Preverify(tx block.Transaction) error

	// VerifyStateTransition re-executes a candidate's transactions without
	// committing and returns the resulting state root and event hash; the
	// caller compares them with the candidate header's declared values.
	VerifyStateTransition(params ExecParams, txs []block.Transaction) (StateUpdate, error)

	// ExecuteStateTransition executes txs, returning the accepted and
	// discarded subsets plus the resulting state update. Used by the
	// block generator; the consensus core otherwise only verifies.
	ExecuteStateTransition(params ExecParams, txs []block.Transaction) (spent, discarded []block.Transaction, update StateUpdate, err error)

	// Accept commits a winning block's transactions to VM state.
	Accept(blk block.Block, voters *committee.Committee) (spent []block.Transaction, update StateUpdate, err error)

	// Finalize marks commit as irreversible and schedules toDelete for
	// garbage collection.
	Finalize(commit []byte, toDelete [][]byte) error

	// Revert rolls VM state back to the state root hash.
	Revert(hash []byte) error

	// RevertToFinalized rolls VM state back to the last finalized commit.
	RevertToFinalized() error

	// MoveToCommit switches the VM's working state to commit without
	// altering the finalized marker.
	MoveToCommit(commit []byte) error

	GetStateRoot() ([]byte, error)
	GetFinalizedStateRoot() ([]byte, error)

	GetProvisioners(baseCommit []byte) (*committee.Provisioners, error)
	GetChangedProvisioners(baseCommit []byte) (*committee.Provisioners, error)
	GetProvisioner(pubKeyBLS []byte) (*committee.Member, error)
}
