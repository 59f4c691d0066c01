// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

package vm

import (
	"crypto/sha256"
	"sync"

	"github.com/stratachain/strata/pkg/core/consensus/committee"
	"github.com/stratachain/strata/pkg/core/data/block"
)

// Fake is an in-memory VM used by tests in place of the real execution
// engine, the role the teacher's pkg/util/ruskmock grpc server plays for
// dusk-blockchain's tests — simplified here to a plain Go fake since this
// module's VM capability is a Go interface, not a cross-process RPC.
type Fake struct {
	mu sync.Mutex

	stateRoot         []byte
	finalizedStateRoot []byte
	provisioners      *committee.Provisioners

	// PreverifyErr, when set, is returned by every Preverify call; lets
	// tests exercise the VerificationFailed mempool path.
	PreverifyErr error
}

// NewFake returns a Fake seeded with a fixed genesis state root (the
// SHA-256 of "genesis") and an empty provisioner set.
func NewFake() *Fake {
	root := sha256.Sum256([]byte("genesis"))
	return &Fake{
		stateRoot:          root[:],
		finalizedStateRoot: root[:],
		provisioners:       committee.NewProvisioners(),
	}
}

// Provisioners exposes the mutable provisioner set for test setup.
func (f *Fake) Provisioners() *committee.Provisioners {
	return f.provisioners
}

// Preverify implements VM.
func (f *Fake) Preverify(tx block.Transaction) error {
	return f.PreverifyErr
}

func deriveUpdate(params ExecParams, txs []block.Transaction) (StateUpdate, error) {
	h := sha256.New()
	h.Write(params.Generator)

	for _, tx := range txs {
		hash, err := tx.CalculateHash()
		if err != nil {
			return StateUpdate{}, err
		}
		h.Write(hash)
	}

	digest := h.Sum(nil)
	return StateUpdate{StateRoot: digest, EventHash: digest}, nil
}

// VerifyStateTransition implements VM.
func (f *Fake) VerifyStateTransition(params ExecParams, txs []block.Transaction) (StateUpdate, error) {
	return deriveUpdate(params, txs)
}

// ExecuteStateTransition implements VM.
func (f *Fake) ExecuteStateTransition(params ExecParams, txs []block.Transaction) ([]block.Transaction, []block.Transaction, StateUpdate, error) {
	update, err := deriveUpdate(params, txs)
	if err != nil {
		return nil, nil, StateUpdate{}, err
	}
	return txs, nil, update, nil
}

// Accept implements VM.
func (f *Fake) Accept(blk block.Block, voters *committee.Committee) ([]block.Transaction, StateUpdate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	update, err := deriveUpdate(ExecParams{Round: blk.Header.Height, Generator: blk.Header.GeneratorPubKey}, blk.Txs)
	if err != nil {
		return nil, StateUpdate{}, err
	}

	f.stateRoot = update.StateRoot
	return blk.Txs, update, nil
}

// Finalize implements VM.
func (f *Fake) Finalize(commit []byte, toDelete [][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalizedStateRoot = commit
	return nil
}

// Revert implements VM.
func (f *Fake) Revert(hash []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateRoot = hash
	return nil
}

// RevertToFinalized implements VM.
func (f *Fake) RevertToFinalized() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateRoot = f.finalizedStateRoot
	return nil
}

// MoveToCommit implements VM.
func (f *Fake) MoveToCommit(commit []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateRoot = commit
	return nil
}

// GetStateRoot implements VM.
func (f *Fake) GetStateRoot() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stateRoot, nil
}

// GetFinalizedStateRoot implements VM.
func (f *Fake) GetFinalizedStateRoot() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finalizedStateRoot, nil
}

// GetProvisioners implements VM.
func (f *Fake) GetProvisioners(baseCommit []byte) (*committee.Provisioners, error) {
	return f.provisioners.Copy(), nil
}

// GetChangedProvisioners implements VM.
func (f *Fake) GetChangedProvisioners(baseCommit []byte) (*committee.Provisioners, error) {
	return committee.NewProvisioners(), nil
}

// GetProvisioner implements VM.
func (f *Fake) GetProvisioner(pubKeyBLS []byte) (*committee.Member, error) {
	return f.provisioners.GetMember(pubKeyBLS), nil
}
