// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

// Package chain owns the ledger's tip, validates and applies incoming
// blocks, and drives the InSync/OutOfSync synchronization FSM of
// spec.md §4.8.
package chain

import (
	"bytes"
	"encoding/gob"
	"sync"
	"time"

	"github.com/pkg/errors"
	logger "github.com/sirupsen/logrus"

	"github.com/stratachain/strata/pkg/config"
	"github.com/stratachain/strata/pkg/core/consensus/committee"
	"github.com/stratachain/strata/pkg/core/consensus/message"
	"github.com/stratachain/strata/pkg/core/data/block"
	"github.com/stratachain/strata/pkg/core/database"
	execengine "github.com/stratachain/strata/pkg/core/vm"
	"github.com/stratachain/strata/pkg/util/nativeutils/eventbus"
	"github.com/stratachain/strata/pkg/util/nativeutils/rpcbus"
)

var log = logger.WithFields(logger.Fields{"prefix": "chain"})

// Acceptor is the contract the sync FSM drives: accept a new tip, or
// revert to an ancestor's state, per spec.md §4.7/§6.
type Acceptor interface {
	AcceptBlock(blk block.Block) error
	RevertToAncestor(hash []byte) error
	CurrentHeight() uint64
	Tip() *block.Header
	LastFinalizedHeight() uint64
}

// Chain owns the canonical tip and the storage/VM capabilities needed to
// validate and apply blocks onto it.
type Chain struct {
	mu sync.RWMutex

	db       database.DB
	vm       execengine.VM
	eventBus *eventbus.EventBus
	rpcBus   *rpcbus.RPCBus

	tip             *block.Header
	prevPrevSeed    []byte
	prevProv        *committee.Provisioners
	provisioners    *committee.Provisioners
	finalizedHeight uint64
}

// New returns a Chain seeded at genesis. genesis must have Height 0 and
// is accepted unconditionally.
func New(db database.DB, vm execengine.VM, eventBus *eventbus.EventBus, rpcBus *rpcbus.RPCBus, genesis *block.Header) (*Chain, error) {
	provisioners, err := vm.GetProvisioners(genesis.StateHash)
	if err != nil {
		return nil, errors.Wrap(err, "chain: load genesis provisioners")
	}

	c := &Chain{
		db:           db,
		vm:           vm,
		eventBus:     eventBus,
		rpcBus:       rpcBus,
		tip:          genesis,
		prevProv:     committee.NewProvisioners(),
		provisioners: provisioners,
	}

	if err := db.Update(func(tx database.Transaction) error {
		return tx.StoreBlock(block.Block{Header: genesis})
	}); err != nil {
		return nil, errors.Wrap(err, "chain: persist genesis")
	}

	c.registerRPC()
	return c, nil
}

// CurrentHeight implements Acceptor.
func (c *Chain) CurrentHeight() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tip.Height
}

// Tip implements Acceptor.
func (c *Chain) Tip() *block.Header {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tip
}

// LastFinalizedHeight implements Acceptor.
func (c *Chain) LastFinalizedHeight() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.finalizedHeight
}

// AcceptBlock validates blk against the current tip and, on success,
// commits it to storage and VM state and advances the tip. It implements
// Acceptor and is the single path by which a block becomes canonical.
func (c *Chain) AcceptBlock(blk block.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	hdr := blk.Header
	if _, err := Validate(config.Get(), hdr, c.tip, c.prevPrevSeed, c.prevProv, c.provisioners, time.Now()); err != nil {
		return err
	}

	votersCommittee, err := committee.Extract(c.provisioners, c.tip.Seed, hdr.Height, hdr.Iteration, committee.StepValidation, config.Get().Consensus.CommitteeSize, hdr.GeneratorPubKey)
	if err != nil {
		return errors.Wrap(err, "chain: re-derive voting committee")
	}

	if _, _, err := c.vm.Accept(blk, votersCommittee); err != nil {
		return errors.Wrap(err, "chain: VM rejected block")
	}

	if err := c.db.Update(func(tx database.Transaction) error {
		if err := tx.StoreBlock(blk); err != nil {
			return err
		}
		return tx.StoreLastFinalizedHash(hdr.Hash)
	}); err != nil {
		return errors.Wrap(err, "chain: persist block")
	}

	changed, err := c.vm.GetChangedProvisioners(hdr.StateHash)
	if err != nil {
		return errors.Wrap(err, "chain: fetch changed provisioners")
	}

	c.prevPrevSeed = c.tip.Seed
	c.prevProv = c.provisioners
	c.provisioners = mergeProvisioners(c.provisioners, changed)
	c.tip = hdr
	c.finalizedHeight = hdr.Height

	if err := c.vm.Finalize(hdr.StateHash, nil); err != nil {
		log.WithError(err).Warn("VM finalize failed")
	}

	c.eventBus.Publish(message.WireBlock{FullBlock: blk})
	return nil
}

// RevertToAncestor rolls the chain and VM state back to the block
// identified by hash, which must already be present in storage. It
// implements Acceptor and backs the fallback behaviors of spec.md §4.8.
func (c *Chain) RevertToAncestor(hash []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ancestor *block.Header
	if err := c.db.View(func(tx database.Transaction) error {
		var err error
		ancestor, err = tx.FetchBlockHeaderByHash(hash)
		return err
	}); err != nil {
		return errors.Wrap(err, "chain: fetch revert target")
	}

	if err := c.vm.Revert(ancestor.StateHash); err != nil {
		return errors.Wrap(err, "chain: revert VM state")
	}

	provisioners, err := c.vm.GetProvisioners(ancestor.StateHash)
	if err != nil {
		return errors.Wrap(err, "chain: reload provisioners after revert")
	}

	c.tip = ancestor
	c.provisioners = provisioners
	if c.finalizedHeight > ancestor.Height {
		c.finalizedHeight = ancestor.Height
	}

	return nil
}

// mergeProvisioners folds a VM-reported delta set on top of base,
// returning a fresh snapshot (base is never mutated in place, so older
// round.Update values referencing it stay valid).
func mergeProvisioners(base, delta *committee.Provisioners) *committee.Provisioners {
	merged := base.Copy()
	for _, m := range delta.Members {
		merged.Add(m.PublicKeyBLS, m.Stake)
	}
	return merged
}

func (c *Chain) registerRPC() {
	getLastBlock := make(chan rpcbus.Request, 4)
	_ = c.rpcBus.Register(rpcbus.GetLastBlock, getLastBlock)

	getLastCert := make(chan rpcbus.Request, 4)
	_ = c.rpcBus.Register(rpcbus.GetLastCertificate, getLastCert)

	getCandidate := make(chan rpcbus.Request, 16)
	_ = c.rpcBus.Register(rpcbus.GetCandidate, getCandidate)

	verifyCandidate := make(chan rpcbus.Request, 16)
	_ = c.rpcBus.Register(rpcbus.VerifyCandidateBlock, verifyCandidate)

	go func() {
		for {
			select {
			case r := <-getLastBlock:
				c.onGetLastBlock(r)
			case r := <-getLastCert:
				c.onGetLastCertificate(r)
			case r := <-getCandidate:
				c.onGetCandidate(r)
			case r := <-verifyCandidate:
				c.onVerifyCandidate(r)
			}
		}
	}()
}

func (c *Chain) onGetLastBlock(r rpcbus.Request) {
	tip := c.Tip()

	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(tip)
	r.RespChan <- rpcbus.Response{Resp: buf, Err: err}
}

func (c *Chain) onGetLastCertificate(r rpcbus.Request) {
	tip := c.Tip()

	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(tip.Attestation)
	r.RespChan <- rpcbus.Response{Resp: buf, Err: err}
}

func (c *Chain) onGetCandidate(r rpcbus.Request) {
	var hash []byte
	if err := gob.NewDecoder(&r.Params).Decode(&hash); err != nil {
		r.RespChan <- rpcbus.Response{Err: err}
		return
	}

	var cand block.Block
	err := c.db.View(func(tx database.Transaction) error {
		blk, err := tx.FetchCandidate(hash)
		if err != nil {
			return err
		}
		cand = *blk
		return nil
	})
	if err != nil {
		r.RespChan <- rpcbus.Response{Err: err}
		return
	}

	var buf bytes.Buffer
	err = gob.NewEncoder(&buf).Encode(cand)
	r.RespChan <- rpcbus.Response{Resp: buf, Err: err}
}

func (c *Chain) onVerifyCandidate(r rpcbus.Request) {
	var cand block.Block
	if err := gob.NewDecoder(&r.Params).Decode(&cand); err != nil {
		r.RespChan <- rpcbus.Response{Err: err}
		return
	}

	params := execengine.ExecParams{Round: cand.Header.Height, Generator: cand.Header.GeneratorPubKey}
	_, err := c.vm.VerifyStateTransition(params, cand.Txs)
	r.RespChan <- rpcbus.Response{Err: err}
}
