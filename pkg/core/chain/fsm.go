// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

package chain

import (
	"bytes"
	"encoding/gob"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/stratachain/strata/pkg/config"
	"github.com/stratachain/strata/pkg/core/consensus/message"
	"github.com/stratachain/strata/pkg/core/data/block"
	"github.com/stratachain/strata/pkg/core/database"
	"github.com/stratachain/strata/pkg/p2p/wire/topics"
	"github.com/stratachain/strata/pkg/util/nativeutils/eventbus"
	"github.com/stratachain/strata/pkg/util/nativeutils/rpcbus"
)

var fsmLog = logger.WithFields(logger.Fields{"prefix": "chain.fsm"})

// blockEvent is a block arriving either over the wire, out of the local
// candidate store (via a quorum), or from local consensus.
type blockEvent struct {
	blk  block.Block
	peer []byte
}

// presyncInfo is recorded on a H>L+1 sighting while InSync, per
// spec.md §4.8.
type presyncInfo struct {
	peer        []byte
	target      uint64
	startHeight uint64
	expiry      time.Time
}

type cachedAttestation struct {
	cert   block.Certificate
	expiry time.Time
}

// FSM drives block acceptance, fallback, stall detection and bulk
// download as described in spec.md §4.8. It owns all of its mutable
// state on a single goroutine reached through channels, the same pattern
// the mempool uses to avoid internal locking.
type FSM struct {
	acceptor Acceptor
	db       database.DB
	eventBus *eventbus.EventBus
	rpcBus   *rpcbus.RPCBus
	cfg      config.ChainConfig

	state func(blockEvent)

	blacklist map[string]struct{}
	attCache  map[string]cachedAttestation
	presync   *presyncInfo

	syncPeer     []byte
	syncTarget   uint64
	windowEnd    uint64
	pending      map[uint64]block.Block
	lastProgress time.Time
	attempts     int

	stall *stallDetector

	blockChan  chan blockEvent
	quorumChan chan *message.Quorum
	quitChan   chan struct{}
}

const maxPendingPool = 50

// NewFSM wires an FSM around acceptor, the block store it consults for
// fallback/fork decisions, and the bus it listens to and speaks on.
func NewFSM(acceptor Acceptor, db database.DB, eventBus *eventbus.EventBus, rpcBus *rpcbus.RPCBus, cfg config.ChainConfig) *FSM {
	f := &FSM{
		acceptor:   acceptor,
		db:         db,
		eventBus:   eventBus,
		rpcBus:     rpcBus,
		cfg:        cfg,
		blacklist:  make(map[string]struct{}),
		attCache:   make(map[string]cachedAttestation),
		stall:      newStallDetector(10*time.Second, 5),
		blockChan:  make(chan blockEvent, 64),
		quorumChan: make(chan *message.Quorum, 16),
		quitChan:   make(chan struct{}),
	}
	f.state = f.inSync

	blockIn := make(chan eventbus.Message, 64)
	f.eventBus.Subscribe(topics.Block, eventbus.NewChannelListener(blockIn))
	go f.pump(blockIn)

	quorumIn := make(chan eventbus.Message, 16)
	f.eventBus.Subscribe(topics.Quorum, eventbus.NewChannelListener(quorumIn))
	go f.pumpQuorum(quorumIn)

	return f
}

func (f *FSM) pump(in chan eventbus.Message) {
	for m := range in {
		wb, ok := m.(message.WireBlock)
		if !ok {
			continue
		}
		select {
		case f.blockChan <- blockEvent{blk: wb.FullBlock}:
		case <-f.quitChan:
			return
		}
	}
}

func (f *FSM) pumpQuorum(in chan eventbus.Message) {
	for m := range in {
		q, ok := m.(message.Quorum)
		if !ok {
			continue
		}
		select {
		case f.quorumChan <- &q:
		case <-f.quitChan:
			return
		}
	}
}

// Run is the FSM's single-goroutine event loop; call it in its own
// goroutine. Quit stops it.
func (f *FSM) Run() {
	heartbeat := time.NewTicker(time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case evt := <-f.blockChan:
			f.onBlockEvent(evt)
		case q := <-f.quorumChan:
			f.onQuorumMsg(q)
		case <-heartbeat.C:
			f.onHeartbeat()
		case <-f.quitChan:
			return
		}
	}
}

// Quit stops the FSM's event loop.
func (f *FSM) Quit() {
	close(f.quitChan)
}

// NotifyFailedConsensus implements the on_failed_consensus trigger: it
// publishes a restartSignal from the current tip. It is the hook for a
// round whose driver.Drive outcome is Failed; nothing in this module
// calls it.
func (f *FSM) NotifyFailedConsensus() {
	f.restartConsensus()
}

func (f *FSM) onBlockEvent(evt blockEvent) {
	hash := evt.blk.Header.Hash
	if f.isBlacklisted(hash) {
		return
	}

	if !evt.blk.Header.Attestation.IsReady() {
		cert, ok := f.takeCachedAttestation(hash)
		if !ok {
			fsmLog.WithField("hash", hash).Debug("dropping unattested block")
			return
		}
		evt.blk.Header.Attestation = cert
	}

	f.checkStalledFork(evt)
	f.state(evt)
}

// onQuorumMsg implements on_quorum_msg: turn a quorum into an accepted
// block by fetching its candidate, locally or over the wire.
func (f *FSM) onQuorumMsg(q *message.Quorum) {
	if q.Vote.Kind != block.KindValid {
		return
	}
	hash := q.Vote.Hash

	var params bytes.Buffer
	_ = gob.NewEncoder(&params).Encode(hash)

	resp, err := f.rpcBus.Call(rpcbus.GetCandidate, rpcbus.NewRequest(params), 2*time.Second)
	if err != nil {
		f.cacheAttestation(hash, q.Cert())
		f.floodRequest(message.InvCandidate, hash)
		return
	}

	var cand block.Block
	if err := gob.NewDecoder(&resp).Decode(&cand); err != nil {
		fsmLog.WithError(err).Error("decode candidate")
		return
	}

	cand.Header.Attestation = q.Cert()
	f.onBlockEvent(blockEvent{blk: cand})
}

// inSync implements spec.md §4.8's InSync transition table.
func (f *FSM) inSync(evt blockEvent) {
	L := f.acceptor.CurrentHeight()
	H := evt.blk.Header.Height
	hash := evt.blk.Header.Hash

	switch {
	case H < L:
		if exists, _ := f.hasBlock(hash); exists {
			return
		}
		if H <= f.acceptor.LastFinalizedHeight() {
			return
		}

		local, err := f.headerAtHeight(H)
		if err != nil || local == nil || !bytes.Equal(local.PrevBlockHash, evt.blk.Header.PrevBlockHash) || local.Iteration <= evt.blk.Header.Iteration {
			return
		}

		f.fallback(local, evt.blk)

	case H == L:
		tip := f.acceptor.Tip()
		if bytes.Equal(tip.Hash, hash) {
			return
		}

		f.fallback(tip, evt.blk)

		if f.acceptor.CurrentHeight() == H && f.presync != nil && f.presync.target > H+1 {
			f.enterOutOfSync(f.presync.peer, f.presync.target)
			f.presync = nil
		}

	case H == L+1:
		if err := f.acceptor.AcceptBlock(evt.blk); err != nil {
			fsmLog.WithError(err).Error("accept block")
			return
		}

		f.stall.noteAccepted(H)

		if f.acceptor.LastFinalizedHeight() == H {
			f.clearBlacklist()
		}

		if f.presync != nil && bytes.Equal(evt.peer, f.presync.peer) && H == f.presync.startHeight+1 {
			target := f.presync.target
			f.presync = nil
			f.enterOutOfSync(evt.peer, target)
		}

	default: // H > L+1
		f.presync = &presyncInfo{
			peer:        evt.peer,
			target:      H,
			startHeight: L,
			expiry:      time.Now().Add(f.cfg.PresyncTimeout),
		}
		f.stall.noteFutureBlock()
		f.requestBlockAt(evt.peer, L+1)
	}
}

// outOfSync implements spec.md §4.8's OutOfSync bulk-download behavior.
func (f *FSM) outOfSync(evt blockEvent) {
	tip := f.acceptor.CurrentHeight()
	H := evt.blk.Header.Height

	switch {
	case H > f.windowEnd:
		f.poolBlock(evt.blk)

	case H == tip+1:
		if err := f.acceptor.AcceptBlock(evt.blk); err != nil {
			fsmLog.WithError(err).Error("accept block during sync")
			return
		}
		if bytes.Equal(evt.peer, f.syncPeer) {
			f.lastProgress = time.Now()
			f.attempts = 3
		}
		f.drainPool()
	}

	if f.acceptor.CurrentHeight() >= f.windowEnd {
		f.restartConsensus()
		f.state = f.inSync
	}
}

func (f *FSM) enterOutOfSync(peer []byte, target uint64) {
	L := f.acceptor.CurrentHeight()

	windowEnd := L + uint64(f.cfg.MaxBlocksToRequest)
	if target < windowEnd {
		windowEnd = target
	}

	f.syncPeer = peer
	f.syncTarget = target
	f.windowEnd = windowEnd
	f.pending = make(map[uint64]block.Block)
	f.lastProgress = time.Now()
	f.attempts = 3
	f.state = f.outOfSync

	f.eventBus.Publish(message.GetBlocks{LocatorHash: f.acceptor.Tip().Hash})
}

func (f *FSM) poolBlock(blk block.Block) {
	if len(f.pending) >= maxPendingPool {
		fsmLog.WithField("height", blk.Header.Height).Debug("pending pool full, dropping block")
		return
	}
	f.pending[blk.Header.Height] = blk
}

func (f *FSM) drainPool() {
	for {
		next := f.acceptor.CurrentHeight() + 1
		blk, ok := f.pending[next]
		if !ok {
			return
		}
		delete(f.pending, next)

		if err := f.acceptor.AcceptBlock(blk); err != nil {
			fsmLog.WithError(err).Error("accept pooled block")
			return
		}
	}
}

// fallback reverts to oldLocal's predecessor and accepts remote in its
// place, blacklisting the abandoned local block.
func (f *FSM) fallback(oldLocal *block.Header, remote block.Block) {
	if err := f.acceptor.RevertToAncestor(oldLocal.PrevBlockHash); err != nil {
		fsmLog.WithError(err).Error("fallback revert")
		return
	}
	if err := f.acceptor.AcceptBlock(remote); err != nil {
		fsmLog.WithError(err).Error("fallback accept remote")
		return
	}
	f.blacklistHash(oldLocal.Hash)
}

func (f *FSM) onHeartbeat() {
	f.expireAttestationCache()

	if f.presync != nil && time.Now().After(f.presync.expiry) {
		f.presync = nil
	}

	if f.state == nil {
		return
	}

	if f.isOutOfSync() && time.Since(f.lastProgress) >= 5*time.Second {
		if f.attempts <= 0 {
			f.restartConsensus()
			f.state = f.inSync
			return
		}
		f.attempts--
		f.floodRequestMissing()
	}
}

func (f *FSM) isOutOfSync() bool {
	return f.pending != nil && f.windowEnd > 0 && f.acceptor.CurrentHeight() < f.windowEnd
}

func (f *FSM) floodRequestMissing() {
	next := f.acceptor.CurrentHeight() + 1
	for i := 0; i < 8; i++ {
		f.eventBus.Publish(message.GetResource{
			Inv:      message.InvEntry{Kind: message.InvBlock, ID: heightKey(next)},
			HopCount: 1,
			TTL:      int(f.cfg.DefaultHopsLimit),
		})
	}
}

func (f *FSM) requestBlockAt(peer []byte, height uint64) {
	f.eventBus.Publish(message.GetResource{
		Inv:       message.InvEntry{Kind: message.InvBlock, ID: heightKey(height)},
		Requester: peer,
		TTL:       int(f.cfg.DefaultHopsLimit),
	})
}

func (f *FSM) floodRequest(kind message.InvKind, id []byte) {
	f.eventBus.Publish(message.GetResource{
		Inv:      message.InvEntry{Kind: kind, ID: id},
		TTL:      int(f.cfg.DefaultHopsLimit),
		HopCount: 1,
	})
}

func (f *FSM) restartConsensus() {
	f.eventBus.Publish(restartSignal{tip: f.acceptor.Tip()})
}

// restartSignal tells the round driver to start a fresh round from tip,
// backing the on_failed_consensus and sync-exhaustion fail-over paths.
type restartSignal struct {
	tip *block.Header
}

// Topic implements eventbus.Message. Reuses Initialization since a
// restart is node-lifecycle signalling, not a wire message.
func (restartSignal) Topic() topics.Topic { return topics.Initialization }

func (f *FSM) blacklistHash(hash []byte) {
	f.blacklist[string(hash)] = struct{}{}
}

func (f *FSM) isBlacklisted(hash []byte) bool {
	_, ok := f.blacklist[string(hash)]
	return ok
}

func (f *FSM) clearBlacklist() {
	f.blacklist = make(map[string]struct{})
	_ = f.db.Update(func(tx database.Transaction) error {
		return tx.DeleteAllCandidates()
	})
}

func (f *FSM) cacheAttestation(hash []byte, cert block.Certificate) {
	f.attCache[string(hash)] = cachedAttestation{cert: cert, expiry: time.Now().Add(f.cfg.AttCacheExpiry)}
}

func (f *FSM) takeCachedAttestation(hash []byte) (block.Certificate, bool) {
	c, ok := f.attCache[string(hash)]
	if !ok {
		return block.Certificate{}, false
	}
	delete(f.attCache, string(hash))
	return c.cert, true
}

func (f *FSM) expireAttestationCache() {
	now := time.Now()
	for k, c := range f.attCache {
		if now.After(c.expiry) {
			delete(f.attCache, k)
		}
	}
}

func (f *FSM) hasBlock(hash []byte) (bool, error) {
	var exists bool
	err := f.db.View(func(tx database.Transaction) error {
		e, err := tx.HasBlock(hash)
		exists = e
		return err
	})
	return exists, err
}

func (f *FSM) headerAtHeight(height uint64) (*block.Header, error) {
	var hdr *block.Header
	err := f.db.View(func(tx database.Transaction) error {
		h, err := tx.FetchBlockHeaderByHeight(height)
		hdr = h
		return err
	})
	return hdr, err
}

func (f *FSM) headerByHash(hash []byte) (*block.Header, error) {
	var hdr *block.Header
	err := f.db.View(func(tx database.Transaction) error {
		h, err := tx.FetchBlockHeaderByHash(hash)
		hdr = h
		return err
	})
	return hdr, err
}

// checkStalledFork implements the stalled-on-fork detector's handler:
// when stalled, a block whose ancestor we hold locally but whose
// successor at the fork differs triggers a revert-and-accept.
func (f *FSM) checkStalledFork(evt blockEvent) {
	ancestor, err := f.headerByHash(evt.blk.Header.PrevBlockHash)
	if err != nil || ancestor == nil {
		return
	}
	if ancestor.Height >= f.acceptor.CurrentHeight() {
		return
	}

	localNext, err := f.headerAtHeight(ancestor.Height + 1)
	if err != nil || localNext == nil || bytes.Equal(localNext.Hash, evt.blk.Header.Hash) {
		return
	}

	if !f.stall.noteFork(localNext.Hash, evt.blk) {
		return
	}

	if err := f.acceptor.RevertToAncestor(ancestor.Hash); err != nil {
		fsmLog.WithError(err).Error("stalled-on-fork revert")
		return
	}
	if err := f.acceptor.AcceptBlock(evt.blk); err != nil {
		fsmLog.WithError(err).Error("stalled-on-fork accept remote")
		return
	}
	f.blacklistHash(localNext.Hash)
	f.stall.reset()
}

func heightKey(h uint64) []byte {
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[7-i] = byte(h >> (8 * uint(i)))
	}
	return buf
}
