// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

package mempool

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/stratachain/strata/pkg/config"
	"github.com/stratachain/strata/pkg/core/consensus/message"
	"github.com/stratachain/strata/pkg/core/data/block"
	"github.com/stratachain/strata/pkg/core/data/transactions"
	"github.com/stratachain/strata/pkg/core/vm"
	"github.com/stratachain/strata/pkg/p2p/wire/topics"
	"github.com/stratachain/strata/pkg/util/nativeutils/eventbus"
	"github.com/stratachain/strata/pkg/util/nativeutils/rpcbus"
)

var log = logger.WithFields(logger.Fields{"prefix": "mempool"})

// Mempool holds transactions that are valid against the current chain
// state and are candidates for the next block, per spec.md §4.9. All
// admission and eviction logic runs on a single goroutine, so the pool
// itself needs no internal locking.
type Mempool struct {
	eventBus *eventbus.EventBus
	rpcBus   *rpcbus.RPCBus
	vm       vm.VM

	pool *pool

	pending chan *transactions.Transaction

	getTxsChan  chan rpcbus.Request
	sendTxChan  chan rpcbus.Request
	acceptedBlk chan eventbus.Message

	quitChan chan struct{}
}

// New wires a Mempool to the given collaborators and registers its
// rpcbus handlers and eventbus listeners.
func New(eventBus *eventbus.EventBus, rpcBus *rpcbus.RPCBus, vm vm.VM) (*Mempool, error) {
	getTxsChan := make(chan rpcbus.Request, 1)
	if err := rpcBus.Register(rpcbus.GetMempoolTxs, getTxsChan); err != nil {
		return nil, err
	}

	sendTxChan := make(chan rpcbus.Request, 1)
	if err := rpcBus.Register(rpcbus.SendMempoolTx, sendTxChan); err != nil {
		return nil, err
	}

	m := &Mempool{
		eventBus:    eventBus,
		rpcBus:      rpcBus,
		vm:          vm,
		pool:        newPool(),
		pending:     make(chan *transactions.Transaction, 1000),
		getTxsChan:  getTxsChan,
		sendTxChan:  sendTxChan,
		acceptedBlk: make(chan eventbus.Message, 4),
		quitChan:    make(chan struct{}),
	}

	eventBus.Subscribe(topics.Block, eventbus.NewChannelListener(m.acceptedBlk))
	eventBus.Subscribe(topics.Tx, eventbus.NewCallbackListener(m.onGossipTx))

	return m, nil
}

// Run spawns the mempool's lifecycle goroutine. It returns immediately;
// call Quit to stop it.
func (m *Mempool) Run() {
	go func() {
		idle := time.NewTicker(config.Get().Mempool.Expiry / 4)
		defer idle.Stop()

		for {
			select {
			case r := <-m.sendTxChan:
				m.onSendTx(r)
			case r := <-m.getTxsChan:
				m.onGetTxs(r)
			case msg := <-m.acceptedBlk:
				if wb, ok := msg.(message.WireBlock); ok {
					m.onAcceptedBlock(wb.FullBlock)
				}
			case tx := <-m.pending:
				if _, err := m.admit(tx); err != nil {
					log.WithError(err).Trace("rejected pending tx")
				}
			case <-idle.C:
				m.onIdle()
			case <-m.quitChan:
				return
			}
		}
	}()
}

// Quit stops the mempool's lifecycle goroutine.
func (m *Mempool) Quit() {
	close(m.quitChan)
}

// onGossipTx is invoked synchronously by eventbus for topics.Tx messages
// received from the network; it hands the decoded transaction to the
// single-owner goroutine via the pending channel without blocking the
// caller.
func (m *Mempool) onGossipTx(msg eventbus.Message) error {
	wrapped, ok := msg.(message.Tx)
	if !ok {
		return fmt.Errorf("mempool: unexpected gossip payload type")
	}

	tx, ok := wrapped.Transaction.(*transactions.Transaction)
	if !ok {
		return fmt.Errorf("mempool: unexpected transaction type")
	}

	select {
	case m.pending <- tx:
	default:
		return fmt.Errorf("mempool: pending queue full, dropping tx")
	}
	return nil
}

// admit runs the full spec.md §4.9 admission pipeline for tx: pool size
// cap, duplicate detection, VM preverification and spend-id/gas-price
// conflict resolution. On success it returns the transaction's id and
// republishes it on the eventbus for rebroadcast by the network layer.
func (m *Mempool) admit(tx *transactions.Transaction) ([]byte, error) {
	id, err := tx.CalculateHash()
	if err != nil {
		return nil, fmt.Errorf("hash: %w", err)
	}

	mcfg := config.Get().Mempool
	if m.pool.len() >= mcfg.MaxTxnCount {
		return id, fmt.Errorf("mempool full (%d txs)", mcfg.MaxTxnCount)
	}

	if m.pool.contains(id) {
		return id, fmt.Errorf("already in mempool")
	}

	if err := m.vm.Preverify(tx); err != nil {
		return id, fmt.Errorf("preverify: %w", err)
	}

	replaced, err := m.resolveConflicts(tx)
	if err != nil {
		return id, err
	}

	m.pool.put(id, txDesc{tx: tx, received: time.Now()})

	for _, r := range replaced {
		m.eventBus.Publish(removedEvent{id: r})
	}
	m.eventBus.Publish(message.Tx{Transaction: tx})

	return id, nil
}

// resolveConflicts implements the spend-id conflict rule of spec.md
// §4.9 step 4: a transaction whose spend-ids collide with an already
// admitted transaction replaces it only if it pays a strictly higher
// gas price; otherwise admission is rejected. Returns the ids evicted.
func (m *Mempool) resolveConflicts(tx *transactions.Transaction) ([][]byte, error) {
	var evict []string

	for _, s := range tx.SpendIDs {
		otherID, ok := m.pool.conflictFor(s)
		if !ok {
			continue
		}

		other, ok := m.pool.get([]byte(otherID))
		if !ok {
			continue
		}

		if tx.GasPrice <= other.tx.GasPrice {
			return nil, fmt.Errorf("conflicts with tx %x at equal or higher gas price", otherID)
		}

		evict = append(evict, otherID)
	}

	out := make([][]byte, 0, len(evict))
	for _, e := range evict {
		m.pool.remove([]byte(e))
		out = append(out, []byte(e))
	}

	return out, nil
}

// onAcceptedBlock drops every mempool transaction that made it into the
// newly accepted block, per spec.md §4.9.
func (m *Mempool) onAcceptedBlock(blk block.Block) {
	if m.pool.len() == 0 {
		return
	}

	for _, tx := range blk.Txs {
		id, err := tx.CalculateHash()
		if err != nil {
			continue
		}
		m.pool.remove(id)
	}
}

// onIdle evicts transactions that have sat in the pool past the
// configured expiry.
func (m *Mempool) onIdle() {
	expiry := config.Get().Mempool.Expiry
	cutoff := time.Now().Add(-expiry)

	var stale [][]byte
	m.pool.forEach(func(id []byte, d txDesc) {
		if d.received.Before(cutoff) {
			stale = append(stale, append([]byte{}, id...))
		}
	})

	for _, id := range stale {
		m.pool.remove(id)
	}

	if len(stale) > 0 {
		log.WithField("count", len(stale)).Debug("evicted expired transactions")
	}

	log.WithField("size", m.pool.len()).Trace("idle tick")
}

// onSendTx handles a direct, synchronous submission via rpcbus (used by
// a local wallet or RPC endpoint, bypassing gossip).
func (m *Mempool) onSendTx(r rpcbus.Request) {
	var tx transactions.Transaction
	if err := gob.NewDecoder(&r.Params).Decode(&tx); err != nil {
		r.RespChan <- rpcbus.Response{Err: fmt.Errorf("decode: %w", err)}
		return
	}

	id, err := m.admit(&tx)

	var resp bytes.Buffer
	resp.Write(id)
	r.RespChan <- rpcbus.Response{Resp: resp, Err: err}
}

// onGetTxs answers with every admitted transaction, gob-encoded as a
// slice, per rpcbus.GetMempoolTxs.
func (m *Mempool) onGetTxs(r rpcbus.Request) {
	txs := make([]*transactions.Transaction, 0, m.pool.len())
	m.pool.forEach(func(_ []byte, d txDesc) {
		txs = append(txs, d.tx)
	})

	var resp bytes.Buffer
	if err := gob.NewEncoder(&resp).Encode(txs); err != nil {
		r.RespChan <- rpcbus.Response{Err: fmt.Errorf("encode: %w", err)}
		return
	}

	r.RespChan <- rpcbus.Response{Resp: resp}
}

// removedEvent is published on the eventbus when a transaction is
// evicted in favor of a higher-fee conflicting transaction.
type removedEvent struct {
	id []byte
}

// Topic implements eventbus.Message.
func (removedEvent) Topic() topics.Topic { return topics.TxRemoved }
