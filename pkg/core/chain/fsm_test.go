// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

package chain

import (
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratachain/strata/pkg/config"
	"github.com/stratachain/strata/pkg/core/data/block"
	"github.com/stratachain/strata/pkg/core/database"
	"github.com/stratachain/strata/pkg/p2p/wire/topics"
	"github.com/stratachain/strata/pkg/util/nativeutils/eventbus"
	"github.com/stratachain/strata/pkg/util/nativeutils/rpcbus"
)

// mockAcceptor is a bare recorder standing in for *Chain, the same way
// the teacher's synchronizer tests drive a mockChain rather than a real
// one.
type mockAcceptor struct {
	height    uint64
	tip       *block.Header
	finalized uint64

	accepted  []block.Block
	acceptErr error

	reverted  [][]byte
	revertErr error
}

func (m *mockAcceptor) AcceptBlock(blk block.Block) error {
	if m.acceptErr != nil {
		return m.acceptErr
	}
	m.accepted = append(m.accepted, blk)
	m.height = blk.Header.Height
	m.tip = blk.Header
	return nil
}

func (m *mockAcceptor) RevertToAncestor(hash []byte) error {
	m.reverted = append(m.reverted, hash)
	return m.revertErr
}

func (m *mockAcceptor) CurrentHeight() uint64       { return m.height }
func (m *mockAcceptor) Tip() *block.Header          { return m.tip }
func (m *mockAcceptor) LastFinalizedHeight() uint64 { return m.finalized }

// fakeDB is an in-memory stand-in for database.DB, holding only what the
// FSM actually touches: headers by hash/height and the candidate store.
type fakeDB struct {
	mu            sync.Mutex
	headersByHash map[string]*block.Header
	hashByHeight  map[uint64][]byte
	candidates    map[string]*block.Block
	lastFinal     []byte
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		headersByHash: make(map[string]*block.Header),
		hashByHeight:  make(map[uint64][]byte),
		candidates:    make(map[string]*block.Block),
	}
}

func (d *fakeDB) View(fn func(database.Transaction) error) error   { return fn(&fakeTx{d: d}) }
func (d *fakeDB) Update(fn func(database.Transaction) error) error { return fn(&fakeTx{d: d}) }
func (d *fakeDB) Close() error                                     { return nil }

func (d *fakeDB) putHeader(hdr *block.Header) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.headersByHash[string(hdr.Hash)] = hdr
	d.hashByHeight[hdr.Height] = hdr.Hash
}

type fakeTx struct{ d *fakeDB }

var errNotFoundFake = errors.New("fakeDB: not found")

func (t *fakeTx) FetchBlockHeaderByHash(hash []byte) (*block.Header, error) {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	h, ok := t.d.headersByHash[string(hash)]
	if !ok {
		return nil, errNotFoundFake
	}
	return h, nil
}

func (t *fakeTx) FetchBlockHeaderByHeight(height uint64) (*block.Header, error) {
	t.d.mu.Lock()
	hash, ok := t.d.hashByHeight[height]
	t.d.mu.Unlock()
	if !ok {
		return nil, errNotFoundFake
	}
	return t.FetchBlockHeaderByHash(hash)
}

func (t *fakeTx) HasBlock(hash []byte) (bool, error) {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	_, ok := t.d.headersByHash[string(hash)]
	return ok, nil
}

func (t *fakeTx) StoreBlock(blk block.Block) error {
	t.d.putHeader(blk.Header)
	return nil
}

func (t *fakeTx) FetchCandidate(hash []byte) (*block.Block, error) {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	c, ok := t.d.candidates[string(hash)]
	if !ok {
		return nil, errNotFoundFake
	}
	return c, nil
}

func (t *fakeTx) StoreCandidate(blk block.Block) error {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	t.d.candidates[string(blk.Header.Hash)] = &blk
	return nil
}

func (t *fakeTx) DeleteAllCandidates() error {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	t.d.candidates = make(map[string]*block.Block)
	return nil
}

func (t *fakeTx) FetchTx(txID []byte) (block.Transaction, error)        { return nil, errNotFoundFake }
func (t *fakeTx) StoreTx(tx block.Transaction, spendIDs [][]byte) error { return nil }
func (t *fakeTx) FetchTxBySpendID(spendID []byte) (block.Transaction, error) {
	return nil, errNotFoundFake
}

func (t *fakeTx) FetchLastFinalizedHash() ([]byte, error) {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	return t.d.lastFinal, nil
}

func (t *fakeTx) StoreLastFinalizedHash(hash []byte) error {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	t.d.lastFinal = hash
	return nil
}

func (t *fakeTx) Commit() error   { return nil }
func (t *fakeTx) Rollback() error { return nil }

// newTestFSM builds an FSM around a mockAcceptor seeded at genesis, with
// a live eventbus/rpcbus pair so published GetResource/GetBlocks/restart
// messages can be observed.
func newTestFSM(t *testing.T) (*FSM, *mockAcceptor, *fakeDB, *eventbus.EventBus) {
	t.Helper()

	genesis := &block.Header{Height: 0, Hash: []byte("genesis-hash")}
	acc := &mockAcceptor{height: 0, tip: genesis}

	db := newFakeDB()
	db.putHeader(genesis)

	bus := eventbus.New()
	rb := rpcbus.New()

	f := NewFSM(acc, db, bus, rb, config.Default().Chain)
	return f, acc, db, bus
}

func attestedHeader(height uint64, hash, prevHash []byte) *block.Header {
	cert := block.EmptyCertificate()
	cert.Validation.SetBit(0)
	cert.Ratification.SetBit(0)

	return &block.Header{
		Height:        height,
		Hash:          hash,
		PrevBlockHash: prevHash,
		Attestation:   cert,
	}
}

func stateIs(f *FSM, fn func(blockEvent)) bool {
	return reflect.ValueOf(f.state).Pointer() == reflect.ValueOf(fn).Pointer()
}

func TestInSyncAcceptsSuccessiveBlock(t *testing.T) {
	f, acc, _, _ := newTestFSM(t)

	blk := block.Block{Header: attestedHeader(1, []byte("h1"), []byte("genesis-hash"))}
	f.onBlockEvent(blockEvent{blk: blk, peer: []byte("peer-a")})

	require.Len(t, acc.accepted, 1)
	assert.Equal(t, uint64(1), acc.CurrentHeight())
}

func TestInSyncDropsUnattestedBlockWithoutCachedCertificate(t *testing.T) {
	f, acc, _, _ := newTestFSM(t)

	blk := block.Block{Header: &block.Header{Height: 1, Hash: []byte("h1"), PrevBlockHash: []byte("genesis-hash")}}
	f.onBlockEvent(blockEvent{blk: blk})

	assert.Empty(t, acc.accepted, "an unattested block with no cached certificate must be dropped")
}

func TestInSyncAcceptsUnattestedBlockOnceCertificateIsCached(t *testing.T) {
	f, acc, _, _ := newTestFSM(t)

	hash := []byte("h1")
	cert := block.EmptyCertificate()
	cert.Validation.SetBit(0)
	cert.Ratification.SetBit(0)
	f.cacheAttestation(hash, cert)

	blk := block.Block{Header: &block.Header{Height: 1, Hash: hash, PrevBlockHash: []byte("genesis-hash")}}
	f.onBlockEvent(blockEvent{blk: blk})

	require.Len(t, acc.accepted, 1)
	_, stillCached := f.takeCachedAttestation(hash)
	assert.False(t, stillCached, "a consumed cache entry must not be reusable")
}

func TestInSyncDropsBlacklistedBlock(t *testing.T) {
	f, acc, _, _ := newTestFSM(t)

	hash := []byte("h1")
	f.blacklistHash(hash)

	blk := block.Block{Header: attestedHeader(1, hash, []byte("genesis-hash"))}
	f.onBlockEvent(blockEvent{blk: blk})

	assert.Empty(t, acc.accepted)
}

func TestInSyncFutureBlockRecordsPresyncAndRequestsNext(t *testing.T) {
	f, acc, _, bus := newTestFSM(t)

	reqs := make(chan eventbus.Message, 8)
	bus.Subscribe(topics.GetResource, eventbus.NewChannelListener(reqs))

	blk := block.Block{Header: attestedHeader(5, []byte("h5"), []byte("h4"))}
	f.onBlockEvent(blockEvent{blk: blk, peer: []byte("peer-a")})

	assert.Empty(t, acc.accepted, "a future block must never be accepted directly")
	require.NotNil(t, f.presync)
	assert.Equal(t, uint64(5), f.presync.target)
	assert.Equal(t, uint64(0), f.presync.startHeight)

	select {
	case <-reqs:
	default:
		t.Fatal("expected a GetResource request for the missing next block")
	}
}

func TestInSyncEntersOutOfSyncOncePresyncPeerCatchesUp(t *testing.T) {
	f, acc, _, _ := newTestFSM(t)
	peer := []byte("peer-a")

	future := block.Block{Header: attestedHeader(5, []byte("h5"), []byte("h4"))}
	f.onBlockEvent(blockEvent{blk: future, peer: peer})
	require.NotNil(t, f.presync)

	next := block.Block{Header: attestedHeader(1, []byte("h1"), []byte("genesis-hash"))}
	f.onBlockEvent(blockEvent{blk: next, peer: peer})

	assert.Nil(t, f.presync, "presync bookkeeping must be cleared once the window opens")
	assert.True(t, stateIs(f, f.outOfSync), "the FSM must switch to outOfSync")
	assert.Equal(t, uint64(5), f.windowEnd)
	assert.Equal(t, uint64(1), acc.CurrentHeight())
}

func TestInSyncFallsBackOnDivergentSameHeightBlock(t *testing.T) {
	f, acc, _, _ := newTestFSM(t)

	divergent := block.Block{Header: attestedHeader(0, []byte("other-genesis"), nil)}
	f.onBlockEvent(blockEvent{blk: divergent})

	require.Len(t, acc.reverted, 1)
	require.Len(t, acc.accepted, 1)
	assert.True(t, f.isBlacklisted([]byte("genesis-hash")))
}

func TestOutOfSyncPoolsBeyondWindowAndDrainsInOrder(t *testing.T) {
	f, acc, _, _ := newTestFSM(t)
	peer := []byte("peer-a")

	f.enterOutOfSync(peer, 2)
	require.True(t, stateIs(f, f.outOfSync))
	require.Equal(t, uint64(2), f.windowEnd)

	beyond := block.Block{Header: attestedHeader(3, []byte("h3"), []byte("h2"))}
	f.onBlockEvent(blockEvent{blk: beyond, peer: peer})
	assert.Contains(t, f.pending, uint64(3))
	assert.Empty(t, acc.accepted)

	first := block.Block{Header: attestedHeader(1, []byte("h1"), []byte("genesis-hash"))}
	f.onBlockEvent(blockEvent{blk: first, peer: peer})
	assert.Equal(t, uint64(1), acc.CurrentHeight())
	assert.True(t, stateIs(f, f.outOfSync), "window isn't exhausted yet")

	second := block.Block{Header: attestedHeader(2, []byte("h2"), []byte("h1")), Txs: nil}
	f.onBlockEvent(blockEvent{blk: second, peer: peer})

	// Draining pulls the pooled height-3 block in behind it.
	assert.Equal(t, uint64(3), acc.CurrentHeight())
	assert.NotContains(t, f.pending, uint64(3))
	assert.True(t, stateIs(f, f.inSync), "reaching windowEnd must restart InSync")
}

func TestOnHeartbeatRetriesThenGivesUpAfterExhaustingAttempts(t *testing.T) {
	f, _, _, bus := newTestFSM(t)

	restarts := make(chan eventbus.Message, 4)
	bus.Subscribe(topics.Initialization, eventbus.NewChannelListener(restarts))

	f.enterOutOfSync([]byte("peer-a"), 10)
	f.lastProgress = time.Now().Add(-time.Minute)
	f.attempts = 1

	f.onHeartbeat()
	assert.Equal(t, 0, f.attempts)
	assert.True(t, stateIs(f, f.outOfSync), "one attempt remained, the FSM must keep trying")

	f.lastProgress = time.Now().Add(-time.Minute)
	f.onHeartbeat()
	assert.True(t, stateIs(f, f.inSync), "exhausting attempts must fall back to InSync")

	select {
	case <-restarts:
	default:
		t.Fatal("expected a restart signal once sync attempts were exhausted")
	}
}

func TestCheckStalledForkRevertsAndBlacklistsAbandonedLocalBlock(t *testing.T) {
	f, acc, db, _ := newTestFSM(t)

	ancestor := &block.Header{Height: 3, Hash: []byte("ancestor-hash")}
	localNext := &block.Header{Height: 4, Hash: []byte("local-next-hash"), PrevBlockHash: ancestor.Hash}
	db.putHeader(ancestor)
	db.putHeader(localNext)

	acc.height = 5
	acc.tip = &block.Header{Height: 5, Hash: []byte("local-tip")}

	// Force the stalled-on-fork detector into Stalled, as a real run of
	// future blocks piling up behind the fork would have done.
	f.stall.state = stallStalled

	remote := block.Block{Header: attestedHeader(4, []byte("remote-hash"), ancestor.Hash)}
	f.checkStalledFork(blockEvent{blk: remote})

	require.Len(t, acc.reverted, 1)
	assert.Equal(t, ancestor.Hash, acc.reverted[0])
	require.Len(t, acc.accepted, 1)
	assert.Equal(t, []byte("remote-hash"), acc.accepted[0].Header.Hash)
	assert.True(t, f.isBlacklisted(localNext.Hash))
	assert.Equal(t, stallRunning, f.stall.state)
}
