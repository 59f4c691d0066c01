// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratachain/strata/pkg/core/data/block"
)

func TestStallDetectorMovesToStalledOnceThresholdCrossed(t *testing.T) {
	d := newStallDetector(0, 2)

	d.noteFutureBlock()
	assert.Equal(t, stallRunning, d.state, "one future block must not stall yet")

	d.noteFutureBlock()
	assert.Equal(t, stallStalled, d.state)
}

func TestStallDetectorNoteForkRequiresStalledState(t *testing.T) {
	d := newStallDetector(0, 1)

	remote := block.Block{Header: &block.Header{Hash: []byte("remote")}}
	ok := d.noteFork([]byte("local"), remote)
	assert.False(t, ok, "a fresh, Running detector must refuse to record a fork")
	assert.Equal(t, stallRunning, d.state)
}

func TestStallDetectorRecordsForkOnceStalled(t *testing.T) {
	d := newStallDetector(0, 1)
	d.noteFutureBlock()
	require.Equal(t, stallStalled, d.state)

	remote := block.Block{Header: &block.Header{Hash: []byte("remote-hash")}}
	ok := d.noteFork([]byte("local-hash"), remote)
	require.True(t, ok)
	assert.Equal(t, stallOnFork, d.state)

	localHash, remoteBlk, ok := d.forkInfo()
	require.True(t, ok)
	assert.Equal(t, []byte("local-hash"), localHash)
	assert.Equal(t, []byte("remote-hash"), remoteBlk.Header.Hash)
}

func TestStallDetectorForkInfoEmptyOutsideStalledOnFork(t *testing.T) {
	d := newStallDetector(0, 1)
	_, _, ok := d.forkInfo()
	assert.False(t, ok)
}

func TestStallDetectorResetReturnsToRunning(t *testing.T) {
	d := newStallDetector(0, 1)
	d.noteFutureBlock()
	remote := block.Block{Header: &block.Header{Hash: []byte("remote")}}
	require.True(t, d.noteFork([]byte("local"), remote))

	d.reset()
	assert.Equal(t, stallRunning, d.state)
	_, _, ok := d.forkInfo()
	assert.False(t, ok)
}

func TestStallDetectorNoteAcceptedResetsFutureCount(t *testing.T) {
	d := newStallDetector(0, 5)
	d.noteFutureBlock()
	d.noteFutureBlock()
	require.Equal(t, 2, d.futureBlocksSeen)

	d.noteAccepted(7)
	assert.Equal(t, stallRunning, d.state)
	assert.Equal(t, uint64(7), d.lastAcceptedHeight)
	assert.Equal(t, 0, d.futureBlocksSeen)
}
