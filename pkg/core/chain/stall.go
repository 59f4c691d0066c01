// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

package chain

import (
	"time"

	"github.com/stratachain/strata/pkg/core/data/block"
)

// stallState is the stalled-on-fork detector's own small state machine,
// run alongside the main InSync/OutOfSync FSM per spec.md §4.8.
type stallState uint8

const (
	stallRunning stallState = iota
	stallStalled
	stallOnFork
)

// stallDetector notices when the chain has stopped making forward
// progress while future blocks keep arriving, and distinguishes an
// ordinary stall (peers are just ahead) from a fork (the tip the peers
// are building on isn't ours).
type stallDetector struct {
	state stallState

	threshold       time.Duration
	futureThreshold int

	lastAcceptedHeight uint64
	lastAcceptedAt     time.Time
	futureBlocksSeen   int

	forkLocalHash []byte
	forkRemote    *block.Block
}

// newStallDetector returns a detector that moves Running->Stalled after
// staleness exceeds threshold with at least futureThreshold future blocks
// observed in the meantime.
func newStallDetector(threshold time.Duration, futureThreshold int) *stallDetector {
	return &stallDetector{
		threshold:       threshold,
		futureThreshold: futureThreshold,
		lastAcceptedAt:  time.Now(),
	}
}

// noteAccepted records forward progress, resetting the detector to
// Running.
func (d *stallDetector) noteAccepted(height uint64) {
	d.lastAcceptedHeight = height
	d.lastAcceptedAt = time.Now()
	d.futureBlocksSeen = 0
	d.state = stallRunning
}

// noteFutureBlock records a block whose height exceeds what the chain can
// currently accept (spec.md §4.8's H>L+1 case), the signal that starts
// the Running->Stalled clock.
func (d *stallDetector) noteFutureBlock() {
	if d.state != stallRunning {
		return
	}

	d.futureBlocksSeen++
	if d.futureBlocksSeen >= d.futureThreshold && time.Since(d.lastAcceptedAt) >= d.threshold {
		d.state = stallStalled
	}
}

// noteFork attempts the Stalled->StalledOnFork transition: it only fires
// when the detector is already Stalled, and records the abandoned local
// hash and the remote block that diverges from it.
func (d *stallDetector) noteFork(localHashAtFork []byte, remote block.Block) bool {
	if d.state != stallStalled {
		return false
	}

	d.state = stallOnFork
	d.forkLocalHash = localHashAtFork
	d.forkRemote = &remote
	return true
}

// reset returns the detector to Running, clearing any recorded fork.
func (d *stallDetector) reset() {
	d.state = stallRunning
	d.futureBlocksSeen = 0
	d.lastAcceptedAt = time.Now()
	d.forkLocalHash = nil
	d.forkRemote = nil
}

// forkInfo returns the recorded fork, if the detector is in
// StalledOnFork.
func (d *stallDetector) forkInfo() (localHash []byte, remote *block.Block, ok bool) {
	if d.state != stallOnFork {
		return nil, nil, false
	}
	return d.forkLocalHash, d.forkRemote, true
}
