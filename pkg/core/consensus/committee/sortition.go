// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

package committee

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"math/big"
)

// Step identifies which of the three consensus phases a committee is
// drawn for.
type Step uint8

// The three per-iteration steps, per spec.md §4.2.
const (
	StepProposal Step = iota
	StepValidation
	StepRatification
)

// Committee is the ordered mapping from provisioner public key to seat
// count, summing to the requested size, per spec.md §4.1.
type Committee struct {
	seats map[string]int
	order [][]byte
}

// newCommittee returns an empty Committee.
func newCommittee() *Committee {
	return &Committee{seats: make(map[string]int)}
}

func (c *Committee) grant(pubKey []byte) {
	key := string(pubKey)
	if _, ok := c.seats[key]; !ok {
		c.order = append(c.order, pubKey)
	}
	c.seats[key]++
}

// Seats returns how many seats pubKey holds (0 if absent).
func (c *Committee) Seats(pubKey []byte) int {
	return c.seats[string(pubKey)]
}

// IsMember reports whether pubKey holds at least one seat.
func (c *Committee) IsMember(pubKey []byte) bool {
	return c.Seats(pubKey) > 0
}

// Size returns the total seat count (== requested N, barring an
// under-staked provisioner set).
func (c *Committee) Size() int {
	total := 0
	for _, n := range c.seats {
		total += n
	}
	return total
}

// SeatIndex returns the position of pubKey in the committee's
// deterministic member order, used as the StepVotes bitset index. ok is
// false if pubKey holds no seat.
func (c *Committee) SeatIndex(pubKey []byte) (int, bool) {
	for i, m := range c.order {
		if bytes.Equal(m, pubKey) {
			return i, true
		}
	}
	return 0, false
}

// MemberAt returns the public key occupying seat index i in the
// deterministic order.
func (c *Committee) MemberAt(i int) []byte {
	if i < 0 || i >= len(c.order) {
		return nil
	}
	return c.order[i]
}

// PublicKeys returns every distinct member in the committee, in
// deterministic order.
func (c *Committee) PublicKeys() [][]byte {
	return c.order
}

// QuorumThreshold is ⌈2·N/3⌉ over the committee's actual seat count, per
// spec.md §4.4.
func (c *Committee) QuorumThreshold() int {
	n := c.Size()
	return (2*n + 2) / 3
}

// drawHash computes the deterministic per-draw digest, mixing
// (seed || round || iteration || step || draw index).
func drawHash(seed []byte, round uint64, iteration uint8, step Step, draw uint32) *big.Int {
	h := sha256.New()
	h.Write(seed)

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], round)
	h.Write(buf[:])

	h.Write([]byte{iteration, byte(step)})

	var dbuf [4]byte
	binary.BigEndian.PutUint32(dbuf[:], draw)
	h.Write(dbuf[:])

	return new(big.Int).SetBytes(h.Sum(nil))
}

// Extract runs deterministic sortition over p to produce a committee of
// size seats for (seed, round, iteration, step), excluding the generator
// from the Validation/Ratification committees of its own iteration as
// spec.md §4.1 requires. Stake is sampled with replacement: each draw picks
// one unit of stake uniformly over the remaining total and grants the
// owning provisioner a seat, without removing that stake from the pool.
func Extract(p *Provisioners, seed []byte, round uint64, iteration uint8, step Step, seats int, excluded []byte) (*Committee, error) {
	members := without(p.sortedMembers(), excluded)

	totalStake := uint64(0)
	for _, m := range members {
		totalStake += m.Stake
	}

	c := newCommittee()
	if totalStake == 0 || len(members) == 0 {
		return c, nil
	}

	total := new(big.Int).SetUint64(totalStake)

	for draw := 0; draw < seats; draw++ {
		h := drawHash(seed, round, iteration, step, uint32(draw))
		target := new(big.Int).Mod(h, total)

		running := new(big.Int)
		for _, m := range members {
			running.Add(running, new(big.Int).SetUint64(m.Stake))
			if target.Cmp(running) < 0 {
				c.grant(m.PublicKeyBLS)
				break
			}
		}
	}

	return c, nil
}
