// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

// Package committee derives per-step voting committees from the
// provisioner stake set by deterministic sortition, per spec.md §4.1.
package committee

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/stratachain/strata/pkg/util/nativeutils/sortedset"
)

// Member is a staking provisioner eligible for committee selection.
type Member struct {
	PublicKeyBLS []byte
	Stake        uint64
}

// Provisioners is the current staking set.
type Provisioners struct {
	Set     sortedset.Set
	Members map[string]*Member
}

// NewProvisioners returns an empty provisioner set.
func NewProvisioners() *Provisioners {
	return &Provisioners{
		Set:     sortedset.New(),
		Members: make(map[string]*Member),
	}
}

// Add inserts or tops up a provisioner's stake.
func (p *Provisioners) Add(pubKeyBLS []byte, stake uint64) {
	p.Set.Insert(pubKeyBLS)

	key := string(pubKeyBLS)
	if m, ok := p.Members[key]; ok {
		m.Stake += stake
		return
	}

	p.Members[key] = &Member{PublicKeyBLS: pubKeyBLS, Stake: stake}
}

// GetMember looks up a provisioner by BLS public key.
func (p *Provisioners) GetMember(pubKeyBLS []byte) *Member {
	return p.Members[string(pubKeyBLS)]
}

// TotalWeight sums every provisioner's stake.
func (p *Provisioners) TotalWeight() uint64 {
	var total uint64
	for _, m := range p.Members {
		total += m.Stake
	}
	return total
}

// Copy returns a deep-enough copy for snapshotting at a given base commit
// (spec.md §6 VM.get_provisioners).
func (p *Provisioners) Copy() *Provisioners {
	cp := NewProvisioners()
	for k, m := range p.Members {
		cp.Set.Insert(m.PublicKeyBLS)
		cp.Members[k] = &Member{PublicKeyBLS: m.PublicKeyBLS, Stake: m.Stake}
	}
	return cp
}

var errNotFound = errors.New("committee: provisioner not found")

// StakeOf returns a provisioner's stake, or an error if absent.
func (p *Provisioners) StakeOf(pubKeyBLS []byte) (uint64, error) {
	m := p.GetMember(pubKeyBLS)
	if m == nil {
		return 0, fmt.Errorf("%w: %x", errNotFound, pubKeyBLS)
	}
	return m.Stake, nil
}

// sortedMembers returns every provisioner in canonical public-key order,
// so sortition ties resolve identically on every node (spec.md §4.1).
func (p *Provisioners) sortedMembers() []*Member {
	out := make([]*Member, 0, len(p.Set))
	p.Set.ForEach(func(_ int, member []byte) {
		if m := p.Members[string(member)]; m != nil {
			out = append(out, m)
		}
	})
	return out
}

// without returns a copy of the sorted member list with excluded removed.
func without(members []*Member, excluded []byte) []*Member {
	if excluded == nil {
		return members
	}

	out := make([]*Member, 0, len(members))
	for _, m := range members {
		if !bytes.Equal(m.PublicKeyBLS, excluded) {
			out = append(out, m)
		}
	}
	return out
}
