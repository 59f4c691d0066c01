// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

// Package mempool implements transaction admission, conflict resolution
// and expiry, per spec.md §4.9.
package mempool

import (
	"time"

	"github.com/stratachain/strata/pkg/core/data/transactions"
)

// txDesc wraps an admitted transaction with its bookkeeping timestamp.
type txDesc struct {
	tx       *transactions.Transaction
	received time.Time
}

// pool is the verified transaction set, keyed by content hash, with a
// secondary spend-id index for the conflict rule of spec.md §4.9 step 4.
type pool struct {
	byID      map[string]txDesc
	bySpendID map[string]string // spend-id -> tx id
}

func newPool() *pool {
	return &pool{
		byID:      make(map[string]txDesc),
		bySpendID: make(map[string]string),
	}
}

func (p *pool) len() int {
	return len(p.byID)
}

func (p *pool) contains(id []byte) bool {
	_, ok := p.byID[string(id)]
	return ok
}

func (p *pool) get(id []byte) (txDesc, bool) {
	d, ok := p.byID[string(id)]
	return d, ok
}

// conflictFor returns the tx id currently occupying spendID, if any.
func (p *pool) conflictFor(spendID []byte) (string, bool) {
	id, ok := p.bySpendID[string(spendID)]
	return id, ok
}

func (p *pool) put(id []byte, d txDesc) {
	p.byID[string(id)] = d
	for _, s := range d.tx.SpendIDs {
		p.bySpendID[string(s)] = string(id)
	}
}

func (p *pool) remove(id []byte) {
	d, ok := p.byID[string(id)]
	if !ok {
		return
	}

	delete(p.byID, string(id))
	for _, s := range d.tx.SpendIDs {
		if p.bySpendID[string(s)] == string(id) {
			delete(p.bySpendID, string(s))
		}
	}
}

// forEach calls fn for every admitted transaction.
func (p *pool) forEach(fn func(id []byte, d txDesc)) {
	for id, d := range p.byID {
		fn([]byte(id), d)
	}
}
