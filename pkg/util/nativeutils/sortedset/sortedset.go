// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

// Package sortedset keeps a set of big-endian byte strings (typically BLS
// public keys) in canonical ascending order, so that any two nodes
// presented with the same members converge on the same ordering without
// needing to gossip it.
package sortedset

import (
	"bytes"
	"math/big"
	"sort"
)

// Set is a canonically ordered set of members, stored as big.Int so
// lexicographic byte ordering and numeric ordering coincide.
type Set []*big.Int

// New returns an empty Set.
func New() Set {
	return Set{}
}

// Insert adds member to the set in sorted position. A duplicate member is
// a no-op.
func (s *Set) Insert(member []byte) int {
	i := new(big.Int).SetBytes(member)

	idx := sort.Search(len(*s), func(j int) bool {
		return (*s)[j].Cmp(i) >= 0
	})

	if idx < len(*s) && (*s)[idx].Cmp(i) == 0 {
		return idx
	}

	*s = append(*s, nil)
	copy((*s)[idx+1:], (*s)[idx:])
	(*s)[idx] = i
	return idx
}

// IndexOf returns the position of member in the set, or -1 if absent.
func (s Set) IndexOf(member []byte) int {
	i := new(big.Int).SetBytes(member)
	for idx, v := range s {
		if v.Cmp(i) == 0 {
			return idx
		}
	}
	return -1
}

// Contains reports whether member is present.
func (s Set) Contains(member []byte) bool {
	return s.IndexOf(member) >= 0
}

// Bytes returns the byte representation of the member at i.
func (s Set) Bytes(i int) []byte {
	return s[i].Bytes()
}

// Len satisfies sort.Interface.
func (s Set) Len() int { return len(s) }

// Equal reports whether two sets hold the same members in the same order.
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}

	for i := range s {
		if s[i].Cmp(other[i]) != 0 {
			return false
		}
	}

	return true
}

// ForEach walks the set in canonical order.
func (s Set) ForEach(f func(i int, member []byte)) {
	for i, v := range s {
		f(i, v.Bytes())
	}
}

// Compare gives the canonical ordering between two raw member keys,
// breaking sortition ties as specified.
func Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}
