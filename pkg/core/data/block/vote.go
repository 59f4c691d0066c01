// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

package block

import "bytes"

// VoteKind tags the variant a Vote carries.
type VoteKind uint8

const (
	// KindValid votes for a specific candidate hash.
	KindValid VoteKind = iota
	// KindInvalid rejects a specific candidate hash.
	KindInvalid
	// KindNoCandidate casts an abstention: no usable candidate was seen.
	KindNoCandidate
)

// ZeroHash is the sentinel hash meaning "no candidate".
var ZeroHash = make([]byte, 32)

// Vote is a validator's judgement on an iteration's outcome. It binds to
// (round, iteration, step, prev_block_hash) via the message header that
// carries it, per spec.md §3.
type Vote struct {
	Kind VoteKind
	Hash []byte
}

// ValidVote returns a Valid(hash) vote.
func ValidVote(hash []byte) Vote {
	return Vote{Kind: KindValid, Hash: hash}
}

// InvalidVote returns an Invalid(hash) vote.
func InvalidVote(hash []byte) Vote {
	return Vote{Kind: KindInvalid, Hash: hash}
}

// NoCandidateVote returns a NoCandidate vote.
func NoCandidateVote() Vote {
	return Vote{Kind: KindNoCandidate, Hash: ZeroHash}
}

// IsNil reports whether v targets the nil (NoCandidate) slot of the
// certificate registry.
func (v Vote) IsNil() bool {
	return v.Kind == KindNoCandidate
}

// Equal compares two votes by kind and target hash.
func (v Vote) Equal(o Vote) bool {
	return v.Kind == o.Kind && bytes.Equal(v.Hash, o.Hash)
}

// String implements fmt.Stringer.
func (v Vote) String() string {
	switch v.Kind {
	case KindValid:
		return "Valid"
	case KindInvalid:
		return "Invalid"
	default:
		return "NoCandidate"
	}
}
