// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

package certificate

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratachain/strata/pkg/core/consensus/key"
	"github.com/stratachain/strata/pkg/core/data/block"
)

func testRegistry(t *testing.T) *Registry {
	keys, err := key.NewRandKeys()
	require.NoError(t, err)

	return New(Context{Keys: keys, Round: 1, PrevBlockHash: []byte("prev")})
}

func sv(bits ...int) block.StepVotes {
	s := block.EmptyStepVotes()
	for _, b := range bits {
		s.SetBit(b)
	}
	s.Signature = nil
	return s
}

func TestAddStepVotesEmitsQuorumOnlyWhenReady(t *testing.T) {
	r := testRegistry(t)
	vote := block.ValidVote([]byte("candidate-hash"))

	// validation alone: not ready yet.
	q := r.AddStepVotes(0, vote, sv(1, 2, 3), KindValidation, true, []byte("gen"))
	assert.Nil(t, q)

	// ratification closes the loop.
	q = r.AddStepVotes(0, vote, sv(1, 2, 3), KindRatification, true, []byte("gen"))
	require.NotNil(t, q)
	assert.Equal(t, vote, q.Vote)
}

func TestAddStepVotesRejectsConflictingVoteTarget(t *testing.T) {
	r := testRegistry(t)

	first := block.ValidVote([]byte("hash-a"))
	second := block.ValidVote([]byte("hash-b"))

	q := r.AddStepVotes(0, first, sv(0), KindValidation, false, []byte("gen"))
	assert.Nil(t, q)

	// A different non-nil target for the same iteration must be rejected,
	// never overwriting the occupied valid slot (spec.md §8).
	q = r.AddStepVotes(0, second, sv(0), KindValidation, false, []byte("gen"))
	assert.Nil(t, q)

	// Finishing the original target still works.
	q = r.AddStepVotes(0, first, sv(0), KindRatification, true, []byte("gen"))
	assert.Nil(t, q, "quorum not reached on validation yet")

	q = r.AddStepVotes(0, first, sv(0, 1), KindValidation, true, []byte("gen"))
	require.NotNil(t, q)
	assert.True(t, first.Equal(q.Vote))
}

func TestGetNilCertificatesOnlyReturnsReadyEntries(t *testing.T) {
	r := testRegistry(t)
	nilVote := block.NoCandidateVote()

	r.AddStepVotes(0, nilVote, sv(0), KindValidation, true, []byte("gen0"))
	r.AddStepVotes(0, nilVote, sv(0), KindRatification, true, []byte("gen0"))

	// Iteration 1 never reached quorum.
	r.AddStepVotes(1, nilVote, sv(0), KindValidation, false, []byte("gen1"))

	certs := r.GetNilCertificates(2)
	require.Len(t, certs, 2)

	require.NotNil(t, certs[0])
	assert.True(t, certs[0].Attested)
	assert.Equal(t, []byte("gen0"), certs[0].Generator)

	assert.Nil(t, certs[1])
}

func TestStepVotesBitSetIndependent(t *testing.T) {
	s := block.EmptyStepVotes()
	assert.True(t, s.IsEmpty())

	s.BitSet = new(big.Int)
	s.SetBit(5)
	assert.True(t, s.HasBit(5))
	assert.False(t, s.HasBit(4))
}
