// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

package chain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratachain/strata/pkg/config"
	"github.com/stratachain/strata/pkg/core/consensus/committee"
	"github.com/stratachain/strata/pkg/core/data/block"
	"github.com/stratachain/strata/pkg/crypto/bls"
)

// bootstrapHeaders builds a (prev, hdr) pair that passes every check
// against an empty provisioner set: the genesis-bootstrap guard in
// verifyStepVotes means an all-zero-stake committee never needs a real
// quorum to satisfy Validate.
func bootstrapHeaders(t *testing.T, now time.Time) (prev, hdr *block.Header) {
	t.Helper()

	sk, pk, err := bls.GenerateKeys()
	require.NoError(t, err)

	prevSeed := []byte("genesis-seed")
	seedSig := bls.Sign(sk, prevSeed)

	prev = &block.Header{
		Height:               0,
		Timestamp:            now.Add(-time.Minute).Unix(),
		Hash:                 []byte("prev-hash"),
		Seed:                 prevSeed,
		PrevBlockCertificate: block.EmptyCertificate(),
	}

	hdr = &block.Header{
		Version:          0,
		Height:           1,
		Timestamp:        now.Add(-30 * time.Second).Unix(),
		PrevBlockHash:    prev.Hash,
		Hash:             []byte("hdr-hash"),
		Seed:             seedSig.Marshal(),
		GeneratorPubKey:  pk.Marshal(),
		Attestation:      block.EmptyCertificate(),
		FailedIterations: nil,
	}

	return prev, hdr
}

func TestValidateAcceptsBootstrapHeaderAgainstEmptyProvisioners(t *testing.T) {
	now := time.Now()
	prev, hdr := bootstrapHeaders(t, now)

	prevProv := committee.NewProvisioners()
	prov := committee.NewProvisioners()

	pni, err := Validate(config.Default(), hdr, prev, nil, prevProv, prov, now)
	require.NoError(t, err)
	assert.Equal(t, 0, pni)
}

func TestValidateRejectsHeightMismatch(t *testing.T) {
	now := time.Now()
	prev, hdr := bootstrapHeaders(t, now)
	hdr.Height = 5

	_, err := Validate(config.Default(), hdr, prev, nil, committee.NewProvisioners(), committee.NewProvisioners(), now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "height")
}

func TestValidateRejectsZeroHash(t *testing.T) {
	now := time.Now()
	prev, hdr := bootstrapHeaders(t, now)
	hdr.Hash = nil

	_, err := Validate(config.Default(), hdr, prev, nil, committee.NewProvisioners(), committee.NewProvisioners(), now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zero block hash")
}

func TestValidateRejectsPrevBlockHashMismatch(t *testing.T) {
	now := time.Now()
	prev, hdr := bootstrapHeaders(t, now)
	hdr.PrevBlockHash = []byte("not-prev-hash")

	_, err := Validate(config.Default(), hdr, prev, nil, committee.NewProvisioners(), committee.NewProvisioners(), now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prev_block_hash")
}

func TestValidateRejectsTimestampTooCloseToPrev(t *testing.T) {
	now := time.Now()
	prev, hdr := bootstrapHeaders(t, now)
	hdr.Timestamp = prev.Timestamp + 1 // well under MinBlockTime

	_, err := Validate(config.Default(), hdr, prev, nil, committee.NewProvisioners(), committee.NewProvisioners(), now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too close")
}

func TestValidateRejectsTimestampTooFarInFuture(t *testing.T) {
	now := time.Now()
	prev, hdr := bootstrapHeaders(t, now)
	hdr.Timestamp = now.Add(time.Hour).Unix()

	_, err := Validate(config.Default(), hdr, prev, nil, committee.NewProvisioners(), committee.NewProvisioners(), now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too far in the future")
}

func TestValidateRejectsSeedNotSignedOverPrevSeed(t *testing.T) {
	now := time.Now()
	prev, hdr := bootstrapHeaders(t, now)

	otherSK, otherPK, err := bls.GenerateKeys()
	require.NoError(t, err)
	badSig := bls.Sign(otherSK, []byte("wrong-message"))
	hdr.Seed = badSig.Marshal()
	hdr.GeneratorPubKey = otherPK.Marshal()

	_, err = Validate(config.Default(), hdr, prev, nil, committee.NewProvisioners(), committee.NewProvisioners(), now)
	require.Error(t, err)
}

func TestValidatePNICountsOnlyUnattestedFailedIterations(t *testing.T) {
	now := time.Now()
	prev, hdr := bootstrapHeaders(t, now)
	hdr.Iteration = 2
	hdr.FailedIterations = []*block.FailedIteration{
		nil,
		{Attested: true, Cert: block.EmptyCertificate()},
	}
	// The attested slot must carry a non-Success result to pass
	// verifyFailedIterations's own check.
	hdr.FailedIterations[1].Cert.Result = block.FailResult("no quorum")

	prevProv := committee.NewProvisioners()
	prov := committee.NewProvisioners()

	pni, err := Validate(config.Default(), hdr, prev, nil, prevProv, prov, now)
	require.NoError(t, err)
	// iteration=2, one attested failure recorded -> PNI = 2-1 = 1.
	assert.Equal(t, 1, pni)
}
