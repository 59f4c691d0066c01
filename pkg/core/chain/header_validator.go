// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

package chain

import (
	"bytes"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/stratachain/strata/pkg/config"
	"github.com/stratachain/strata/pkg/core/consensus/committee"
	"github.com/stratachain/strata/pkg/core/consensus/header"
	"github.com/stratachain/strata/pkg/core/data/block"
	"github.com/stratachain/strata/pkg/crypto/bls"
)

// Validate runs the full block-acceptance check of spec.md §4.7 on hdr,
// given its immediate predecessor prev, the seed that elected prev's own
// generator (prev.prev.seed), and the provisioner snapshots active at
// prev's round and at hdr's round. It returns the Previous Non-Attested
// Iterations count the VM needs for reward/penalty accounting.
func Validate(cfg *config.Registry, hdr, prev *block.Header, prevPrevSeed []byte, prevProvisioners, provisioners *committee.Provisioners, now time.Time) (int, error) {
	if err := validateBasic(cfg.Chain, hdr, prev, now); err != nil {
		return 0, err
	}

	// 2. Previous-block certificate: re-derive the committees that
	// elected prev and re-verify the certificate hdr carries forward.
	if err := verifyCertificate(cfg.Consensus, prevProvisioners, prevPrevSeed, prev.PrevBlockHash, prev.Height, prev.Iteration,
		prev.GeneratorPubKey, prev.Hash, hdr.PrevBlockCertificate); err != nil {
		return 0, errors.Wrap(err, "chain: previous-block certificate")
	}

	// 3. Winner attestation: hdr's own certificate, drawn with prev's
	// seed against the provisioner set active at hdr's own round.
	if err := verifyCertificate(cfg.Consensus, provisioners, prev.Seed, hdr.PrevBlockHash, hdr.Height, hdr.Iteration,
		hdr.GeneratorPubKey, hdr.Hash, hdr.Attestation); err != nil {
		return 0, errors.Wrap(err, "chain: winner attestation")
	}

	// 4. Failed iterations.
	if err := verifyFailedIterations(cfg.Consensus, provisioners, prev.Seed, hdr); err != nil {
		return 0, errors.Wrap(err, "chain: failed iterations")
	}

	return hdr.PNI(), nil
}

func validateBasic(cfg config.ChainConfig, hdr, prev *block.Header, now time.Time) error {
	if hdr.Version != 0 {
		return fmt.Errorf("chain: unsupported header version %d", hdr.Version)
	}
	if hdr.IsZeroHash() {
		return fmt.Errorf("chain: zero block hash")
	}
	if hdr.Height != prev.Height+1 {
		return fmt.Errorf("chain: height %d does not follow prev height %d", hdr.Height, prev.Height)
	}
	if hdr.Timestamp < prev.Timestamp+int64(cfg.MinBlockTime.Seconds()) {
		return fmt.Errorf("chain: timestamp %d too close to prev %d", hdr.Timestamp, prev.Timestamp)
	}
	if hdr.Timestamp > now.Unix()+int64(cfg.MarginTimestamp.Seconds()) {
		return fmt.Errorf("chain: timestamp %d too far in the future", hdr.Timestamp)
	}
	if !bytes.Equal(hdr.PrevBlockHash, prev.Hash) {
		return fmt.Errorf("chain: prev_block_hash mismatch")
	}

	genPK, err := bls.UnmarshalPublicKey(hdr.GeneratorPubKey)
	if err != nil {
		return errors.Wrap(err, "chain: invalid generator public key")
	}
	seedSig, err := bls.UnmarshalSignature(hdr.Seed)
	if err != nil {
		return errors.Wrap(err, "chain: invalid seed encoding")
	}
	if err := bls.Verify(genPK, prev.Seed, seedSig); err != nil {
		return errors.Wrap(err, "chain: seed is not a valid signature over prev.seed")
	}

	return nil
}

// verifyCertificate re-derives the Validation and Ratification
// committees for (round, iteration) using seed and provisioners, with
// generator excluded, then checks cert's two sub-attestations reach
// quorum and verify against votedHash.
func verifyCertificate(ccfg config.ConsensusConfig, provisioners *committee.Provisioners, seed, prevBlockHash []byte, round uint64, iteration uint8, generator, votedHash []byte, cert block.Certificate) error {
	valCommittee, err := committee.Extract(provisioners, seed, round, iteration, committee.StepValidation, ccfg.CommitteeSize, generator)
	if err != nil {
		return err
	}
	h := header.Header{Round: round, Iteration: iteration, Step: uint8(committee.StepValidation), PrevBlockHash: prevBlockHash}
	if err := verifyStepVotes(cert.Validation, valCommittee, h, votedHash); err != nil {
		return errors.Wrap(err, "validation sub-quorum")
	}

	ratCommittee, err := committee.Extract(provisioners, seed, round, iteration, committee.StepRatification, ccfg.CommitteeSize, generator)
	if err != nil {
		return err
	}
	h.Step = uint8(committee.StepRatification)
	if err := verifyStepVotes(cert.Ratification, ratCommittee, h, votedHash); err != nil {
		return errors.Wrap(err, "ratification sub-quorum")
	}

	return nil
}

func verifyStepVotes(sv block.StepVotes, c *committee.Committee, h header.Header, votedHash []byte) error {
	if c.QuorumThreshold() == 0 {
		// No stake is registered yet (genesis's own certificate): there
		// was no committee to attest anything, so nothing to verify.
		return nil
	}

	if sv.Count() < c.QuorumThreshold() {
		return fmt.Errorf("only %d/%d seats", sv.Count(), c.QuorumThreshold())
	}

	var pks []*bls.PublicKey
	if sv.BitSet != nil {
		for i := 0; i < sv.BitSet.BitLen(); i++ {
			if !sv.HasBit(i) {
				continue
			}
			member := c.MemberAt(i)
			if member == nil {
				return fmt.Errorf("bit set for unknown seat %d", i)
			}
			pk, err := bls.UnmarshalPublicKey(member)
			if err != nil {
				return err
			}
			pks = append(pks, pk)
		}
	}

	payload := header.MarshalSignable(h, votedHash)
	return bls.VerifyAggregated(pks, payload, sv.Signature)
}

// verifyFailedIterations checks spec.md §4.7 step 4: every populated
// slot before hdr's winning iteration must carry a non-Success, properly
// attested ratification proof for its declared generator.
func verifyFailedIterations(ccfg config.ConsensusConfig, provisioners *committee.Provisioners, prevSeed []byte, hdr *block.Header) error {
	for i := uint8(0); i < hdr.Iteration; i++ {
		if int(i) >= len(hdr.FailedIterations) {
			return nil
		}
		fi := hdr.FailedIterations[i]
		if fi == nil {
			// An empty slot means no observable failure proof: allowed.
			continue
		}
		if !fi.Attested {
			continue
		}
		if fi.Cert.Result.IsSuccess() {
			return fmt.Errorf("iteration %d: attested slot carries a Success result", i)
		}

		genCommittee, err := committee.Extract(provisioners, prevSeed, hdr.Height, i, committee.StepProposal, 1, nil)
		if err != nil {
			return err
		}
		if !bytes.Equal(genCommittee.MemberAt(0), fi.Generator) {
			return fmt.Errorf("iteration %d: declared generator does not match elected seat", i)
		}

		if err := verifyCertificate(ccfg, provisioners, prevSeed, hdr.PrevBlockHash, hdr.Height, i, fi.Generator, block.ZeroHash, fi.Cert); err != nil {
			return errors.Wrapf(err, "iteration %d", i)
		}
	}

	return nil
}
