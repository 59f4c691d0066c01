// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) STRATA NETWORK. All rights reserved.

package block

// ResultKind tags whether a Certificate's outcome was a success or a
// named failure.
type ResultKind uint8

const (
	// ResultSuccess means the iteration reached quorum on a Valid vote.
	ResultSuccess ResultKind = iota
	// ResultFail means the iteration reached quorum on NoCandidate, or
	// never reached quorum at all (represented with an explicit reason).
	ResultFail
)

// Result is a Certificate's outcome: Success(Valid(hash)) or Fail(reason).
type Result struct {
	Kind   ResultKind
	Vote   Vote
	Reason string
}

// SuccessResult wraps a winning Valid vote.
func SuccessResult(v Vote) Result {
	return Result{Kind: ResultSuccess, Vote: v}
}

// FailResult wraps a failure reason.
func FailResult(reason string) Result {
	return Result{Kind: ResultFail, Vote: NoCandidateVote(), Reason: reason}
}

// IsSuccess reports whether r is a Success outcome.
func (r Result) IsSuccess() bool {
	return r.Kind == ResultSuccess
}

// Certificate pairs the Validation and Ratification step-votes for one
// iteration with its outcome, per spec.md §3.
type Certificate struct {
	Validation   StepVotes
	Ratification StepVotes
	Result       Result
}

// EmptyCertificate returns a certificate with no votes and a Fail result,
// used for the genesis block and as a safe zero value.
func EmptyCertificate() Certificate {
	return Certificate{
		Validation:   EmptyStepVotes(),
		Ratification: EmptyStepVotes(),
		Result:       FailResult("no attestation"),
	}
}

// IsReady reports whether both sub-certificates carry votes, the
// CertificateInfo.is_ready invariant from spec.md §3.
func (c Certificate) IsReady() bool {
	return !c.Validation.IsEmpty() && !c.Ratification.IsEmpty()
}
