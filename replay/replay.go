// Package replay implements the deterministic replayer (C12): a pure
// function that recomputes every hash, re-verifies signatures, re-runs
// binding/quorum/policy, and re-walks the evidence chain over a bundle
// already in memory, reading no clock, filesystem, or environment (§4.12).
package replay

import (
	"sort"

	"integritykernel.dev/kernel/artifact"
	"integritykernel.dev/kernel/binding"
	"integritykernel.dev/kernel/bundle"
	"integritykernel.dev/kernel/ids"
	"integritykernel.dev/kernel/policy"
	"integritykernel.dev/kernel/quorum"
	"integritykernel.dev/kernel/signature"
)

// Mismatch is one recomputed-vs-stored hash or verification disagreement.
type Mismatch struct {
	ArtifactType string
	Field        string
	Expected     string
	Got          string
}

// Result is replay's full verdict (§4.12).
type Result struct {
	DeterministicReplayPassed bool
	RecomputedHashes          map[string]string
	Mismatches                []Mismatch
	AttestationValid          bool
	AnchorValid               bool
	PolicyVerdict             *policy.Result
}

// Options carries the inputs replay needs beyond the bundle itself:
// the policy set to re-evaluate and the input document it is evaluated
// against, if any were recorded for the session.
type Options struct {
	Policies    []policy.Policy
	PolicyInput map[string]any
}

// Replay recomputes everything derivable from b and reports every
// disagreement. It never mutates b nor reads the clock; replay mode
// always skips nonce-uniqueness enforcement (nonce format is still
// validated) per §4.12, so usedNonces is always a fresh empty set.
func Replay(b *bundle.ArtifactBundle, opts Options) Result {
	hashes := map[string]string{}
	var mismatches []Mismatch

	recordHash := func(artifactType, computed string, err error) string {
		if err != nil {
			mismatches = append(mismatches, Mismatch{ArtifactType: artifactType, Field: "hash", Got: "error:" + err.Error()})
			return ""
		}
		hashes[artifactType] = computed
		return computed
	}

	recordHash("definition_of_done", b.DoD.Hash())
	lockHash := recordHash("decision_lock", b.Lock.Hash())
	planHash := recordHash("execution_plan", b.Plan.ComputePlanHash())
	capsuleHash := recordHash("prompt_capsule", b.Capsule.Hash())
	recordHash("repo_snapshot", b.Snapshot.Hash())

	if b.Capsule.PlanHash != "" && b.Capsule.PlanHash != planHash {
		mismatches = append(mismatches, Mismatch{ArtifactType: "prompt_capsule", Field: "planHash", Expected: planHash, Got: b.Capsule.PlanHash})
	}

	for _, sp := range b.StepPackets {
		recordHash("step_packet:"+sp.StepID, sp.Hash())
	}
	for _, p := range b.Patches {
		recordHash("patch_artifact:"+p.StepID, p.Hash())
	}
	for _, r := range b.ReviewerReports {
		recordHash("reviewer_report:"+r.StepID+":"+string(r.Role), r.Hash())
	}
	for _, mr := range b.ModelResponses {
		recordHash("model_response:"+mr.CapsuleID, mr.Hash())
	}

	var tailHash string
	if len(b.Evidence) > 0 {
		var chainErr error
		_, tailHash, _, chainErr = artifact.EvidenceChain(b.Evidence)
		if chainErr != nil {
			mismatches = append(mismatches, Mismatch{ArtifactType: "runner_evidence", Field: "chain", Got: chainErr.Error()})
		}
	}

	if b.RunnerIdentity != nil {
		recordHash("runner_identity", b.RunnerIdentity.Hash())
	}

	attestationValid := true
	if b.Attestation != nil {
		attHash, err := b.Attestation.PayloadHash()
		if err != nil {
			mismatches = append(mismatches, Mismatch{ArtifactType: "runner_attestation", Field: "payloadHash", Got: "error:" + err.Error()})
			attestationValid = false
		} else {
			hashes["runner_attestation"] = attHash
		}
		if !ids.IsV4(b.Attestation.Nonce) {
			mismatches = append(mismatches, Mismatch{ArtifactType: "runner_attestation", Field: "nonce", Got: b.Attestation.Nonce})
			attestationValid = false
		}
		if b.Attestation.EvidenceChainTailHash != tailHash {
			mismatches = append(mismatches, Mismatch{ArtifactType: "runner_attestation", Field: "evidenceChainTailHash", Expected: tailHash, Got: b.Attestation.EvidenceChainTailHash})
			attestationValid = false
		}
		if b.Attestation.Signature != "" && b.RunnerIdentity != nil {
			pub, perr := signature.ParsePublicKeyPEM(b.RunnerIdentity.PublicKeyPEM)
			if perr != nil {
				attestationValid = false
				mismatches = append(mismatches, Mismatch{ArtifactType: "runner_attestation", Field: "signature", Got: "error:" + perr.Error()})
			} else if verr := signature.Verify(pub, signature.Algorithm(b.Attestation.SignatureAlgorithm), b.Attestation.PayloadNormalize(), attHash, b.Attestation.Signature); verr != nil {
				attestationValid = false
				mismatches = append(mismatches, Mismatch{ArtifactType: "runner_attestation", Field: "signature", Got: verr.Error()})
			}
		}
	}

	bindResult := binding.BindCheck(b)
	if bindResult.Errors.HasErrors() {
		for _, e := range bindResult.Errors.Sorted() {
			mismatches = append(mismatches, Mismatch{ArtifactType: e.ArtifactType, Field: e.Field, Got: string(e.Code)})
		}
	}

	anchorValid := true
	if b.Anchor != nil {
		anchorHash, err := b.Anchor.Hash()
		if err != nil {
			anchorValid = false
		} else {
			hashes["session_anchor"] = anchorHash
		}
		if b.Anchor.FinalEvidenceHash != tailHash {
			anchorValid = false
			mismatches = append(mismatches, Mismatch{ArtifactType: "session_anchor", Field: "finalEvidenceHash", Expected: tailHash, Got: b.Anchor.FinalEvidenceHash})
		}
		if b.Anchor.PlanHash != planHash {
			anchorValid = false
			mismatches = append(mismatches, Mismatch{ArtifactType: "session_anchor", Field: "planHash", Expected: planHash, Got: b.Anchor.PlanHash})
		}
	}

	var policyVerdict *policy.Result
	if len(opts.Policies) > 0 {
		pv := policy.Evaluate(opts.Policies, opts.PolicyInput, false)
		policyVerdict = &pv
		if pv.BlockingError != nil {
			mismatches = append(mismatches, Mismatch{ArtifactType: "policy", Field: "verdict", Got: string(pv.BlockingError.Code)})
		}
	}

	if b.ApprovalPolicy != nil && b.ApprovalBundle != nil {
		expected := quorum.ExpectedHashes{
			"decision_lock":  lockHash,
			"execution_plan": planHash,
			"prompt_capsule": capsuleHash,
		}
		qr := quorum.Evaluate(*b.ApprovalPolicy, *b.ApprovalBundle, expected, map[string]bool{}, true)
		if !qr.Passed {
			for _, e := range qr.Errors {
				mismatches = append(mismatches, Mismatch{ArtifactType: e.ArtifactType, Field: e.Field, Got: string(e.Code)})
			}
		}
	}

	sort.Slice(mismatches, func(i, j int) bool {
		if mismatches[i].ArtifactType != mismatches[j].ArtifactType {
			return mismatches[i].ArtifactType < mismatches[j].ArtifactType
		}
		return mismatches[i].Field < mismatches[j].Field
	})

	return Result{
		DeterministicReplayPassed: len(mismatches) == 0,
		RecomputedHashes:          hashes,
		Mismatches:                mismatches,
		AttestationValid:          attestationValid,
		AnchorValid:               anchorValid,
		PolicyVerdict:             policyVerdict,
	}
}
