// Package quorum implements the approval quorum engine (C9): m-of-n
// signature satisfaction against an ApprovalPolicy, collecting every
// error rather than short-circuiting, then emitting a deterministically
// sorted result (§4.9).
package quorum

import (
	"sort"

	"integritykernel.dev/kernel/artifact"
	"integritykernel.dev/kernel/ids"
	"integritykernel.dev/kernel/kernelerr"
	"integritykernel.dev/kernel/signature"
)

const stepQuorum = 4

// ExpectedHashes maps an artifactType (as used in ApprovalRule /
// ApprovalSignature) to the hash approvers are expected to have signed
// (e.g. "decision_lock" -> lockHash, "execution_plan" -> planHash).
type ExpectedHashes map[string]string

// Result is the quorum engine's verdict (§4.9).
type Result struct {
	Passed         bool
	Errors         []*kernelerr.Error
	SatisfiedRules []string
}

// Evaluate checks every signature in bundle against policy, then every
// rule's quorum requirement. usedNonces is per-validation-scope and
// never shared across validations (§5); replayMode skips the nonce
// reuse check (nonce format is still validated) per §4.12.
func Evaluate(policy artifact.ApprovalPolicy, ab artifact.ApprovalBundle, expected ExpectedHashes, usedNonces map[string]bool, replayMode bool) Result {
	me := &kernelerr.MultiError{}

	approversByID := map[string]artifact.Approver{}
	for _, a := range policy.Approvers {
		approversByID[a.ApproverID] = a
	}
	algAllowed := map[string]bool{}
	for _, a := range policy.AllowedAlgorithms {
		algAllowed[a] = true
	}

	distinctByArtifactType := map[string]map[string]bool{}
	verifiedByArtifactTypeRole := map[string]map[string]bool{} // artifactType -> approverId set of verified sigs

	for _, sig := range ab.Signatures {
		valid := true
		if sig.SessionID != ab.SessionID {
			me.Add(kernelerr.New(kernelerr.ApprovalInvalid, "signature sessionId does not match bundle sessionId").WithArtifact(string(artifact.KindApprovalBundle)).WithStep(stepQuorum).WithField(sig.SignatureID))
			valid = false
		}
		approver, ok := approversByID[sig.ApproverID]
		if !ok || !approver.Active {
			me.Add(kernelerr.New(kernelerr.ApprovalInvalid, "approver is unknown or inactive").WithArtifact(string(artifact.KindApprovalBundle)).WithStep(stepQuorum).WithField(sig.SignatureID))
			valid = false
		} else if approver.Role != sig.Role {
			me.Add(kernelerr.New(kernelerr.ApprovalInvalid, "signature role does not match the approver's registered role").WithArtifact(string(artifact.KindApprovalBundle)).WithStep(stepQuorum).WithField(sig.SignatureID))
			valid = false
		}
		if !algAllowed[sig.Algorithm] {
			me.Add(kernelerr.New(kernelerr.ApprovalInvalid, "signature algorithm not in policy.allowedAlgorithms").WithArtifact(string(artifact.KindApprovalBundle)).WithStep(stepQuorum).WithField(sig.SignatureID))
			valid = false
		}

		if ok && valid {
			pub, err := signature.ParsePublicKeyPEM(approver.PublicKeyPEM)
			if err != nil {
				me.Add(kernelerr.New(kernelerr.ApprovalInvalid, "approver public key invalid: "+err.Error()).WithArtifact(string(artifact.KindApprovalBundle)).WithStep(stepQuorum).WithField(sig.SignatureID))
				valid = false
			} else if verr := signature.Verify(pub, signature.Algorithm(sig.Algorithm), sig.PayloadNormalize(), sig.PayloadHash, sig.Signature); verr != nil {
				me.Add(kernelerr.New(kernelerr.ApprovalInvalid, "cryptographic verification failed: "+verr.Error()).WithArtifact(string(artifact.KindApprovalBundle)).WithStep(stepQuorum).WithField(sig.SignatureID))
				valid = false
			}
		}

		if !ids.IsV4(sig.Nonce) {
			me.Add(kernelerr.New(kernelerr.ApprovalInvalid, "signature nonce is not a UUID v4").WithArtifact(string(artifact.KindApprovalBundle)).WithStep(stepQuorum).WithField(sig.SignatureID))
			valid = false
		}
		if !replayMode {
			if usedNonces[sig.Nonce] {
				me.Add(kernelerr.New(kernelerr.ApprovalInvalid, "nonce already used").WithArtifact(string(artifact.KindApprovalBundle)).WithStep(stepQuorum).WithField(sig.SignatureID))
				valid = false
			} else if usedNonces != nil {
				usedNonces[sig.Nonce] = true
			}
		}

		if distinctByArtifactType[sig.ArtifactType] == nil {
			distinctByArtifactType[sig.ArtifactType] = map[string]bool{}
		}
		if distinctByArtifactType[sig.ArtifactType][sig.ApproverID] {
			me.Add(kernelerr.New(kernelerr.ApprovalInvalid, "duplicate approver for this artifactType; distinct approvers required").WithArtifact(string(artifact.KindApprovalBundle)).WithStep(stepQuorum).WithField(sig.SignatureID))
			valid = false
		}
		distinctByArtifactType[sig.ArtifactType][sig.ApproverID] = true

		if want, ok := expected[sig.ArtifactType]; ok && sig.ArtifactHash != want {
			me.Add(kernelerr.New(kernelerr.ApprovalInvalid, "signature artifactHash does not match the expected hash for this artifactType").WithArtifact(string(artifact.KindApprovalBundle)).WithStep(stepQuorum).WithField(sig.SignatureID))
			valid = false
		}

		if valid {
			if verifiedByArtifactTypeRole[sig.ArtifactType] == nil {
				verifiedByArtifactTypeRole[sig.ArtifactType] = map[string]bool{}
			}
			verifiedByArtifactTypeRole[sig.ArtifactType][sig.ApproverID] = true
		}
	}

	var satisfied []string
	for _, rule := range policy.Rules {
		roleSet := map[string]bool{}
		for _, r := range rule.RequiredRoles {
			roleSet[r] = true
		}
		verifiedApprovers := verifiedByArtifactTypeRole[rule.ArtifactType]
		count := 0
		for approverID := range verifiedApprovers {
			if a, ok := approversByID[approverID]; ok && roleSet[a.Role] {
				count++
			}
		}
		if count >= rule.Quorum.M {
			satisfied = append(satisfied, rule.ArtifactType)
		} else {
			me.Add(kernelerr.New(kernelerr.ApprovalInvalid, "quorum not satisfied for artifactType").WithArtifact(rule.ArtifactType).WithStep(stepQuorum).WithDetails(map[string]any{"have": count, "need": rule.Quorum.M}))
		}
	}
	sort.Strings(satisfied)

	sortedErrs := me.Sorted()
	return Result{Passed: len(sortedErrs) == 0, Errors: sortedErrs, SatisfiedRules: satisfied}
}
