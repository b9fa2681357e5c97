// Package bundle defines ArtifactBundle: the full session artifact
// graph (§3) as loaded into memory for validation, binding, policy
// evaluation, review, and deterministic replay. Every kernel component
// downstream of schema validation (C7-C13) operates on a Bundle.
package bundle

import "integritykernel.dev/kernel/artifact"

// ArtifactBundle is the complete, in-memory session graph.
type ArtifactBundle struct {
	SessionID string

	DoD      artifact.DefinitionOfDone
	Lock     artifact.DecisionLock
	Plan     artifact.ExecutionPlan
	Capsule  artifact.PromptCapsule
	Snapshot artifact.RepoSnapshot

	ModelResponses []artifact.ModelResponseArtifact
	StepPackets    []artifact.StepPacket
	Patches        []artifact.PatchArtifact
	ReviewerReports []artifact.ReviewerReport

	RunnerIdentity *artifact.RunnerIdentity
	Evidence       []artifact.RunnerEvidence
	Attestation    *artifact.RunnerAttestation

	ApprovalPolicy *artifact.ApprovalPolicy
	ApprovalBundle *artifact.ApprovalBundle

	Anchor *artifact.SessionAnchor
	SCP    *artifact.SealedChangePackage
}

// StepPacketByID finds the step packet for stepID, if present.
func (b *ArtifactBundle) StepPacketByID(stepID string) (artifact.StepPacket, bool) {
	for _, sp := range b.StepPackets {
		if sp.StepID == stepID {
			return sp, true
		}
	}
	return artifact.StepPacket{}, false
}

// PatchByStepID finds the patch for stepID, if present.
func (b *ArtifactBundle) PatchByStepID(stepID string) (artifact.PatchArtifact, bool) {
	for _, p := range b.Patches {
		if p.StepID == stepID {
			return p, true
		}
	}
	return artifact.PatchArtifact{}, false
}

// ReportsForStep returns every reviewer report recorded for stepID, in
// the order they were appended (insertion order == review order).
func (b *ArtifactBundle) ReportsForStep(stepID string) []artifact.ReviewerReport {
	var out []artifact.ReviewerReport
	for _, r := range b.ReviewerReports {
		if r.StepID == stepID {
			out = append(out, r)
		}
	}
	return out
}
