// Package artifact defines every session artifact kind in the graph
// (§3) and their normalization + hashing rules (C6). Each kind carries
// known fields as a typed Go struct plus an Extra side-car map for
// forward-compatible passthrough fields (Design Notes: "forward
// compatible passthrough objects"); the hasher includes both the typed
// fields and Extra in canonical form.
package artifact

import (
	"integritykernel.dev/kernel/canon"
	"integritykernel.dev/kernel/khash"
)

// Kind discriminates artifact kinds for error reporting and manifest
// bookkeeping.
type Kind string

const (
	KindDefinitionOfDone      Kind = "definition_of_done"
	KindDecisionLock          Kind = "decision_lock"
	KindExecutionPlan         Kind = "execution_plan"
	KindPromptCapsule         Kind = "prompt_capsule"
	KindRepoSnapshot          Kind = "repo_snapshot"
	KindModelResponse         Kind = "model_response"
	KindStepPacket            Kind = "step_packet"
	KindPatchArtifact         Kind = "patch_artifact"
	KindReviewerReport        Kind = "reviewer_report"
	KindRunnerIdentity        Kind = "runner_identity"
	KindRunnerEvidence        Kind = "runner_evidence"
	KindRunnerAttestation     Kind = "runner_attestation"
	KindApprovalPolicy        Kind = "approval_policy"
	KindApprovalBundle        Kind = "approval_bundle"
	KindSessionAnchor         Kind = "session_anchor"
	KindSealedChangePackage   Kind = "sealed_change_package"
)

// Extra is the extension side-car every artifact kind carries:
// reverse-domain-notation keys (Design Notes) that the current schema
// version doesn't know about but must still round-trip through
// hashing unchanged.
type Extra map[string]any

// merge folds e into base (base wins on key collision, since typed
// known fields are set directly on base by each kind's Normalize).
func (e Extra) merge(base canon.Object) canon.Object {
	for k, v := range e {
		if _, exists := base[k]; !exists {
			base[k] = v
		}
	}
	return base
}

// hashOf canonicalizes and hashes a normalized value; every artifact
// kind's Hash method is a one-line call to this.
func hashOf(normalized map[string]any) (string, error) {
	return khash.ContentHash(normalized)
}

// ActorRef is the (actorId, actorType) pair used throughout the graph (§3).
type ActorRef struct {
	ActorID   string `json:"actorId" validate:"required,max=200"`
	ActorType string `json:"actorType" validate:"required,oneof=human system worker"`
}

func (a ActorRef) normalize() canon.Object {
	return canon.Object{"actorId": a.ActorID, "actorType": a.ActorType}
}

func stringsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
