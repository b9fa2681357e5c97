// Package binding implements the cross-artifact consistency checker
// (C7): acyclicity of the artifact-reference graph, session cohesion,
// plan-hash binding, step/capsule/snapshot boundary containment, the
// evidence chain, and attestation/anchor bindings (§4.7). BindCheck is
// pure: no I/O, no clock reads beyond comparing caller-supplied
// timestamp strings.
package binding

import (
	"sort"

	"integritykernel.dev/kernel/artifact"
	"integritykernel.dev/kernel/bundle"
	"integritykernel.dev/kernel/ids"
	"integritykernel.dev/kernel/kernelerr"
)

// edge is one artifact-reference edge for the acyclicity check (§3):
// from references to (by hash or id).
type edge struct{ from, to string }

// checkAcyclic performs a DFS cycle detection over the fixed
// reference edges a session graph can carry. In the concrete schema
// below, a cycle can only arise from malformed/duplicated
// cross-references (e.g. an artifact hash equal to its own
// referencer's key), but validators MUST reject it before any
// per-artifact validation runs (§3).
func checkAcyclic(edges []edge) bool {
	adj := map[string][]string{}
	for _, e := range edges {
		adj[e.from] = append(adj[e.from], e.to)
	}
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var visit func(n string) bool
	visit = func(n string) bool {
		color[n] = gray
		for _, next := range adj[n] {
			switch color[next] {
			case gray:
				return false
			case white:
				if !visit(next) {
					return false
				}
			}
		}
		color[n] = black
		return true
	}
	for n := range adj {
		if color[n] == white {
			if !visit(n) {
				return false
			}
		}
	}
	return true
}

func edgesFor(b *bundle.ArtifactBundle) []edge {
	var out []edge
	out = append(out, edge{"lock:" + b.Lock.LockID, "dod:" + b.Lock.DoDID})
	out = append(out, edge{"plan:" + b.Plan.SessionID, "lock:" + b.Plan.LockID})
	out = append(out, edge{"plan:" + b.Plan.SessionID, "dod:" + b.Plan.DoDID})
	for _, sp := range b.StepPackets {
		out = append(out, edge{"steppacket:" + sp.StepID, "plan:" + b.Plan.SessionID})
	}
	for _, p := range b.Patches {
		out = append(out, edge{"patch:" + p.StepID, "steppacket:" + p.StepID})
	}
	if b.Attestation != nil {
		out = append(out, edge{"attestation:" + b.Attestation.SessionID, "plan:" + b.Plan.SessionID})
	}
	if b.Anchor != nil {
		out = append(out, edge{"anchor:" + b.Anchor.SessionID, "plan:" + b.Plan.SessionID})
	}
	return out
}

// Result is BindCheck's verdict: a MultiError that is empty iff every
// binding invariant holds.
type Result struct {
	Errors *kernelerr.MultiError
}

func (r Result) OK() bool { return !r.Errors.HasErrors() }

const stepBindCheck = 2

// BindCheck verifies every invariant in §4.7 against the bundle.
func BindCheck(b *bundle.ArtifactBundle) Result {
	me := &kernelerr.MultiError{}

	if !checkAcyclic(edgesFor(b)) {
		me.Add(kernelerr.New(kernelerr.SessionBoundaryInvalid, "artifact-reference graph contains a cycle").WithStep(0))
		return Result{Errors: me}
	}

	sessionID := b.SessionID
	checkCohesion := func(kind, sid string) {
		if sid != "" && sid != sessionID {
			me.Add(kernelerr.New(kernelerr.SessionBoundaryInvalid, "sessionId does not match bundle session").
				WithArtifact(kind).WithStep(stepBindCheck).WithDetails(map[string]any{"expected": sessionID, "got": sid}))
		}
	}
	checkCohesion("definition_of_done", b.DoD.SessionID)
	checkCohesion("decision_lock", b.Lock.SessionID)
	checkCohesion("execution_plan", b.Plan.SessionID)
	checkCohesion("prompt_capsule", b.Capsule.SessionID)
	checkCohesion("repo_snapshot", b.Snapshot.SessionID)
	for _, ev := range b.Evidence {
		checkCohesion("runner_evidence", ev.SessionID)
	}
	if b.Anchor != nil {
		checkCohesion("session_anchor", b.Anchor.SessionID)
	}

	planHash, err := b.Plan.ComputePlanHash()
	if err != nil {
		me.Add(kernelerr.New(kernelerr.InternalValidatorError, err.Error()).WithStep(stepBindCheck))
		return Result{Errors: me}
	}

	if b.Lock.PlanHash != "" && b.Lock.PlanHash != planHash {
		me.Add(kernelerr.New(kernelerr.SessionBoundaryInvalid, "DecisionLock.planHash does not match computePlanHash(plan)").
			WithArtifact("decision_lock").WithStep(stepBindCheck).
			WithDetails(map[string]any{"expected": planHash, "got": b.Lock.PlanHash}))
	}
	if b.Capsule.PlanHash != planHash {
		me.Add(kernelerr.New(kernelerr.CapsuleHashMismatch, "PromptCapsule.planHash does not match computePlanHash(plan)").
			WithArtifact("prompt_capsule").WithStep(stepBindCheck).
			WithDetails(map[string]any{"expected": planHash, "got": b.Capsule.PlanHash}))
	}
	for _, ev := range b.Evidence {
		if ev.PlanHash != planHash {
			me.Add(kernelerr.New(kernelerr.SessionBoundaryInvalid, "RunnerEvidence.planHash does not match computePlanHash(plan)").
				WithArtifact("runner_evidence").WithStep(stepBindCheck).WithField(ev.StepID).
				WithDetails(map[string]any{"expected": planHash, "got": ev.PlanHash}))
		}
	}

	evidenceHashes, tailHash, brokenAt, everr := artifact.EvidenceChain(b.Evidence)
	if everr != nil {
		me.Add(kernelerr.New(kernelerr.InternalValidatorError, everr.Error()).WithStep(stepBindCheck))
	}
	if brokenAt != -1 {
		me.Add(kernelerr.New(kernelerr.SessionBoundaryInvalid, "evidence chain broken").
			WithArtifact("runner_evidence").WithStep(stepBindCheck).
			WithDetails(map[string]any{"brokenAtIndex": brokenAt}))
	}

	if b.Anchor != nil {
		checkAnchor(me, b, planHash, tailHash)
	}

	if b.Attestation != nil {
		checkAttestation(me, b, planHash, tailHash, evidenceHashes)
	}

	checkBoundaryContainment(me, b)

	return Result{Errors: me}
}

// checkBoundaryContainment enforces §3's boundary-containment
// invariant: a step's allowedFiles must be a subset of the capsule's
// allowedFiles and of the repo snapshot's known paths, and a step's
// requiredCapabilities must be a subset of both the capsule's and the
// plan's allowedCapabilities.
func checkBoundaryContainment(me *kernelerr.MultiError, b *bundle.ArtifactBundle) {
	snapshotPaths := b.Snapshot.Paths()
	planCaps := containsSet(b.Plan.AllowedCapabilities)
	capsuleCaps := containsSet(b.Capsule.Boundaries.AllowedCapabilities)

	for _, sp := range b.StepPackets {
		for path := range sp.AllowedFilePaths() {
			if !b.Capsule.Boundaries.FileAllowed(path) {
				me.Add(kernelerr.New(kernelerr.BoundaryViolation, "step allowedFiles path is not in capsule.boundaries.allowedFiles").
					WithArtifact(string(artifact.KindStepPacket)).WithStep(stepBindCheck).WithField(path))
			}
			if !snapshotPaths[path] {
				me.Add(kernelerr.New(kernelerr.BoundaryViolation, "step allowedFiles path is not a known repo snapshot path").
					WithArtifact(string(artifact.KindStepPacket)).WithStep(stepBindCheck).WithField(path))
			}
		}
		for _, cap := range sp.RequiredCapabilities {
			if !capsuleCaps[cap] {
				me.Add(kernelerr.New(kernelerr.BoundaryViolation, "step requiredCapability is not in capsule.boundaries.allowedCapabilities").
					WithArtifact(string(artifact.KindStepPacket)).WithStep(stepBindCheck).WithField(cap))
			}
			if !planCaps[cap] {
				me.Add(kernelerr.New(kernelerr.BoundaryViolation, "step requiredCapability is not in plan.allowedCapabilities").
					WithArtifact(string(artifact.KindStepPacket)).WithStep(stepBindCheck).WithField(cap))
			}
		}
	}
}

func containsSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[it] = true
	}
	return out
}

func checkAnchor(me *kernelerr.MultiError, b *bundle.ArtifactBundle, planHash, tailHash string) {
	a := b.Anchor
	if a.LockID != b.Lock.LockID {
		me.Add(kernelerr.New(kernelerr.SessionBoundaryInvalid, "SessionAnchor.lockId does not match DecisionLock.lockId").
			WithArtifact("session_anchor").WithStep(stepBindCheck))
	}
	if a.PlanHash != planHash {
		me.Add(kernelerr.New(kernelerr.SessionBoundaryInvalid, "SessionAnchor.planHash does not match computePlanHash(plan)").
			WithArtifact("session_anchor").WithStep(stepBindCheck))
	}
	if a.FinalEvidenceHash != tailHash {
		me.Add(kernelerr.New(kernelerr.SessionBoundaryInvalid, "SessionAnchor.finalEvidenceHash does not match the evidence chain tail").
			WithArtifact("session_anchor").WithStep(stepBindCheck))
	}
	if b.RunnerIdentity != nil && a.RunnerIdentityHash != "" {
		idHash, err := b.RunnerIdentity.Hash()
		if err == nil && idHash != a.RunnerIdentityHash {
			me.Add(kernelerr.New(kernelerr.SessionBoundaryInvalid, "SessionAnchor.runnerIdentityHash does not match RunnerIdentity.Hash()").
				WithArtifact("session_anchor").WithStep(stepBindCheck))
		}
	}
	if b.Attestation != nil && a.FinalAttestationHash != "" {
		attHash, err := b.Attestation.PayloadHash()
		if err == nil && attHash != a.FinalAttestationHash {
			me.Add(kernelerr.New(kernelerr.SessionBoundaryInvalid, "SessionAnchor.finalAttestationHash does not match the attestation payload hash").
				WithArtifact("session_anchor").WithStep(stepBindCheck))
		}
	}
}

func checkAttestation(me *kernelerr.MultiError, b *bundle.ArtifactBundle, planHash, tailHash string, evidenceHashes []string) {
	a := b.Attestation
	if a.SessionID != b.SessionID {
		me.Add(kernelerr.New(kernelerr.SessionBoundaryInvalid, "Attestation.sessionId mismatch").WithArtifact("runner_attestation").WithStep(stepBindCheck))
	}
	if a.LockID != b.Lock.LockID {
		me.Add(kernelerr.New(kernelerr.SessionBoundaryInvalid, "Attestation.lockId mismatch").WithArtifact("runner_attestation").WithStep(stepBindCheck))
	}
	if a.PlanHash != planHash {
		me.Add(kernelerr.New(kernelerr.SessionBoundaryInvalid, "Attestation.planHash mismatch").WithArtifact("runner_attestation").WithStep(stepBindCheck))
	}
	if a.EvidenceChainTailHash != tailHash {
		me.Add(kernelerr.New(kernelerr.SessionBoundaryInvalid, "Attestation.evidenceChainTailHash does not match the evidence chain tail").WithArtifact("runner_attestation").WithStep(stepBindCheck))
	}
	if b.RunnerIdentity != nil {
		idHash, err := b.RunnerIdentity.Hash()
		if err == nil && a.IdentityHash != idHash {
			me.Add(kernelerr.New(kernelerr.SessionBoundaryInvalid, "Attestation.identityHash does not match RunnerIdentity.Hash()").WithArtifact("runner_attestation").WithStep(stepBindCheck))
		}
		if !setEqual(b.Plan.AllowedCapabilities, b.RunnerIdentity.AllowedCapabilitiesSnapshot) {
			me.Add(kernelerr.New(kernelerr.SessionBoundaryInvalid, "plan.allowedCapabilities and identity.allowedCapabilitiesSnapshot are not set-equal").WithArtifact("runner_attestation").WithStep(stepBindCheck))
		}
	}
	if !ids.IsV4(a.Nonce) {
		me.Add(kernelerr.New(kernelerr.SessionBoundaryInvalid, "Attestation.nonce is not a well-formed UUID v4").WithArtifact("runner_attestation").WithStep(stepBindCheck))
	}
	if len(b.Evidence) > 0 {
		lastEvidence := b.Evidence[len(b.Evidence)-1]
		if lastEvidence.Timestamp != "" && a.CreatedAt < lastEvidence.Timestamp {
			me.Add(kernelerr.New(kernelerr.SessionBoundaryInvalid, "Attestation.createdAt precedes the last evidence timestamp").WithArtifact("runner_attestation").WithStep(stepBindCheck))
		}
	}
	_ = evidenceHashes
}

func setEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sa, sb := append([]string(nil), a...), append([]string(nil), b...)
	sort.Strings(sa)
	sort.Strings(sb)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}
