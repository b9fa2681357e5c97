package artifact

import (
	"sort"

	"integritykernel.dev/kernel/canon"
)

// SealedChangePackage is the top-level artifact binding every other
// artifact in the session by hash reference (§3). PackageHash is
// excluded from its own hash input (C6).
type SealedChangePackage struct {
	SessionID             string   `json:"sessionId" validate:"required,uuid4"`
	DoDHash               string   `json:"dodHash" validate:"required,len=64"`
	LockHash              string   `json:"lockHash" validate:"required,len=64"`
	PlanHash              string   `json:"planHash" validate:"required,len=64"`
	CapsuleHash           string   `json:"capsuleHash" validate:"required,len=64"`
	SnapshotHash          string   `json:"snapshotHash" validate:"required,len=64"`
	ModelResponseHashes   []string `json:"modelResponseHashes,omitempty"`
	StepPacketHashes      []string `json:"stepPacketHashes,omitempty"`
	PatchHashes           []string `json:"patchHashes,omitempty"`
	ReviewerReportHashes  []string `json:"reviewerReportHashes,omitempty"`
	RunnerIdentityHash    string   `json:"runnerIdentityHash,omitempty"`
	EvidenceHashes        []string `json:"evidenceHashes,omitempty"`
	AttestationHash       string   `json:"attestationHash,omitempty"`
	ApprovalPolicyHash    string   `json:"approvalPolicyHash,omitempty"`
	ApprovalBundleHash    string   `json:"approvalBundleHash,omitempty"`
	AnchorHash            string   `json:"anchorHash,omitempty"`
	PackageHash           string   `json:"packageHash,omitempty"`
	Extra                 Extra    `json:"-"`
}

func sortedCopy(ss []string) []string {
	out := append([]string(nil), ss...)
	sort.Strings(out)
	return out
}

// Normalize excludes PackageHash and sorts every array-of-hashes field
// lexicographically for determinism (C6).
func (p SealedChangePackage) Normalize() map[string]any {
	base := canon.Object{
		"sessionId":    p.SessionID,
		"dodHash":      p.DoDHash,
		"lockHash":     p.LockHash,
		"planHash":     p.PlanHash,
		"capsuleHash":  p.CapsuleHash,
		"snapshotHash": p.SnapshotHash,
	}.
		SetIfPresent("modelResponseHashes", stringsToAny(sortedCopy(p.ModelResponseHashes)), len(p.ModelResponseHashes) > 0).
		SetIfPresent("stepPacketHashes", stringsToAny(sortedCopy(p.StepPacketHashes)), len(p.StepPacketHashes) > 0).
		SetIfPresent("patchHashes", stringsToAny(sortedCopy(p.PatchHashes)), len(p.PatchHashes) > 0).
		SetIfPresent("reviewerReportHashes", stringsToAny(sortedCopy(p.ReviewerReportHashes)), len(p.ReviewerReportHashes) > 0).
		SetIfPresent("runnerIdentityHash", p.RunnerIdentityHash, p.RunnerIdentityHash != "").
		SetIfPresent("evidenceHashes", stringsToAny(sortedCopy(p.EvidenceHashes)), len(p.EvidenceHashes) > 0).
		SetIfPresent("attestationHash", p.AttestationHash, p.AttestationHash != "").
		SetIfPresent("approvalPolicyHash", p.ApprovalPolicyHash, p.ApprovalPolicyHash != "").
		SetIfPresent("approvalBundleHash", p.ApprovalBundleHash, p.ApprovalBundleHash != "").
		SetIfPresent("anchorHash", p.AnchorHash, p.AnchorHash != "")
	return p.Extra.merge(base)
}

func (p SealedChangePackage) ComputeHash() (string, error) { return hashOf(p.Normalize()) }

// AllHashes enumerates every hash the SCP references, for SCP
// completeness checking (§3 invariant: every hash must resolve to a
// structurally valid artifact whose recomputed hash matches).
func (p SealedChangePackage) AllHashes() []string {
	out := []string{p.DoDHash, p.LockHash, p.PlanHash, p.CapsuleHash, p.SnapshotHash}
	out = append(out, p.ModelResponseHashes...)
	out = append(out, p.StepPacketHashes...)
	out = append(out, p.PatchHashes...)
	out = append(out, p.ReviewerReportHashes...)
	out = append(out, p.EvidenceHashes...)
	if p.RunnerIdentityHash != "" {
		out = append(out, p.RunnerIdentityHash)
	}
	if p.AttestationHash != "" {
		out = append(out, p.AttestationHash)
	}
	if p.ApprovalPolicyHash != "" {
		out = append(out, p.ApprovalPolicyHash)
	}
	if p.ApprovalBundleHash != "" {
		out = append(out, p.ApprovalBundleHash)
	}
	if p.AnchorHash != "" {
		out = append(out, p.AnchorHash)
	}
	return out
}
