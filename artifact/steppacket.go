package artifact

import (
	"integritykernel.dev/kernel/canon"
	"integritykernel.dev/kernel/kernelerr"
)

// ReviewerRole is a known reviewer role name; the reviewer sequence
// must draw only from this registry (§4.5).
type ReviewerRole string

const (
	RoleSecurity    ReviewerRole = "security"
	RoleCorrectness ReviewerRole = "correctness"
	RoleStyle       ReviewerRole = "style"
	RoleTestCoverage ReviewerRole = "test_coverage"
	RoleTechLead    ReviewerRole = "tech_lead"
)

var knownRoles = map[ReviewerRole]bool{
	RoleSecurity: true, RoleCorrectness: true, RoleStyle: true,
	RoleTestCoverage: true, RoleTechLead: true,
}

// IsKnownRole reports whether role is in the reviewer-role registry.
func IsKnownRole(role ReviewerRole) bool { return knownRoles[role] }

const minReviewerSequence = 3

// StepPacket binds one plan step's excerpted context, boundaries, and
// reviewer sequence (§3). Also referred to as the "step envelope" in
// §4.11's reviewer-orchestrator inputs.
type StepPacket struct {
	SessionID         string         `json:"sessionId" validate:"required,uuid4"`
	StepID            string         `json:"stepId" validate:"required,uuid4"`
	PlanHash          string         `json:"planHash" validate:"required,len=64"`
	CapsuleHash       string         `json:"capsuleHash" validate:"required,len=64"`
	SnapshotHash      string         `json:"snapshotHash" validate:"required,len=64"`
	LockGoalExcerpt   string         `json:"lockGoalExcerpt" validate:"required"`
	DoDItemRefs       []string       `json:"dodItemRefs,omitempty"`
	AllowedFiles      FileAllowlist  `json:"allowedFiles"`
	AllowedSymbols    []string       `json:"allowedSymbols,omitempty"`
	RequiredCapabilities []string    `json:"requiredCapabilities,omitempty"`
	ReviewerSequence  []ReviewerRole `json:"reviewerSequence" validate:"required,min=3"`
	ContextDigests    map[string]string `json:"contextDigests,omitempty"`
	ContextExcerpts   map[string]string `json:"contextExcerpts,omitempty"`
	Extra             Extra          `json:"-"`
}

func (s StepPacket) Validate() *kernelerr.MultiError {
	me := &kernelerr.MultiError{}
	if !s.AllowedFiles.disjoint() {
		me.Add(kernelerr.New(kernelerr.StepEnvelopeInvalid, "allowedFiles create/modify/delete must be pairwise disjoint").WithArtifact(string(KindStepPacket)))
	}
	if len(s.ReviewerSequence) < minReviewerSequence {
		me.Add(kernelerr.New(kernelerr.StepEnvelopeInvalid, "reviewerSequence requires at least 3 roles").WithArtifact(string(KindStepPacket)).WithField("reviewerSequence"))
	}
	for _, r := range s.ReviewerSequence {
		if !IsKnownRole(r) {
			me.Add(kernelerr.New(kernelerr.StepEnvelopeInvalid, "unknown reviewer role").WithArtifact(string(KindStepPacket)).WithField(string(r)))
		}
	}
	return me
}

// AllowedFilePaths returns the union of create/modify/delete paths.
func (s StepPacket) AllowedFilePaths() map[string]bool { return s.AllowedFiles.union() }

func (s StepPacket) Normalize() map[string]any {
	roles := make([]any, len(s.ReviewerSequence))
	for i, r := range s.ReviewerSequence {
		roles[i] = string(r)
	}
	digests := canon.Object{}
	for k, v := range s.ContextDigests {
		digests[k] = v
	}
	excerpts := canon.Object{}
	for k, v := range s.ContextExcerpts {
		excerpts[k] = v
	}
	base := canon.Object{
		"sessionId":        s.SessionID,
		"stepId":           s.StepID,
		"planHash":         s.PlanHash,
		"capsuleHash":      s.CapsuleHash,
		"snapshotHash":     s.SnapshotHash,
		"lockGoalExcerpt":  s.LockGoalExcerpt,
		"allowedFiles":     s.AllowedFiles.normalize(),
		"reviewerSequence": roles,
	}.
		SetIfPresent("dodItemRefs", stringsToAny(s.DoDItemRefs), len(s.DoDItemRefs) > 0).
		SetIfPresent("allowedSymbols", stringsToAny(s.AllowedSymbols), len(s.AllowedSymbols) > 0).
		SetIfPresent("requiredCapabilities", stringsToAny(s.RequiredCapabilities), len(s.RequiredCapabilities) > 0).
		SetIfPresent("contextDigests", digests, len(s.ContextDigests) > 0).
		SetIfPresent("contextExcerpts", excerpts, len(s.ContextExcerpts) > 0)
	return s.Extra.merge(base)
}

func (s StepPacket) Hash() (string, error) { return hashOf(s.Normalize()) }
