package artifact

import (
	"integritykernel.dev/kernel/canon"
	"integritykernel.dev/kernel/kernelerr"
)

type LockStatus string

const (
	LockDraft    LockStatus = "draft"
	LockApproved LockStatus = "approved"
	LockRejected LockStatus = "rejected"
)

// ApprovalMetadata records who approved a DecisionLock and when.
type ApprovalMetadata struct {
	ApprovedBy ActorRef `json:"approvedBy"`
	ApprovedAt string   `json:"approvedAt"`
	Note       string   `json:"note,omitempty"`
}

// DecisionLock is the approved, immutable goal/non-goals/invariants
// contract for a session (§3).
type DecisionLock struct {
	SessionID   string   `json:"sessionId" validate:"required,uuid4"`
	LockID      string   `json:"lockId" validate:"required,uuid4"`
	DoDID       string   `json:"dodId" validate:"required,uuid4"`
	Goal        string   `json:"goal" validate:"required,min=1"`
	NonGoals    []string `json:"nonGoals" validate:"required,min=1"`
	Invariants  []string `json:"invariants" validate:"required,min=1"`
	Interfaces  []string `json:"interfaces,omitempty"`
	Constraints []string `json:"constraints,omitempty"`
	FailureModes []string `json:"failureModes,omitempty"`
	Risks       []string `json:"risks,omitempty"`
	Status      LockStatus `json:"status" validate:"required,oneof=draft approved rejected"`

	// ApprovalMetadata is excluded from the hash (C6) so the lock's
	// identity is stable across the approval transition.
	ApprovalMetadata *ApprovalMetadata `json:"approvalMetadata,omitempty"`
	PlanHash         string            `json:"planHash,omitempty"`

	Extra Extra `json:"-"`
}

func (l DecisionLock) Validate() *kernelerr.MultiError {
	me := &kernelerr.MultiError{}
	if l.Status == LockApproved && l.ApprovalMetadata == nil {
		me.Add(kernelerr.New(kernelerr.SchemaInvalid, "approved DecisionLock requires approvalMetadata").WithArtifact(string(KindDecisionLock)).WithField("approvalMetadata"))
	}
	if len(l.NonGoals) == 0 {
		me.Add(kernelerr.New(kernelerr.SchemaInvalid, "DecisionLock requires at least one non-goal").WithArtifact(string(KindDecisionLock)).WithField("nonGoals"))
	}
	if len(l.Invariants) == 0 {
		me.Add(kernelerr.New(kernelerr.SchemaInvalid, "DecisionLock requires at least one invariant").WithArtifact(string(KindDecisionLock)).WithField("invariants"))
	}
	return me
}

// Normalize excludes approvalMetadata by design (C6): the lock's hash
// must not change when a draft transitions to approved.
func (l DecisionLock) Normalize() map[string]any {
	base := canon.Object{
		"sessionId":  l.SessionID,
		"lockId":     l.LockID,
		"dodId":      l.DoDID,
		"goal":       l.Goal,
		"nonGoals":   stringsToAny(l.NonGoals),
		"invariants": stringsToAny(l.Invariants),
		"status":     string(l.Status),
	}.
		SetIfPresent("interfaces", stringsToAny(l.Interfaces), len(l.Interfaces) > 0).
		SetIfPresent("constraints", stringsToAny(l.Constraints), len(l.Constraints) > 0).
		SetIfPresent("failureModes", stringsToAny(l.FailureModes), len(l.FailureModes) > 0).
		SetIfPresent("risks", stringsToAny(l.Risks), len(l.Risks) > 0).
		SetIfPresent("planHash", l.PlanHash, l.PlanHash != "")
	return l.Extra.merge(base)
}

func (l DecisionLock) Hash() (string, error) { return hashOf(l.Normalize()) }
