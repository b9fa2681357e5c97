package artifact

import "integritykernel.dev/kernel/canon"

// SessionAnchor is an optional cryptographic commitment to the
// session's final derived hashes (§3).
type SessionAnchor struct {
	SessionID              string `json:"sessionId" validate:"required,uuid4"`
	LockID                 string `json:"lockId" validate:"required,uuid4"`
	PlanHash               string `json:"planHash" validate:"required,len=64"`
	FinalEvidenceHash      string `json:"finalEvidenceHash" validate:"required,len=64"`
	FinalAttestationHash   string `json:"finalAttestationHash,omitempty"`
	PolicySetHash          string `json:"policySetHash,omitempty"`
	PolicyEvaluationHash   string `json:"policyEvaluationHash,omitempty"`
	RunnerIdentityHash     string `json:"runnerIdentityHash,omitempty"`
	Extra                  Extra  `json:"-"`
}

func (a SessionAnchor) Normalize() map[string]any {
	base := canon.Object{
		"sessionId":         a.SessionID,
		"lockId":            a.LockID,
		"planHash":          a.PlanHash,
		"finalEvidenceHash": a.FinalEvidenceHash,
	}.
		SetIfPresent("finalAttestationHash", a.FinalAttestationHash, a.FinalAttestationHash != "").
		SetIfPresent("policySetHash", a.PolicySetHash, a.PolicySetHash != "").
		SetIfPresent("policyEvaluationHash", a.PolicyEvaluationHash, a.PolicyEvaluationHash != "").
		SetIfPresent("runnerIdentityHash", a.RunnerIdentityHash, a.RunnerIdentityHash != "")
	return a.Extra.merge(base)
}

func (a SessionAnchor) Hash() (string, error) { return hashOf(a.Normalize()) }
