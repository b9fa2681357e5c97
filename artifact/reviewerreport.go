package artifact

import (
	"integritykernel.dev/kernel/canon"
	"integritykernel.dev/kernel/kernelerr"
)

// Violation is one rule failure surfaced by a reviewer role.
type Violation struct {
	RuleID  string `json:"ruleId" validate:"required"`
	Message string `json:"message" validate:"required"`
	Field   string `json:"field,omitempty"`
}

func (v Violation) normalize() canon.Object {
	return canon.Object{"ruleId": v.RuleID, "message": v.Message}.
		SetIfPresent("field", v.Field, v.Field != "")
}

// ReviewerReport is one (step, role) review outcome (§3): passed iff
// violations is empty.
type ReviewerReport struct {
	SessionID  string       `json:"sessionId" validate:"required,uuid4"`
	StepID     string       `json:"stepId" validate:"required,uuid4"`
	Role       ReviewerRole `json:"role" validate:"required"`
	Passed     bool         `json:"passed"`
	Violations []Violation  `json:"violations"`
	Extra      Extra        `json:"-"`
}

func (r ReviewerReport) Validate() *kernelerr.MultiError {
	me := &kernelerr.MultiError{}
	if r.Passed != (len(r.Violations) == 0) {
		me.Add(kernelerr.New(kernelerr.SchemaInvalid, "passed must equal (violations == [])").WithArtifact(string(KindReviewerReport)).WithField("passed"))
	}
	if !IsKnownRole(r.Role) {
		me.Add(kernelerr.New(kernelerr.ReviewerFailed, "unknown reviewer role").WithArtifact(string(KindReviewerReport)).WithField(string(r.Role)))
	}
	return me
}

func (r ReviewerReport) Normalize() map[string]any {
	viols := make([]any, len(r.Violations))
	for i, v := range r.Violations {
		viols[i] = v.normalize()
	}
	base := canon.Object{
		"sessionId":  r.SessionID,
		"stepId":     r.StepID,
		"role":       string(r.Role),
		"passed":     r.Passed,
		"violations": viols,
	}
	return r.Extra.merge(base)
}

func (r ReviewerReport) Hash() (string, error) { return hashOf(r.Normalize()) }
