package artifact

import (
	"integritykernel.dev/kernel/canon"
	"integritykernel.dev/kernel/kernelerr"
)

// ProposedChange is one model-proposed edit_file/create_file/delete_file
// operation.
type ProposedChange struct {
	Operation string `json:"operation" validate:"required,oneof=edit_file create_file delete_file rename_file"`
	FilePath  string `json:"filePath" validate:"required"`
	Rationale string `json:"rationale,omitempty"`
}

func (c ProposedChange) normalize() canon.Object {
	return canon.Object{"operation": c.Operation, "filePath": c.FilePath}.
		SetIfPresent("rationale", c.Rationale, c.Rationale != "")
}

// ModelResponseArtifact is the model's answer to a PromptCapsule (§3):
// either a refusal, or one-or-more proposed changes — never both or
// neither (the sum-type invariant).
type ModelResponseArtifact struct {
	SessionID       string           `json:"sessionId" validate:"required,uuid4"`
	CapsuleID       string           `json:"capsuleId" validate:"required,uuid4"`
	ResponseSeed    string           `json:"responseSeed,omitempty"`
	Summary         string           `json:"summary" validate:"required"`
	Citations       []string         `json:"citations,omitempty"`
	Refusal         string           `json:"refusal,omitempty"`
	ProposedChanges []ProposedChange `json:"proposedChanges,omitempty"`
	Extra           Extra            `json:"-"`
}

func (m ModelResponseArtifact) Validate() *kernelerr.MultiError {
	me := &kernelerr.MultiError{}
	if m.Refusal != "" {
		if len(m.ProposedChanges) != 0 {
			me.Add(kernelerr.New(kernelerr.ModelResponseLintFailed, "refusal and proposedChanges are mutually exclusive").WithArtifact(string(KindModelResponse)))
		}
	} else if len(m.ProposedChanges) == 0 {
		me.Add(kernelerr.New(kernelerr.ModelResponseLintFailed, "non-refusal response requires at least one proposed change").WithArtifact(string(KindModelResponse)))
	}
	return me
}

func (m ModelResponseArtifact) Normalize() map[string]any {
	changes := make([]any, len(m.ProposedChanges))
	for i, c := range m.ProposedChanges {
		changes[i] = c.normalize()
	}
	base := canon.Object{
		"sessionId": m.SessionID,
		"capsuleId": m.CapsuleID,
		"summary":   m.Summary,
	}.
		SetIfPresent("responseSeed", m.ResponseSeed, m.ResponseSeed != "").
		SetIfPresent("citations", stringsToAny(m.Citations), len(m.Citations) > 0).
		SetIfPresent("refusal", m.Refusal, m.Refusal != "").
		SetIfPresent("proposedChanges", changes, len(m.ProposedChanges) > 0)
	return m.Extra.merge(base)
}

func (m ModelResponseArtifact) Hash() (string, error) { return hashOf(m.Normalize()) }
