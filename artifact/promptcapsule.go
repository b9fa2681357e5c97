package artifact

import (
	"integritykernel.dev/kernel/canon"
)

// Boundaries constrain what a model invocation may read, reference, or produce.
type Boundaries struct {
	AllowedFiles          []string `json:"allowedFiles,omitempty"`
	AllowedSymbols        []string `json:"allowedSymbols,omitempty"`
	AllowedDoDItems       []string `json:"allowedDoDItems,omitempty"`
	AllowedPlanStepIDs    []string `json:"allowedPlanStepIds,omitempty"`
	AllowedCapabilities   []string `json:"allowedCapabilities,omitempty"`
	DisallowedPatterns    []string `json:"disallowedPatterns,omitempty"`
	AllowedExternalModules []string `json:"allowedExternalModules,omitempty"`
}

func (b Boundaries) normalize() canon.Object {
	return canon.Object{}.
		SetIfPresent("allowedFiles", stringsToAny(b.AllowedFiles), len(b.AllowedFiles) > 0).
		SetIfPresent("allowedSymbols", stringsToAny(b.AllowedSymbols), len(b.AllowedSymbols) > 0).
		SetIfPresent("allowedDoDItems", stringsToAny(b.AllowedDoDItems), len(b.AllowedDoDItems) > 0).
		SetIfPresent("allowedPlanStepIds", stringsToAny(b.AllowedPlanStepIDs), len(b.AllowedPlanStepIDs) > 0).
		SetIfPresent("allowedCapabilities", stringsToAny(b.AllowedCapabilities), len(b.AllowedCapabilities) > 0).
		SetIfPresent("disallowedPatterns", stringsToAny(b.DisallowedPatterns), len(b.DisallowedPatterns) > 0).
		SetIfPresent("allowedExternalModules", stringsToAny(b.AllowedExternalModules), len(b.AllowedExternalModules) > 0)
}

// FileAllowed reports whether path is named in the boundary's
// allowedFiles list (§4.7 boundary-containment check).
func (b Boundaries) FileAllowed(path string) bool {
	for _, p := range b.AllowedFiles {
		if p == path {
			return true
		}
	}
	return false
}

// PromptCapsule is the model-invocation envelope (§3): boundaries,
// context, input digests, and the plan binding.
type PromptCapsule struct {
	SessionID       string            `json:"sessionId" validate:"required,uuid4"`
	CapsuleID       string            `json:"capsuleId" validate:"required,uuid4"`
	PlanHash        string            `json:"planHash" validate:"required,len=64"`
	Boundaries      Boundaries        `json:"boundaries"`
	Context         string            `json:"context,omitempty"`
	InputFileDigests map[string]string `json:"inputFileDigests,omitempty"`
	Extra           Extra             `json:"-"`
}

func (c PromptCapsule) Normalize() map[string]any {
	digests := canon.Object{}
	for path, hash := range c.InputFileDigests {
		digests[path] = hash
	}
	base := canon.Object{
		"sessionId":  c.SessionID,
		"capsuleId":  c.CapsuleID,
		"planHash":   c.PlanHash,
		"boundaries": c.Boundaries.normalize(),
	}.
		SetIfPresent("context", c.Context, c.Context != "").
		SetIfPresent("inputFileDigests", digests, len(c.InputFileDigests) > 0)
	return c.Extra.merge(base)
}

func (c PromptCapsule) Hash() (string, error) { return hashOf(c.Normalize()) }
