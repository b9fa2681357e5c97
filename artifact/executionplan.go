package artifact

import (
	"integritykernel.dev/kernel/canon"
	"integritykernel.dev/kernel/kernelerr"
)

// FileAllowlist partitions per-step allowed paths by the operation they permit.
type FileAllowlist struct {
	Create []string `json:"create,omitempty"`
	Modify []string `json:"modify,omitempty"`
	Delete []string `json:"delete,omitempty"`
}

func (f FileAllowlist) normalize() canon.Object {
	return canon.Object{}.
		SetIfPresent("create", stringsToAny(f.Create), len(f.Create) > 0).
		SetIfPresent("modify", stringsToAny(f.Modify), len(f.Modify) > 0).
		SetIfPresent("delete", stringsToAny(f.Delete), len(f.Delete) > 0)
}

// disjoint reports whether create/modify/delete overlap (§4.5 StepPacket refinement).
func (f FileAllowlist) disjoint() bool {
	seen := map[string]string{}
	groups := map[string][]string{"create": f.Create, "modify": f.Modify, "delete": f.Delete}
	for name, paths := range groups {
		for _, p := range paths {
			if other, ok := seen[p]; ok && other != name {
				return false
			}
			seen[p] = name
		}
	}
	return true
}

func (f FileAllowlist) union() map[string]bool {
	out := map[string]bool{}
	for _, p := range f.Create {
		out[p] = true
	}
	for _, p := range f.Modify {
		out[p] = true
	}
	for _, p := range f.Delete {
		out[p] = true
	}
	return out
}

// PlanStep is one ordered step of an ExecutionPlan (§3).
type PlanStep struct {
	StepID               string        `json:"stepId" validate:"required,uuid4"`
	Title                string        `json:"title" validate:"required"`
	DoDItemRefs          []string      `json:"dodItemRefs,omitempty"`
	RequiredCapabilities []string      `json:"requiredCapabilities,omitempty"`
	AllowedFiles         FileAllowlist `json:"allowedFiles,omitempty"`
	AllowedSymbols       []string      `json:"allowedSymbols,omitempty"`
}

func (s PlanStep) normalize() canon.Object {
	return canon.Object{
		"stepId": s.StepID,
		"title":  s.Title,
	}.
		SetIfPresent("dodItemRefs", stringsToAny(s.DoDItemRefs), len(s.DoDItemRefs) > 0).
		SetIfPresent("requiredCapabilities", stringsToAny(s.RequiredCapabilities), len(s.RequiredCapabilities) > 0).
		SetIfPresent("allowedFiles", s.AllowedFiles.normalize(), true).
		SetIfPresent("allowedSymbols", stringsToAny(s.AllowedSymbols), len(s.AllowedSymbols) > 0)
}

// ExecutionPlan is the ordered list of steps bound to a session/DoD/lock (§3).
//
// ExecutionPlan deliberately carries no hash field of its own: its
// binding is checked by recomputing computePlanHash against every
// artifact that references planHash (§4.7).
type ExecutionPlan struct {
	SessionID           string     `json:"sessionId" validate:"required,uuid4"`
	DoDID               string     `json:"dodId" validate:"required,uuid4"`
	LockID              string     `json:"lockId" validate:"required,uuid4"`
	Steps               []PlanStep `json:"steps" validate:"required,min=1"`
	AllowedCapabilities []string   `json:"allowedCapabilities,omitempty"`
	Extra               Extra      `json:"-"`
}

func (p ExecutionPlan) Validate() *kernelerr.MultiError {
	me := &kernelerr.MultiError{}
	if len(p.Steps) == 0 {
		me.Add(kernelerr.New(kernelerr.SchemaInvalid, "ExecutionPlan requires at least one step").WithArtifact(string(KindExecutionPlan)))
	}
	seen := map[string]bool{}
	for _, st := range p.Steps {
		if seen[st.StepID] {
			me.Add(kernelerr.New(kernelerr.SchemaInvalid, "duplicate stepId").WithArtifact(string(KindExecutionPlan)).WithField(st.StepID))
		}
		seen[st.StepID] = true
		if !st.AllowedFiles.disjoint() {
			me.Add(kernelerr.New(kernelerr.StepEnvelopeInvalid, "allowedFiles create/modify/delete must be pairwise disjoint").WithArtifact(string(KindExecutionPlan)).WithField(st.StepID))
		}
	}
	return me
}

// Normalize is computePlanHash's input (§4.7): the canonical plan body.
func (p ExecutionPlan) Normalize() map[string]any {
	steps := make([]any, len(p.Steps))
	for i, s := range p.Steps {
		steps[i] = s.normalize()
	}
	base := canon.Object{
		"sessionId": p.SessionID,
		"dodId":     p.DoDID,
		"lockId":    p.LockID,
		"steps":     steps,
	}.SetIfPresent("allowedCapabilities", stringsToAny(p.AllowedCapabilities), len(p.AllowedCapabilities) > 0)
	return p.Extra.merge(base)
}

// ComputePlanHash is the canonical planHash every bound artifact must
// match (§4.7 binding rule 2).
func (p ExecutionPlan) ComputePlanHash() (string, error) { return hashOf(p.Normalize()) }
