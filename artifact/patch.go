package artifact

import (
	"integritykernel.dev/kernel/canon"
	"integritykernel.dev/kernel/kernelerr"
)

type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeModify ChangeType = "modify"
	ChangeDelete ChangeType = "delete"
	ChangeRename ChangeType = "rename"
)

// FileChange is one file touched by a PatchArtifact (§3).
type FileChange struct {
	Path       string     `json:"path" validate:"required"`
	ChangeType ChangeType `json:"changeType" validate:"required,oneof=create modify delete rename"`
	Diff       string     `json:"diff,omitempty"`
	RenamedFrom string    `json:"renamedFrom,omitempty"`
}

func (f FileChange) normalize() canon.Object {
	return canon.Object{"path": f.Path, "changeType": string(f.ChangeType)}.
		SetIfPresent("diff", f.Diff, f.Diff != "").
		SetIfPresent("renamedFrom", f.RenamedFrom, f.RenamedFrom != "")
}

// PatchArtifact is one step's proposed change set (§3).
type PatchArtifact struct {
	SessionID             string       `json:"sessionId" validate:"required,uuid4"`
	StepID                string       `json:"stepId" validate:"required,uuid4"`
	FilesChanged          []FileChange `json:"filesChanged" validate:"required,min=1"`
	DeclaredImports       []string     `json:"declaredImports,omitempty"`
	DeclaredNewDependencies []string   `json:"declaredNewDependencies,omitempty"`
	Extra                 Extra        `json:"-"`
}

func (p PatchArtifact) Validate() *kernelerr.MultiError {
	me := &kernelerr.MultiError{}
	if len(p.FilesChanged) == 0 {
		me.Add(kernelerr.New(kernelerr.PatchArtifactInvalid, "PatchArtifact requires at least one file change").WithArtifact(string(KindPatchArtifact)))
	}
	seen := map[string]bool{}
	for _, fc := range p.FilesChanged {
		if seen[fc.Path] {
			me.Add(kernelerr.New(kernelerr.PatchArtifactInvalid, "duplicate file path in filesChanged").WithArtifact(string(KindPatchArtifact)).WithField(fc.Path))
		}
		seen[fc.Path] = true
		if fc.ChangeType == ChangeRename && fc.RenamedFrom == "" {
			me.Add(kernelerr.New(kernelerr.PatchArtifactInvalid, "rename requires renamedFrom").WithArtifact(string(KindPatchArtifact)).WithField(fc.Path))
		}
	}
	return me
}

func (p PatchArtifact) Normalize() map[string]any {
	changes := make([]any, len(p.FilesChanged))
	for i, c := range p.FilesChanged {
		changes[i] = c.normalize()
	}
	base := canon.Object{
		"sessionId":    p.SessionID,
		"stepId":       p.StepID,
		"filesChanged": changes,
	}.
		SetIfPresent("declaredImports", stringsToAny(p.DeclaredImports), len(p.DeclaredImports) > 0).
		SetIfPresent("declaredNewDependencies", stringsToAny(p.DeclaredNewDependencies), len(p.DeclaredNewDependencies) > 0)
	return p.Extra.merge(base)
}

func (p PatchArtifact) Hash() (string, error) { return hashOf(p.Normalize()) }
