package artifact

import (
	"strings"

	"integritykernel.dev/kernel/canon"
	"integritykernel.dev/kernel/kernelerr"
)

// RepoSnapshot is the set of POSIX-relative file paths and content
// hashes taken at one moment (§3).
type RepoSnapshot struct {
	SessionID string            `json:"sessionId" validate:"required,uuid4"`
	TakenAt   string            `json:"takenAt" validate:"required"`
	Files     map[string]string `json:"files" validate:"required,min=1"` // path -> sha256
	Extra     Extra             `json:"-"`
}

func (r RepoSnapshot) Validate() *kernelerr.MultiError {
	me := &kernelerr.MultiError{}
	if len(r.Files) == 0 {
		me.Add(kernelerr.New(kernelerr.RepoSnapshotInvalid, "RepoSnapshot requires at least one file").WithArtifact(string(KindRepoSnapshot)))
	}
	for path := range r.Files {
		if strings.HasPrefix(path, "/") || strings.Contains(path, "..") {
			me.Add(kernelerr.New(kernelerr.RepoSnapshotInvalid, "path must be POSIX-relative with no traversal segments").WithArtifact(string(KindRepoSnapshot)).WithField(path))
		}
	}
	return me
}

func (r RepoSnapshot) Paths() map[string]bool {
	out := make(map[string]bool, len(r.Files))
	for p := range r.Files {
		out[p] = true
	}
	return out
}

func (r RepoSnapshot) Normalize() map[string]any {
	files := canon.Object{}
	for path, hash := range r.Files {
		files[path] = hash
	}
	base := canon.Object{
		"sessionId": r.SessionID,
		"takenAt":   r.TakenAt,
		"files":     files,
	}
	return r.Extra.merge(base)
}

func (r RepoSnapshot) Hash() (string, error) { return hashOf(r.Normalize()) }
