package artifact

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"

	"integritykernel.dev/kernel/canon"
)

// RunnerIdentity is a runner's self-declared identity and capability
// snapshot at attestation time (§3).
type RunnerIdentity struct {
	RunnerID                   string   `json:"runnerId" validate:"required,uuid4"`
	PublicKeyPEM               string   `json:"publicKeyPem" validate:"required"`
	EnvironmentFingerprint     string   `json:"environmentFingerprint" validate:"required,len=64"`
	BuildHash                  string   `json:"buildHash" validate:"required,len=64"`
	AllowedCapabilitiesSnapshot []string `json:"allowedCapabilitiesSnapshot,omitempty"`
	AttestationTimestamp       string   `json:"attestationTimestamp" validate:"required"`
	Extra                      Extra    `json:"-"`
}

func (r RunnerIdentity) Normalize() map[string]any {
	base := canon.Object{
		"runnerId":               r.RunnerID,
		"publicKeyPem":           r.PublicKeyPEM,
		"environmentFingerprint": r.EnvironmentFingerprint,
		"buildHash":              r.BuildHash,
		"attestationTimestamp":   r.AttestationTimestamp,
	}.SetIfPresent("allowedCapabilitiesSnapshot", stringsToAny(r.AllowedCapabilitiesSnapshot), len(r.AllowedCapabilitiesSnapshot) > 0)
	return r.Extra.merge(base)
}

func (r RunnerIdentity) Hash() (string, error) { return hashOf(r.Normalize()) }

// ComputeEnvironmentFingerprint hashes a runner's declared environment
// (OS, arch, build toolchain version, hostname class — whatever the
// caller chooses to commit to) and its capability snapshot with
// SHA3-256, a hash domain deliberately distinct from the SHA-256
// content-addressing domain (khash): a fingerprint collision or reuse
// can never be mistaken for an artifact-identity hash.
func ComputeEnvironmentFingerprint(env map[string]string, capabilities []string) (string, error) {
	envObj := canon.Object{}
	for k, v := range env {
		envObj[k] = v
	}
	b, err := canon.Encode(canon.Object{
		"environment":  envObj,
		"capabilities": stringsToAny(sortedCopyLocal(capabilities)),
	})
	if err != nil {
		return "", err
	}
	sum := sha3.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func sortedCopyLocal(ss []string) []string {
	out := append([]string(nil), ss...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// CapabilitySet set-equality check used by the binding checker (§4.7
// capability-snapshot rule).
func CapabilitySet(caps []string) map[string]bool {
	out := make(map[string]bool, len(caps))
	for _, c := range caps {
		out[c] = true
	}
	return out
}

// RunnerEvidence is one step's chained proof of execution (§3).
type RunnerEvidence struct {
	SessionID            string `json:"sessionId" validate:"required,uuid4"`
	StepID                string `json:"stepId" validate:"required,uuid4"`
	EvidenceType          string `json:"evidenceType" validate:"required"`
	ArtifactHash          string `json:"artifactHash" validate:"required,len=64"`
	CapabilityUsed        string `json:"capabilityUsed" validate:"required"`
	HumanConfirmationProof string `json:"humanConfirmationProof,omitempty"`
	PlanHash              string `json:"planHash" validate:"required,len=64"`
	Timestamp             string `json:"timestamp" validate:"required"`
	PrevEvidenceHash      *string `json:"prevEvidenceHash"`
	Extra                 Extra  `json:"-"`
}

func (e RunnerEvidence) Normalize() map[string]any {
	base := canon.Object{
		"sessionId":     e.SessionID,
		"stepId":        e.StepID,
		"evidenceType":  e.EvidenceType,
		"artifactHash":  e.ArtifactHash,
		"capabilityUsed": e.CapabilityUsed,
		"planHash":      e.PlanHash,
		"timestamp":     e.Timestamp,
		"prevEvidenceHash": func() any {
			if e.PrevEvidenceHash == nil {
				return nil
			}
			return *e.PrevEvidenceHash
		}(),
	}.SetIfPresent("humanConfirmationProof", e.HumanConfirmationProof, e.HumanConfirmationProof != "")
	return e.Extra.merge(base)
}

func (e RunnerEvidence) Hash() (string, error) { return hashOf(e.Normalize()) }

// EvidenceChain verifies the prevEvidenceHash links across a session's
// evidence list (§4.7 rule 4 and Evidence chain invariant). Returns the
// tail hash and the first broken-link index, or -1 if the chain holds.
func EvidenceChain(items []RunnerEvidence) (hashes []string, tailHash string, brokenAt int, err error) {
	brokenAt = -1
	var prev string
	for i, ev := range items {
		h, herr := ev.Hash()
		if herr != nil {
			return nil, "", i, herr
		}
		hashes = append(hashes, h)
		if i == 0 {
			if ev.PrevEvidenceHash != nil {
				brokenAt = i
			}
		} else if ev.PrevEvidenceHash == nil || *ev.PrevEvidenceHash != prev {
			if brokenAt == -1 {
				brokenAt = i
			}
		}
		prev = h
	}
	if len(hashes) > 0 {
		tailHash = hashes[len(hashes)-1]
	}
	return hashes, tailHash, brokenAt, nil
}

// RunnerAttestation is the session-scoped sealed statement binding the
// runner, plan, lock, and evidence chain tail (§3). Signature is
// excluded from the hash (C6): it is the signed payload, not part of
// its own identity.
type RunnerAttestation struct {
	SessionID             string `json:"sessionId" validate:"required,uuid4"`
	PlanHash              string `json:"planHash" validate:"required,len=64"`
	LockID                string `json:"lockId" validate:"required,uuid4"`
	RunnerID               string `json:"runnerId" validate:"required,uuid4"`
	IdentityHash           string `json:"identityHash" validate:"required,len=64"`
	EvidenceChainTailHash  string `json:"evidenceChainTailHash" validate:"required,len=64"`
	Nonce                  string `json:"nonce" validate:"required,uuid4"`
	Signature              string `json:"signature,omitempty"`
	SignatureAlgorithm     string `json:"signatureAlgorithm" validate:"required"`
	CreatedAt              string `json:"createdAt" validate:"required"`
	Extra                  Extra  `json:"-"`
}

// PayloadNormalize excludes Signature: it is the bytes the signature
// engine signs and later re-verifies against (§4.8).
func (a RunnerAttestation) PayloadNormalize() map[string]any {
	base := canon.Object{
		"sessionId":             a.SessionID,
		"planHash":              a.PlanHash,
		"lockId":                a.LockID,
		"runnerId":              a.RunnerID,
		"identityHash":          a.IdentityHash,
		"evidenceChainTailHash": a.EvidenceChainTailHash,
		"nonce":                 a.Nonce,
		"signatureAlgorithm":    a.SignatureAlgorithm,
		"createdAt":             a.CreatedAt,
	}
	return a.Extra.merge(base)
}

func (a RunnerAttestation) PayloadHash() (string, error) { return hashOf(a.PayloadNormalize()) }
