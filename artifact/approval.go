package artifact

import (
	"sort"

	"integritykernel.dev/kernel/canon"
	"integritykernel.dev/kernel/kernelerr"
)

// Approver is one registered signer in an ApprovalPolicy.
type Approver struct {
	ApproverID   string `json:"approverId" validate:"required"`
	Role         string `json:"role" validate:"required"`
	Active       bool   `json:"active"`
	PublicKeyPEM string `json:"publicKeyPem" validate:"required"`
}

func (a Approver) normalize() canon.Object {
	return canon.Object{
		"approverId":   a.ApproverID,
		"role":         a.Role,
		"active":       a.Active,
		"publicKeyPem": a.PublicKeyPEM,
	}
}

// Quorum is an m-of-n requirement.
type Quorum struct {
	M int `json:"m" validate:"required,min=1"`
	N int `json:"n" validate:"required,min=1"`
}

// ApprovalRule is a per-artifactType quorum rule.
type ApprovalRule struct {
	ArtifactType             string   `json:"artifactType" validate:"required"`
	RequiredRoles            []string `json:"requiredRoles" validate:"required,min=1"`
	Quorum                   Quorum   `json:"quorum"`
	RequireDistinctApprovers bool     `json:"requireDistinctApprovers"`
}

func (r ApprovalRule) normalize() canon.Object {
	return canon.Object{
		"artifactType":  r.ArtifactType,
		"requiredRoles": stringsToAny(r.RequiredRoles),
		"quorum":        canon.Object{"m": int64(r.Quorum.M), "n": int64(r.Quorum.N)},
		"requireDistinctApprovers": r.RequireDistinctApprovers,
	}
}

// ApprovalPolicy declares who may approve what, and how many of them
// are required (§3).
type ApprovalPolicy struct {
	PolicyID          string         `json:"policyId" validate:"required,uuid4"`
	Approvers         []Approver     `json:"approvers" validate:"required,min=1"`
	Rules             []ApprovalRule `json:"rules" validate:"required,min=1"`
	AllowedAlgorithms []string       `json:"allowedAlgorithms" validate:"required,min=1"`
	Extra             Extra          `json:"-"`
}

// Validate enforces §4.5's cross-field ApprovalPolicy refinements.
func (p ApprovalPolicy) Validate() *kernelerr.MultiError {
	me := &kernelerr.MultiError{}
	activeByRole := map[string]int{}
	activeCount := 0
	for _, a := range p.Approvers {
		if a.Active {
			activeByRole[a.Role]++
			activeCount++
		}
	}
	if len(p.AllowedAlgorithms) == 0 {
		me.Add(kernelerr.New(kernelerr.SchemaInvalid, "allowedAlgorithms must be non-empty").WithArtifact(string(KindApprovalPolicy)))
	}
	for _, r := range p.Rules {
		if !r.RequireDistinctApprovers {
			me.Add(kernelerr.New(kernelerr.SchemaInvalid, "requireDistinctApprovers must be true").WithArtifact(string(KindApprovalPolicy)).WithField(r.ArtifactType))
		}
		if r.Quorum.M > r.Quorum.N {
			me.Add(kernelerr.New(kernelerr.SchemaInvalid, "quorum m must be <= n").WithArtifact(string(KindApprovalPolicy)).WithField(r.ArtifactType))
		}
		if r.Quorum.N > activeCount {
			me.Add(kernelerr.New(kernelerr.SchemaInvalid, "quorum n exceeds active approver count").WithArtifact(string(KindApprovalPolicy)).WithField(r.ArtifactType))
		}
		for _, role := range r.RequiredRoles {
			if activeByRole[role] == 0 {
				me.Add(kernelerr.New(kernelerr.SchemaInvalid, "required role has no active approver").WithArtifact(string(KindApprovalPolicy)).WithField(role))
			}
		}
	}
	return me
}

func (p ApprovalPolicy) Normalize() map[string]any {
	approvers := make([]any, len(p.Approvers))
	sortedApprovers := append([]Approver(nil), p.Approvers...)
	sort.Slice(sortedApprovers, func(i, j int) bool { return sortedApprovers[i].ApproverID < sortedApprovers[j].ApproverID })
	for i, a := range sortedApprovers {
		approvers[i] = a.normalize()
	}
	rules := make([]any, len(p.Rules))
	sortedRules := append([]ApprovalRule(nil), p.Rules...)
	sort.Slice(sortedRules, func(i, j int) bool { return sortedRules[i].ArtifactType < sortedRules[j].ArtifactType })
	for i, r := range sortedRules {
		rules[i] = r.normalize()
	}
	base := canon.Object{
		"policyId":          p.PolicyID,
		"approvers":         approvers,
		"rules":             rules,
		"allowedAlgorithms": stringsToAny(p.AllowedAlgorithms),
	}
	return p.Extra.merge(base)
}

func (p ApprovalPolicy) Hash() (string, error) { return hashOf(p.Normalize()) }

// ApprovalSignature is one signer's signed approval of an artifact hash (§3).
type ApprovalSignature struct {
	SignatureID  string `json:"signatureId" validate:"required,uuid4"`
	ApproverID   string `json:"approverId" validate:"required"`
	Role         string `json:"role" validate:"required"`
	Algorithm    string `json:"algorithm" validate:"required"`
	ArtifactType string `json:"artifactType" validate:"required"`
	ArtifactHash string `json:"artifactHash" validate:"required,len=64"`
	SessionID    string `json:"sessionId" validate:"required,uuid4"`
	Timestamp    string `json:"timestamp" validate:"required"`
	Nonce        string `json:"nonce" validate:"required,uuid4"`
	Signature    string `json:"signature,omitempty"`
	PayloadHash  string `json:"payloadHash,omitempty"`
}

// PayloadNormalize excludes signature and payloadHash (C6): those are
// the signed envelope, not the signed content.
func (s ApprovalSignature) PayloadNormalize() map[string]any {
	return canon.Object{
		"signatureId":  s.SignatureID,
		"approverId":   s.ApproverID,
		"role":         s.Role,
		"algorithm":    s.Algorithm,
		"artifactType": s.ArtifactType,
		"artifactHash": s.ArtifactHash,
		"sessionId":    s.SessionID,
		"timestamp":    s.Timestamp,
		"nonce":        s.Nonce,
	}
}

func (s ApprovalSignature) ComputePayloadHash() (string, error) { return hashOf(s.PayloadNormalize()) }

// ApprovalBundle is the list of submitted approval signatures for a session (§3).
type ApprovalBundle struct {
	SessionID  string              `json:"sessionId" validate:"required,uuid4"`
	Signatures []ApprovalSignature `json:"signatures"`
	Extra      Extra               `json:"-"`
}

func (b ApprovalBundle) Normalize() map[string]any {
	sigHashes := make([]string, 0, len(b.Signatures))
	for _, s := range b.Signatures {
		sigHashes = append(sigHashes, s.SignatureID)
	}
	sort.Strings(sigHashes)
	base := canon.Object{
		"sessionId":    b.SessionID,
		"signatureIds": stringsToAny(sigHashes),
	}
	return b.Extra.merge(base)
}

func (b ApprovalBundle) Hash() (string, error) { return hashOf(b.Normalize()) }
