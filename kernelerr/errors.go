// Package kernelerr defines the kernel's stable, machine-readable error
// vocabulary. Every validation tier returns errors of this shape so a
// caller (CLI, evidence consumer, another kernel component) can branch
// on Code without parsing Message.
package kernelerr

import (
	"fmt"
	"sort"
)

// Code is a stable, machine-readable error identifier (§7).
type Code string

const (
	CanonInvalidValue          Code = "CANON_INVALID_VALUE"
	RunNotFound                Code = "RUN_NOT_FOUND"
	RunAlreadyExists           Code = "RUN_ALREADY_EXISTS"
	FirstEventNotRunStarted    Code = "FIRST_EVENT_NOT_RUN_STARTED"
	EventIDConflict            Code = "EVENT_ID_CONFLICT"
	ArtifactTooLarge           Code = "ARTIFACT_TOO_LARGE"
	PathTraversal              Code = "PATH_TRAVERSAL"
	ArtifactNotFound           Code = "ARTIFACT_NOT_FOUND"
	HashMismatch               Code = "HASH_MISMATCH"
	InvalidHash                Code = "INVALID_HASH"
	SchemaInvalid              Code = "SCHEMA_INVALID"
	SessionBoundaryInvalid     Code = "SESSION_BOUNDARY_INVALID"
	CapsuleHashMismatch        Code = "CAPSULE_HASH_MISMATCH"
	ResponseHashMismatch       Code = "RESPONSE_HASH_MISMATCH"
	PromptCapsuleLintFailed    Code = "PROMPT_CAPSULE_LINT_FAILED"
	ModelResponseLintFailed    Code = "MODEL_RESPONSE_LINT_FAILED"
	BoundaryViolation          Code = "BOUNDARY_VIOLATION"
	ForbiddenTokenDetected     Code = "FORBIDDEN_TOKEN_DETECTED"
	ImportBoundaryViolation   Code = "IMPORT_BOUNDARY_VIOLATION"
	RepoSnapshotInvalid        Code = "REPO_SNAPSHOT_INVALID"
	StepEnvelopeInvalid        Code = "STEP_ENVELOPE_INVALID"
	PatchArtifactInvalid       Code = "PATCH_ARTIFACT_INVALID"
	ReviewerFailed             Code = "REVIEWER_FAILED"
	ReviewerDuplicate          Code = "REVIEWER_DUPLICATE"
	AttestationInvalid         Code = "ATTESTATION_INVALID"
	AttestationSignatureInvalid Code = "ATTESTATION_SIGNATURE_INVALID"
	ApprovalInvalid            Code = "APPROVAL_INVALID"
	PolicyDenied               Code = "POLICY_DENIED"
	PolicyRequirementFailed    Code = "POLICY_REQUIREMENT_FAILED"
	PolicyFieldPathInvalid     Code = "POLICY_FIELD_PATH_INVALID"
	PolicyRegexTimeout         Code = "POLICY_REGEX_TIMEOUT"
	PolicyEvaluationFailed     Code = "POLICY_EVALUATION_FAILED"
	SealInvalid                Code = "SEAL_INVALID"
	InternalValidatorError     Code = "INTERNAL_VALIDATOR_ERROR"
)

// Error is a single structured kernel failure.
//
// Step and ArtifactType participate in the deterministic ordering rule
// from §7: (validation-step-index, artifact-type, error-code, field-path).
type Error struct {
	Step         int    `json:"-"`
	Code         Code   `json:"code"`
	Message      string `json:"message"`
	ArtifactType string `json:"artifactType,omitempty"`
	Field        string `json:"field,omitempty"`
	Details      any    `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds a kernel error. Step defaults to 0 when the caller has no
// tiering concept (e.g. a single-shot validator).
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func (e *Error) WithArtifact(kind string) *Error {
	c := *e
	c.ArtifactType = kind
	return &c
}

func (e *Error) WithField(field string) *Error {
	c := *e
	c.Field = field
	return &c
}

func (e *Error) WithStep(step int) *Error {
	c := *e
	c.Step = step
	return &c
}

func (e *Error) WithDetails(d any) *Error {
	c := *e
	c.Details = d
	return &c
}

// MultiError aggregates every failure a validation tier collected,
// sorted per §7's deterministic ordering rule so two runs over
// identical inputs produce bytewise-identical output.
type MultiError struct {
	Errors []*Error
}

func (m *MultiError) Add(e *Error) {
	if e == nil {
		return
	}
	m.Errors = append(m.Errors, e)
}

func (m *MultiError) HasErrors() bool { return m != nil && len(m.Errors) > 0 }

// Sorted returns the errors ordered by (step, artifactType, code, field).
func (m *MultiError) Sorted() []*Error {
	out := make([]*Error, len(m.Errors))
	copy(out, m.Errors)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Step != b.Step {
			return a.Step < b.Step
		}
		if a.ArtifactType != b.ArtifactType {
			return a.ArtifactType < b.ArtifactType
		}
		if a.Code != b.Code {
			return a.Code < b.Code
		}
		return a.Field < b.Field
	})
	return out
}

func (m *MultiError) Error() string {
	if m == nil || len(m.Errors) == 0 {
		return ""
	}
	sorted := m.Sorted()
	return fmt.Sprintf("%d error(s), first: %s", len(sorted), sorted[0].Error())
}

// FirstCodeAndCount is the user-visible failure summary (§7): the first
// error's code plus a count of total errors.
func (m *MultiError) FirstCodeAndCount() (Code, int) {
	if m == nil || len(m.Errors) == 0 {
		return "", 0
	}
	sorted := m.Sorted()
	return sorted[0].Code, len(sorted)
}
