package artifact

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatchArtifactValidateRejectsDuplicatePaths(t *testing.T) {
	patch := PatchArtifact{
		SessionID: uuid.NewString(),
		StepID:    uuid.NewString(),
		FilesChanged: []FileChange{
			{Path: "a.go", ChangeType: ChangeModify},
			{Path: "a.go", ChangeType: ChangeModify},
		},
	}
	me := patch.Validate()
	require.True(t, me.HasErrors())
}

func TestPatchArtifactValidateRequiresRenamedFromOnRename(t *testing.T) {
	patch := PatchArtifact{
		SessionID:    uuid.NewString(),
		StepID:       uuid.NewString(),
		FilesChanged: []FileChange{{Path: "b.go", ChangeType: ChangeRename}},
	}
	me := patch.Validate()
	require.True(t, me.HasErrors())
}

func TestPatchArtifactHashChangesWithDiffContent(t *testing.T) {
	base := PatchArtifact{
		SessionID:    uuid.NewString(),
		StepID:       uuid.NewString(),
		FilesChanged: []FileChange{{Path: "a.go", ChangeType: ChangeModify, Diff: "+foo"}},
	}
	h1, err := base.Hash()
	require.NoError(t, err)

	base.FilesChanged[0].Diff = "+bar"
	h2, err := base.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestStepPacketValidateRequiresDisjointAllowlistAndMinReviewerSequence(t *testing.T) {
	sp := StepPacket{
		SessionID:        uuid.NewString(),
		StepID:           uuid.NewString(),
		PlanHash:         hex64('1'),
		CapsuleHash:      hex64('2'),
		SnapshotHash:     hex64('3'),
		LockGoalExcerpt:  "ship it",
		AllowedFiles:     FileAllowlist{Create: []string{"x.go"}, Delete: []string{"x.go"}},
		ReviewerSequence: []ReviewerRole{RoleSecurity},
	}
	me := sp.Validate()
	require.True(t, me.HasErrors())
	assert.GreaterOrEqual(t, len(me.Errors), 2)
}

func TestStepPacketValidatePassesWithWellFormedSequence(t *testing.T) {
	sp := StepPacket{
		SessionID:        uuid.NewString(),
		StepID:           uuid.NewString(),
		PlanHash:         hex64('1'),
		CapsuleHash:      hex64('2'),
		SnapshotHash:     hex64('3'),
		LockGoalExcerpt:  "ship it",
		AllowedFiles:     FileAllowlist{Modify: []string{"x.go"}},
		ReviewerSequence: []ReviewerRole{RoleSecurity, RoleCorrectness, RoleStyle},
	}
	me := sp.Validate()
	assert.False(t, me.HasErrors())
}

func TestApprovalPolicyValidateRequiresActiveApproverForEachRole(t *testing.T) {
	policy := ApprovalPolicy{
		PolicyID:          uuid.NewString(),
		Approvers:         []Approver{{ApproverID: uuid.NewString(), Role: "security", Active: true, PublicKeyPEM: "k"}},
		Rules: []ApprovalRule{{
			ArtifactType:             "decision_lock",
			RequiredRoles:            []string{"tech_lead"},
			Quorum:                   Quorum{M: 1, N: 1},
			RequireDistinctApprovers: true,
		}},
		AllowedAlgorithms: []string{"RSA-SHA256"},
	}
	me := policy.Validate()
	require.True(t, me.HasErrors())
}

func TestApprovalPolicyNormalizeIsOrderIndependentOverApprovers(t *testing.T) {
	a := Approver{ApproverID: "a", Role: "security", Active: true, PublicKeyPEM: "ka"}
	b := Approver{ApproverID: "b", Role: "tech_lead", Active: true, PublicKeyPEM: "kb"}
	rule := ApprovalRule{ArtifactType: "decision_lock", RequiredRoles: []string{"security", "tech_lead"}, Quorum: Quorum{M: 2, N: 2}, RequireDistinctApprovers: true}

	p1 := ApprovalPolicy{PolicyID: "p", Approvers: []Approver{a, b}, Rules: []ApprovalRule{rule}, AllowedAlgorithms: []string{"RSA-SHA256"}}
	p2 := ApprovalPolicy{PolicyID: "p", Approvers: []Approver{b, a}, Rules: []ApprovalRule{rule}, AllowedAlgorithms: []string{"RSA-SHA256"}}

	h1, err := p1.Hash()
	require.NoError(t, err)
	h2, err := p2.Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestApprovalSignaturePayloadHashExcludesSignatureBytes(t *testing.T) {
	sig := ApprovalSignature{
		SignatureID:  uuid.NewString(),
		ApproverID:   uuid.NewString(),
		Role:         "security",
		Algorithm:    "RSA-SHA256",
		ArtifactType: "decision_lock",
		ArtifactHash: hex64('4'),
		SessionID:    uuid.NewString(),
		Timestamp:    "2026-01-01T00:00:00.000Z",
		Nonce:        uuid.NewString(),
	}
	h1, err := sig.ComputePayloadHash()
	require.NoError(t, err)

	sig.Signature = "deadbeef"
	sig.PayloadHash = h1
	h2, err := sig.ComputePayloadHash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestSessionAnchorHashIsSensitiveToFinalEvidenceHash(t *testing.T) {
	anchor := SessionAnchor{
		SessionID:         uuid.NewString(),
		LockID:            uuid.NewString(),
		PlanHash:          hex64('5'),
		FinalEvidenceHash: hex64('6'),
	}
	h1, err := anchor.Hash()
	require.NoError(t, err)

	anchor.FinalEvidenceHash = hex64('7')
	h2, err := anchor.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestSealedChangePackageHashIsOrderIndependentOverHashLists(t *testing.T) {
	base := SealedChangePackage{
		SessionID:    uuid.NewString(),
		DoDHash:      hex64('1'),
		LockHash:     hex64('2'),
		PlanHash:     hex64('3'),
		CapsuleHash:  hex64('4'),
		SnapshotHash: hex64('5'),
	}
	p1 := base
	p1.PatchHashes = []string{hex64('a'), hex64('b')}
	p2 := base
	p2.PatchHashes = []string{hex64('b'), hex64('a')}

	h1, err := p1.ComputeHash()
	require.NoError(t, err)
	h2, err := p2.ComputeHash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestSealedChangePackageAllHashesEnumeratesOptionalFields(t *testing.T) {
	scp := SealedChangePackage{
		DoDHash: hex64('1'), LockHash: hex64('2'), PlanHash: hex64('3'),
		CapsuleHash: hex64('4'), SnapshotHash: hex64('5'),
		AttestationHash: hex64('6'),
	}
	all := scp.AllHashes()
	assert.Contains(t, all, hex64('1'), "dodHash")
	assert.Contains(t, all, hex64('2'), "lockHash")
	assert.Contains(t, all, hex64('3'), "planHash")
	assert.Contains(t, all, hex64('4'), "capsuleHash")
	assert.Contains(t, all, hex64('5'), "snapshotHash")
	assert.Contains(t, all, hex64('6'), "attestationHash")
	assert.Len(t, all, 6)
}
