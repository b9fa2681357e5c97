package replay

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"integritykernel.dev/kernel/artifact"
	"integritykernel.dev/kernel/bundle"
)

func minimalBundle(t *testing.T) *bundle.ArtifactBundle {
	t.Helper()
	sessionID := uuid.NewString()
	dodID := uuid.NewString()
	lockID := uuid.NewString()

	dod := artifact.DefinitionOfDone{
		SessionID: sessionID,
		DoDID:     dodID,
		Items: []artifact.DoDItem{{
			ItemID:                uuid.NewString(),
			Description:           "ship the working feature end to end",
			VerificationMethod:    artifact.MethodCustom,
			VerificationProcedure: "manually confirm the feature behaves as described",
		}},
	}
	lock := artifact.DecisionLock{
		SessionID:  sessionID,
		LockID:     lockID,
		DoDID:      dodID,
		Goal:       "ship the working feature",
		NonGoals:   []string{"no unrelated refactors"},
		Invariants: []string{"never touch unrelated files"},
		Status:     artifact.LockDraft,
	}
	plan := artifact.ExecutionPlan{
		SessionID: sessionID,
		DoDID:     dodID,
		LockID:    lockID,
		Steps: []artifact.PlanStep{{
			StepID: uuid.NewString(),
			Title:  "implement the feature",
		}},
	}
	planHash, err := plan.ComputePlanHash()
	require.NoError(t, err)

	capsule := artifact.PromptCapsule{
		SessionID: sessionID,
		CapsuleID: uuid.NewString(),
		PlanHash:  planHash,
	}
	snapshot := artifact.RepoSnapshot{
		SessionID: sessionID,
		TakenAt:   "2026-01-01T00:00:00.000Z",
		Files:     map[string]string{"pkg/foo.go": "deadbeef"},
	}

	return &bundle.ArtifactBundle{
		SessionID: sessionID,
		DoD:       dod,
		Lock:      lock,
		Plan:      plan,
		Capsule:   capsule,
		Snapshot:  snapshot,
	}
}

func TestReplayPassesOnConsistentBundle(t *testing.T) {
	b := minimalBundle(t)
	result := Replay(b, Options{})
	assert.True(t, result.DeterministicReplayPassed, "mismatches: %+v", result.Mismatches)
	assert.Empty(t, result.Mismatches)
	assert.NotEmpty(t, result.RecomputedHashes["decision_lock"])
}

func TestReplayDetectsCapsulePlanHashMismatch(t *testing.T) {
	b := minimalBundle(t)
	b.Capsule.PlanHash = strings.Repeat("0", 64)

	result := Replay(b, Options{})
	assert.False(t, result.DeterministicReplayPassed)
	require.NotEmpty(t, result.Mismatches)

	found := false
	for _, m := range result.Mismatches {
		if m.ArtifactType == "prompt_capsule" && m.Field == "planHash" {
			found = true
		}
	}
	assert.True(t, found, "expected a prompt_capsule planHash mismatch, got %+v", result.Mismatches)
}

func TestReplayDetectsSessionBoundaryViolationFromBinding(t *testing.T) {
	b := minimalBundle(t)
	b.Snapshot.SessionID = uuid.NewString()

	result := Replay(b, Options{})
	assert.False(t, result.DeterministicReplayPassed)

	found := false
	for _, m := range result.Mismatches {
		if m.ArtifactType == "repo_snapshot" && m.Got == "SESSION_BOUNDARY_INVALID" {
			found = true
		}
	}
	assert.True(t, found, "expected a repo_snapshot session boundary mismatch, got %+v", result.Mismatches)
}

func TestReplayIsDeterministicAcrossRuns(t *testing.T) {
	b := minimalBundle(t)
	r1 := Replay(b, Options{})
	r2 := Replay(b, Options{})
	assert.Equal(t, r1.RecomputedHashes, r2.RecomputedHashes)
	assert.Equal(t, r1.DeterministicReplayPassed, r2.DeterministicReplayPassed)
}
