package artifact

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hex64(b byte) string {
	return strings.Repeat(string(rune(b)), 64)
}

func TestRunnerIdentityHashIsStableAndSensitiveToFields(t *testing.T) {
	id := RunnerIdentity{
		RunnerID:               uuid.NewString(),
		PublicKeyPEM:           "-----BEGIN PUBLIC KEY-----\n...",
		EnvironmentFingerprint: hex64('a'),
		BuildHash:              hex64('b'),
		AttestationTimestamp:   "2026-01-01T00:00:00.000Z",
	}
	h1, err := id.Hash()
	require.NoError(t, err)
	h2, err := id.Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	id.BuildHash = hex64('c')
	h3, err := id.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestComputeEnvironmentFingerprintIsDeterministicAndDistinctFromContentHash(t *testing.T) {
	env := map[string]string{"os": "linux", "arch": "amd64"}
	caps := []string{"b-cap", "a-cap"}

	fp1, err := ComputeEnvironmentFingerprint(env, caps)
	require.NoError(t, err)
	fp2, err := ComputeEnvironmentFingerprint(env, []string{"a-cap", "b-cap"})
	require.NoError(t, err)
	assert.Equal(t, fp1, fp2, "capability order must not affect the fingerprint")

	id := RunnerIdentity{
		RunnerID:               uuid.NewString(),
		PublicKeyPEM:           "key",
		EnvironmentFingerprint: fp1,
		BuildHash:              fp1,
		AttestationTimestamp:   "2026-01-01T00:00:00.000Z",
	}
	contentHash, err := id.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, fp1, contentHash, "sha3 fingerprint domain must differ from the sha256 content-hash domain")
}

func TestComputeEnvironmentFingerprintChangesWithInput(t *testing.T) {
	fp1, err := ComputeEnvironmentFingerprint(map[string]string{"os": "linux"}, nil)
	require.NoError(t, err)
	fp2, err := ComputeEnvironmentFingerprint(map[string]string{"os": "darwin"}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, fp1, fp2)
}

func evidenceAt(sessionID, stepID, planHash string, prev *string) RunnerEvidence {
	return RunnerEvidence{
		SessionID:        sessionID,
		StepID:           stepID,
		EvidenceType:     "command_executed",
		ArtifactHash:     hex64('a'),
		CapabilityUsed:   "exec",
		PlanHash:         planHash,
		Timestamp:        "2026-01-01T00:00:00.000Z",
		PrevEvidenceHash: prev,
	}
}

func TestEvidenceChainLinksSequentially(t *testing.T) {
	sessionID, planHash := uuid.NewString(), hex64('b')
	first := evidenceAt(sessionID, uuid.NewString(), planHash, nil)
	h1, err := first.Hash()
	require.NoError(t, err)
	second := evidenceAt(sessionID, uuid.NewString(), planHash, &h1)

	hashes, tail, brokenAt, err := EvidenceChain([]RunnerEvidence{first, second})
	require.NoError(t, err)
	assert.Equal(t, -1, brokenAt)
	assert.Equal(t, hashes[len(hashes)-1], tail)
	assert.Len(t, hashes, 2)
}

func TestEvidenceChainDetectsBrokenLink(t *testing.T) {
	sessionID, planHash := uuid.NewString(), hex64('c')
	first := evidenceAt(sessionID, uuid.NewString(), planHash, nil)
	wrongPrev := hex64('f')
	second := evidenceAt(sessionID, uuid.NewString(), planHash, &wrongPrev)

	_, _, brokenAt, err := EvidenceChain([]RunnerEvidence{first, second})
	require.NoError(t, err)
	assert.Equal(t, 1, brokenAt)
}

func TestEvidenceChainRejectsNonNilPrevOnFirstItem(t *testing.T) {
	sessionID, planHash := uuid.NewString(), hex64('d')
	bogus := hex64('0')
	first := evidenceAt(sessionID, uuid.NewString(), planHash, &bogus)

	_, _, brokenAt, err := EvidenceChain([]RunnerEvidence{first})
	require.NoError(t, err)
	assert.Equal(t, 0, brokenAt)
}
