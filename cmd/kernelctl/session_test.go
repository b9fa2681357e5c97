package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSessionID = "11111111-1111-4111-8111-111111111111"
	testDoDID     = "22222222-2222-4222-8222-222222222222"
	testLockID    = "33333333-3333-4333-8333-333333333333"
	testStepID    = "44444444-4444-4444-8444-444444444444"
	testCapsuleID = "55555555-5555-4555-8555-555555555555"
)

func writeJSONFile(t *testing.T, dir, name string, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func validDoD() map[string]any {
	return map[string]any{
		"sessionId": testSessionID,
		"dodId":     testDoDID,
		"items": []map[string]any{{
			"itemId":              "66666666-6666-4666-8666-666666666666",
			"description":         "ship the feature end to end",
			"verificationMethod":  "file_exists",
			"filePath":            "pkg/a.go",
		}},
	}
}

func validLock() map[string]any {
	return map[string]any{
		"sessionId":  testSessionID,
		"lockId":     testLockID,
		"dodId":      testDoDID,
		"goal":       "ship it",
		"nonGoals":   []string{"no refactors"},
		"invariants": []string{"never panic"},
		"status":     "draft",
	}
}

func TestValidateContractPassesOnConsistentDoDAndLock(t *testing.T) {
	dir := t.TempDir()
	dodFile := writeJSONFile(t, dir, "dod.json", validDoD())
	lockFile := writeJSONFile(t, dir, "lock.json", validLock())

	code, stdout, stderr := runCLI("validate-contract", "-dod-file", dodFile, "-lock-file", lockFile)
	assert.Equal(t, 0, code, "stdout: %s stderr: %s", stdout, stderr)
	assert.Equal(t, "[]\n", stdout)
}

func TestValidateContractFlagsMismatchedDoDID(t *testing.T) {
	dir := t.TempDir()
	lock := validLock()
	lock["dodId"] = testSessionID
	dodFile := writeJSONFile(t, dir, "dod.json", validDoD())
	lockFile := writeJSONFile(t, dir, "lock.json", lock)

	code, _, stderr := runCLI("validate-contract", "-dod-file", dodFile, "-lock-file", lockFile)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "SESSION_BOUNDARY_INVALID")
}

func validPlan() map[string]any {
	return map[string]any{
		"sessionId": testSessionID,
		"dodId":     testDoDID,
		"lockId":    testLockID,
		"steps": []map[string]any{{
			"stepId": testStepID,
			"title":  "implement the thing",
		}},
	}
}

func TestBuildCapsuleComputesPlanHashAndCapsuleHash(t *testing.T) {
	dir := t.TempDir()
	planFile := writeJSONFile(t, dir, "plan.json", validPlan())

	code, stdout, stderr := runCLI("build-capsule",
		"-session-id", testSessionID, "-capsule-id", testCapsuleID, "-plan-file", planFile)
	require.Equal(t, 0, code, "stderr: %s", stderr)

	var result struct {
		Capsule map[string]any `json:"capsule"`
		Hash    string         `json:"hash"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.Len(t, result.Hash, 64)
	assert.NotEmpty(t, result.Capsule["planHash"])
}

func TestBuildSnapshotComputesHash(t *testing.T) {
	dir := t.TempDir()
	filesFile := writeJSONFile(t, dir, "files.json", map[string]string{"pkg/a.go": hex64('a')})

	code, stdout, stderr := runCLI("build-snapshot", "-session-id", testSessionID, "-files-file", filesFile)
	require.Equal(t, 0, code, "stderr: %s", stderr)

	var result struct {
		Hash string `json:"hash"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.Len(t, result.Hash, 64)
}

func hex64(b byte) string {
	out := make([]byte, 64)
	for i := range out {
		out[i] = b
	}
	return string(out)
}

func validStepPacket() map[string]any {
	return map[string]any{
		"sessionId":        testSessionID,
		"stepId":           testStepID,
		"planHash":         hex64('1'),
		"capsuleHash":      hex64('2'),
		"snapshotHash":     hex64('3'),
		"lockGoalExcerpt":  "ship it",
		"allowedFiles":     map[string]any{"modify": []string{"pkg/a.go"}},
		"reviewerSequence": []string{"security", "correctness", "style"},
	}
}

func TestLintPacketPassesOnWellFormedPacket(t *testing.T) {
	dir := t.TempDir()
	packetFile := writeJSONFile(t, dir, "packet.json", validStepPacket())

	code, stdout, stderr := runCLI("lint-packet", "-packet-file", packetFile)
	assert.Equal(t, 0, code, "stdout: %s stderr: %s", stdout, stderr)
}

func TestLintPacketFlagsOverlappingAllowlist(t *testing.T) {
	dir := t.TempDir()
	packet := validStepPacket()
	packet["allowedFiles"] = map[string]any{"create": []string{"pkg/a.go"}, "delete": []string{"pkg/a.go"}}
	packetFile := writeJSONFile(t, dir, "packet.json", packet)

	code, stdout, _ := runCLI("lint-packet", "-packet-file", packetFile)
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "STEP_ENVELOPE_INVALID")
}

func TestReviewStepPassesOnCleanPatch(t *testing.T) {
	dir := t.TempDir()
	packetFile := writeJSONFile(t, dir, "packet.json", validStepPacket())
	lockFile := writeJSONFile(t, dir, "lock.json", map[string]any{
		"sessionId": testSessionID, "lockId": testLockID, "dodId": testDoDID,
		"goal": "ship it end to end", "nonGoals": []string{"x"}, "invariants": []string{"y"}, "status": "draft",
	})
	dodFile := writeJSONFile(t, dir, "dod.json", validDoD())
	patchFile := writeJSONFile(t, dir, "patch.json", map[string]any{
		"sessionId": testSessionID,
		"stepId":    testStepID,
		"filesChanged": []map[string]any{{
			"path": "pkg/a.go", "changeType": "modify", "diff": "+package pkg",
		}},
	})

	code, stdout, stderr := runCLI("review-step",
		"-packet-file", packetFile, "-patch-file", patchFile, "-dod-file", dodFile, "-lock-file", lockFile)
	require.Equal(t, 0, code, "stdout: %s stderr: %s", stdout, stderr)

	var outcome struct {
		Passed bool `json:"Passed"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &outcome))
	assert.True(t, outcome.Passed)
}

func TestValidateSealedChangePackageDetectsUnresolvedHash(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	code, _, stderr := runCLI("init", "-config", cfgPath)
	require.Equal(t, 0, code, "stderr: %s", stderr)

	scpFile := writeJSONFile(t, dir, "scp.json", map[string]any{
		"sessionId":    testSessionID,
		"dodHash":      hex64('1'),
		"lockHash":     hex64('2'),
		"planHash":     hex64('3'),
		"capsuleHash":  hex64('4'),
		"snapshotHash": hex64('5'),
	})

	code, stdout, stderr := runCLI("validate-sealed-change-package", "-config", cfgPath, "-scp-file", scpFile)
	assert.Equal(t, 1, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, `"valid": false`)
}

func TestReplayDetectsCapsulePlanHashMismatch(t *testing.T) {
	dir := t.TempDir()
	bundleFile := writeJSONFile(t, dir, "bundle.json", map[string]any{
		"SessionID": testSessionID,
		"DoD":       validDoD(),
		"Lock":      validLock(),
		"Plan":      validPlan(),
		"Capsule": map[string]any{
			"sessionId": testSessionID,
			"capsuleId": testCapsuleID,
			"planHash":  hex64('9'),
		},
		"Snapshot": map[string]any{
			"sessionId": testSessionID,
			"takenAt":   "2026-01-01T00:00:00.000Z",
			"files":     map[string]string{"pkg/a.go": hex64('a')},
		},
	})

	code, stdout, stderr := runCLI("replay", "-bundle-file", bundleFile)
	assert.Equal(t, 1, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, "\"Field\": \"planHash\"")
}
