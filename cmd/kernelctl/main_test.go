package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	cfgPath := filepath.Join(dir, "kernel.toml")
	storeRoot := filepath.Join(dir, "store")
	contents := fmt.Sprintf(`
[store]
root = %q
db_path = %q
artifact_max_bytes = 1048576
`, storeRoot, filepath.Join(storeRoot, "events.db"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(contents), 0o600))
	return cfgPath
}

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunWithNoArgsPrintsUsage(t *testing.T) {
	code, _, stderr := runCLI()
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "usage:")
}

func TestRunWithUnknownSubcommandFails(t *testing.T) {
	code, _, stderr := runCLI("bogus")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "unknown subcommand")
}

func TestInitThenNewRunThenAppendAndListEvents(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)

	code, stdout, stderr := runCLI("init", "-config", cfgPath)
	require.Equal(t, 0, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, "initialized kernel store")

	code, stdout, stderr = runCLI("new-run", "-config", cfgPath, "-run-id", "11111111-1111-4111-8111-111111111111")
	require.Equal(t, 0, code, "stderr: %s", stderr)
	var row map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &row))
	assert.Equal(t, "11111111-1111-4111-8111-111111111111", row["runId"])

	payloadPath := filepath.Join(dir, "payload.json")
	require.NoError(t, os.WriteFile(payloadPath, []byte(`{"note":"hello"}`), 0o600))

	code, stdout, stderr = runCLI(
		"append-event", "-config", cfgPath,
		"-run-id", "11111111-1111-4111-8111-111111111111",
		"-type", "RunStarted",
		"-actor-id", "22222222-2222-4222-8222-222222222222",
		"-payload-file", payloadPath,
	)
	require.Equal(t, 0, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, `"type": "RunStarted"`)

	code, stdout, stderr = runCLI("list-events", "-config", cfgPath, "-run-id", "11111111-1111-4111-8111-111111111111")
	require.Equal(t, 0, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, "RunStarted")

	code, stdout, stderr = runCLI("verify-run", "-config", cfgPath, "-run-id", "11111111-1111-4111-8111-111111111111")
	require.Equal(t, 0, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, `"valid": true`)
}

func TestAppendEventBeforeNewRunFails(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)

	code, _, stderr := runCLI("init", "-config", cfgPath)
	require.Equal(t, 0, code, "stderr: %s", stderr)

	code, _, stderr = runCLI(
		"append-event", "-config", cfgPath,
		"-run-id", "33333333-3333-4333-8333-333333333333",
		"-type", "RunStarted",
	)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "append event")
}

func TestAppendEventRequiresRunIDAndType(t *testing.T) {
	code, _, stderr := runCLI("append-event")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "requires -run-id and -type")
}

func TestPutArtifactRoundTripsFromFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	code, _, stderr := runCLI("init", "-config", cfgPath)
	require.Equal(t, 0, code, "stderr: %s", stderr)

	srcPath := filepath.Join(dir, "artifact.bin")
	require.NoError(t, os.WriteFile(srcPath, []byte("hello artifact"), 0o600))

	code, stdout, stderr := runCLI("put-artifact", "-config", cfgPath, "-file", srcPath, "-label", "fixture")
	require.Equal(t, 0, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, `"label": "fixture"`)
}

func TestPutArtifactRequiresFile(t *testing.T) {
	code, _, stderr := runCLI("put-artifact")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "requires -file")
}

func TestVerifyEvidenceChainOnExportedRun(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	runID := "44444444-4444-4444-8444-444444444444"

	code, _, stderr := runCLI("init", "-config", cfgPath)
	require.Equal(t, 0, code, "stderr: %s", stderr)
	code, _, stderr = runCLI("new-run", "-config", cfgPath, "-run-id", runID)
	require.Equal(t, 0, code, "stderr: %s", stderr)
	code, _, stderr = runCLI("append-event", "-config", cfgPath, "-run-id", runID, "-type", "RunStarted")
	require.Equal(t, 0, code, "stderr: %s", stderr)

	outDir := filepath.Join(dir, "evidence")
	code, stdout, stderr := runCLI("export-evidence", "-config", cfgPath, "-run-id", runID, "-out", outDir)
	require.Equal(t, 0, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, "SessionManifestHash")

	eventsFile := filepath.Join(outDir, "events.jsonl")
	_, err := os.Stat(eventsFile)
	require.NoError(t, err)

	code, stdout, stderr = runCLI("verify-evidence-chain", "-events-file", eventsFile)
	require.Equal(t, 0, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, `"valid": true`)
}

func TestVerifyEvidenceChainRequiresEventsFile(t *testing.T) {
	code, _, stderr := runCLI("verify-evidence-chain")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "requires -events-file")
}

func TestExportEvidenceRequiresRunIDAndOut(t *testing.T) {
	code, _, stderr := runCLI("export-evidence")
	assert.Equal(t, 2, code)
	assert.True(t, strings.Contains(stderr, "requires -run-id and -out"))
}
