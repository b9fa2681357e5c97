package evidence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"integritykernel.dev/kernel/store"
)

func newTestStores(t *testing.T) (*store.ArtifactStore, *store.EventStore, string) {
	t.Helper()
	as, err := store.NewArtifactStore(t.TempDir(), 0, zap.NewNop())
	require.NoError(t, err)
	es, err := store.OpenEventStore(filepath.Join(t.TempDir(), "events.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = es.Close() })
	return as, es, t.TempDir()
}

func buildRunWithEvents(t *testing.T, es *store.EventStore) (string, []store.StoredEvent) {
	t.Helper()
	runID := uuid.NewString()
	_, err := es.CreateRun(runID, map[string]string{"env": "test"})
	require.NoError(t, err)
	_, err = es.AppendEvent(runID, store.EventDraft{EventID: uuid.NewString(), Type: store.RunStartedType, SchemaVersion: "1"})
	require.NoError(t, err)
	_, err = es.AppendEvent(runID, store.EventDraft{EventID: uuid.NewString(), Type: "StepCompleted", SchemaVersion: "1"})
	require.NoError(t, err)
	events, err := es.ListEvents(runID)
	require.NoError(t, err)
	return runID, events
}

func TestExportAbortsWhenChainIsInvalid(t *testing.T) {
	as, es, dir := newTestStores(t)
	runID, events := buildRunWithEvents(t, es)

	m := Manifest{
		Run:    RunMeta{RunID: runID, CreatedAt: "2026-01-01T00:00:00.000Z"},
		Events: events,
		Chain:  store.ChainVerification{Valid: false},
	}
	_, err := Export(dir, m, as)
	require.Error(t, err)
}

func TestExportWritesTheFixedLayout(t *testing.T) {
	as, es, dir := newTestStores(t)
	runID, events := buildRunWithEvents(t, es)
	chain, err := es.VerifyRunChain(runID)
	require.NoError(t, err)
	require.True(t, chain.Valid)

	rec, err := as.Put([]byte("artifact bytes"), "application/json", "decision_lock")
	require.NoError(t, err)

	m := Manifest{
		Run:              RunMeta{RunID: runID, CreatedAt: "2026-01-01T00:00:00.000Z"},
		Events:           events,
		Chain:            chain,
		ArtifactRecords:  []store.Record{rec},
		IncludeThreshold: 0,
		Schemas:          []SchemaDoc{{Name: "decision_lock", Version: "1", Doc: json.RawMessage(`{"type":"object"}`)}},
	}
	result, err := Export(dir, m, as)
	require.NoError(t, err)
	assert.NotEmpty(t, result.SessionManifestHash)

	for _, rel := range []string{
		"run.json", "events.jsonl", "schemas/decision_lock-1.json",
		"artifacts/manifest.json", filepath.Join("artifacts", rec.SHA256),
		"integrity/chain.json", "SESSION_MANIFEST.json",
	} {
		full := filepath.Join(dir, rel)
		_, statErr := os.Stat(full)
		assert.NoError(t, statErr, "expected %s to exist", rel)
	}
}

func TestExportOmitsArtifactBytesAboveIncludeThreshold(t *testing.T) {
	as, es, dir := newTestStores(t)
	runID, events := buildRunWithEvents(t, es)
	chain, err := es.VerifyRunChain(runID)
	require.NoError(t, err)

	rec, err := as.Put([]byte("a fairly long artifact payload body"), "application/json", "big")
	require.NoError(t, err)

	m := Manifest{
		Run:              RunMeta{RunID: runID, CreatedAt: "2026-01-01T00:00:00.000Z"},
		Events:           events,
		Chain:            chain,
		ArtifactRecords:  []store.Record{rec},
		IncludeThreshold: 4,
	}
	result, err := Export(dir, m, as)
	require.NoError(t, err)

	assert.NotContains(t, result.Files, filepath.Join("artifacts", rec.SHA256))
	manifestBytes, err := os.ReadFile(filepath.Join(dir, "artifacts/manifest.json"))
	require.NoError(t, err)
	assert.Contains(t, string(manifestBytes), `"included":false`)
}

func TestVerifyChainPassesForIntactEvents(t *testing.T) {
	_, es, _ := newTestStores(t)
	_, events := buildRunWithEvents(t, es)

	result := VerifyChain(events)
	assert.True(t, result.Valid)
	assert.Equal(t, 2, result.EventCount)
}

func TestVerifyChainDetectsSeqGap(t *testing.T) {
	_, es, _ := newTestStores(t)
	_, events := buildRunWithEvents(t, es)
	require.Len(t, events, 2)
	events[1].Seq = 5

	result := VerifyChain(events)
	assert.False(t, result.Valid)
	found := false
	for _, f := range result.Failures {
		if f.Reason == "seq_gap" {
			found = true
		}
	}
	assert.True(t, found)
}
