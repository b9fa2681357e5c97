package store

import (
	"encoding/json"
	"path/filepath"
	"testing"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEventStore(t *testing.T) *EventStore {
	t.Helper()
	s, err := OpenEventStore(filepath.Join(t.TempDir(), "events.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateRunThenDuplicateFails(t *testing.T) {
	s := newTestEventStore(t)
	runID := uuid.NewString()

	_, err := s.CreateRun(runID, nil)
	require.NoError(t, err)

	_, err = s.CreateRun(runID, nil)
	require.Error(t, err)
}

func TestAppendEventRequiresRunStartedFirst(t *testing.T) {
	s := newTestEventStore(t)
	runID := uuid.NewString()
	_, err := s.CreateRun(runID, nil)
	require.NoError(t, err)

	_, err = s.AppendEvent(runID, EventDraft{EventID: uuid.NewString(), Type: "StepCompleted", SchemaVersion: "1"})
	require.Error(t, err)
}

func TestAppendEventChainsHashes(t *testing.T) {
	s := newTestEventStore(t)
	runID := uuid.NewString()
	_, err := s.CreateRun(runID, nil)
	require.NoError(t, err)

	first, err := s.AppendEvent(runID, EventDraft{EventID: uuid.NewString(), Type: RunStartedType, SchemaVersion: "1"})
	require.NoError(t, err)
	assert.Nil(t, first.PrevHash)
	assert.EqualValues(t, 1, first.Seq)

	second, err := s.AppendEvent(runID, EventDraft{EventID: uuid.NewString(), Type: "StepCompleted", SchemaVersion: "1"})
	require.NoError(t, err)
	require.NotNil(t, second.PrevHash)
	assert.Equal(t, first.Hash, *second.PrevHash)
	assert.EqualValues(t, 2, second.Seq)
}

func TestAppendEventRejectsDuplicateEventID(t *testing.T) {
	s := newTestEventStore(t)
	runID := uuid.NewString()
	_, err := s.CreateRun(runID, nil)
	require.NoError(t, err)

	eventID := uuid.NewString()
	_, err = s.AppendEvent(runID, EventDraft{EventID: eventID, Type: RunStartedType, SchemaVersion: "1"})
	require.NoError(t, err)

	_, err = s.AppendEvent(runID, EventDraft{EventID: eventID, Type: "StepCompleted", SchemaVersion: "1"})
	require.Error(t, err)
}

func TestAppendEventRejectsUnknownRun(t *testing.T) {
	s := newTestEventStore(t)
	_, err := s.AppendEvent(uuid.NewString(), EventDraft{EventID: uuid.NewString(), Type: RunStartedType, SchemaVersion: "1"})
	require.Error(t, err)
}

func TestVerifyRunChainPassesForIntactChain(t *testing.T) {
	s := newTestEventStore(t)
	runID := uuid.NewString()
	_, err := s.CreateRun(runID, nil)
	require.NoError(t, err)
	_, err = s.AppendEvent(runID, EventDraft{EventID: uuid.NewString(), Type: RunStartedType, SchemaVersion: "1"})
	require.NoError(t, err)
	_, err = s.AppendEvent(runID, EventDraft{EventID: uuid.NewString(), Type: "StepCompleted", SchemaVersion: "1"})
	require.NoError(t, err)

	result, err := s.VerifyRunChain(runID)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, 2, result.EventCount)
	assert.Empty(t, result.Failures)
}

func TestVerifyRunChainDetectsTamperedHash(t *testing.T) {
	s := newTestEventStore(t)
	runID := uuid.NewString()
	_, err := s.CreateRun(runID, nil)
	require.NoError(t, err)
	first, err := s.AppendEvent(runID, EventDraft{EventID: uuid.NewString(), Type: RunStartedType, SchemaVersion: "1"})
	require.NoError(t, err)

	first.Hash = "tampered"
	raw, err := json.Marshal(first)
	require.NoError(t, err)
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEventsTop).Bucket([]byte(runID)).Put(seqKey(first.Seq), raw)
	})
	require.NoError(t, err)

	result, err := s.VerifyRunChain(runID)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	require.NotEmpty(t, result.Failures)
	assert.Equal(t, "hash_mismatch", result.Failures[0].Reason)
}

func TestVerifyRunChainOnUnknownRunIsVacuouslyValid(t *testing.T) {
	s := newTestEventStore(t)
	result, err := s.VerifyRunChain(uuid.NewString())
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, 0, result.EventCount)
}

func TestListEventsReturnsInSeqOrder(t *testing.T) {
	s := newTestEventStore(t)
	runID := uuid.NewString()
	_, err := s.CreateRun(runID, nil)
	require.NoError(t, err)
	_, err = s.AppendEvent(runID, EventDraft{EventID: uuid.NewString(), Type: RunStartedType, SchemaVersion: "1"})
	require.NoError(t, err)
	_, err = s.AppendEvent(runID, EventDraft{EventID: uuid.NewString(), Type: "StepCompleted", SchemaVersion: "1"})
	require.NoError(t, err)

	events, err := s.ListEvents(runID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.EqualValues(t, 1, events[0].Seq)
	assert.EqualValues(t, 2, events[1].Seq)
}
