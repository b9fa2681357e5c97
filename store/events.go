package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"integritykernel.dev/kernel/canon"
	"integritykernel.dev/kernel/ids"
	"integritykernel.dev/kernel/khash"
	"integritykernel.dev/kernel/kernelerr"
)

var (
	bucketRuns      = []byte("runs")
	bucketEventsTop = []byte("events_by_run")
	bucketEventIDs  = []byte("event_ids")
)

// Actor identifies who or what caused an event (§3).
type Actor struct {
	ActorID   string `json:"actorId"`
	ActorType string `json:"actorType"`
}

// EventDraft is the caller-supplied shape of a not-yet-stored event;
// the store computes Seq, PrevHash and Hash.
type EventDraft struct {
	EventID       string
	Type          string
	SchemaVersion string
	Actor         Actor
	Payload       map[string]any
	TS            string // optional; defaults to now
}

// StoredEvent is one immutable ledger row (§3 Event).
type StoredEvent struct {
	EventID       string         `json:"eventId"`
	RunID         string         `json:"runId"`
	Seq           int64          `json:"seq"`
	TS            string         `json:"ts"`
	Type          string         `json:"type"`
	SchemaVersion string         `json:"schemaVersion"`
	Actor         Actor          `json:"actor"`
	Payload       map[string]any `json:"payload"`
	PrevHash      *string        `json:"prevHash"`
	Hash          string         `json:"hash"`
}

// canonicalEventRecord builds the event's hash input: the full record with
// {hash, prevHash} removed (§3 Event invariant).
func canonicalEventRecord(e StoredEvent) map[string]any {
	payload := map[string]any{}
	for k, v := range e.Payload {
		payload[k] = v
	}
	return canon.Object{
		"eventId":       e.EventID,
		"runId":         e.RunID,
		"seq":           e.Seq,
		"ts":            e.TS,
		"type":          e.Type,
		"schemaVersion": e.SchemaVersion,
		"actor": canon.Object{
			"actorId":   e.Actor.ActorID,
			"actorType": e.Actor.ActorType,
		},
		"payload": payload,
	}
}

// RunStartedType is the required first event type for every run (§4.4).
const RunStartedType = "RunStarted"

// EventStore is the hash-chained, append-only, per-run event ledger
// (C4), backed by a single bbolt database generalizing the teacher's
// bucketed block store (node/store/db.go) from block headers to run
// events.
type EventStore struct {
	db  *bolt.DB
	log *zap.Logger
}

// OpenEventStore opens (creating if absent) the bbolt-backed ledger at
// path.
func OpenEventStore(path string, log *zap.Logger) (*EventStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketRuns, bucketEventsTop, bucketEventIDs} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &EventStore{db: db, log: log}, nil
}

func (s *EventStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RunRow is the durable record for a Run entity (§3).
type RunRow struct {
	RunID     string            `json:"runId"`
	CreatedAt string            `json:"createdAt"`
	Metadata  map[string]string `json:"metadata"`
}

const maxRunMetadataKeys = 20

// CreateRun inserts an immutable run row. Duplicate runId is rejected.
func (s *EventStore) CreateRun(runID string, metadata map[string]string) (RunRow, error) {
	if len(metadata) > maxRunMetadataKeys {
		return RunRow{}, kernelerr.New(kernelerr.SchemaInvalid, fmt.Sprintf("run metadata has %d keys, max %d", len(metadata), maxRunMetadataKeys))
	}
	row := RunRow{RunID: runID, CreatedAt: ids.NowTimestamp(), Metadata: metadata}
	err := s.db.Update(func(tx *bolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		if runs.Get([]byte(runID)) != nil {
			return kernelerr.New(kernelerr.RunAlreadyExists, "run already exists").WithField(runID)
		}
		b, err := json.Marshal(row)
		if err != nil {
			return err
		}
		if err := runs.Put([]byte(runID), b); err != nil {
			return err
		}
		_, err = tx.Bucket(bucketEventsTop).CreateBucketIfNotExists([]byte(runID))
		return err
	})
	if err != nil {
		return RunRow{}, err
	}
	s.log.Info("run created", zap.String("runId", runID))
	return row, nil
}

func seqKey(seq int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(seq))
	return b[:]
}

// AppendEvent computes seq/prevHash/hash and inserts the row inside a
// single transaction; on any failure no partial state remains (§4.4).
func (s *EventStore) AppendEvent(runID string, draft EventDraft) (StoredEvent, error) {
	var result StoredEvent
	err := s.db.Update(func(tx *bolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		if runs.Get([]byte(runID)) == nil {
			return kernelerr.New(kernelerr.RunNotFound, "run does not exist").WithField(runID)
		}
		eventIDs := tx.Bucket(bucketEventIDs)
		if eventIDs.Get([]byte(draft.EventID)) != nil {
			return kernelerr.New(kernelerr.EventIDConflict, "eventId already used").WithField(draft.EventID)
		}

		runEvents := tx.Bucket(bucketEventsTop).Bucket([]byte(runID))
		c := runEvents.Cursor()
		lastKey, lastVal := c.Last()

		var seq int64 = 1
		var prevHash *string
		if lastKey != nil {
			var last StoredEvent
			if err := json.Unmarshal(lastVal, &last); err != nil {
				return err
			}
			seq = last.Seq + 1
			h := last.Hash
			prevHash = &h
		}

		if seq == 1 && draft.Type != RunStartedType {
			return kernelerr.New(kernelerr.FirstEventNotRunStarted, "first event of a run must be RunStarted")
		}

		ts := draft.TS
		if ts == "" {
			ts = ids.NowTimestamp()
		}

		ev := StoredEvent{
			EventID:       draft.EventID,
			RunID:         runID,
			Seq:           seq,
			TS:            ts,
			Type:          draft.Type,
			SchemaVersion: draft.SchemaVersion,
			Actor:         draft.Actor,
			Payload:       draft.Payload,
			PrevHash:      prevHash,
		}
		record := canonicalEventRecord(ev)
		hash, err := khash.ContentHash(record)
		if err != nil {
			return err
		}
		ev.Hash = hash

		b, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if err := runEvents.Put(seqKey(seq), b); err != nil {
			return err
		}
		if err := eventIDs.Put([]byte(draft.EventID), []byte(runID)); err != nil {
			return err
		}
		result = ev
		return nil
	})
	if err != nil {
		return StoredEvent{}, err
	}
	s.log.Info("event appended", zap.String("runId", runID), zap.Int64("seq", result.Seq), zap.String("type", result.Type))
	return result, nil
}

// ListEvents returns every event for runID in seq order, or an empty
// slice for an unknown/empty run.
func (s *EventStore) ListEvents(runID string) ([]StoredEvent, error) {
	var out []StoredEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		top := tx.Bucket(bucketEventsTop).Bucket([]byte(runID))
		if top == nil {
			return nil
		}
		return top.ForEach(func(_, v []byte) error {
			var ev StoredEvent
			if err := json.Unmarshal(v, &ev); err != nil {
				return err
			}
			out = append(out, ev)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// ChainFailure describes one detected break in a run's hash chain.
type ChainFailure struct {
	Seq    int64  `json:"seq"`
	Reason string `json:"reason"`
}

// ChainVerification is the result of VerifyRunChain (§4.4).
type ChainVerification struct {
	Valid      bool           `json:"valid"`
	EventCount int            `json:"eventCount"`
	Hashes     []string       `json:"hashes"`
	Failures   []ChainFailure `json:"failures"`
}

// VerifyRunChain recomputes and cross-checks every event's hash and
// chain linkage, never short-circuiting so all failures are reported.
// An unknown run is vacuously valid with zero events.
func (s *EventStore) VerifyRunChain(runID string) (ChainVerification, error) {
	events, err := s.ListEvents(runID)
	if err != nil {
		return ChainVerification{}, err
	}
	result := ChainVerification{Valid: true, EventCount: len(events), Hashes: make([]string, 0, len(events))}

	var prevStoredHash string
	var prevSeq int64
	for i, ev := range events {
		record := canonicalEventRecord(ev)
		recomputed, herr := khash.ContentHash(record)
		if herr != nil {
			return ChainVerification{}, herr
		}
		result.Hashes = append(result.Hashes, recomputed)
		if recomputed != ev.Hash {
			result.Valid = false
			result.Failures = append(result.Failures, ChainFailure{Seq: ev.Seq, Reason: "hash_mismatch"})
		}

		if i == 0 {
			if ev.PrevHash != nil {
				result.Valid = false
				result.Failures = append(result.Failures, ChainFailure{Seq: ev.Seq, Reason: "prevHash_mismatch"})
			}
		} else {
			if ev.PrevHash == nil || *ev.PrevHash != prevStoredHash {
				result.Valid = false
				result.Failures = append(result.Failures, ChainFailure{Seq: ev.Seq, Reason: "prevHash_mismatch"})
			}
			if ev.Seq != prevSeq+1 {
				result.Valid = false
				result.Failures = append(result.Failures, ChainFailure{Seq: ev.Seq, Reason: "seq_gap"})
			}
		}
		prevStoredHash = ev.Hash
		prevSeq = ev.Seq
	}
	return result, nil
}
