// Package evidence implements the evidence packager (C13): exports a
// self-contained, deterministic evidence archive for a run, in the
// fixed directory layout of §4.13. Packaging is an impure boundary
// (filesystem writes); its contents are canonical JSON so two exports
// of the same run produce byte-identical per-entry contents.
package evidence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"integritykernel.dev/kernel/canon"
	"integritykernel.dev/kernel/kernelerr"
	"integritykernel.dev/kernel/khash"
	"integritykernel.dev/kernel/store"
)

// RunMeta is the content of run.json.
type RunMeta struct {
	RunID     string            `json:"runId"`
	CreatedAt string            `json:"createdAt"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// SchemaDoc is one named, versioned schema document to ship alongside
// the archive under schemas/<name>-<version>.json.
type SchemaDoc struct {
	Name    string
	Version string
	Doc     json.RawMessage
}

// Manifest is the set of bookkeeping data the CLI/store assembles
// before calling Export. Export performs no event-store reads; it reads
// from the artifact store only to copy the bytes of included artifacts.
type Manifest struct {
	Run             RunMeta
	Events          []store.StoredEvent
	Chain           store.ChainVerification
	ArtifactRecords []store.Record
	IncludeThreshold int64
	Schemas         []SchemaDoc
	SealedChangePackage json.RawMessage // optional, already-canonicalized bytes
}

// ExportResult records which files were written, for the caller's own
// logging/SESSION_MANIFEST.json bookkeeping.
type ExportResult struct {
	Dir            string
	Files          []string
	SessionManifestHash string
}

// Export writes the fixed evidence/ layout rooted at dir. verify_run_chain
// MUST have already passed (Manifest.Chain.Valid caller-supplied and
// checked here) or export aborts with SEAL_INVALID (§4.13).
func Export(dir string, m Manifest, artifactStore *store.ArtifactStore) (ExportResult, error) {
	if !m.Chain.Valid {
		return ExportResult{}, kernelerr.New(kernelerr.SealInvalid, "run chain must verify before evidence export")
	}

	var written []string
	write := func(rel string, data []byte) error {
		full := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o700); err != nil {
			return err
		}
		if err := os.WriteFile(full, data, 0o600); err != nil {
			return err
		}
		written = append(written, rel)
		return nil
	}

	runBytes, err := canon.Encode(canon.Object{
		"runId":     m.Run.RunID,
		"createdAt": m.Run.CreatedAt,
		"metadata":  metadataObject(m.Run.Metadata),
	})
	if err != nil {
		return ExportResult{}, err
	}
	if err := write("run.json", runBytes); err != nil {
		return ExportResult{}, err
	}

	var eventsBuf []byte
	sortedEvents := append([]store.StoredEvent(nil), m.Events...)
	sort.Slice(sortedEvents, func(i, j int) bool { return sortedEvents[i].Seq < sortedEvents[j].Seq })
	for _, ev := range sortedEvents {
		line, err := canon.Encode(eventObject(ev))
		if err != nil {
			return ExportResult{}, err
		}
		eventsBuf = append(eventsBuf, line...)
		eventsBuf = append(eventsBuf, '\n')
	}
	if err := write("events.jsonl", eventsBuf); err != nil {
		return ExportResult{}, err
	}

	for _, s := range m.Schemas {
		name := fmt.Sprintf("schemas/%s-%s.json", s.Name, s.Version)
		if err := write(name, []byte(s.Doc)); err != nil {
			return ExportResult{}, err
		}
	}

	manifestEntries := artifactStore.BuildManifest(m.ArtifactRecords, m.IncludeThreshold)
	manifestAny := make([]any, len(manifestEntries))
	for i, e := range manifestEntries {
		manifestAny[i] = canon.Object{
			"sha256":   e.SHA256,
			"size":     e.Size,
			"mime":     e.Mime,
			"label":    e.Label,
			"included": e.Included,
		}
	}
	manifestBytes, err := canon.Encode(manifestAny)
	if err != nil {
		return ExportResult{}, err
	}
	if err := write("artifacts/manifest.json", manifestBytes); err != nil {
		return ExportResult{}, err
	}
	for _, e := range manifestEntries {
		if !e.Included {
			continue
		}
		data, err := artifactStore.Get(e.SHA256)
		if err != nil {
			return ExportResult{}, err
		}
		if err := write(filepath.Join("artifacts", e.SHA256), data); err != nil {
			return ExportResult{}, err
		}
	}

	chainBytes, err := canon.Encode(canon.Object{
		"runId":      m.Run.RunID,
		"eventCount": int64(m.Chain.EventCount),
		"verified":   m.Chain.Valid,
		"failures":   chainFailuresAny(m.Chain.Failures),
		"hashes":     stringsAny(m.Chain.Hashes),
	})
	if err != nil {
		return ExportResult{}, err
	}
	if err := write("integrity/chain.json", chainBytes); err != nil {
		return ExportResult{}, err
	}

	if len(m.SealedChangePackage) > 0 {
		if err := write("sealed-change-package.json", m.SealedChangePackage); err != nil {
			return ExportResult{}, err
		}
	}

	sort.Strings(written)
	sessionManifestHash, err := khash.ContentHash(stringsAny(written))
	if err != nil {
		return ExportResult{}, err
	}
	if err := write("SESSION_MANIFEST.json", mustCanon(canon.Object{"files": stringsAny(written), "sessionManifestHash": sessionManifestHash})); err != nil {
		return ExportResult{}, err
	}

	return ExportResult{Dir: dir, Files: written, SessionManifestHash: sessionManifestHash}, nil
}

// VerifyChain re-exposes verify_run_chain as the operation the
// exported evidence's integrity/chain.json is required to reflect
// (§6's supplemented verify-evidence-chain operation).
func VerifyChain(events []store.StoredEvent) store.ChainVerification {
	result := store.ChainVerification{Valid: true, EventCount: len(events), Hashes: make([]string, 0, len(events))}
	var prevHash string
	var prevSeq int64
	for i, ev := range events {
		rec := map[string]any{
			"eventId": ev.EventID, "runId": ev.RunID, "seq": ev.Seq, "ts": ev.TS,
			"type": ev.Type, "schemaVersion": ev.SchemaVersion,
			"actor":   map[string]any{"actorId": ev.Actor.ActorID, "actorType": ev.Actor.ActorType},
			"payload": ev.Payload,
		}
		recomputed, err := khash.ContentHash(rec)
		if err != nil {
			result.Valid = false
			result.Failures = append(result.Failures, store.ChainFailure{Seq: ev.Seq, Reason: "hash_error"})
			continue
		}
		result.Hashes = append(result.Hashes, recomputed)
		if recomputed != ev.Hash {
			result.Valid = false
			result.Failures = append(result.Failures, store.ChainFailure{Seq: ev.Seq, Reason: "hash_mismatch"})
		}
		if i == 0 {
			if ev.PrevHash != nil {
				result.Valid = false
				result.Failures = append(result.Failures, store.ChainFailure{Seq: ev.Seq, Reason: "prevHash_mismatch"})
			}
		} else {
			if ev.PrevHash == nil || *ev.PrevHash != prevHash {
				result.Valid = false
				result.Failures = append(result.Failures, store.ChainFailure{Seq: ev.Seq, Reason: "prevHash_mismatch"})
			}
			if ev.Seq != prevSeq+1 {
				result.Valid = false
				result.Failures = append(result.Failures, store.ChainFailure{Seq: ev.Seq, Reason: "seq_gap"})
			}
		}
		prevHash = ev.Hash
		prevSeq = ev.Seq
	}
	return result
}

func eventObject(ev store.StoredEvent) canon.Object {
	obj := canon.Object{
		"eventId":       ev.EventID,
		"runId":         ev.RunID,
		"seq":           ev.Seq,
		"ts":            ev.TS,
		"type":          ev.Type,
		"schemaVersion": ev.SchemaVersion,
		"actor":         canon.Object{"actorId": ev.Actor.ActorID, "actorType": ev.Actor.ActorType},
		"payload":       ev.Payload,
		"hash":          ev.Hash,
	}
	if ev.PrevHash != nil {
		obj["prevHash"] = *ev.PrevHash
	} else {
		obj["prevHash"] = nil
	}
	return obj
}

func metadataObject(m map[string]string) canon.Object {
	out := canon.Object{}
	for k, v := range m {
		out[k] = v
	}
	return out
}

func chainFailuresAny(fs []store.ChainFailure) []any {
	out := make([]any, len(fs))
	for i, f := range fs {
		out[i] = canon.Object{"seq": f.Seq, "reason": f.Reason}
	}
	return out
}

func stringsAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func mustCanon(v any) []byte {
	b, err := canon.Encode(v)
	if err != nil {
		panic(err)
	}
	return b
}
