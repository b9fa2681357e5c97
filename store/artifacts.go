// Package store implements the two impure, durable surfaces of the
// kernel: the content-addressable artifact store (C3) and the
// hash-chained event ledger (C4). Both are grounded on the teacher's
// atomic-write and single-writer-bbolt patterns (node/store/manifest.go,
// node/store/db.go) generalized from block/header bytes to arbitrary
// session artifacts and run events.
package store

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"integritykernel.dev/kernel/khash"
	"integritykernel.dev/kernel/kernelerr"
)

// DefaultMaxArtifactBytes is the default per-artifact size cap (100 MiB, §4.3).
const DefaultMaxArtifactBytes int64 = 100 * 1024 * 1024

// Record describes a stored artifact's identity and metadata.
type Record struct {
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
	Mime   string `json:"mime"`
	Label  string `json:"label"`
	Path   string `json:"path"`
}

// ManifestEntry is the artifact-manifest row used by the evidence
// packager (§4.13): the included flag tells a consumer whether the raw
// bytes accompany the manifest or were dropped for exceeding
// includeThreshold.
type ManifestEntry struct {
	SHA256   string `json:"sha256"`
	Size     int64  `json:"size"`
	Mime     string `json:"mime"`
	Label    string `json:"label"`
	Included bool   `json:"included"`
}

const maxLabelLen = 500

// ArtifactStore is a content-addressable byte-blob store rooted at a
// single directory: <root>/sha256/<hash[0:2]>/<hash>.
type ArtifactStore struct {
	root     string
	maxBytes int64
	log      *zap.Logger
}

// NewArtifactStore creates (if needed) the store root and returns a
// store bounded by maxBytes (0 selects DefaultMaxArtifactBytes).
func NewArtifactStore(root string, maxBytes int64, log *zap.Logger) (*ArtifactStore, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxArtifactBytes
	}
	if log == nil {
		log = zap.NewNop()
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := ensureDir(filepath.Join(absRoot, "sha256")); err != nil {
		return nil, err
	}
	return &ArtifactStore{root: absRoot, maxBytes: maxBytes, log: log}, nil
}

func (s *ArtifactStore) pathFor(hash string) string {
	return filepath.Join(s.root, "sha256", hash[:2], hash)
}

// resolveInsideRoot asserts the resolved path is a strict descendant of
// the store root, defending against path traversal (§4.3 step 3) even
// though hash is validated hex and cannot itself contain "..".
func (s *ArtifactStore) resolveInsideRoot(path string) (string, error) {
	resolved, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	rootWithSep := s.root + string(os.PathSeparator)
	if !strings.HasPrefix(resolved+string(os.PathSeparator), rootWithSep) && resolved != s.root {
		return "", kernelerr.New(kernelerr.PathTraversal, "resolved artifact path escapes the store root")
	}
	return resolved, nil
}

// Put writes bytes to the store, content-addressed by their SHA-256
// hash (never the caller-supplied hash, because there is none — the
// store computes it). The write is atomic and idempotent (§4.3).
func (s *ArtifactStore) Put(data []byte, mime, label string) (Record, error) {
	size := int64(len(data))
	if size <= 0 {
		return Record{}, kernelerr.New(kernelerr.ArtifactTooLarge, "artifact is empty (size=0)").WithDetails(map[string]any{"size": 0})
	}
	if size > s.maxBytes {
		return Record{}, kernelerr.New(kernelerr.ArtifactTooLarge, fmt.Sprintf("artifact size %d exceeds max %d", size, s.maxBytes)).WithDetails(map[string]any{"size": size, "max": s.maxBytes})
	}

	hash := khash.SumHex(data)
	finalPath := s.pathFor(hash)
	resolved, err := s.resolveInsideRoot(finalPath)
	if err != nil {
		return Record{}, err
	}

	if existing, err := os.Lstat(resolved); err == nil {
		if existing.Mode()&os.ModeSymlink != 0 {
			return Record{}, kernelerr.New(kernelerr.PathTraversal, "refusing to read through a symlink at the artifact path")
		}
		have, err := os.ReadFile(resolved)
		if err != nil {
			return Record{}, err
		}
		if !khash.ConstantTimeEqualHex(khash.SumHex(have), hash) {
			return Record{}, kernelerr.New(kernelerr.HashMismatch, "artifact on disk does not match its own path hash")
		}
		s.log.Info("artifact put: already present", zap.String("sha256", hash))
		return Record{SHA256: hash, Size: int64(len(have)), Mime: mime, Label: truncateLabel(label), Path: resolved}, nil
	} else if !os.IsNotExist(err) {
		return Record{}, err
	}

	dir := filepath.Dir(resolved)
	if err := ensureDir(dir); err != nil {
		return Record{}, err
	}

	tmpName, err := randomSuffix()
	if err != nil {
		return Record{}, err
	}
	tmpPath := filepath.Join(dir, ".tmp-"+tmpName)

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return Record{}, err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return Record{}, err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return Record{}, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return Record{}, err
	}
	if err := os.Chmod(tmpPath, 0o400); err != nil {
		_ = os.Remove(tmpPath)
		return Record{}, err
	}
	if err := os.Rename(tmpPath, resolved); err != nil {
		_ = os.Remove(tmpPath)
		// Another writer may have won the race; idempotently accept
		// their bytes if they match ours.
		if have, rerr := os.ReadFile(resolved); rerr == nil && khash.ConstantTimeEqualHex(khash.SumHex(have), hash) {
			return Record{SHA256: hash, Size: size, Mime: mime, Label: truncateLabel(label), Path: resolved}, nil
		}
		return Record{}, err
	}

	s.log.Info("artifact put: written", zap.String("sha256", hash), zap.Int64("size", size))
	return Record{SHA256: hash, Size: size, Mime: mime, Label: truncateLabel(label), Path: resolved}, nil
}

// Get reads and re-hashes the artifact named by hash, returning
// HASH_MISMATCH if on-disk bytes no longer match their own path.
func (s *ArtifactStore) Get(hash string) ([]byte, error) {
	if err := khash.RequireValidHex(hash); err != nil {
		return nil, err
	}
	resolved, err := s.resolveInsideRoot(s.pathFor(hash))
	if err != nil {
		return nil, err
	}
	fi, err := os.Lstat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, kernelerr.New(kernelerr.ArtifactNotFound, "no artifact with that hash").WithField(hash)
		}
		return nil, err
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return nil, kernelerr.New(kernelerr.PathTraversal, "refusing to read through a symlink at the artifact path")
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, err
	}
	if !khash.ConstantTimeEqualHex(khash.SumHex(data), hash) {
		return nil, kernelerr.New(kernelerr.HashMismatch, "artifact bytes no longer match their content hash")
	}
	return data, nil
}

// Has reports whether an artifact with the given hash exists, without
// re-reading/re-hashing its bytes.
func (s *ArtifactStore) Has(hash string) bool {
	if err := khash.RequireValidHex(hash); err != nil {
		return false
	}
	resolved, err := s.resolveInsideRoot(s.pathFor(hash))
	if err != nil {
		return false
	}
	fi, err := os.Lstat(resolved)
	return err == nil && fi.Mode()&os.ModeSymlink == 0
}

// Verify re-reads and re-hashes the artifact, returning false (not an
// error) for any structural problem short of a malformed hash string.
func (s *ArtifactStore) Verify(hash string) (bool, error) {
	if err := khash.RequireValidHex(hash); err != nil {
		return false, err
	}
	_, err := s.Get(hash)
	if err != nil {
		var kerr *kernelerr.Error
		if ok := asKernelErr(err, &kerr); ok {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func asKernelErr(err error, out **kernelerr.Error) bool {
	if e, ok := err.(*kernelerr.Error); ok {
		*out = e
		return true
	}
	return false
}

// BuildManifest renders the artifact manifest for evidence export
// (§4.13): entries whose size exceeds includeThreshold are marked
// Included=false (their raw bytes are omitted from the bundle).
func (s *ArtifactStore) BuildManifest(records []Record, includeThreshold int64) []ManifestEntry {
	out := make([]ManifestEntry, 0, len(records))
	for _, r := range records {
		out = append(out, ManifestEntry{
			SHA256:   r.SHA256,
			Size:     r.Size,
			Mime:     r.Mime,
			Label:    truncateLabel(r.Label),
			Included: includeThreshold <= 0 || r.Size <= includeThreshold,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SHA256 < out[j].SHA256 })
	return out
}

func truncateLabel(label string) string {
	if len(label) <= maxLabelLen {
		return label
	}
	return label[:maxLabelLen]
}

func randomSuffix() (string, error) {
	var b [16]byte
	if _, err := io.ReadFull(rand.Reader, b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
