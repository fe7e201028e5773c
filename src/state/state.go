// Package state persists the data tplbuild itself manages between runs:
// resolved source-image digests and cached base-image build results. It
// is not user configuration; it is the tool's own memory of what it has
// already resolved or built, so repeated runs make forward progress
// instead of re-resolving or re-building everything from scratch.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/tplbuild/tplbuild/src/tplerr"
)

// Version is the only state-file schema version this build understands.
const Version = "1.0"

// BaseImageEntry is a single cached base-image build result: the digest a
// content hash resolved to on a given platform, the last time it was
// confirmed present in the registry.
type BaseImageEntry struct {
	Digest string `json:"digest"`
}

// Data is the full on-disk document. Sources maps "repo:tag@platform" to
// the manifest digest the registry last reported for it. BaseImages maps
// a base image's content hash to a platform-to-build-result mapping,
// since the same content hash may need separate images per platform.
type Data struct {
	Version    string                                `json:"version"`
	Salt       string                                `json:"salt"`
	Sources    map[string]string                     `json:"sources"`
	BaseImages map[string]map[string]BaseImageEntry  `json:"base_images"`
}

func newData() *Data {
	return &Data{
		Version:    Version,
		Salt:       uuid.NewString(),
		Sources:    map[string]string{},
		BaseImages: map[string]map[string]BaseImageEntry{},
	}
}

// Store guards a Data document with a single-writer discipline and
// persists it atomically (write-temp-then-rename) to path. Concurrent
// in-process access is serialised by mu; cross-process access is not
// protected, since tplbuild is a single-user tool.
type Store struct {
	path string

	mu   sync.Mutex
	data *Data
}

// Load reads path if it exists, or starts a fresh document (with a newly
// minted salt) if it does not. A present-but-corrupt file is a StateError.
func Load(path string) (*Store, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Store{path: path, data: newData()}, nil
	}
	if err != nil {
		return nil, &tplerr.StateError{Path: path, Err: err}
	}

	var d Data
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, &tplerr.StateError{Path: path, Err: fmt.Errorf("decoding state file: %w", err)}
	}
	if d.Version == "" {
		d.Version = Version
	}
	if d.Version != Version {
		return nil, &tplerr.StateError{Path: path, Err: fmt.Errorf("unsupported state file version %q", d.Version)}
	}
	if d.Sources == nil {
		d.Sources = map[string]string{}
	}
	if d.BaseImages == nil {
		d.BaseImages = map[string]map[string]BaseImageEntry{}
	}
	if d.Salt == "" {
		d.Salt = uuid.NewString()
	}
	return &Store{path: path, data: &d}, nil
}

// Salt returns the hash salt every base-image content hash is combined
// with, so disjoint projects never collide in a shared build cache and
// so a fresh salt can force a full rebuild.
func (s *Store) Salt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Salt
}

// SetSalt replaces the hash salt. Callers must Flush afterward for the
// change to survive a crash.
func (s *Store) SetSalt(salt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Salt = salt
}

// SourceDigest looks up a previously resolved source image digest by its
// "repo:tag@platform" key.
func (s *Store) SourceDigest(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data.Sources[key]
	return d, ok
}

// SetSourceDigest records a resolved source image digest.
func (s *Store) SetSourceDigest(key, digest string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Sources[key] = digest
}

// BaseImageDigest looks up a cached base-image build result by content
// hash and platform.
func (s *Store) BaseImageDigest(contentHash, platform string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byPlatform, ok := s.data.BaseImages[contentHash]
	if !ok {
		return "", false
	}
	entry, ok := byPlatform[platform]
	return entry.Digest, ok
}

// SetBaseImageDigest records a base-image build (or registry-probe) result.
func (s *Store) SetBaseImageDigest(contentHash, platform, digest string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byPlatform, ok := s.data.BaseImages[contentHash]
	if !ok {
		byPlatform = map[string]BaseImageEntry{}
		s.data.BaseImages[contentHash] = byPlatform
	}
	byPlatform[platform] = BaseImageEntry{Digest: digest}
}

// Prune removes every base-image entry whose content hash is not in keep,
// returning the number of content hashes removed. Used by base-prune to
// drop stale cache entries once their source Dockerfile no longer exists.
func (s *Store) Prune(keep map[string]bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for hash := range s.data.BaseImages {
		if !keep[hash] {
			delete(s.data.BaseImages, hash)
			removed++
		}
	}
	return removed
}

// Snapshot returns a deep copy of the current document, for callers (like
// base-build --check) that need to inspect state without risking a
// concurrent mutation racing their read.
func (s *Store) Snapshot() Data {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Data{
		Version:    s.data.Version,
		Salt:       s.data.Salt,
		Sources:    make(map[string]string, len(s.data.Sources)),
		BaseImages: make(map[string]map[string]BaseImageEntry, len(s.data.BaseImages)),
	}
	for k, v := range s.data.Sources {
		out.Sources[k] = v
	}
	for hash, byPlatform := range s.data.BaseImages {
		cp := make(map[string]BaseImageEntry, len(byPlatform))
		for platform, entry := range byPlatform {
			cp[platform] = entry
		}
		out.BaseImages[hash] = cp
	}
	return out
}

// Flush writes the current document to disk atomically: it is marshalled
// into a temp file in the same directory as the target (so the following
// rename is always same-filesystem) and then renamed into place, so a
// crash mid-write never leaves a truncated or partially-written file
// behind.
func (s *Store) Flush() error {
	s.mu.Lock()
	raw, err := json.MarshalIndent(s.data, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return &tplerr.StateError{Path: s.path, Err: err}
	}

	dir := filepath.Dir(s.path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, ".tplbuilddata-*.tmp")
	if err != nil {
		return &tplerr.StateError{Path: s.path, Err: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return &tplerr.StateError{Path: s.path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &tplerr.StateError{Path: s.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &tplerr.StateError{Path: s.path, Err: err}
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return &tplerr.StateError{Path: s.path, Err: err}
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return &tplerr.StateError{Path: s.path, Err: err}
	}
	return nil
}
