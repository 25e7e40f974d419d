// Package cachestore maps a source image path to a content-addressed
// directory on local disk holding one metadata record and one blob file
// per chunk, and answers existence and path queries against it.
//
// The cache root is a single fixed directory, created lazily on first use
// and never recreated mid-run. It grows monotonically: nothing in this
// package evicts an entry or bounds the root's total size.
package cachestore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rasterchunk/chunkcache/ccerr"
	"github.com/rasterchunk/chunkcache/chunk"
)

const metadataFileName = "metadata"

// Store owns a cache root directory and computes the paths and identity of
// cache entries within it. It holds no in-memory cache of its own: every
// query reads the filesystem.
type Store struct {
	root string
}

// New returns a Store rooted at root. The directory is not created until
// the first write.
func New(root string) *Store {
	return &Store{root: filepath.Clean(root)}
}

// Root returns the configured cache root directory.
func (s *Store) Root() string {
	return s.root
}

// Digest returns the deterministic, content-addressed name of the
// per-source cache directory: the hex-encoded SHA-256 of the source's
// cleaned absolute path.
//
// Identity is path-only, not content-based: preprocessing rewrites an
// entry in place when the caller asks for a forced re-run, but a source
// file edited in place without a forced re-run leaves a stale entry this
// package has no way to detect.
func Digest(sourcePath string) (string, error) {
	abs, err := filepath.Abs(sourcePath)
	if err != nil {
		return "", ccerr.New(ccerr.IO, err)
	}
	sum := sha256.Sum256([]byte(filepath.Clean(abs)))
	return hex.EncodeToString(sum[:]), nil
}

// EntryDir returns the per-source cache directory for sourcePath, without
// creating it.
func (s *Store) EntryDir(sourcePath string) (string, error) {
	digest, err := Digest(sourcePath)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, digest), nil
}

// MetadataPath returns the path to sourcePath's metadata record.
func (s *Store) MetadataPath(sourcePath string) (string, error) {
	dir, err := s.EntryDir(sourcePath)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, metadataFileName), nil
}

// ChunkPath returns the path to one chunk blob within sourcePath's entry.
func (s *Store) ChunkPath(sourcePath string, id chunk.ID) (string, error) {
	dir, err := s.EntryDir(sourcePath)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("%s.bin", id.String())), nil
}

// EnsureEntryDir creates (or reuses) the per-source cache directory,
// lazily creating the cache root along the way.
func (s *Store) EnsureEntryDir(sourcePath string) (string, error) {
	dir, err := s.EntryDir(sourcePath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", ccerr.New(ccerr.IO, err)
	}
	return dir, nil
}

// ResetEntryDir removes any existing entry for sourcePath and recreates it
// empty. Used by the "force preprocess" path.
func (s *Store) ResetEntryDir(sourcePath string) (string, error) {
	dir, err := s.EntryDir(sourcePath)
	if err != nil {
		return "", err
	}
	if err := os.RemoveAll(dir); err != nil {
		return "", ccerr.New(ccerr.IO, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", ccerr.New(ccerr.IO, err)
	}
	return dir, nil
}

// ReadMetadata reads and parses the persisted metadata record for
// sourcePath, without checking that the chunk blobs it describes exist.
func (s *Store) ReadMetadata(sourcePath string) (chunk.Metadata, error) {
	path, err := s.MetadataPath(sourcePath)
	if err != nil {
		return chunk.Metadata{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return chunk.Metadata{}, ccerr.New(ccerr.IO, err)
	}
	var m chunk.Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return chunk.Metadata{}, ccerr.New(ccerr.IO, err)
	}
	return m, nil
}

// WriteMetadataAtomic serializes metadata as JSON and commits it to
// sourcePath's entry directory via write-to-temp-file + rename, so a
// reader never observes a partially written record. Metadata's presence
// on disk is the completeness marker for the entry: callers must write it
// only after every chunk blob has been written successfully.
func (s *Store) WriteMetadataAtomic(sourcePath string, m chunk.Metadata) error {
	dir, err := s.EntryDir(sourcePath)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return ccerr.New(ccerr.IO, err)
	}

	tmp, err := os.CreateTemp(dir, metadataFileName+".tmp-*")
	if err != nil {
		return ccerr.New(ccerr.IO, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return ccerr.New(ccerr.IO, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return ccerr.New(ccerr.IO, err)
	}

	finalPath := filepath.Join(dir, metadataFileName)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return ccerr.New(ccerr.IO, err)
	}
	return nil
}

// IsComplete reports whether sourcePath has a complete cache entry: the
// metadata record parses, and every chunk it describes has a blob file
// present with exactly the expected byte length. It never reads blob
// bytes, only stats them, and it never returns an error — any failure
// while probing (missing metadata, unreadable directory, size mismatch)
// simply means "not complete."
func (s *Store) IsComplete(sourcePath string) bool {
	m, err := s.ReadMetadata(sourcePath)
	if err != nil {
		return false
	}
	if uint32(len(m.Chunks)) != m.ChunksX*m.ChunksY {
		return false
	}
	for c := range m.All() {
		path, err := s.ChunkPath(sourcePath, c.ID())
		if err != nil {
			return false
		}
		info, err := os.Stat(path)
		if err != nil {
			return false
		}
		if info.Size() != int64(c.BlobLength()) {
			return false
		}
	}
	return true
}

// ClearAll removes the entire cache root directory tree. The root is
// recreated lazily on the next write, not by this call.
func (s *Store) ClearAll() error {
	if err := os.RemoveAll(s.root); err != nil {
		return ccerr.New(ccerr.IO, err)
	}
	return nil
}
