// Package rawstore keeps content-addressed copies of fetched documents and
// rendered thumbnails so items can be re-enriched without network access.
package rawstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when an object is missing on disk.
var ErrNotFound = errors.New("raw object not found")

// Store writes objects under root as <hash[:2]>/<hash><ext>.
type Store struct {
	root string
}

// Object references a stored blob.
type Object struct {
	Hash string
	// Path is relative to the store root.
	Path string
	Size int64
}

// New returns a store rooted at dir, creating it when missing.
func New(dir string) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("rawstore: root directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("rawstore: create root: %w", err)
	}
	return &Store{root: dir}, nil
}

// Hash returns the hex sha256 of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Root returns the store directory.
func (s *Store) Root() string {
	return s.root
}

// Put stores data and returns its reference. Storing identical bytes twice
// yields the same object without rewriting it.
func (s *Store) Put(data []byte, ext string) (Object, error) {
	hash := Hash(data)
	rel := filepath.Join(hash[:2], hash+normalizeExt(ext))
	obj := Object{Hash: hash, Path: rel, Size: int64(len(data))}

	target := filepath.Join(s.root, rel)
	if info, err := os.Stat(target); err == nil && info.Size() == obj.Size {
		return obj, nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return Object{}, fmt.Errorf("rawstore: create shard: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return Object{}, fmt.Errorf("rawstore: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return Object{}, fmt.Errorf("rawstore: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return Object{}, fmt.Errorf("rawstore: close: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return Object{}, fmt.Errorf("rawstore: rename: %w", err)
	}
	return obj, nil
}

// Read returns the bytes at rel and verifies them against hash when given.
func (s *Store) Read(rel, hash string) ([]byte, error) {
	path, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("rawstore: %s: %w", rel, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("rawstore: read: %w", err)
	}
	if hash != "" && Hash(data) != hash {
		return nil, fmt.Errorf("rawstore: %s: content hash mismatch", rel)
	}
	return data, nil
}

// Delete removes the object at rel. Missing objects are not an error.
func (s *Store) Delete(rel string) error {
	path, err := s.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("rawstore: delete: %w", err)
	}
	return nil
}

// AbsPath returns the absolute location of rel.
func (s *Store) AbsPath(rel string) (string, error) {
	return s.resolve(rel)
}

func (s *Store) resolve(rel string) (string, error) {
	rel = filepath.Clean(strings.TrimSpace(rel))
	if rel == "." || rel == "" || filepath.IsAbs(rel) || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("rawstore: invalid object path %q", rel)
	}
	return filepath.Join(s.root, rel), nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
