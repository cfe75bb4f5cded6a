package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

const metaSuffix = ".meta.json"

// FSStore is a filesystem-based implementation of ObjectStore.
// Keys map directly to paths below the base directory:
//
//	artifacts/
//	  objects/
//	    runs/<run>/<job>/<bundle>.tar.gz
//	    runs/<run>/<job>/<bundle>.tar.gz.meta.json
//
// Data is written to a temp file and renamed into place, so readers never
// see a partial object.
type FSStore struct {
	basePath string
	mu       sync.RWMutex
}

// NewFSStore creates a new filesystem-based object store.
func NewFSStore(basePath string) (*FSStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("filesystem store requires a path")
	}
	dir := filepath.Join(basePath, "objects")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}
	return &FSStore{basePath: basePath}, nil
}

// Put stores r under key, computing its size and digest while writing.
func (s *FSStore) Put(ctx context.Context, key string, r io.Reader, meta Metadata) (ObjectInfo, error) {
	if err := validKey(key); err != nil {
		return ObjectInfo{}, err
	}
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	objectPath := s.objectPath(key)
	if err := os.MkdirAll(filepath.Dir(objectPath), 0o750); err != nil {
		return ObjectInfo{}, fmt.Errorf("create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(objectPath), ".put-*")
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("create temp object: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("write object: %w", err)
	}

	info := ObjectInfo{
		Key:       key,
		Size:      n,
		Digest:    "sha256:" + hex.EncodeToString(h.Sum(nil)),
		CreatedAt: time.Now().UTC(),
		Metadata:  maps.Clone(meta),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Rename(tmp.Name(), objectPath); err != nil {
		return ObjectInfo{}, fmt.Errorf("commit object: %w", err)
	}
	if err := s.writeMetadata(key, info); err != nil {
		return info, fmt.Errorf("write metadata: %w", err)
	}
	return info, nil
}

// Get opens an object for reading.
func (s *FSStore) Get(_ context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	if err := validKey(key); err != nil {
		return nil, ObjectInfo{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	// #nosec G304 - path is built from a validated key below basePath
	f, err := os.Open(s.objectPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ObjectInfo{}, ErrNotFound{Key: key}
		}
		return nil, ObjectInfo{}, fmt.Errorf("read object: %w", err)
	}
	info, err := s.statUnlocked(key)
	if err != nil {
		_ = f.Close()
		return nil, ObjectInfo{}, err
	}
	return f, info, nil
}

// Stat returns object metadata.
func (s *FSStore) Stat(_ context.Context, key string) (ObjectInfo, error) {
	if err := validKey(key); err != nil {
		return ObjectInfo{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statUnlocked(key)
}

// Delete removes an object and its metadata.
func (s *FSStore) Delete(_ context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	objectPath := s.objectPath(key)
	if err := os.Remove(objectPath); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound{Key: key}
		}
		return fmt.Errorf("delete object: %w", err)
	}
	_ = os.Remove(objectPath + metaSuffix) // best effort
	s.pruneEmptyDirs(filepath.Dir(objectPath))
	return nil
}

// List returns all objects whose key has the given prefix.
func (s *FSStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	root := filepath.Join(s.basePath, "objects")
	var out []ObjectInfo
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		name := d.Name()
		if d.IsDir() || strings.HasSuffix(name, metaSuffix) || strings.HasPrefix(name, ".put-") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := s.statUnlocked(key)
		if err != nil {
			return err
		}
		out = append(out, info)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk objects: %w", err)
	}
	slices.SortFunc(out, func(a, b ObjectInfo) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}

// Close releases resources.
func (s *FSStore) Close() error {
	return nil
}

func (s *FSStore) statUnlocked(key string) (ObjectInfo, error) {
	objectPath := s.objectPath(key)
	st, err := os.Stat(objectPath)
	if err != nil {
		if os.IsNotExist(err) {
			return ObjectInfo{}, ErrNotFound{Key: key}
		}
		return ObjectInfo{}, fmt.Errorf("stat object: %w", err)
	}
	info, err := s.readMetadata(key)
	if err != nil {
		// Objects written by hand or by an interrupted Put have no sidecar.
		info = ObjectInfo{Key: key, CreatedAt: st.ModTime().UTC()}
	}
	info.Size = st.Size()
	return info, nil
}

// objectPath returns the filesystem path for an object.
func (s *FSStore) objectPath(key string) string {
	return filepath.Join(s.basePath, "objects", filepath.FromSlash(key))
}

// readMetadata reads object metadata from disk.
func (s *FSStore) readMetadata(key string) (ObjectInfo, error) {
	// #nosec G304 - path is built from a validated key below basePath
	data, err := os.ReadFile(s.objectPath(key) + metaSuffix)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("read metadata: %w", err)
	}
	var info ObjectInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return ObjectInfo{}, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return info, nil
}

// writeMetadata writes object metadata to disk.
func (s *FSStore) writeMetadata(key string, info ObjectInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	return os.WriteFile(s.objectPath(key)+metaSuffix, data, 0o600)
}

// pruneEmptyDirs removes empty parents up to the objects root.
func (s *FSStore) pruneEmptyDirs(dir string) {
	root := filepath.Join(s.basePath, "objects")
	for dir != root && strings.HasPrefix(dir, root) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
