// Package cache keeps per-key incremental build caches between runs.
//
// Layout below the cache root:
//
//	<hash>/
//	  key.json          the Key, for inspection
//	  current           name of the live version
//	  versions/<v7 id>/ one directory per persisted version
//
// Persist writes a complete new version and then replaces current with a
// rename, so readers see either the old or the new version.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/pipewright/internal/artifact"
	"git.home.luguber.info/inful/pipewright/internal/foundation/errors"
	"git.home.luguber.info/inful/pipewright/internal/logfields"
)

const (
	currentFile   = "current"
	keyFile       = "key.json"
	versionsDir   = "versions"
	DefaultKeep   = 2
	stagingPrefix = ".staging-"
)

// RestoreResult reports what Restore found.
type RestoreResult struct {
	Hit     bool
	Version string
	Files   int
}

// Store manages caches below one root directory.
type Store struct {
	root   string
	keep   int
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// New creates a store keeping at most keep versions per key (current included).
func New(root string, keep int, logger *slog.Logger) *Store {
	if keep < 1 {
		keep = DefaultKeep
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{root: root, keep: keep, logger: logger, locks: make(map[string]*sync.RWMutex)}
}

func (s *Store) lockFor(hash string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[hash]
	if !ok {
		l = &sync.RWMutex{}
		s.locks[hash] = l
	}
	return l
}

func (s *Store) keyDir(key Key) string { return filepath.Join(s.root, key.Hash()) }

func unavailable(op string, key Key, err error) error {
	return errors.CacheError("cache unavailable: "+op).
		WithCause(err).
		WithContext("key", key.String()).
		Build()
}

// Current returns the live version of key.
func (s *Store) Current(key Key) (string, bool) {
	// #nosec G304 - path is below the cache root
	data, err := os.ReadFile(filepath.Join(s.keyDir(key), currentFile))
	if err != nil {
		return "", false
	}
	v := strings.TrimSpace(string(data))
	return v, v != ""
}

// Restore copies the live version of key into dest. A missing cache is a
// miss, not an error. Errors are cache errors; callers treat them as a miss.
func (s *Store) Restore(ctx context.Context, key Key, dest string) (RestoreResult, error) {
	l := s.lockFor(key.Hash())
	l.RLock()
	defer l.RUnlock()

	if err := ctx.Err(); err != nil {
		return RestoreResult{}, err
	}
	if err := os.MkdirAll(dest, 0o750); err != nil {
		return RestoreResult{}, unavailable("restore", key, err)
	}
	version, ok := s.Current(key)
	if !ok {
		s.logger.Debug("Cache miss", logfields.CacheKey(key.String()))
		return RestoreResult{}, nil
	}
	src := filepath.Join(s.keyDir(key), versionsDir, version)
	n, err := copyTree(src, dest)
	if err != nil {
		return RestoreResult{}, unavailable("restore", key, err)
	}
	s.logger.Debug("Cache restored", logfields.CacheKey(key.String()), "version", version, "files", n)
	return RestoreResult{Hit: true, Version: version, Files: n}, nil
}

// Persist snapshots src as a new version of key and makes it current. When
// paths are given only matching files below src are stored. Older versions
// beyond the keep limit are removed after the swap.
func (s *Store) Persist(ctx context.Context, key Key, src string, paths []string) (string, error) {
	dir := s.keyDir(key)
	versions := filepath.Join(dir, versionsDir)
	if err := os.MkdirAll(versions, 0o750); err != nil {
		return "", unavailable("persist", key, err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", unavailable("persist", key, err)
	}
	version := id.String()
	staging := filepath.Join(versions, stagingPrefix+version)
	defer os.RemoveAll(staging)

	var n int
	if len(paths) > 0 {
		var files []string
		files, err = artifact.Collect(src, paths, nil)
		if err == nil {
			n, err = copyFiles(src, staging, files)
		}
	} else {
		n, err = copyTree(src, staging)
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return "", unavailable("persist", key, err)
	}
	if err := os.MkdirAll(staging, 0o750); err != nil {
		return "", unavailable("persist", key, err)
	}

	l := s.lockFor(key.Hash())
	l.Lock()
	defer l.Unlock()

	// Committing under the lock keeps gc from seeing half-published versions.
	if err := os.Rename(staging, filepath.Join(versions, version)); err != nil {
		return "", unavailable("persist", key, err)
	}

	if err := writeKey(dir, key); err != nil {
		return "", unavailable("persist", key, err)
	}
	tmp := filepath.Join(dir, currentFile+".tmp-"+version)
	if err := os.WriteFile(tmp, []byte(version+"\n"), 0o600); err != nil {
		return "", unavailable("persist", key, err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, currentFile)); err != nil {
		_ = os.Remove(tmp)
		return "", unavailable("persist", key, err)
	}
	s.logger.Info("Cache persisted", logfields.CacheKey(key.String()), "version", version, "files", n)

	if removed, err := s.gcLocked(dir, version); err != nil {
		s.logger.Warn("Cache cleanup failed", logfields.CacheKey(key.String()), logfields.Error(err))
	} else if removed > 0 {
		s.logger.Debug("Removed old cache versions", logfields.CacheKey(key.String()), "removed", removed)
	}
	return version, nil
}

// gcLocked keeps the newest versions; v7 IDs sort by creation time.
func (s *Store) gcLocked(dir, current string) (int, error) {
	entries, err := os.ReadDir(filepath.Join(dir, versionsDir))
	if err != nil {
		return 0, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), stagingPrefix) && e.Name() != current {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	slices.Reverse(names)
	removed := 0
	for i, name := range names {
		if i < s.keep-1 {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, versionsDir, name)); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Versions lists the stored versions of key, oldest first.
func (s *Store) Versions(key Key) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.keyDir(key), versionsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), stagingPrefix) {
			out = append(out, e.Name())
		}
	}
	slices.Sort(out)
	return out, nil
}

// Clear removes every version of key.
func (s *Store) Clear(key Key) error {
	l := s.lockFor(key.Hash())
	l.Lock()
	defer l.Unlock()
	if err := os.RemoveAll(s.keyDir(key)); err != nil {
		return unavailable("clear", key, err)
	}
	return nil
}

// Keys lists every key that has a cache.
func (s *Store) Keys() ([]Key, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Key
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		// #nosec G304 - path is below the cache root
		data, err := os.ReadFile(filepath.Join(s.root, e.Name(), keyFile))
		if err != nil {
			continue
		}
		var k Key
		if err := json.Unmarshal(data, &k); err != nil {
			continue
		}
		out = append(out, k)
	}
	return out, nil
}

func writeKey(dir string, key Key) error {
	data, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("marshal key: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, keyFile), data, 0o600)
}
