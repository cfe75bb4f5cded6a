// Package storage holds artifact bundles in a keyed object store.
// Objects are opaque byte streams; every backend records the sha256 digest
// of what it stored so readers can verify bundles.
package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"git.home.luguber.info/inful/pipewright/internal/config"
	"git.home.luguber.info/inful/pipewright/internal/foundation/errors"
)

// ObjectStore stores objects under slash-separated keys.
type ObjectStore interface {
	// Put writes r under key, replacing any existing object.
	Put(ctx context.Context, key string, r io.Reader, meta Metadata) (ObjectInfo, error)

	// Get opens an object for reading. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)

	// Stat returns object info without reading the data.
	Stat(ctx context.Context, key string) (ObjectInfo, error)

	// Delete removes an object. Returns ErrNotFound if it doesn't exist.
	Delete(ctx context.Context, key string) error

	// List returns every object whose key starts with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Close releases any resources held by the store.
	Close() error
}

// Metadata is free-form string metadata kept with an object.
// Keys are lower-case since S3 backends do not preserve case.
type Metadata map[string]string

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	Digest    string    `json:"digest"`
	CreatedAt time.Time `json:"created_at"`
	Metadata  Metadata  `json:"metadata,omitempty"`
}

// ErrNotFound is returned when an object doesn't exist.
type ErrNotFound struct {
	Key string
}

func (e ErrNotFound) Error() string {
	return "object not found: " + e.Key
}

// IsNotFound returns true if the error is ErrNotFound.
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return stderrors.As(err, &nf)
}

// validKey rejects keys that could escape a filesystem root.
func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("invalid object key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("invalid object key %q", key)
		}
	}
	return nil
}

// Open builds the store selected by cfg.
func Open(ctx context.Context, cfg config.ArtifactsConfig, logger *slog.Logger) (ObjectStore, error) {
	switch cfg.Backend {
	case config.StorageMinIO:
		s, err := NewMinIOStore(ctx, cfg.MinIO)
		if err != nil {
			return nil, errors.StorageError("open minio artifact store").
				WithCause(err).
				WithContext("endpoint", cfg.MinIO.Endpoint).
				Build()
		}
		logger.Debug("Opened artifact store", "backend", "minio", "bucket", cfg.MinIO.Bucket)
		return s, nil
	default:
		s, err := NewFSStore(cfg.Path)
		if err != nil {
			return nil, errors.StorageError("open filesystem artifact store").
				WithCause(err).
				WithContext("path", cfg.Path).
				Build()
		}
		logger.Debug("Opened artifact store", "backend", "fs", "path", cfg.Path)
		return s, nil
	}
}
