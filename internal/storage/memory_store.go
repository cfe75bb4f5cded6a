package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of ObjectStore used by dry
// runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	calls   MemoryCalls
}

type memoryObject struct {
	data []byte
	info ObjectInfo
}

// MemoryCalls tracks method invocations for test verification.
type MemoryCalls struct {
	Put    int
	Get    int
	Stat   int
	Delete int
	List   int
}

// NewMemoryStore creates a new in-memory object store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

func (m *MemoryStore) Put(_ context.Context, key string, r io.Reader, meta Metadata) (ObjectInfo, error) {
	if err := validKey(key); err != nil {
		return ObjectInfo{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return ObjectInfo{}, err
	}
	sum := sha256.Sum256(data)
	info := ObjectInfo{
		Key:       key,
		Size:      int64(len(data)),
		Digest:    "sha256:" + hex.EncodeToString(sum[:]),
		CreatedAt: time.Now().UTC(),
		Metadata:  maps.Clone(meta),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Put++
	m.objects[key] = memoryObject{data: data, info: info}
	return info, nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Get++
	obj, ok := m.objects[key]
	if !ok {
		return nil, ObjectInfo{}, ErrNotFound{Key: key}
	}
	return io.NopCloser(bytes.NewReader(obj.data)), obj.info, nil
}

func (m *MemoryStore) Stat(_ context.Context, key string) (ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Stat++
	obj, ok := m.objects[key]
	if !ok {
		return ObjectInfo{}, ErrNotFound{Key: key}
	}
	return obj.info, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Delete++
	if _, ok := m.objects[key]; !ok {
		return ErrNotFound{Key: key}
	}
	delete(m.objects, key)
	return nil
}

func (m *MemoryStore) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.List++
	var out []ObjectInfo
	for key, obj := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, obj.info)
		}
	}
	slices.SortFunc(out, func(a, b ObjectInfo) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

// Calls returns a copy of the call counters.
func (m *MemoryStore) Calls() MemoryCalls {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
