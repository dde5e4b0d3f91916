// Package storagetest provides an in-memory ObjectStore with failure
// injection for tests of the tiered store and its callers.
package storagetest

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"TrackVault/storage"
)

// ErrInjected is returned by operations switched to fail.
var ErrInjected = errors.New("injected object store failure")

// MemoryObjectStore keeps objects in a map.
type MemoryObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	FailPut    bool
	FailGet    bool
	FailDelete bool
	Gets       int
}

var _ storage.ObjectStore = (*MemoryObjectStore)(nil)

func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{objects: make(map[string][]byte)}
}

func (m *MemoryObjectStore) Put(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPut {
		return ErrInjected
	}
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryObjectStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Gets++
	if m.FailGet {
		return nil, ErrInjected
	}
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryObjectStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailDelete {
		return ErrInjected
	}
	delete(m.objects, key)
	return nil
}

func (m *MemoryObjectStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryObjectStore) URL(key string) string {
	return "mem://" + key
}

// Has reports whether key is stored.
func (m *MemoryObjectStore) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

// SetFailPut toggles Put failures under the store lock.
func (m *MemoryObjectStore) SetFailPut(fail bool) {
	m.mu.Lock()
	m.FailPut = fail
	m.mu.Unlock()
}
