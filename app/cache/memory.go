package cache

import (
	"fmt"
	"sort"
	"sync"
)

// MemoryBuckets keeps buckets in process memory. Used in tests and for
// deployments that can afford to re-install the manifest on every start.
type MemoryBuckets struct {
	mu      sync.RWMutex
	buckets map[string]*memStore
}

// NewMemoryBuckets creates an empty in-memory bucket manager
func NewMemoryBuckets() *MemoryBuckets {
	return &MemoryBuckets{buckets: map[string]*memStore{}}
}

// Open returns the named bucket, creating it if missing
func (m *MemoryBuckets) Open(name string) (Store, error) {
	if name == "" {
		return nil, fmt.Errorf("bucket name can't be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.buckets[name]; ok {
		return b, nil
	}
	b := &memStore{entries: map[string]Entry{}}
	m.buckets[name] = b
	return b, nil
}

// List returns all bucket names, sorted
func (m *MemoryBuckets) List() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.buckets))
	for name := range m.buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes the named bucket with all entries
func (m *MemoryBuckets) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buckets, name)
	return nil
}

// Close is a no-op for the in-memory manager
func (m *MemoryBuckets) Close() error { return nil }

type memStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func (s *memStore) Get(key string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	return e.Clone(), true
}

func (s *memStore) Set(key string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = e.Clone()
	return nil
}

func (s *memStore) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *memStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
