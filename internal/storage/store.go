package storage

import (
	"errors"
	"sort"
	"sync"
)

// ErrKeyNotFound is returned when a path doesn't exist in the store
var ErrKeyNotFound = errors.New("key not found")

// ErrNegativeOffset is returned by WriteAt for offsets below zero
var ErrNegativeOffset = errors.New("negative offset")

// Store defines the interface for file content storage on a storage node.
// Keys are URL paths such as "/dev1/0/000/000/0000000123.fid".
// All implementations must be thread-safe for concurrent access
type Store interface {
	// Get retrieves the content of a path
	// Returns ErrKeyNotFound if the path doesn't exist
	Get(key string) ([]byte, error)

	// Put replaces the content of a path
	Put(key string, value []byte) error

	// WriteAt writes data at offset, creating the path and
	// zero-filling any gap as needed
	WriteAt(key string, offset int64, data []byte) error

	// Size returns the content length of a path
	// Returns ErrKeyNotFound if the path doesn't exist
	Size(key string) (int64, error)

	// Rename moves content from one path to another, replacing the target
	Rename(from, to string) error

	// Delete removes a path
	// No error if path doesn't exist
	Delete(key string) error

	// List returns all paths in sorted order
	List() []string

	// Stats returns storage statistics
	Stats() StoreStats
}

// StoreStats contains statistics about the store
type StoreStats struct {
	Keys  int // Number of stored files
	Bytes int // Total size of all files in bytes
}

// MemoryStore implements Store interface with in-memory storage
// Uses sync.RWMutex for thread-safe concurrent access
type MemoryStore struct {
	mu   sync.RWMutex      // Protects concurrent access
	data map[string][]byte // Path -> content
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
	}
}

// Get retrieves the content of a path
// Returns a copy of the value to prevent external modification
func (m *MemoryStore) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.data[key]
	if !exists {
		return nil, ErrKeyNotFound
	}

	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

// Put replaces the content of a path
// Makes a copy of the value to prevent external modification
func (m *MemoryStore) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	m.data[key] = stored

	return nil
}

// WriteAt writes data at offset, growing the content when needed
func (m *MemoryStore) WriteAt(key string, offset int64, data []byte) error {
	if offset < 0 {
		return ErrNegativeOffset
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.data[key]
	end := offset + int64(len(data))
	if end > int64(len(current)) {
		grown := make([]byte, end)
		copy(grown, current)
		current = grown
	}
	copy(current[offset:], data)
	m.data[key] = current

	return nil
}

// Size returns the content length of a path
func (m *MemoryStore) Size(key string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.data[key]
	if !exists {
		return 0, ErrKeyNotFound
	}
	return int64(len(value)), nil
}

// Rename moves content from one path to another
// Returns ErrKeyNotFound if the source doesn't exist
func (m *MemoryStore) Rename(from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	value, exists := m.data[from]
	if !exists {
		return ErrKeyNotFound
	}
	delete(m.data, from)
	m.data[to] = value

	return nil
}

// Delete removes a path
// No error if path doesn't exist (idempotent)
func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

// List returns all paths in the store, sorted
func (m *MemoryStore) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.data))
	for key := range m.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Stats returns storage statistics
func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totalBytes := 0
	for _, value := range m.data {
		totalBytes += len(value)
	}

	return StoreStats{
		Keys:  len(m.data),
		Bytes: totalBytes,
	}
}
