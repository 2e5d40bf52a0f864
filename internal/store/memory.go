package store

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBlobStore is an in-process BlobStore. It backs cold storage in
// tests and in deployments without a Redis instance.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBlobStore creates an empty in-memory blob store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{
		blobs: make(map[string][]byte),
	}
}

// Put implements BlobStore.
func (s *MemoryBlobStore) Put(_ context.Context, ref string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Copy so later caller mutations cannot corrupt the stored blob.
	buf := make([]byte, len(data))
	copy(buf, data)
	s.blobs[ref] = buf
	return nil
}

// Get implements BlobStore.
func (s *MemoryBlobStore) Get(_ context.Context, ref string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.blobs[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, ref)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Delete implements BlobStore.
func (s *MemoryBlobStore) Delete(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.blobs, ref)
	return nil
}

// Len reports the number of stored blobs; used by tests.
func (s *MemoryBlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
