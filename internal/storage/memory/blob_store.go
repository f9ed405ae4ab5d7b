// Package memory provides an in-memory blob store for tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// BlobStore keeps uploaded objects in a map.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	types   map[string]string
}

// New constructs an empty BlobStore.
func New() *BlobStore {
	return &BlobStore{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

// PutObject stores a copy of data under path.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, data []byte) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = append([]byte(nil), data...)
	s.types[path] = contentType
	return "memory://" + path, nil
}

// Object returns the stored bytes for path.
func (s *BlobStore) Object(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[path]
	return data, ok
}

// ContentType returns the stored content type for path.
func (s *BlobStore) ContentType(path string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.types[path]
}

// Len reports how many objects have been stored.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
