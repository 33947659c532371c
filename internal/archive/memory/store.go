// Package memory implements an in-memory artifact store for tests and
// single-process setups.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Object is one stored artifact.
type Object struct {
	ContentType string
	Data        []byte
}

// Store keeps artifacts in a map guarded by a mutex.
type Store struct {
	mu      sync.Mutex
	objects map[string]Object
}

// New creates an empty store.
func New() *Store {
	return &Store{objects: make(map[string]Object)}
}

// Put records the artifact under path and returns a mem:// URI.
func (s *Store) Put(_ context.Context, path string, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = Object{
		ContentType: contentType,
		Data:        append([]byte(nil), data...),
	}
	return "mem://" + path, nil
}

// Get returns a stored artifact.
func (s *Store) Get(path string) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[path]
	return obj, ok
}

// Len reports the number of stored artifacts.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
