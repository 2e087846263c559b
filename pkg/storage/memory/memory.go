// Package memory keeps objects in process memory, for local runs and tests.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

type object struct {
	data        []byte
	contentType string
	modified    time.Time
}

type Storage struct {
	mu      sync.RWMutex
	objects map[string]object
	now     func() time.Time
}

func New() *Storage {
	return &Storage{objects: make(map[string]object), now: time.Now}
}

func (s *Storage) Store(_ context.Context, key string, reader io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("failed to store file: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = object{data: data, contentType: contentType, modified: s.now()}
	return nil
}

func (s *Storage) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("failed to get file: object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *Storage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *Storage) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *Storage) CleanupBefore(_ context.Context, threshold time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, obj := range s.objects {
		if obj.modified.Before(threshold) {
			delete(s.objects, key)
			n++
		}
	}
	return n, nil
}

func (s *Storage) Health(context.Context) error { return nil }
