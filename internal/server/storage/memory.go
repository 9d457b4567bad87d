package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

type memObject struct {
	data    []byte
	modTime time.Time
}

// MemoryStore keeps file bytes in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory backend.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memObject), now: time.Now}
}

func (s *MemoryStore) EnsureReady(ctx context.Context) error { return nil }

func (s *MemoryStore) Put(ctx context.Context, data io.Reader) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read data: %w", err)
	}

	handle := newHandle()
	s.mu.Lock()
	s.objects[handle] = memObject{data: b, modTime: s.now()}
	s.mu.Unlock()
	return handle, int64(len(b)), nil
}

func (s *MemoryStore) Open(ctx context.Context, handle string) (io.ReadCloser, error) {
	s.mu.RLock()
	obj, ok := s.objects[handle]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("object %s: %w", handle, ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *MemoryStore) Delete(ctx context.Context, handle string) error {
	s.mu.Lock()
	delete(s.objects, handle)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Exists(ctx context.Context, handle string) (bool, error) {
	s.mu.RLock()
	_, ok := s.objects[handle]
	s.mu.RUnlock()
	return ok, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Object, 0, len(s.objects))
	for h, obj := range s.objects {
		out = append(out, Object{Handle: h, Size: int64(len(obj.data)), ModTime: obj.modTime})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out, nil
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
