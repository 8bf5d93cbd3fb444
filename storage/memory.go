package storage

import (
	"context"
	"sync"
)

type memoryObject struct {
	data        []byte
	contentType string
	generation  int64
}

// MemoryStore keeps objects in process memory. Generations increase with
// every write across the whole store.
type MemoryStore struct {
	mu             sync.RWMutex
	objects        map[string]memoryObject
	nextGeneration int64
}

// NewMemoryStore creates an empty in-memory object store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

// Put stores a copy of data
func (s *MemoryStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string, ifNotExists bool) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	uri := FormatURI(bucket, key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.objects[uri]; exists && ifNotExists {
		return ObjectInfo{}, ErrObjectExists
	}
	s.nextGeneration++
	s.objects[uri] = memoryObject{
		data:        append([]byte(nil), data...),
		contentType: contentType,
		generation:  s.nextGeneration,
	}

	return ObjectInfo{
		Bucket:         bucket,
		Key:            key,
		URI:            uri,
		Generation:     s.nextGeneration,
		Metageneration: 1,
		Size:           int64(len(data)),
	}, nil
}

// Get returns a copy of the stored bytes
func (s *MemoryStore) Get(ctx context.Context, uri string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, _, err := ParseURI(uri); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[uri]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return append([]byte(nil), obj.data...), nil
}

// Delete removes the object, honoring ifGeneration
func (s *MemoryStore) Delete(ctx context.Context, uri string, ifGeneration *int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, _, err := ParseURI(uri); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[uri]
	if !ok {
		return false, nil
	}
	if ifGeneration != nil && *ifGeneration != obj.generation {
		return false, ErrGenerationMismatch
	}
	delete(s.objects, uri)
	return true, nil
}

// Len reports how many objects are stored
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
