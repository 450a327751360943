package blobstore

import (
	"context"
	"sync"
)

// MemoryStore implements Store in process memory. Used for development and
// tests; safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]memoryBlob
}

type memoryBlob struct {
	content     []byte
	contentType string
	metadata    map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]memoryBlob)}
}

// Upload stores the blob, overwriting any existing entry.
func (s *MemoryStore) Upload(ctx context.Context, key string, content []byte, contentType string, metadata map[string]string) (*UploadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(content))
	copy(stored, content)
	s.blobs[key] = memoryBlob{content: stored, contentType: contentType, metadata: metadata}

	return &UploadResult{
		URL:         "memory://" + key,
		Fingerprint: contentFingerprint(stored),
	}, nil
}

// Download reads the blob content.
func (s *MemoryStore) Download(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, ok := s.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	content := make([]byte, len(blob.content))
	copy(content, blob.content)
	return content, nil
}

// List returns every blob key.
func (s *MemoryStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.blobs))
	for key := range s.blobs {
		keys = append(keys, key)
	}
	return keys, nil
}

// Delete removes the blob.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[key]; !ok {
		return ErrNotFound
	}
	delete(s.blobs, key)
	return nil
}

// Properties describes the blob.
func (s *MemoryStore) Properties(ctx context.Context, key string) (*Properties, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, ok := s.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}

	return &Properties{
		Fingerprint: contentFingerprint(blob.content),
		Key:         key,
		ContentType: blob.contentType,
		Size:        int64(len(blob.content)),
		URL:         "memory://" + key,
		Metadata:    blob.metadata,
	}, nil
}
