package memory

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/Arinfaead/FilaDB/pkg/assetstore"
)

// Backend is an in-memory implementation of the assetstore.BlobStore
// interface
type Backend struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// New creates a new in-memory storage backend
func New() *Backend {
	return &Backend{
		objects: make(map[string][]byte),
	}
}

// Write stores the full byte stream under the given key. Rewriting an
// existing key is a no-op: content-addressed keys always carry identical
// bytes.
func (b *Backend) Write(ctx context.Context, key string, reader io.Reader) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.objects[key]; exists {
		return nil
	}
	b.objects[key] = data
	return nil
}

// Open returns a stream of the bytes stored under key
func (b *Backend) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, exists := b.objects[key]
	if !exists {
		return nil, assetstore.ErrBlobNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Exists reports whether bytes are stored under key
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, exists := b.objects[key]
	return exists, nil
}

// Delete removes the bytes stored under key. Deleting an absent key is a
// no-op.
func (b *Backend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.objects, key)
	return nil
}

// Len reports the number of stored blobs; used by tests to assert dedup.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.objects)
}
