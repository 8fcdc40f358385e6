package testutil

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"

	"github.com/dandriscoll/devlogs/internal/storage"
)

// MemObjects is an in-memory storage.ObjectStorage.
type MemObjects struct {
	mu        sync.Mutex
	objects   map[string][]byte
	types     map[string]string
	uploadErr error
}

var _ storage.ObjectStorage = (*MemObjects)(nil)

// NewMemObjects returns an empty object store.
func NewMemObjects() *MemObjects {
	return &MemObjects{objects: make(map[string][]byte), types: make(map[string]string)}
}

// FailUploads makes every later Upload return err; nil clears it.
func (m *MemObjects) FailUploads(err error) {
	m.mu.Lock()
	m.uploadErr = err
	m.mu.Unlock()
}

func (m *MemObjects) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploadErr != nil {
		return m.uploadErr
	}
	b, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	if size >= 0 && int64(len(b)) != size {
		return errors.New("content length mismatch")
	}
	m.objects[key] = b
	m.types[key] = contentType
	return nil
}

func (m *MemObjects) EnsureBucket(ctx context.Context) error {
	return nil
}

func (m *MemObjects) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

// Keys returns the stored keys, sorted.
func (m *MemObjects) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Open returns a reader over the object stored under key.
func (m *MemObjects) Open(key string) (io.Reader, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	if !ok {
		return nil, "", false
	}
	return bytes.NewReader(b), m.types[key], true
}
