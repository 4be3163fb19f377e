package target

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

// memoryObject holds a single object in the in-memory store.
type memoryObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
	etag        string
}

func (o *memoryObject) meta() ObjectMeta {
	return ObjectMeta{
		ETag:     o.etag,
		Size:     int64(len(o.data)),
		Metadata: cloneMetadata(o.metadata),
	}
}

// MemoryTarget keeps objects in process memory. The provider's "memory"
// target type and every acceptance test publish to it.
type MemoryTarget struct {
	name       string
	mu         sync.RWMutex
	objects    map[string]*memoryObject
	genCounter atomic.Int64
}

// NewMemoryTarget creates a new in-memory Target with the given name.
func NewMemoryTarget(name string) *MemoryTarget {
	return &MemoryTarget{
		name:    name,
		objects: make(map[string]*memoryObject),
	}
}

func (m *MemoryTarget) Name() string {
	return m.name
}

func (m *MemoryTarget) Put(_ context.Context, key string, body io.Reader, opts PutOptions) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("reading body: %w", err)
	}

	gen := m.genCounter.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = &memoryObject{
		data:        data,
		contentType: opts.ContentType,
		metadata:    cloneMetadata(opts.Metadata),
		etag:        fmt.Sprintf(`"%d"`, gen),
	}
	return nil
}

func (m *MemoryTarget) Get(_ context.Context, key string) (io.ReadCloser, ObjectMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, ObjectMeta{}, ErrNotFound
	}

	// Readers get their own copy of the body.
	return io.NopCloser(bytes.NewReader(bytes.Clone(obj.data))), obj.meta(), nil
}

func (m *MemoryTarget) Head(_ context.Context, key string) (ObjectMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return ObjectMeta{}, ErrNotFound
	}
	return obj.meta(), nil
}

func (m *MemoryTarget) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, key)
	return nil
}

func (m *MemoryTarget) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []ObjectInfo
	for _, k := range slices.Sorted(maps.Keys(m.objects)) {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		obj := m.objects[k]
		results = append(results, ObjectInfo{
			Key:  k,
			Size: int64(len(obj.data)),
			ETag: obj.etag,
		})
	}
	return results, nil
}

// ContentType returns the content type an object was stored with.
func (m *MemoryTarget) ContentType(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return "", false
	}
	return obj.contentType, true
}

// Len returns the number of stored objects.
func (m *MemoryTarget) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
