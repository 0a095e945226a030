package objectstore

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"
)

// Memory is an in-process Store used by tests and the memory storage driver.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memoryObject

	// FailGet makes Get return this error for any key when set.
	FailGet error
}

type memoryObject struct {
	body        []byte
	contentType string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memoryObject)}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailGet != nil {
		return nil, m.FailGet
	}
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return append([]byte(nil), obj.body...), nil
}

func (m *Memory) Put(ctx context.Context, key string, body []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{body: append([]byte(nil), body...), contentType: contentType}
	return nil
}

func (m *Memory) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return &ObjectInfo{Key: key, Size: int64(len(obj.body)), ContentType: obj.contentType}, nil
}

func (m *Memory) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return presignedMemoryURL("GET", key, ttl), nil
}

func (m *Memory) PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	return presignedMemoryURL("PUT", key, ttl), nil
}

// Keys lists stored keys.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	return keys
}

func presignedMemoryURL(method, key string, ttl time.Duration) string {
	q := url.Values{}
	q.Set("method", method)
	q.Set("expires", fmt.Sprintf("%d", int(ttl.Seconds())))
	return "memory://objects/" + url.PathEscape(key) + "?" + q.Encode()
}
