package mediastore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process ObjectStore. FailKeys makes operations on the
// listed keys fail, for exercising error paths.
type Memory struct {
	mu       sync.Mutex
	objects  map[string]memObject
	FailKeys map[string]bool
	now      func() time.Time
}

type memObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memObject), FailKeys: make(map[string]bool), now: time.Now}
}

func (m *Memory) fail(key string) error {
	if m.FailKeys[key] {
		return fmt.Errorf("mediastore: injected failure for %s", key)
	}
	return nil
}

func (m *Memory) Put(_ context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(key); err != nil {
		return err
	}
	cp := append([]byte(nil), data...)
	m.objects[key] = memObject{data: cp, contentType: contentType, modified: m.now()}
	return nil
}

func (m *Memory) Head(_ context.Context, key string) (*Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &Object{Key: key, Size: int64(len(o.data)), ContentType: o.contentType, LastModified: o.modified}, nil
}

func (m *Memory) List(_ context.Context, prefix string) ([]Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Object
	for k, o := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, Object{Key: k, Size: int64(len(o.data)), ContentType: o.contentType, LastModified: o.modified})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) Copy(_ context.Context, srcKey, dstKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(srcKey); err != nil {
		return err
	}
	o, ok := m.objects[srcKey]
	if !ok {
		return ErrNotFound
	}
	o.modified = m.now()
	m.objects[dstKey] = o
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(key); err != nil {
		return err
	}
	delete(m.objects, key)
	return nil
}

func (m *Memory) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("memory://%s?expires=%d", key, int(ttl.Seconds())), nil
}

// Bytes returns the stored data for key.
func (m *Memory) Bytes(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[key]
	return o.data, ok
}
