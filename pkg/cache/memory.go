package cache

import (
	"container/list"
	"context"
	"path"
	"sync"
	"time"
)

// noExpiry stands in for a zero TTL so entries still age out of a long-running process.
const noExpiry = 7 * 24 * time.Hour

type memEntry struct {
	key      string
	data     []byte
	expireAt time.Time
}

// MemoryCache is a bounded LRU with per-entry TTL. Expired entries are dropped lazily on access
// or when they reach the cold end of the list.
type MemoryCache struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List // front = most recently used
	maxSize int
	now     func() time.Time
}

var _ Service = (*MemoryCache)(nil)

func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	m := &MemoryCache{
		items:   make(map[string]*list.Element),
		order:   list.New(),
		maxSize: 1000,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(key, data, expiration)
	return nil
}

func (m *MemoryCache) put(key string, data []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = noExpiry
	}
	e := &memEntry{key: key, data: data, expireAt: m.now().Add(ttl)}
	if el, ok := m.items[key]; ok {
		el.Value = e
		m.order.MoveToFront(el)
		return
	}
	m.items[key] = m.order.PushFront(e)
	for m.order.Len() > m.maxSize {
		m.remove(m.order.Back())
	}
}

func (m *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	el, ok := m.live(key)
	var data []byte
	if ok {
		m.order.MoveToFront(el)
		data = el.Value.(*memEntry).data
	}
	m.mu.Unlock()
	if !ok {
		return ErrCacheMiss
	}
	return decode(data, dest)
}

func (m *MemoryCache) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		if el, ok := m.items[k]; ok {
			m.remove(el)
		}
	}
	return nil
}

// DeleteByPattern uses path.Match, which agrees with Redis globs for the '*' and '?' forms used here.
func (m *MemoryCache) DeleteByPattern(_ context.Context, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, el := range m.items {
		if ok, _ := path.Match(pattern, k); ok {
			m.remove(el)
		}
	}
	return nil
}

func (m *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(key); ok {
		return false, nil
	}
	m.put(key, []byte("locked"), ttl)
	return true, nil
}

// Len counts entries including expired ones not yet collected.
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

// live returns the element for key, dropping it if it has expired. Caller holds mu.
func (m *MemoryCache) live(key string) (*list.Element, bool) {
	el, ok := m.items[key]
	if !ok {
		return nil, false
	}
	if !m.now().Before(el.Value.(*memEntry).expireAt) {
		m.remove(el)
		return nil, false
	}
	return el, true
}

func (m *MemoryCache) remove(el *list.Element) {
	m.order.Remove(el)
	delete(m.items, el.Value.(*memEntry).key)
}
