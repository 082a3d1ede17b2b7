package cache

import (
	"context"
	"sync"
)

// MemoryStore is a mutex-guarded LRU map. It backs tests and runs that
// explicitly opt out of durable caching; maxEntries <= 0 disables eviction.
type MemoryStore struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*memEntry
	head       *memEntry // most recently used
	tail       *memEntry // least recently used
}

type memEntry struct {
	key     string
	payload []byte
	prev    *memEntry
	next    *memEntry
}

func NewMemoryStore(maxEntries int) *MemoryStore {
	return &MemoryStore{
		maxEntries: maxEntries,
		entries:    make(map[string]*memEntry),
	}
}

func (s *MemoryStore) Get(_ context.Context, fingerprint string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[fingerprint]
	if !ok {
		return nil, false
	}
	s.moveToFront(e)
	return e.payload, true
}

func (s *MemoryStore) Put(_ context.Context, fingerprint string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[fingerprint]; ok {
		e.payload = payload
		s.moveToFront(e)
		return nil
	}

	e := &memEntry{key: fingerprint, payload: payload}
	s.entries[fingerprint] = e
	s.addToFront(e)

	if s.maxEntries > 0 && len(s.entries) > s.maxEntries {
		s.evictTail()
	}
	return nil
}

func (s *MemoryStore) moveToFront(e *memEntry) {
	if e == s.head {
		return
	}
	s.remove(e)
	s.addToFront(e)
}

func (s *MemoryStore) addToFront(e *memEntry) {
	e.next = s.head
	e.prev = nil
	if s.head != nil {
		s.head.prev = e
	}
	s.head = e
	if s.tail == nil {
		s.tail = e
	}
}

func (s *MemoryStore) remove(e *memEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		s.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		s.tail = e.prev
	}
}

func (s *MemoryStore) evictTail() {
	if s.tail == nil {
		return
	}
	delete(s.entries, s.tail.key)
	s.remove(s.tail)
}
