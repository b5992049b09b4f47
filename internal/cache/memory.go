package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type memoryEntry struct {
	value     []byte
	tags      []string
	expiresAt time.Time
}

// MemoryStore keeps projections in a size-bounded expiring LRU with a tag index.
type MemoryStore struct {
	mu      sync.Mutex
	entries *expirable.LRU[string, memoryEntry]
	byTag   map[string]map[string]struct{}
	now     func() time.Time

	// fence orders SetFenced against Invalidate. It is always taken before mu.
	fence       sync.Mutex
	generations map[string]uint64
}

// NewMemoryStore constructs a MemoryStore holding at most size entries, each for at most maxTTL.
func NewMemoryStore(size int, maxTTL time.Duration) *MemoryStore {
	if size <= 0 {
		size = 1024
	}
	s := &MemoryStore{
		byTag:       make(map[string]map[string]struct{}),
		now:         time.Now,
		generations: make(map[string]uint64),
	}
	s.entries = expirable.NewLRU[string, memoryEntry](size, s.onEvict, maxTTL)
	return s
}

// onEvict is called by the LRU under its own lock, so s.mu must never be held while calling into entries.
func (s *MemoryStore) onEvict(key string, entry memoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unindex(key, entry.tags)
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	entry, ok := s.entries.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		s.entries.Remove(key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set implements Store. The per-entry ttl may be shorter than the store-wide maximum.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	tags = normalizeTags(tags)
	entry := memoryEntry{value: append([]byte(nil), value...), tags: tags}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	if previous, ok := s.entries.Peek(key); ok {
		s.mu.Lock()
		s.unindex(key, previous.tags)
		s.mu.Unlock()
	}
	s.entries.Add(key, entry)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tag := range tags {
		keys, ok := s.byTag[tag]
		if !ok {
			keys = make(map[string]struct{})
			s.byTag[tag] = keys
		}
		keys[key] = struct{}{}
	}
	return nil
}

// Fence implements Fencer.
func (s *MemoryStore) Fence(_ context.Context, tags []string) (string, error) {
	s.fence.Lock()
	defer s.fence.Unlock()
	return s.generationOf(normalizeTags(tags)), nil
}

// SetFenced implements Fencer.
func (s *MemoryStore) SetFenced(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string, fence string) error {
	s.fence.Lock()
	defer s.fence.Unlock()
	if s.generationOf(normalizeTags(tags)) != fence {
		return nil
	}
	return s.Set(ctx, key, value, ttl, tags)
}

func (s *MemoryStore) generationOf(tags []string) string {
	gens := make([]uint64, len(tags))
	for i, tag := range tags {
		gens[i] = s.generations[tag]
	}
	return joinGenerations(gens)
}

// Invalidate implements Store.
func (s *MemoryStore) Invalidate(_ context.Context, tags ...string) error {
	tags = normalizeTags(tags)
	s.fence.Lock()
	defer s.fence.Unlock()
	for _, tag := range tags {
		s.generations[tag]++
	}

	var doomed []string
	s.mu.Lock()
	for _, tag := range tags {
		for key := range s.byTag[tag] {
			doomed = append(doomed, key)
		}
		delete(s.byTag, tag)
	}
	s.mu.Unlock()

	for _, key := range doomed {
		s.entries.Remove(key)
	}
	return nil
}

// Len reports the number of live entries.
func (s *MemoryStore) Len() int {
	return s.entries.Len()
}

func (s *MemoryStore) unindex(key string, tags []string) {
	for _, tag := range tags {
		if keys, ok := s.byTag[tag]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(s.byTag, tag)
			}
		}
	}
}
