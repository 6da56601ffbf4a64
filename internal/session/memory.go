package session

import (
	"context"
	"sync"
	"time"
)

const defaultMaxEntries = 10000

type entry struct {
	state   State
	expires time.Time
}

// Memory is an in-process Store with per-entry expiry and a size bound.
type Memory struct {
	mu  sync.Mutex
	ttl time.Duration
	max int
	now func() time.Time
	m   map[string]entry
}

// NewMemory creates a Memory store. Entries expire after ttl; a zero ttl
// keeps them until cleared.
func NewMemory(ttl time.Duration, maxEntries int) *Memory {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &Memory{ttl: ttl, max: maxEntries, now: time.Now, m: make(map[string]entry)}
}

// Get returns the state of key.
func (s *Memory) Get(_ context.Context, key string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[key]
	if !ok {
		return Idle, nil
	}
	if s.expired(e) {
		delete(s.m, key)
		return Idle, nil
	}
	return e.state, nil
}

// Set stores st for key. Setting Idle clears the entry.
func (s *Memory) Set(ctx context.Context, key string, st State) error {
	if st == Idle {
		return s.Clear(ctx, key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[key]; !ok && len(s.m) >= s.max {
		s.evict()
	}
	e := entry{state: st}
	if s.ttl > 0 {
		e.expires = s.now().Add(s.ttl)
	}
	s.m[key] = e
	return nil
}

// Clear removes key.
func (s *Memory) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (s *Memory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

func (s *Memory) expired(e entry) bool {
	return !e.expires.IsZero() && !s.now().Before(e.expires)
}

// evict drops expired entries, then the one closest to expiry if the map is
// still full. Callers hold mu.
func (s *Memory) evict() {
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, e := range s.m {
		if s.expired(e) {
			delete(s.m, k)
			continue
		}
		if oldestKey == "" || e.expires.Before(oldest) {
			oldestKey, oldest = k, e.expires
		}
	}
	if len(s.m) >= s.max && oldestKey != "" {
		delete(s.m, oldestKey)
	}
}

// MemoryDeduper is an in-process Deduper that forgets keys after ttl.
type MemoryDeduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	max  int
	now  func() time.Time
	seen map[string]time.Time
}

// NewMemoryDeduper creates a MemoryDeduper.
func NewMemoryDeduper(ttl time.Duration, maxEntries int) *MemoryDeduper {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &MemoryDeduper{ttl: ttl, max: maxEntries, now: time.Now, seen: make(map[string]time.Time)}
}

// MarkOnce records key and reports whether it was not seen within ttl.
func (d *MemoryDeduper) MarkOnce(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if exp, ok := d.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	if len(d.seen) >= d.max {
		d.prune(now)
	}
	d.seen[key] = now.Add(d.ttl)
	return true, nil
}

func (d *MemoryDeduper) prune(now time.Time) {
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, exp := range d.seen {
		if !now.Before(exp) {
			delete(d.seen, k)
			continue
		}
		if oldestKey == "" || exp.Before(oldest) {
			oldestKey, oldest = k, exp
		}
	}
	if len(d.seen) >= d.max && oldestKey != "" {
		delete(d.seen, oldestKey)
	}
}
