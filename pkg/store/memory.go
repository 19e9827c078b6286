package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store for tests and single-node
// development. A background janitor collects expired rows; readers never
// rely on it and re-check expiry themselves.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	done    chan struct{}
	once    sync.Once
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		records: make(map[string]Record),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go s.janitor()
	return s
}

func memKey(pk, sk string) string { return pk + "/" + sk }

func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := s.now()
			s.mu.Lock()
			for k, rec := range s.records {
				if rec.Expired(now) {
					delete(s.records, k)
				}
			}
			s.mu.Unlock()
		case <-s.done:
			return
		}
	}
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[memKey(rec.PartitionKey, rec.SortKey)] = rec
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, pk, sk string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[memKey(pk, sk)]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Expired(s.now()) {
		delete(s.records, memKey(pk, sk))
		return nil, ErrNotFound
	}

	out := rec
	return &out, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, pk, sk string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, memKey(pk, sk))
	return nil
}

// UpdateStatus implements Store. The mutex makes the check-and-set atomic.
func (s *MemoryStore) UpdateStatus(_ context.Context, pk, sk, expect, next string, attrs map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memKey(pk, sk)
	rec, ok := s.records[key]
	if !ok {
		return ErrNotFound
	}
	if rec.Expired(s.now()) {
		delete(s.records, key)
		return ErrNotFound
	}
	if rec.Status != expect {
		return ErrConflict
	}

	rec.Status = next
	if len(attrs) > 0 {
		merged := make(map[string]string, len(rec.Attributes)+len(attrs))
		for k, v := range rec.Attributes {
			merged[k] = v
		}
		for k, v := range attrs {
			merged[k] = v
		}
		rec.Attributes = merged
	}
	s.records[key] = rec
	return nil
}

// Close stops the janitor.
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
