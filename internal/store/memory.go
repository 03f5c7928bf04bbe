package store

import (
	"context"
	"sort"
	"sync"
)

// memoryStore keeps jobs in a map plus a monotonic sequence so listings
// preserve insertion order. Used by tests and ephemeral hosts; it satisfies
// the Store contract except durability across restarts.
type memoryStore struct {
	mu   sync.RWMutex
	jobs map[string]Job
	seq  map[string]uint64
	next uint64
}

func NewMemory() Store {
	return &memoryStore{jobs: map[string]Job{}, seq: map[string]uint64{}}
}

func (s *memoryStore) PutJob(_ context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seq[job.ID]; !ok {
		s.next++
		s.seq[job.ID] = s.next
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *memoryStore) GetJob(_ context.Context, id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return j.Clone(), nil
}

func (s *memoryStore) DeleteJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	delete(s.seq, id)
	return nil
}

func (s *memoryStore) ListOwnerJobs(_ context.Context, ownerID string) ([]Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(func(j Job) bool { return j.OwnerID == ownerID }), nil
}

func (s *memoryStore) ListJobs(_ context.Context) ([]Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(func(Job) bool { return true }), nil
}

func (s *memoryStore) listLocked(keep func(Job) bool) []Job {
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if keep(j) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return s.seq[out[a].ID] < s.seq[out[b].ID] })
	return out
}

func (s *memoryStore) Close() error { return nil }
