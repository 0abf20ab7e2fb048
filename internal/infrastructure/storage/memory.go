package storage

import (
	"context"
	"sync"

	"TopicPulse/internal/domain"
	"TopicPulse/internal/ports"
)

// MemoryStore keeps snapshots in process; it is the default driver.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]domain.Job
}

var _ ports.JobStore = (*MemoryStore)(nil)

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: map[string]domain.Job{}}
}

func (s *MemoryStore) Put(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (domain.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, false, nil
	}
	return job.Clone(), true, nil
}
