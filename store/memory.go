package store

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore redis 不可用时的进程内存储，不过期
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]Job)}
}

func (s *MemoryStore) Save(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = clone(job)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	out := clone(&job)
	return &out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func clone(job *Job) Job {
	c := *job
	c.Formats = append([]string(nil), job.Formats...)
	c.Files = append([]string(nil), job.Files...)
	return c
}
